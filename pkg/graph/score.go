package graph

import (
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
)

// RecencyWindow is the age at which evidence reaches the minimum recency
// weight.
const RecencyWindow = 30 * 24 * time.Hour

const (
	minRecencyWeight  = 0.1
	diversityPerItem  = 5.0
	maxDiversityBonus = 20.0
)

// TypeScores sums weight × confidence for every relationship type implied
// by evs.
func TypeScores(evs []common.Evidence) map[common.RelationshipType]float64 {
	scores := make(map[common.RelationshipType]float64)
	for _, ev := range evs {
		conf := common.Clamp(ev.Confidence, 0, 100)
		for rt, w := range RelationshipTypeWeights[ev.Type] {
			scores[rt] += w * conf
		}
	}
	return scores
}

// Classify returns the highest scoring relationship type. A tie for the top
// score, or no positive score at all, yields DependsOn.
func Classify(scores map[common.RelationshipType]float64) common.RelationshipType {
	best := common.RelDependsOn
	bestScore := 0.0
	tied := false
	for _, rt := range common.RelationshipTypes {
		s := scores[rt]
		switch {
		case s > bestScore:
			best, bestScore, tied = rt, s, false
		case s == bestScore && s > 0:
			tied = true
		}
	}
	if tied || bestScore == 0 {
		return common.RelDependsOn
	}
	return best
}

// RecencyWeight decays linearly from 1 for fresh evidence to 0.1 at
// RecencyWindow and stays there.
func RecencyWeight(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	w := 1 - float64(age)/float64(RecencyWindow)
	if w < minRecencyWeight {
		return minRecencyWeight
	}
	return w
}

// Confidence is the recency and type weighted average of the evidence
// confidences plus a diversity bonus of 5 per item (at most 20), clamped to
// [0, 100].
func Confidence(evs []common.Evidence, now time.Time) float64 {
	if len(evs) == 0 {
		return 0
	}
	var weighted, total float64
	for _, ev := range evs {
		w := RecencyWeight(now.Sub(ev.DetectedAt)) * evidenceTypeWeight(ev.Type)
		weighted += common.Clamp(ev.Confidence, 0, 100) * w
		total += w
	}
	var avg float64
	if total > 0 {
		avg = weighted / total
	}
	bonus := min(maxDiversityBonus, diversityPerItem*float64(len(evs)))
	return common.Clamp(avg+bonus, 0, 100)
}

// Strength sums the per-type contributions of evs, capped at 100.
func Strength(evs []common.Evidence) float64 {
	var s float64
	for _, ev := range evs {
		s += strengthContribution(ev.Type)
	}
	return common.Clamp(s, 0, 100)
}

// Health derives the relationship status from the error rates and latency
// of runtime-class evidence. A Critical target entity degrades an otherwise healthy
// relationship; entity health is only read here.
func Health(evs []common.Evidence, target common.Entity) common.RelationshipHealth {
	h := common.RelationshipHealth{Status: common.RelHealthy}

	var latencySum, throughputSum float64
	var latencyN, throughputN int
	maxLatency := 0.0
	for _, ev := range evs {
		if ev.DetectedAt.After(h.LastChecked) {
			h.LastChecked = ev.DetectedAt
		}
		if rate, ok := ev.MetaFloat(common.MetaErrorRate); ok && runtimeHealthEvidence[ev.Type] {
			if rate > h.ErrorRate {
				h.ErrorRate = rate
			}
		}
		if lat, ok := ev.MetaFloat(common.MetaAverageLatency); ok {
			latencySum += lat
			latencyN++
			if runtimeHealthEvidence[ev.Type] {
				maxLatency = max(maxLatency, lat)
			}
		}
		if tp, ok := ev.MetaFloat(common.MetaThroughput); ok {
			throughputSum += tp
			throughputN++
		}
	}
	if latencyN > 0 {
		h.Latency = latencySum / float64(latencyN)
	}
	if throughputN > 0 {
		h.Throughput = throughputSum / float64(throughputN)
	}

	switch {
	case h.ErrorRate > BrokenErrorRate:
		h.Status = common.RelBroken
	case h.ErrorRate > DegradedErrorRate:
		h.Status = common.RelDegraded
	}
	if h.Status == common.RelHealthy && maxLatency > DegradedLatencyMs {
		h.Status = common.RelDegraded
	}
	if h.Status == common.RelHealthy && target.Status.Health == common.HealthCritical {
		h.Status = common.RelDegraded
	}
	return h
}

// Properties takes protocol, version, schema, environment and region from
// the most recent evidence that reports them.
func Properties(evs []common.Evidence) common.RelationshipProperties {
	var p common.RelationshipProperties
	var seen [5]time.Time
	fields := []struct {
		key string
		dst *string
	}{
		{common.MetaProtocol, &p.Protocol},
		{common.MetaVersion, &p.Version},
		{common.MetaSchema, &p.Schema},
		{common.MetaEnvironment, &p.Environment},
		{common.MetaRegion, &p.Region},
	}
	for _, ev := range evs {
		for i, f := range fields {
			v := ev.MetaString(f.key)
			if v == "" {
				continue
			}
			if *f.dst == "" || ev.DetectedAt.After(seen[i]) {
				*f.dst = v
				seen[i] = ev.DetectedAt
			}
		}
	}
	return p
}
