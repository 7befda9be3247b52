package collector

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/graph"
)

// MetricSeries is a sampled metric for one entity. Series of the same
// metric are compared point by point, so they must share a sampling grid.
type MetricSeries struct {
	Entity string    `json:"entity" yaml:"entity"`
	Metric string    `json:"metric" yaml:"metric"`
	Values []float64 `json:"values" yaml:"values"`
}

// AlertEvent records an alert firing for an entity.
type AlertEvent struct {
	Entity  string    `json:"entity" yaml:"entity"`
	Name    string    `json:"name" yaml:"name"`
	FiredAt time.Time `json:"firedAt" yaml:"firedAt"`
}

// MetricsSource supplies metric series and alert history.
type MetricsSource interface {
	Series(ctx context.Context) ([]MetricSeries, error)
	Alerts(ctx context.Context) ([]AlertEvent, error)
}

// StaticMetrics serves fixed series and alerts.
type StaticMetrics struct {
	MetricSeries []MetricSeries
	AlertEvents  []AlertEvent
}

func (s StaticMetrics) Series(context.Context) ([]MetricSeries, error) { return s.MetricSeries, nil }
func (s StaticMetrics) Alerts(context.Context) ([]AlertEvent, error)   { return s.AlertEvents, nil }

const (
	// MinCorrelation is the absolute Pearson coefficient two series must
	// reach to count as correlated.
	MinCorrelation = 0.8
	minSeriesLen   = 3

	defaultCoFireWindow = 5 * time.Minute
)

// ObservabilityDetector correlates metric series between entities and
// detects alerts that fire together.
type ObservabilityDetector struct {
	source MetricsSource
	window time.Duration
	opts   options
}

func NewObservabilityDetector(source MetricsSource, coFireWindow time.Duration, opts ...Option) *ObservabilityDetector {
	if coFireWindow <= 0 {
		coFireWindow = defaultCoFireWindow
	}
	return &ObservabilityDetector{source: source, window: coFireWindow, opts: newOptions(opts)}
}

func (d *ObservabilityDetector) Kind() graph.DetectorKind { return graph.DetectorObservability }

func (d *ObservabilityDetector) DetectRelationships(ctx context.Context, entities []common.Entity) ([]common.Evidence, error) {
	if d.source == nil {
		return nil, nil
	}
	series, serr := d.source.Series(ctx)
	alerts, aerr := d.source.Alerts(ctx)
	if serr != nil && aerr != nil {
		return nil, errors.Join(serr, aerr)
	}

	resolver := NewResolver(entities)
	now := d.opts.now()

	var out []common.Evidence
	if serr == nil {
		out = append(out, d.correlate(series, resolver, now)...)
	}
	if aerr == nil {
		out = append(out, d.coFiring(alerts, resolver, now)...)
	}
	return out, nil
}

type resolvedSeries struct {
	id     string
	series MetricSeries
}

func (d *ObservabilityDetector) correlate(series []MetricSeries, r *Resolver, now time.Time) []common.Evidence {
	byMetric := map[string][]resolvedSeries{}
	for _, s := range series {
		id, ok := r.Resolve(s.Entity)
		if !ok || len(s.Values) < minSeriesLen {
			continue
		}
		byMetric[s.Metric] = append(byMetric[s.Metric], resolvedSeries{id: id, series: s})
	}

	var out []common.Evidence
	for metric, group := range byMetric {
		sort.Slice(group, func(i, j int) bool { return group[i].id < group[j].id })
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.id == b.id {
					continue
				}
				r, ok := Pearson(a.series.Values, b.series.Values)
				if !ok || math.Abs(r) < MinCorrelation {
					continue
				}
				out = append(out, newEvidence(common.EvidenceMetricsCorrelation, "observability:"+metric,
					math.Abs(r)*100, a.id, b.id, now, metric+" correlated", map[string]any{
						"metric":      metric,
						"correlation": r,
					}))
			}
		}
	}
	return out
}

// coFiring pairs alerts of different entities firing within the window.
// The entity that alerted first is the target.
func (d *ObservabilityDetector) coFiring(alerts []AlertEvent, r *Resolver, now time.Time) []common.Evidence {
	type fired struct {
		id string
		at time.Time
	}
	var events []fired
	for _, a := range alerts {
		if id, ok := r.Resolve(a.Entity); ok {
			events = append(events, fired{id: id, at: a.FiredAt})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })

	type pair struct{ src, dst string }
	counts := map[pair]int{}
	for i := range events {
		for j := i + 1; j < len(events); j++ {
			if events[j].at.Sub(events[i].at) > d.window {
				break
			}
			if events[i].id == events[j].id {
				continue
			}
			counts[pair{src: events[j].id, dst: events[i].id}]++
		}
	}

	out := make([]common.Evidence, 0, len(counts))
	for p, n := range counts {
		out = append(out, newEvidence(common.EvidenceAlertCorrelation, "observability:alerts",
			math.Min(90, 50+10*float64(n)), p.src, p.dst, now, "alerts fired together", map[string]any{
				"coFirings": n,
			}))
	}
	return out
}

// Pearson returns the correlation coefficient of the common prefix of a
// and b. ok is false when either series is constant or too short.
func Pearson(a, b []float64) (float64, bool) {
	n := min(len(a), len(b))
	if n < minSeriesLen {
		return 0, false
	}
	var sumA, sumB float64
	for i := range n {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/float64(n), sumB/float64(n)

	var cov, varA, varB float64
	for i := range n {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}
