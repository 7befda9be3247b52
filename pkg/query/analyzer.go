package query

import (
	"strings"
	"unicode"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
)

type Intent string

const (
	IntentGeneral    Intent = "general_search"
	IntentHealth     Intent = "health_inquiry"
	IntentDependency Intent = "dependency_inquiry"
	IntentOwnership  Intent = "ownership_inquiry"
	IntentCompliance Intent = "compliance_inquiry"
)

// AnalyzedQuery is the tokenised form of a search text.
type AnalyzedQuery struct {
	Original      string              `json:"original"`
	Tokens        []string            `json:"tokens"`
	Keywords      []string            `json:"keywords"`
	ExpandedTerms []string            `json:"expandedTerms"`
	EntityTypes   []common.EntityType `json:"entityTypes"`
	Intent        Intent              `json:"intent"`
}

var defaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "can", "do", "does", "for",
	"from", "has", "have", "how", "i", "in", "is", "it", "me", "my", "of", "on",
	"or", "show", "that", "the", "this", "to", "was", "what", "when", "where",
	"which", "who", "why", "will", "with", "all", "find", "list", "get",
}

var defaultTypeKeywords = map[string]common.EntityType{
	"service":        common.EntityService,
	"services":       common.EntityService,
	"microservice":   common.EntityService,
	"api":            common.EntityAPI,
	"apis":           common.EntityAPI,
	"endpoint":       common.EntityAPI,
	"website":        common.EntityWebsite,
	"site":           common.EntityWebsite,
	"frontend":       common.EntityWebsite,
	"library":        common.EntityLibrary,
	"lib":            common.EntityLibrary,
	"package":        common.EntityLibrary,
	"resource":       common.EntityResource,
	"domain":         common.EntityDomain,
	"system":         common.EntitySystem,
	"group":          common.EntityGroup,
	"team":           common.EntityGroup,
	"user":           common.EntityUser,
	"location":       common.EntityLocation,
	"database":       common.EntityDatabase,
	"db":             common.EntityDatabase,
	"queue":          common.EntityQueue,
	"topic":          common.EntityQueue,
	"cache":          common.EntityCache,
	"function":       common.EntityFunction,
	"lambda":         common.EntityFunction,
	"container":      common.EntityContainer,
	"deployment":     common.EntityDeployment,
	"pipeline":       common.EntityPipeline,
	"infrastructure": common.EntityInfrastructure,
	"secret":         common.EntitySecret,
	"config":         common.EntityConfig,
	"metric":         common.EntityMetric,
	"alert":          common.EntityAlert,
	"dashboard":      common.EntityDashboard,
}

type intentRule struct {
	intent Intent
	words  []string
}

// Rules are evaluated in order; the first rule with a matching token wins.
var defaultIntentRules = []intentRule{
	{IntentHealth, []string{"health", "healthy", "unhealthy", "status", "down", "failing", "broken", "degraded", "critical", "outage", "incident"}},
	{IntentDependency, []string{"depends", "dependency", "dependencies", "uses", "calls", "consumes", "upstream", "downstream", "connected"}},
	{IntentOwnership, []string{"owner", "owns", "owned", "ownership", "maintainer", "maintains", "responsible"}},
	{IntentCompliance, []string{"compliance", "compliant", "noncompliant", "policy", "audit", "violation", "violations"}},
}

var defaultSynonyms = map[string][]string{
	"api":      {"endpoint", "service", "interface"},
	"service":  {"microservice", "app", "application"},
	"db":       {"database", "datastore", "storage"},
	"database": {"db", "datastore", "storage"},
	"auth":     {"authentication", "authorization", "login", "identity"},
	"queue":    {"topic", "broker", "messaging"},
	"cache":    {"redis", "memcached"},
	"web":      {"website", "frontend", "ui"},
	"k8s":      {"kubernetes"},
	"payment":  {"billing", "checkout"},
	"user":     {"account", "customer"},
}

// Analyzer tokenises search text, removes stop words, detects entity types
// and intent, and expands keywords with synonyms. It is read-only after
// construction and safe for concurrent use.
type Analyzer struct {
	stopWords    map[string]struct{}
	typeKeywords map[string]common.EntityType
	intentRules  []intentRule
	synonyms     map[string][]string
}

type AnalyzerOption func(*Analyzer)

// WithSynonyms adds synonyms for a keyword on top of the built-in table.
func WithSynonyms(term string, synonyms ...string) AnalyzerOption {
	return func(a *Analyzer) {
		term = strings.ToLower(term)
		merged := append([]string{}, a.synonyms[term]...)
		for _, s := range synonyms {
			merged = append(merged, strings.ToLower(s))
		}
		a.synonyms[term] = merged
	}
}

// WithStopWords adds stop words.
func WithStopWords(words ...string) AnalyzerOption {
	return func(a *Analyzer) {
		for _, w := range words {
			a.stopWords[strings.ToLower(w)] = struct{}{}
		}
	}
}

func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		stopWords:    make(map[string]struct{}, len(defaultStopWords)),
		typeKeywords: defaultTypeKeywords,
		intentRules:  defaultIntentRules,
		synonyms:     make(map[string][]string, len(defaultSynonyms)),
	}
	for _, w := range defaultStopWords {
		a.stopWords[w] = struct{}{}
	}
	for k, v := range defaultSynonyms {
		a.synonyms[k] = v
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Tokenize lowercases text, splits it on whitespace and ",-_." and drops
// tokens of one character. Other punctuation stays inside tokens.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(",-_.", r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func (a *Analyzer) Analyze(q SearchQuery) AnalyzedQuery {
	tokens := Tokenize(q.Text)
	out := AnalyzedQuery{
		Original: q.Text,
		Tokens:   tokens,
		Intent:   IntentGeneral,
	}

	seenType := map[common.EntityType]bool{}
	for _, t := range tokens {
		if _, stop := a.stopWords[t]; !stop {
			out.Keywords = append(out.Keywords, t)
		}
		if typ, ok := a.typeKeywords[t]; ok && !seenType[typ] {
			seenType[typ] = true
			out.EntityTypes = append(out.EntityTypes, typ)
		}
	}

	out.Intent = a.intent(tokens)

	seenTerm := map[string]bool{}
	addTerm := func(t string) {
		if !seenTerm[t] {
			seenTerm[t] = true
			out.ExpandedTerms = append(out.ExpandedTerms, t)
		}
	}
	for _, k := range out.Keywords {
		addTerm(k)
	}
	for _, k := range out.Keywords {
		for _, s := range a.synonyms[k] {
			addTerm(s)
		}
	}
	return out
}

func (a *Analyzer) intent(tokens []string) Intent {
	for _, rule := range a.intentRules {
		for _, w := range rule.words {
			for _, t := range tokens {
				if t == w {
					return rule.intent
				}
			}
		}
	}
	return IntentGeneral
}
