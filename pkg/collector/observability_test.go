package collector

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
)

func TestPearson(t *testing.T) {
	tests := []struct {
		name   string
		a, b   []float64
		want   float64
		wantOK bool
	}{
		{name: "perfect", a: []float64{1, 2, 3, 4}, b: []float64{2, 4, 6, 8}, want: 1, wantOK: true},
		{name: "inverse", a: []float64{1, 2, 3, 4}, b: []float64{4, 3, 2, 1}, want: -1, wantOK: true},
		{name: "constant", a: []float64{1, 1, 1}, b: []float64{1, 2, 3}, wantOK: false},
		{name: "too short", a: []float64{1, 2}, b: []float64{1, 2}, wantOK: false},
		{name: "uses common prefix", a: []float64{1, 2, 3, 100}, b: []float64{1, 2, 3}, want: 1, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Pearson(tt.a, tt.b)
			if ok != tt.wantOK {
				t.Fatalf("Pearson ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Pearson = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestObservabilityDetector(t *testing.T) {
	entities := []common.Entity{
		{ID: "x", Type: common.EntityService, Name: "x"},
		{ID: "y", Type: common.EntityService, Name: "y"},
		{ID: "z", Type: common.EntityService, Name: "z"},
	}
	start := testNow.Add(-2 * time.Hour)
	source := StaticMetrics{
		MetricSeries: []MetricSeries{
			{Entity: "y", Metric: "latency", Values: []float64{1, 2, 3, 4}},
			{Entity: "x", Metric: "latency", Values: []float64{10, 20, 30, 40}},
			{Entity: "z", Metric: "latency", Values: []float64{5, 1, 4, 2}},
			{Entity: "z", Metric: "cpu", Values: []float64{1, 2, 3, 4}},
			{Entity: "ghost", Metric: "latency", Values: []float64{1, 2, 3, 4}},
		},
		AlertEvents: []AlertEvent{
			{Entity: "x", Name: "HighLatency", FiredAt: start},
			{Entity: "y", Name: "ErrorBudget", FiredAt: start.Add(2 * time.Minute)},
			{Entity: "z", Name: "DiskFull", FiredAt: start.Add(30 * time.Minute)},
			{Entity: "x", Name: "HighLatency", FiredAt: start.Add(60 * time.Minute)},
			{Entity: "y", Name: "ErrorBudget", FiredAt: start.Add(61 * time.Minute)},
		},
	}

	evs, err := NewObservabilityDetector(source, 0, fixedClock()).DetectRelationships(context.Background(), entities)
	if err != nil {
		t.Fatalf("DetectRelationships: %v", err)
	}
	got := pairs(evs)
	if len(evs) != 2 {
		t.Fatalf("expected 2 evidence items, got %v", got)
	}

	corr, ok := got["metrics_correlation x->y"]
	if !ok {
		t.Fatalf("missing correlation between x and y: %v", got)
	}
	if math.Abs(corr.Confidence-100) > 1e-9 {
		t.Errorf("correlation confidence = %v, want 100", corr.Confidence)
	}

	alert, ok := got["alert_correlation y->x"]
	if !ok {
		t.Fatalf("missing alert co-firing y->x: %v", got)
	}
	if alert.Confidence != 70 {
		t.Errorf("alert confidence = %v, want 70", alert.Confidence)
	}
}

func TestObservabilityDetectorNilSource(t *testing.T) {
	evs, err := NewObservabilityDetector(nil, time.Minute).DetectRelationships(context.Background(), nil)
	if err != nil || evs != nil {
		t.Fatalf("expected no evidence and no error, got %v, %v", evs, err)
	}
}
