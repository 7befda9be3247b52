package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
)

const deploymentYAML = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: orders
  namespace: shop
  annotations:
    catalog/depends-on: "payments, service:shop/payments"
spec:
  template:
    spec:
      containers:
        - name: app
          env:
            - name: DATABASE_URL
              value: postgres://orders-db.shop.svc:5432/orders
            - name: LOG_LEVEL
              value: debug
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: orders-config
  namespace: shop
`

const composeYAML = `services:
  web:
    depends_on:
      - db
    links:
      - cache:redis
  db:
    image: postgres:16
  cache:
    depends_on:
      db:
        condition: service_healthy
`

type failingManifests struct{}

func (failingManifests) Manifests(context.Context) ([]Manifest, error) {
	return nil, errors.New("bucket unavailable")
}

func infraEntities() []common.Entity {
	return []common.Entity{
		{ID: "orders", Type: common.EntityService, Name: "orders", Namespace: "shop",
			Annotations: map[string]string{ManifestAnnotation: deploymentYAML}},
		{ID: "orders-db", Type: common.EntityDatabase, Name: "orders-db", Namespace: "shop"},
		{ID: "payments", Type: common.EntityService, Name: "payments", Namespace: "shop"},
		{ID: "web", Type: common.EntityWebsite, Name: "web"},
		{ID: "db", Type: common.EntityDatabase, Name: "db"},
		{ID: "cache", Type: common.EntityCache, Name: "cache",
			Annotations: map[string]string{ManifestAnnotation: "services: [unclosed"}},
	}
}

func TestInfrastructureDetector(t *testing.T) {
	d := NewInfrastructureDetector([]ManifestSource{
		StaticManifests{{Name: "compose.yaml", Data: []byte(composeYAML)}},
		failingManifests{},
	}, fixedClock())

	evs, err := d.DetectRelationships(context.Background(), infraEntities())
	if err != nil {
		t.Fatalf("DetectRelationships: %v", err)
	}
	got := pairs(evs)

	want := map[string]float64{
		"kubernetes_manifests orders->payments":  85,
		"kubernetes_manifests orders->orders-db": 75,
		"docker_compose web->db":                 80,
		"docker_compose web->cache":              70,
		"docker_compose cache->db":               80,
	}
	if len(evs) != len(want) {
		t.Fatalf("expected %d evidence items, got %d: %v", len(want), len(evs), got)
	}
	for key, conf := range want {
		e, ok := got[key]
		if !ok {
			t.Fatalf("missing evidence %s", key)
		}
		if e.Confidence != conf {
			t.Errorf("%s confidence = %v, want %v", key, e.Confidence, conf)
		}
	}
	if env := got["kubernetes_manifests orders->orders-db"].MetaString(common.MetaEnvironment); env != "shop" {
		t.Errorf("environment = %q, want shop", env)
	}
}

func TestInfrastructureDetectorAllSourcesFail(t *testing.T) {
	d := NewInfrastructureDetector([]ManifestSource{failingManifests{}})
	_, err := d.DetectRelationships(context.Background(), []common.Entity{{ID: "a", Name: "a"}})
	if err == nil {
		t.Fatal("expected an error when no manifest could be read")
	}
}

func TestHostCandidates(t *testing.T) {
	tests := []struct {
		value string
		want  []hostRef
	}{
		{value: "postgres://orders-db.shop.svc:5432/orders", want: []hostRef{{namespace: "shop", name: "orders-db"}, {name: "orders-db"}}},
		{value: "cache:6379", want: []hostRef{{name: "cache"}}},
		{value: "redis", want: []hostRef{{name: "redis"}}},
		{value: "", want: nil},
		{value: "a=b", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got := hostCandidates(tt.value)
			if len(got) != len(tt.want) {
				t.Fatalf("hostCandidates(%q) = %v, want %v", tt.value, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("hostCandidates(%q)[%d] = %v, want %v", tt.value, i, got[i], tt.want[i])
				}
			}
		})
	}
}
