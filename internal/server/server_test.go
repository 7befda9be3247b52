package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/asklokesh/next-portal/catalog/internal/queue"
	mid "github.com/asklokesh/next-portal/catalog/internal/server/middleware"
	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/graph"
	"github.com/asklokesh/next-portal/catalog/pkg/query"
	"github.com/asklokesh/next-portal/catalog/pkg/query/base"
	"github.com/asklokesh/next-portal/catalog/pkg/store/memory"

	"github.com/rabbitmq/amqp091-go"
)

type countingSearch struct {
	*base.BaseSearchClient
	invalidations int
}

func (s *countingSearch) InvalidateCache() {
	s.invalidations++
	s.BaseSearchClient.InvalidateCache()
}

type fakeInferrer struct {
	got []string
	err error
}

func (f *fakeInferrer) InferRelationships(ctx context.Context, entities []common.Entity) ([]graph.InferredRelationship, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []graph.InferredRelationship
	for _, e := range entities {
		f.got = append(f.got, e.ID)
	}
	if len(entities) >= 2 {
		out = append(out, graph.InferredRelationship{Relationship: common.Relationship{
			SourceID: entities[0].ID, TargetID: entities[1].ID, Type: common.RelDependsOn, Confidence: 80,
		}})
	}
	return out, nil
}

// storeRunner runs the inferrer over every active entity, like a
// scheduler without a guard.
type storeRunner struct {
	storage  *memory.MemoryStorage
	inferrer *fakeInferrer
	runs     int
}

func (r *storeRunner) RunOnce(ctx context.Context) ([]graph.InferredRelationship, error) {
	r.runs++
	entities, err := r.storage.ListEntities(ctx, false)
	if err != nil {
		return nil, err
	}
	return r.inferrer.InferRelationships(ctx, entities)
}

type fakeQueue struct {
	keys []string
}

func (f *fakeQueue) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error {
	return nil
}

func (f *fakeQueue) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeQueue) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	f.keys = append(f.keys, key)
	return nil
}

type testServer struct {
	app      *mid.App
	search   *countingSearch
	inferrer *fakeInferrer
	runner   *storeRunner
	storage  *memory.MemoryStorage
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	for _, e := range []common.Entity{
		{ID: "auth", Type: common.EntityService, Name: "auth-service", Description: "Issues tokens"},
		{ID: "users", Type: common.EntityDatabase, Name: "user-db"},
	} {
		if _, err := st.UpsertEntity(ctx, e); err != nil {
			t.Fatalf("UpsertEntity: %v", err)
		}
	}
	if _, err := st.UpsertRelationship(ctx, common.Relationship{SourceID: "auth", TargetID: "users", Type: common.RelDependsOn}); err != nil {
		t.Fatalf("UpsertRelationship: %v", err)
	}

	client, err := base.NewSearchClient(base.NewSearchClientParams{Storage: st, CacheEnabled: true})
	if err != nil {
		t.Fatalf("NewSearchClient: %v", err)
	}
	ts := &testServer{
		search:   &countingSearch{BaseSearchClient: client},
		inferrer: &fakeInferrer{},
		storage:  st,
	}
	ts.runner = &storeRunner{storage: st, inferrer: ts.inferrer}
	ts.app = &mid.App{Storage: st, Search: ts.search, Graph: ts.inferrer, Runner: ts.runner}
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	New(ts.app).ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	rec := newTestServer(t).do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/health", "")
	rec := ts.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "catalog_http_requests_total") {
		t.Fatalf("metrics output misses request counter")
	}
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/search", `{"text":"auth service","searchTypes":["entity_name"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	resp := decode[query.SearchResponse](t, rec)
	if len(resp.Results) == 0 || resp.Results[0].Entity.ID != "auth" {
		t.Fatalf("results = %+v", resp.Results)
	}
}

func TestSearchEndpointValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"text":`},
		{"limit too large", `{"text":"auth","limit":500}`},
		{"negative offset", `{"text":"auth","offset":-1}`},
		{"unknown operator", `{"text":"auth","filters":[{"field":"name","operator":"like","value":"x"}]}`},
		{"depth too large", `{"text":"auth","traversal":{"maxDepth":50}}`},
	}
	ts := newTestServer(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/search", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestEntityEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/entities/auth", "")
	if rec.Code != http.StatusOK || decode[common.Entity](t, rec).Name != "auth-service" {
		t.Fatalf("get entity = %d %s", rec.Code, rec.Body.String())
	}

	if rec := ts.do(t, http.MethodGet, "/api/entities/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing entity status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/entities?type=database", "")
	list := decode[[]common.Entity](t, rec)
	if len(list) != 1 || list[0].ID != "users" {
		t.Fatalf("list by type = %+v", list)
	}

	rec = ts.do(t, http.MethodGet, "/api/entities/auth/relationships", "")
	rels := decode[[]common.Relationship](t, rec)
	if len(rels) != 1 || rels[0].TargetID != "users" {
		t.Fatalf("relationships = %+v", rels)
	}

	rec = ts.do(t, http.MethodGet, "/api/entities/users/relationships", "")
	if rels := decode[[]common.Relationship](t, rec); len(rels) != 0 {
		t.Fatalf("outgoing relationships of users = %+v", rels)
	}
	rec = ts.do(t, http.MethodGet, "/api/entities/users/related?reverse=true", "")
	related := decode[[]common.Entity](t, rec)
	if len(related) != 1 || related[0].ID != "auth" {
		t.Fatalf("reverse related = %+v", related)
	}
}

func TestUpsertAndDeactivateInvalidateCache(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/entities", `{"type":"service","name":"billing"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d body %s", rec.Code, rec.Body.String())
	}
	saved := decode[common.Entity](t, rec)
	if saved.ID == "" || saved.Namespace != common.DefaultNamespace {
		t.Fatalf("saved = %+v", saved)
	}

	if rec := ts.do(t, http.MethodPut, "/api/entities", `{"name":"no-type"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid upsert status = %d", rec.Code)
	}

	body := `{"sourceId":"` + saved.ID + `","targetId":"users","type":"depends_on"}`
	if rec := ts.do(t, http.MethodPut, "/api/relationships", body); rec.Code != http.StatusOK {
		t.Fatalf("relationship upsert = %d %s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodPut, "/api/relationships", `{"sourceId":"nope","targetId":"users","type":"owns"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("dangling relationship status = %d", rec.Code)
	}

	if rec := ts.do(t, http.MethodDelete, "/api/entities/"+saved.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("deactivate status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, "/api/entities/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("deactivate missing status = %d", rec.Code)
	}

	if ts.search.invalidations != 3 {
		t.Fatalf("cache invalidated %d times, want 3", ts.search.invalidations)
	}
	e, err := ts.storage.GetEntity(context.Background(), saved.ID)
	if err != nil || !e.Inactive {
		t.Fatalf("entity after deactivate = %+v, %v", e, err)
	}
}

func TestInferenceEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/inference", `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string]any](t, rec)["count"]; got != float64(1) {
		t.Fatalf("count = %v", got)
	}
	if ts.runner.runs != 1 || len(ts.inferrer.got) != 2 {
		t.Fatalf("full run went through runner %d time(s) over %v", ts.runner.runs, ts.inferrer.got)
	}

	ts.inferrer.got = nil
	if rec := ts.do(t, http.MethodPost, "/api/inference", `{"entityIds":["auth","auth"]}`); rec.Code != http.StatusOK {
		t.Fatalf("targeted status = %d", rec.Code)
	}
	if ts.runner.runs != 1 || len(ts.inferrer.got) != 1 {
		t.Fatalf("targeted run: runner runs %d, inferred over %v", ts.runner.runs, ts.inferrer.got)
	}

	if rec := ts.do(t, http.MethodPost, "/api/inference", `{"entityIds":["missing"]}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown entity status = %d", rec.Code)
	}

	ts.inferrer.err = errors.New("boom")
	if rec := ts.do(t, http.MethodPost, "/api/inference", `{}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("failed run status = %d", rec.Code)
	}
}

func TestFullInferenceConflictsWithRunningRun(t *testing.T) {
	ts := newTestServer(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := graph.DetectorFunc{K: graph.DetectorStatic, Fn: func(ctx context.Context, _ []common.Entity) ([]common.Evidence, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}}
	client, err := graph.NewGraphClient(graph.NewGraphClientParams{Storage: ts.storage, Detectors: []graph.Detector{blocking}})
	if err != nil {
		t.Fatalf("NewGraphClient: %v", err)
	}
	sched, err := graph.NewScheduler(graph.SchedulerParams{Client: client, Storage: ts.storage})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	ts.app.Runner = sched

	done := make(chan error, 1)
	go func() {
		_, err := sched.RunOnce(context.Background())
		done <- err
	}()
	<-started

	rec := ts.do(t, http.MethodPost, "/api/inference", `{}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status during scheduled run = %d body %s", rec.Code, rec.Body.String())
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("scheduled run: %v", err)
	}
	if rec := ts.do(t, http.MethodPost, "/api/inference", `{}`); rec.Code != http.StatusOK {
		t.Fatalf("status after run = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestAsyncInference(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodPost, "/api/inference", `{"async":true}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status without queue = %d", rec.Code)
	}

	q := &fakeQueue{}
	ts.app.Queue = q
	if rec := ts.do(t, http.MethodPost, "/api/inference", `{"async":true,"entityIds":["auth"]}`); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(q.keys) != 1 || q.keys[0] != queue.InferenceQueue {
		t.Fatalf("published to %v", q.keys)
	}
	if len(ts.inferrer.got) != 0 {
		t.Fatalf("async request ran inference inline")
	}
}
