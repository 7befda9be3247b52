package queue

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/graph"
	"github.com/asklokesh/next-portal/catalog/pkg/store/memory"
)

type fakeRunner struct {
	calls int
	err   error
}

func (f *fakeRunner) RunOnce(ctx context.Context) ([]graph.InferredRelationship, error) {
	f.calls++
	return nil, f.err
}

type fakeInferrer struct {
	got []string
}

func (f *fakeInferrer) InferRelationships(ctx context.Context, entities []common.Entity) ([]graph.InferredRelationship, error) {
	for _, e := range entities {
		f.got = append(f.got, e.Name)
	}
	return nil, nil
}

func TestDecodeInferenceRequest(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    []string
		wantErr bool
	}{
		{"empty body", "", nil, false},
		{"whitespace", "  \n", nil, false},
		{"full run", `{"reason":"manual"}`, nil, false},
		{"dedupes ids", `{"entityIds":["a","b","a",""]}`, []string{"a", "b"}, false},
		{"malformed", `{"entityIds":`, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := DecodeInferenceRequest([]byte(tc.body))
			if tc.wantErr {
				if !errors.Is(err, ErrPermanent) {
					t.Fatalf("err = %v, want ErrPermanent", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(req.EntityIDs, tc.want) {
				t.Fatalf("ids = %v, want %v", req.EntityIDs, tc.want)
			}
		})
	}
}

func TestProcessFullRun(t *testing.T) {
	runner := &fakeRunner{}
	p := NewInferenceProcessor(runner, &fakeInferrer{}, memory.New())
	if err := p.Process(context.Background(), nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("RunOnce called %d times", runner.calls)
	}

	runner.err = graph.ErrRunInProgress
	if err := p.Process(context.Background(), []byte(`{}`)); !errors.Is(err, graph.ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}
}

func TestProcessTargetedRun(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	mustEntity := func(name string) common.Entity {
		t.Helper()
		e, err := st.UpsertEntity(ctx, common.Entity{Type: common.EntityService, Name: name})
		if err != nil {
			t.Fatalf("UpsertEntity: %v", err)
		}
		return e
	}
	a, b := mustEntity("a"), mustEntity("b")
	mustEntity("c")
	if _, err := st.UpsertRelationship(ctx, common.Relationship{SourceID: b.ID, TargetID: a.ID, Type: common.RelDependsOn}); err != nil {
		t.Fatalf("UpsertRelationship: %v", err)
	}

	inferrer := &fakeInferrer{}
	runner := &fakeRunner{}
	p := NewInferenceProcessor(runner, inferrer, st)
	if err := p.Process(ctx, []byte(`{"entityIds":["`+a.ID+`","missing"]}`)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if runner.calls != 0 {
		t.Fatalf("full run triggered for a targeted request")
	}
	slices.Sort(inferrer.got)
	if !slices.Equal(inferrer.got, []string{"a", "b"}) {
		t.Fatalf("inferred over %v, want [a b]", inferrer.got)
	}
}

func TestProcessUnknownEntitiesIsPermanent(t *testing.T) {
	p := NewInferenceProcessor(&fakeRunner{}, &fakeInferrer{}, memory.New())
	err := p.Process(context.Background(), []byte(`{"entityIds":["nope"]}`))
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("err = %v, want ErrPermanent", err)
	}
}

func TestRequestInference(t *testing.T) {
	ch := &fakeChannel{}
	if err := RequestInference(context.Background(), ch, InferenceRequest{EntityIDs: []string{"x"}}); err != nil {
		t.Fatalf("RequestInference: %v", err)
	}
	if len(ch.published) != 1 || ch.published[0].key != InferenceQueue || ch.published[0].exchange != "" {
		t.Fatalf("published = %+v", ch.published)
	}
	req, err := DecodeInferenceRequest(ch.published[0].msg.Body)
	if err != nil || !slices.Equal(req.EntityIDs, []string{"x"}) {
		t.Fatalf("round trip = %+v, %v", req, err)
	}
}
