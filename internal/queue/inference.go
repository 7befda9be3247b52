package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/graph"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
)

// InferenceRequest asks the worker to re-run inference. An empty EntityIDs
// triggers a full run over every active entity; otherwise only the listed
// entities and their direct neighbours are analysed.
type InferenceRequest struct {
	EntityIDs []string `json:"entityIds,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Runner performs a full inference run.
type Runner interface {
	RunOnce(ctx context.Context) ([]graph.InferredRelationship, error)
}

// Inferrer infers relationships among a given entity set.
type Inferrer interface {
	InferRelationships(ctx context.Context, entities []common.Entity) ([]graph.InferredRelationship, error)
}

type InferenceProcessor struct {
	runner   Runner
	inferrer Inferrer
	storage  store.GraphStorage
}

func NewInferenceProcessor(runner Runner, inferrer Inferrer, storage store.GraphStorage) *InferenceProcessor {
	return &InferenceProcessor{runner: runner, inferrer: inferrer, storage: storage}
}

// DecodeInferenceRequest parses a message body. An empty body is a full
// run request.
func DecodeInferenceRequest(body []byte) (InferenceRequest, error) {
	var req InferenceRequest
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return InferenceRequest{}, errors.Join(ErrPermanent, fmt.Errorf("decode inference request: %w", err))
	}
	req.EntityIDs = store.DedupeStrings(req.EntityIDs)
	return req, nil
}

// Process is a Handler for the inference queue.
func (p *InferenceProcessor) Process(ctx context.Context, body []byte) error {
	req, err := DecodeInferenceRequest(body)
	if err != nil {
		return err
	}

	if len(req.EntityIDs) == 0 {
		results, err := p.runner.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.Info("Full inference run finished", "reason", req.Reason, "relationships", len(results))
		return nil
	}

	entities, err := p.neighbourhood(ctx, req.EntityIDs)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		return errors.Join(ErrPermanent, fmt.Errorf("none of the %d requested entities exist", len(req.EntityIDs)))
	}
	results, err := p.inferrer.InferRelationships(ctx, entities)
	if err != nil {
		return err
	}
	log.Info("Targeted inference run finished", "reason", req.Reason, "entities", len(entities), "relationships", len(results))
	return nil
}

// neighbourhood resolves ids plus their direct neighbours in both
// directions. Unknown ids are skipped.
func (p *InferenceProcessor) neighbourhood(ctx context.Context, ids []string) ([]common.Entity, error) {
	seen := make(map[string]bool)
	var out []common.Entity
	add := func(e common.Entity) {
		if e.Inactive || seen[e.ID] {
			return
		}
		seen[e.ID] = true
		out = append(out, e)
	}

	for _, id := range ids {
		e, err := p.storage.GetEntity(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("Skipping unknown entity", "id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		add(e)

		related, err := p.storage.GetRelated(ctx, id, store.RelatedOptions{IncludeReverse: true})
		if err != nil {
			return nil, err
		}
		for _, r := range related {
			add(r)
		}
	}
	return out, nil
}

// RequestInference enqueues req on the inference queue.
func RequestInference(ctx context.Context, ch Channel, req InferenceRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return PublishFIFO(ctx, ch, InferenceQueue, body)
}
