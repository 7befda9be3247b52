package routes

import (
	"errors"
	"net/http"

	"github.com/asklokesh/next-portal/catalog/internal/queue"
	"github.com/asklokesh/next-portal/catalog/internal/server/middleware"
	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/graph"
	"github.com/asklokesh/next-portal/catalog/pkg/leaselock"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/asklokesh/next-portal/catalog/pkg/store"

	"github.com/labstack/echo/v4"
)

// InferenceHandler infers relationships for the given entities, or for
// every active entity when none are given. Full runs answer 409 while
// another full run is in flight. With async set the request is handed to
// the worker instead.
func InferenceHandler(c echo.Context) error {
	type inferenceBody struct {
		EntityIDs []string `json:"entityIds" validate:"omitempty,dive,required"`
		Async     bool     `json:"async"`
		Reason    string   `json:"reason" validate:"max=256"`
	}

	type inferenceResponse struct {
		Message       string                       `json:"message,omitempty"`
		Count         int                          `json:"count"`
		Relationships []graph.InferredRelationship `json:"relationships"`
	}

	data := new(inferenceBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, inferenceResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, inferenceResponse{Message: "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if data.Async {
		if app.Queue == nil {
			return c.JSON(http.StatusServiceUnavailable, inferenceResponse{Message: "No worker queue configured"})
		}
		req := queue.InferenceRequest{EntityIDs: data.EntityIDs, Reason: data.Reason}
		if err := queue.RequestInference(ctx, app.Queue, req); err != nil {
			logger.Error("Failed to enqueue inference request", "err", err)
			return c.JSON(http.StatusInternalServerError, inferenceResponse{Message: "Internal server error"})
		}
		return c.JSON(http.StatusAccepted, inferenceResponse{Message: "Inference queued"})
	}

	var (
		results []graph.InferredRelationship
		err     error
	)
	if len(data.EntityIDs) == 0 {
		// Full runs share the worker's overlap guard.
		results, err = app.Runner.RunOnce(ctx)
	} else {
		var entities []common.Entity
		for _, id := range store.DedupeStrings(data.EntityIDs) {
			e, err := app.Storage.GetEntity(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return c.JSON(http.StatusNotFound, inferenceResponse{Message: "Entity not found: " + id})
			}
			if err != nil {
				return c.JSON(http.StatusInternalServerError, inferenceResponse{Message: "Internal server error"})
			}
			entities = append(entities, e)
		}
		results, err = app.Graph.InferRelationships(ctx, entities)
	}
	switch {
	case errors.Is(err, graph.ErrRunInProgress), errors.Is(err, leaselock.ErrBusy):
		return c.JSON(http.StatusConflict, inferenceResponse{Message: "Inference already running"})
	case err != nil:
		logger.Error("Inference failed", "err", err)
		return c.JSON(http.StatusInternalServerError, inferenceResponse{Message: "Inference failed"})
	}
	app.Search.InvalidateCache()

	if results == nil {
		results = []graph.InferredRelationship{}
	}
	return c.JSON(http.StatusOK, inferenceResponse{Count: len(results), Relationships: results})
}
