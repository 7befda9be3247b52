package routes

import (
	"errors"
	"net/http"

	"github.com/asklokesh/next-portal/catalog/internal/server/middleware"
	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/store"

	"github.com/labstack/echo/v4"
)

func ListEntitiesHandler(c echo.Context) error {
	type listEntitiesParams struct {
		Types           []string `query:"type"`
		Namespace       string   `query:"namespace"`
		Health          []string `query:"health"`
		Compliance      []string `query:"compliance"`
		Owner           string   `query:"owner"`
		Team            string   `query:"team"`
		IncludeInactive bool     `query:"inactive"`
		Limit           int      `query:"limit" validate:"gte=0,lte=1000"`
	}

	params := new(listEntitiesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	q := store.Query{
		Types:           convert[common.EntityType](params.Types),
		Namespace:       params.Namespace,
		Health:          convert[common.HealthStatus](params.Health),
		Compliance:      convert[common.ComplianceState](params.Compliance),
		Owner:           params.Owner,
		Team:            params.Team,
		IncludeInactive: params.IncludeInactive,
		Limit:           params.Limit,
	}

	app := c.(*middleware.AppContext).App
	res, err := app.Storage.Query(c.Request().Context(), q)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if res == nil {
		res = []common.Entity{}
	}
	return c.JSON(http.StatusOK, res)
}

func GetEntityHandler(c echo.Context) error {
	id := c.Param("id")
	app := c.(*middleware.AppContext).App

	e, err := app.Storage.GetEntity(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	return c.JSON(http.StatusOK, e)
}

type neighbourhoodParams struct {
	ID           string   `param:"id" validate:"required"`
	Types        []string `query:"type"`
	Reverse      bool     `query:"reverse"`
	IncludeStale bool     `query:"stale"`
}

func (p neighbourhoodParams) options() store.RelatedOptions {
	return store.RelatedOptions{
		Types:          convert[common.RelationshipType](p.Types),
		IncludeReverse: p.Reverse,
		IncludeStale:   p.IncludeStale,
	}
}

func GetEntityRelationshipsHandler(c echo.Context) error {
	params := new(neighbourhoodParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	rels, err := app.Storage.GetRelationships(c.Request().Context(), params.ID, params.options())
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if rels == nil {
		rels = []common.Relationship{}
	}
	return c.JSON(http.StatusOK, rels)
}

func GetRelatedEntitiesHandler(c echo.Context) error {
	params := new(neighbourhoodParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	ents, err := app.Storage.GetRelated(c.Request().Context(), params.ID, params.options())
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if ents == nil {
		ents = []common.Entity{}
	}
	return c.JSON(http.StatusOK, ents)
}

func convert[T ~string](in []string) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = T(v)
	}
	return out
}
