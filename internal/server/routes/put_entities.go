package routes

import (
	"errors"
	"net/http"

	"github.com/asklokesh/next-portal/catalog/internal/server/middleware"
	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/asklokesh/next-portal/catalog/pkg/store"

	"github.com/labstack/echo/v4"
)

// UpsertEntityHandler registers or updates an entity by natural key.
func UpsertEntityHandler(c echo.Context) error {
	data := new(common.Entity)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := store.ValidateEntity(*data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	app := c.(*middleware.AppContext).App
	saved, err := app.Storage.UpsertEntity(c.Request().Context(), *data)
	if errors.Is(err, store.ErrConflict) {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	if err != nil {
		logger.Error("Failed to upsert entity", "name", data.Name, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	app.Search.InvalidateCache()
	return c.JSON(http.StatusOK, saved)
}

// UpsertRelationshipHandler records a declared relationship between two
// existing entities.
func UpsertRelationshipHandler(c echo.Context) error {
	data := new(common.Relationship)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := store.ValidateRelationship(*data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	app := c.(*middleware.AppContext).App
	saved, err := app.Storage.UpsertRelationship(c.Request().Context(), *data)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
	}
	if err != nil {
		logger.Error("Failed to upsert relationship", "source", data.SourceID, "target", data.TargetID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	app.Search.InvalidateCache()
	return c.JSON(http.StatusOK, saved)
}
