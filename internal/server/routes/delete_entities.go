package routes

import (
	"errors"
	"net/http"

	"github.com/asklokesh/next-portal/catalog/internal/server/middleware"
	"github.com/asklokesh/next-portal/catalog/pkg/store"

	"github.com/labstack/echo/v4"
)

// DeactivateEntityHandler marks an entity inactive. Entities are never
// removed.
func DeactivateEntityHandler(c echo.Context) error {
	id := c.Param("id")
	app := c.(*middleware.AppContext).App

	err := app.Storage.DeactivateEntity(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	app.Search.InvalidateCache()
	return c.NoContent(http.StatusNoContent)
}
