package routes

import (
	"net/http"

	"github.com/asklokesh/next-portal/catalog/internal/server/middleware"
	"github.com/asklokesh/next-portal/catalog/pkg/query"

	"github.com/labstack/echo/v4"
)

// SearchHandler runs a catalog search. Search itself never fails; only
// malformed requests are rejected.
func SearchHandler(c echo.Context) error {
	data := new(query.SearchQuery)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body", "details": err.Error()})
	}

	app := c.(*middleware.AppContext).App
	resp := app.Search.Search(c.Request().Context(), *data)
	return c.JSON(http.StatusOK, resp)
}
