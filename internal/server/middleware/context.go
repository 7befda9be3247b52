package middleware

import (
	"context"

	"github.com/asklokesh/next-portal/catalog/internal/queue"
	"github.com/asklokesh/next-portal/catalog/pkg/query"
	"github.com/asklokesh/next-portal/catalog/pkg/store"

	"github.com/labstack/echo/v4"
)

// Searcher is the search engine as seen by the handlers.
type Searcher interface {
	Search(ctx context.Context, q query.SearchQuery) query.SearchResponse
	InvalidateCache()
}

type App struct {
	Storage store.GraphStorage
	Search  Searcher
	Graph   queue.Inferrer
	// Runner performs full inference runs behind the same overlap guard as
	// the worker's scheduler.
	Runner queue.Runner
	// Queue is nil when no broker is configured; asynchronous inference
	// requests are then rejected.
	Queue queue.Channel
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
