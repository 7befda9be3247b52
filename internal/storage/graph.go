package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/asklokesh/next-portal/catalog/internal/config"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
	"github.com/asklokesh/next-portal/catalog/pkg/store/memory"
	neo4jstore "github.com/asklokesh/next-portal/catalog/pkg/store/neo4j"
	pgxstore "github.com/asklokesh/next-portal/catalog/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

const closeTimeout = 5 * time.Second

// GraphBackend is an opened catalog store plus the handles behind it.
type GraphBackend struct {
	Storage store.GraphStorage
	// Pool is only set for the postgres backend. The lease lock shares it.
	Pool *pgxpool.Pool

	close func()
}

func (b *GraphBackend) Close() {
	if b.close != nil {
		b.close()
	}
}

// OpenGraphBackend opens the store selected by cfg.Store. The postgres
// schema is migrated before the pool is handed out.
func OpenGraphBackend(ctx context.Context, cfg config.Config) (*GraphBackend, error) {
	switch cfg.Store {
	case config.StorePostgres:
		if err := pgxstore.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		st, err := pgxstore.NewGraphDBStorageWithConnection(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("Using postgres graph store")
		return &GraphBackend{Storage: st, Pool: pool, close: pool.Close}, nil

	case config.StoreNeo4j:
		st, err := neo4jstore.NewNeo4jStorage(ctx, neo4jstore.NewNeo4jStorageParams{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Using neo4j graph store", "uri", cfg.Neo4j.URI)
		return &GraphBackend{Storage: st, close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := st.Close(ctx); err != nil {
				logger.Warn("Failed to close neo4j driver", "err", err)
			}
		}}, nil

	case config.StoreMemory, "":
		logger.Info("Using in-memory graph store")
		return &GraphBackend{Storage: memory.New()}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}
