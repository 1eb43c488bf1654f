package builders

import (
	"context"
	"fmt"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/config"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store/memstore"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store/pgstore"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/migrations"
)

type StoreBuilder struct {
	config *config.Config
	logger *logger.Logger
}

func NewStoreBuilder(cfg *config.Config, log *logger.Logger) *StoreBuilder {
	return &StoreBuilder{config: cfg, logger: log}
}

// Build opens PostgreSQL when a database URL is configured and falls back to
// the in-process store otherwise. Agent definitions are seeded either way;
// existing rows keep their operator edits.
func (b *StoreBuilder) Build(ctx context.Context, defs []model.AgentDefinition) (store.Store, error) {
	st, err := b.open(ctx)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if err := st.SeedAgent(ctx, def); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to seed agent %s: %w", def.Kind, err)
		}
	}
	return st, nil
}

func (b *StoreBuilder) open(ctx context.Context) (store.Store, error) {
	db := b.config.Database
	if db.URL == "" {
		b.logger.Warn("no database configured, run history is kept in memory")
		return memstore.New(), nil
	}

	pg, err := pgstore.New(ctx, db.URL, pgstore.Options{
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: time.Duration(db.MaxConnLifetime) * time.Minute,
		Retries:         db.Retries,
	}, b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if db.MigrateEnabled() {
		if err := pg.Migrate(ctx, migrations.FS); err != nil {
			pg.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}
	b.logger.Info("database connected", logger.Int("max_conns", int(db.MaxConns)))
	return pg, nil
}
