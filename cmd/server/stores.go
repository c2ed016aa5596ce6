package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/config"
	"github.com/aura-helpdesk/backend/internal/companies"
	"github.com/aura-helpdesk/backend/internal/memstore"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/internal/onboarding"
	"github.com/aura-helpdesk/backend/internal/teams"
	"github.com/aura-helpdesk/backend/internal/tickets"
	"github.com/aura-helpdesk/backend/internal/users"
	"github.com/aura-helpdesk/backend/pkg/database"
)

// userStore is everything the server asks of the user directory.
type userStore interface {
	onboarding.UserStore
	FindByExternalID(ctx context.Context, externalID string) (*models.User, error)
	UpdateOnboardingFlags(ctx context.Context, userID uuid.UUID, completed, skipped *bool) (*models.User, error)
	DeleteByExternalID(ctx context.Context, externalID string) (bool, error)
}

type stores struct {
	companies onboarding.CompanyStore
	users     userStore
	teams     teams.Store
	tickets   tickets.Store
	// pool is nil for the memory driver.
	pool *pgxpool.Pool
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		mem := memstore.New()
		return &stores{
			companies: mem.Companies(),
			users:     mem.Users(),
			teams:     mem.Teams(),
			tickets:   mem.Tickets(),
		}, nil
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &stores{
		companies: companies.NewRepository(pool),
		users:     users.NewRepository(pool),
		teams:     teams.NewRepository(pool),
		tickets:   tickets.NewRepository(pool),
		pool:      pool,
	}, nil
}
