package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/and161185/teamcal/internal/limiter"
	"github.com/and161185/teamcal/internal/migrate"
	"github.com/and161185/teamcal/internal/repository"
	"github.com/and161185/teamcal/internal/repository/memory"
	"github.com/and161185/teamcal/internal/repository/postgres"
)

type eventStore interface {
	repository.EventRepository
	repository.VersionRepository
}

type storage struct {
	users  repository.UserRepository
	events eventStore
	perms  repository.PermissionRepository
	notes  repository.NotificationRepository
	lim    limiter.Limiter
	ready  func(context.Context) error
	close  func()
}

func openStorage(ctx context.Context, cfg config, log *zap.Logger) (*storage, error) {
	if cfg.storage == "memory" {
		log.Warn("using in-memory storage; data is lost on exit")
		st := memory.New()
		return &storage{
			users:  st.Users(),
			events: st.Events(),
			perms:  st.Permissions(),
			notes:  st.Notifications(),
			lim:    limiter.NewMemory(limiter.DefaultConfig()),
			close:  func() {},
		}, nil
	}

	ver, err := migrate.Up(ctx, cfg.dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	log.Info("schema migrated", zap.Int64("version", ver))

	pool, err := pgxpool.New(ctx, cfg.dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	db := &postgres.DB{Pool: pool}
	return &storage{
		users:  postgres.NewUserRepo(db),
		events: postgres.NewEventRepo(db),
		perms:  postgres.NewPermissionRepo(db),
		notes:  postgres.NewNotificationRepo(db),
		lim:    limiter.NewPG(pool, limiter.DefaultConfig()),
		ready:  db.Ping,
		close:  db.Close,
	}, nil
}
