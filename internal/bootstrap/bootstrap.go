// Package bootstrap holds the start-up wiring shared by the api, worker and
// scribectl binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinical-scribe/internal/config"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
	"github.com/jwalitptl/clinical-scribe/internal/repository/memory"
	"github.com/jwalitptl/clinical-scribe/internal/repository/postgres"
	templateService "github.com/jwalitptl/clinical-scribe/internal/service/template"
	"github.com/jwalitptl/clinical-scribe/pkg/circuitbreaker"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
)

// UserCacheTTL bounds how long a resolved user is served without a store read.
const UserCacheTTL = 5 * time.Minute

// Logger builds the process logger and installs it as the zerolog global so
// packages logging through log.Logger share its level and output.
func Logger(cfg config.LogConfig, service string) *logger.Logger {
	l := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Console,
	}).WithFields(map[string]interface{}{"service": service})

	log.Logger = l.Zerolog()
	zerolog.SetGlobalLevel(logger.ParseLevel(cfg.Level))
	return l
}

// Store is an opened persistence backend.
type Store struct {
	Repos *repository.Repositories
	// DB is nil for the memory driver.
	DB *sqlx.DB
}

// Ping reports whether the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	return s.DB.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// OpenStore connects the configured driver. The memory driver is seeded from
// the template catalog since it has no other way to get one.
func OpenStore(ctx context.Context, cfg *config.Config, l *logger.Logger) (*Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return &Store{Repos: postgres.NewRepositories(db), DB: db}, nil

	case "memory":
		repos := memory.NewRepositories(memory.NewStore())
		catalog, err := templateService.ReadCatalogFile(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read template catalog: %w", err)
		}
		summary, err := templateService.NewService(repos.Templates, cfg.Catalog.CacheTTL).Load(ctx, catalog)
		if err != nil {
			return nil, fmt.Errorf("failed to seed template catalog: %w", err)
		}
		l.Warn("Using in-memory store; data is lost on restart",
			"fields", summary.Fields,
			"flowsheets", summary.Flowsheets)
		return &Store{Repos: repos}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
}

// Breaker guards one remote dependency. Cancellation by the caller does not
// count against the remote side.
func Breaker(name string) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:                name,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}
