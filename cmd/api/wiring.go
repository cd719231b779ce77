package main

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"illustrationapi/internal/config"
	"illustrationapi/internal/database"
	"illustrationapi/internal/database/migration"
	handlers "illustrationapi/internal/http/handler"
	"illustrationapi/internal/repository"
	firestorerepo "illustrationapi/internal/repository/firestore"
	"illustrationapi/internal/repository/postgres"
	"illustrationapi/internal/repository/supabase"
	"illustrationapi/internal/storage"
	"illustrationapi/internal/vision"
)

// newVisionClient builds the configured provider. On error the returned
// client is nil and the close func is still safe to call.
func newVisionClient(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (vision.Client, func(), error) {
	noop := func() {}
	if err := cfg.VisionError(); err != nil {
		return nil, noop, err
	}

	timeout := time.Duration(cfg.Vision.TimeoutSec) * time.Second
	switch cfg.Vision.Provider {
	case config.ProviderVertex:
		c, err := vision.NewVertex(ctx, cfg.Vision.Vertex, logger)
		if err != nil {
			return nil, noop, err
		}
		return c, func() { _ = c.Close() }, nil
	default:
		return vision.NewAnthropic(cfg.Vision.Anthropic, timeout, logger), noop, nil
	}
}

// templateStore is the optional template cache. repo is a nil interface
// when caching is off; health is only set for the SQL backend.
type templateStore struct {
	repo   repository.TemplateRepository
	health handlers.Pinger
	close  func()
}

// newTemplateStore never fails: a backend that cannot be reached at startup
// is logged and extraction runs without caching.
func newTemplateStore(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) templateStore {
	off := templateStore{close: func() {}}
	backend := cfg.TemplateBackend()
	log := logger.With("template_store", backend)

	switch backend {
	case config.StoreSupabase:
		if cfg.Templates.SupabaseURL == "" || cfg.Templates.SupabaseKey == "" {
			log.Warn("template.store.disabled", "reason", "SUPABASE_URL and SUPABASE_KEY are required")
			return off
		}
		return templateStore{
			repo:  supabase.NewTemplateSupabase(cfg.Templates.SupabaseURL, cfg.Templates.SupabaseKey, nil),
			close: func() {},
		}

	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			log.Warn("template.store.disabled", "error", err)
			return off
		}
		if err := migration.EnsureMigrated(ctx, db, logger, cfg.Database.Host); err != nil {
			log.Warn("template.store.disabled", "error", err)
			_ = db.Close()
			return off
		}
		return templateStore{
			repo:   postgres.NewTemplatePostgres(db),
			health: db,
			close:  closer(db),
		}

	case config.StoreFirestore:
		client, err := firestorerepo.NewClient(ctx, cfg.Templates.FirestoreProjectID)
		if err != nil {
			log.Warn("template.store.disabled", "error", err)
			return off
		}
		return templateStore{
			repo:  firestorerepo.NewTemplateFirestore(client, cfg.Templates.FirestoreCollection),
			close: func() { _ = client.Close() },
		}

	default:
		log.Info("template.store.disabled", "reason", "no template store configured")
		return off
	}
}

func closer(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

// newArchive returns nil when MINIO_* is not configured or unreachable.
func newArchive(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) storage.Storage {
	if !cfg.MinIO.Enabled() {
		return nil
	}
	s, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		logger.Warn("archive.disabled", "endpoint", cfg.MinIO.Endpoint, "error", err)
		return nil
	}
	return s
}
