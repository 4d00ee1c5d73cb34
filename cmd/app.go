package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database/postgres"
	"github.com/kozaktomas/rollcall/internal/faceembed"
	"github.com/kozaktomas/rollcall/internal/logger"
	"github.com/kozaktomas/rollcall/internal/roster"
)

// app holds the wired core shared by every command that touches the roster.
type app struct {
	cfg     *config.Config
	pool    *postgres.Pool
	engine  *roster.Engine
	faces   *postgres.EmbeddingRepository
	service *attendance.Service
}

// openApp connects to PostgreSQL, applies migrations, hydrates the roster graph and wires
// the attendance service.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	log := logger.GetInstance()

	log.Infof("Connecting to PostgreSQL at %s", cfg.Database.Redacted())
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	graph := roster.NewGraph(postgres.NewRosterStore(pool))
	if err := graph.Load(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	st := graph.Stats()
	log.Infof("Roster loaded: %d persons, %d courses, %d sessions, %d attendance entries",
		st.Persons, st.Courses, st.Sessions, st.Entries)

	faces := postgres.NewEmbeddingRepository(pool, cfg.Embedding.Dim, cfg.Match.MaxSamples)
	extractor := faceembed.NewClient(cfg.Embedding.URL, cfg.Embedding.Model, cfg.Embedding.Dim, cfg.Embedding.MinDetScore)
	engine := roster.NewEngine(graph)

	svc := attendance.NewService(engine, faces, extractor, attendance.Options{
		Threshold:          cfg.Match.Threshold,
		Dim:                cfg.Embedding.Dim,
		LookalikeThreshold: cfg.Match.LookalikeThreshold,
		Concurrency:        cfg.Match.Concurrency,
	})

	return &app{cfg: cfg, pool: pool, engine: engine, faces: faces, service: svc}, nil
}

// enableLookalikeIndex builds or loads the HNSW index when the lookalike guard is on.
func (a *app) enableLookalikeIndex(ctx context.Context) {
	if a.cfg.Match.LookalikeThreshold <= 0 {
		return
	}
	log := logger.GetInstance()
	indexPath := a.cfg.Database.HNSWIndexPath
	if err := a.faces.EnableHNSW(ctx, indexPath); err != nil {
		log.Warnf("Failed to build face HNSW index: %v", err)
		log.Warn("Lookalike checks will use PostgreSQL queries (slower)")
		return
	}
	if indexPath != "" {
		log.Infof("Face HNSW index ready with %d samples (persisted to %s)", a.faces.HNSWCount(), indexPath)
	} else {
		log.Infof("Face HNSW index built with %d samples (in-memory only)", a.faces.HNSWCount())
	}
}

// saveLookalikeIndex persists the HNSW index, if one is configured.
func (a *app) saveLookalikeIndex(ctx context.Context) {
	if !a.faces.IsHNSWEnabled() {
		return
	}
	if err := a.faces.SaveHNSWIndex(ctx); err != nil {
		logger.GetInstance().Warnf("failed to save face HNSW index: %v", err)
	}
}

func (a *app) Close() {
	if err := a.pool.Close(); err != nil {
		logger.GetInstance().Warnf("closing database: %v", err)
	}
}
