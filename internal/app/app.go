package app

import (
	"context"
	"fmt"
	"time"

	"arivara/internal/store"
	"arivara/pkg/domain"
	"arivara/pkg/storage"
)

const defaultPresignTTL = 15 * time.Minute

// HeadingGenerator produces a short heading for a chat thread from its
// opening exchange. The heading text comes from an external collaborator;
// the core only persists whatever string it is given.
type HeadingGenerator interface {
	Heading(ctx context.Context, content string) (string, error)
}

// JobDispatcher hands an accepted research job to the report generator.
type JobDispatcher interface {
	DispatchJob(ctx context.Context, job domain.ResearchJob) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Objects     storage.ObjectStore
	Headings    HeadingGenerator
	Dispatch    JobDispatcher
	PresignTTL  time.Duration
}

// App is the account core: it wires the access guard, credit ledger, job
// store and thread store behind one caller-facing service.
type App struct {
	store      store.Store
	objects    storage.ObjectStore
	headings   HeadingGenerator
	dispatch   JobDispatcher
	presignTTL time.Duration
}

// New constructs the application service.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	presignTTL := cfg.PresignTTL
	if presignTTL <= 0 {
		presignTTL = defaultPresignTTL
	}
	return &App{
		store:      dataStore,
		objects:    cfg.Objects,
		headings:   cfg.Headings,
		dispatch:   cfg.Dispatch,
		presignTTL: presignTTL,
	}, nil
}
