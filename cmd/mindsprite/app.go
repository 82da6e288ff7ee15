package main

import (
	"fmt"

	"github.com/mindsprite/mindsprite/internal/companion"
	"github.com/mindsprite/mindsprite/internal/config"
	"github.com/mindsprite/mindsprite/internal/lexicon"
	"github.com/mindsprite/mindsprite/internal/llm"
	"github.com/mindsprite/mindsprite/internal/logging"
	"github.com/mindsprite/mindsprite/internal/storage"
)

// app holds everything a command needs
type app struct {
	cfg   *config.Config
	db    *storage.DB
	cache *storage.CacheStore
	orch  *companion.Orchestrator
}

// loadConfig reads config and applies command-line overrides
func loadConfig() (*config.Config, error) {
	if dataDir != "" {
		// Resolve the default config path against the overridden data dir
		if err := setDataDirEnv(dataDir); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

// openApp opens the database and wires the orchestrator
func openApp(cfg *config.Config) (*app, error) {
	lex, err := lexicon.Load(cfg.LexiconPath)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	cache := storage.NewCacheStore(db)
	replier, err := buildReplier(cfg, cache)
	if err != nil {
		db.Close()
		return nil, err
	}

	orch := companion.New(companion.Config{
		DB:           db,
		Lexicon:      lex,
		Replier:      replier,
		Intimacy:     cfg.Intimacy,
		ReplyTimeout: cfg.Model.Timeout,
		ContextTurns: cfg.Model.ContextTurns,
	})

	return &app{cfg: cfg, db: db, cache: cache, orch: orch}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// buildReplier wires the primary model, the optional local fallback, and
// the reply cache. Without any backend every turn gets the fallback reply.
func buildReplier(cfg *config.Config, cache *storage.CacheStore) (llm.Replier, error) {
	var routes []llm.Route

	if cfg.HasModel() {
		client, err := llm.NewClient(cfg.Model.Config)
		if err != nil {
			return nil, err
		}
		routes = append(routes, llm.Route{Name: client.Name(), Replier: client})
	} else {
		logging.Warn("MINDSPRITE_MODEL_API_KEY not set, primary model disabled")
	}

	if fb := cfg.Model.Fallback; fb.Enabled {
		client, err := llm.NewClient(llm.Config{
			Provider:  fb.Provider,
			BaseURL:   fb.BaseURL,
			Model:     fb.Model,
			Timeout:   cfg.Model.Timeout,
			MaxTokens: cfg.Model.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("fallback model: %w", err)
		}
		routes = append(routes, llm.Route{Name: "fallback:" + client.Name(), Replier: client})
	}

	if len(routes) == 0 {
		return llm.Offline{}, nil
	}

	var replier llm.Replier = llm.NewRouter(routes...)
	if cfg.Model.CacheTTL > 0 {
		replier = llm.NewCachingReplier(replier, cache, cfg.Model.Model, cfg.Model.CacheTTL)
	}
	return replier, nil
}
