package main

import (
	"context"
	"flag"

	"recipecellar/internal/api"
	"recipecellar/internal/config"
	"recipecellar/internal/logging"
	"recipecellar/internal/platform/recipepuppy"
	"recipecellar/internal/recipe"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := logging.New(logging.Config{})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx := context.Background()
	store, err := recipe.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	catalog := recipepuppy.NewClient(cfg.Catalog.BaseURL)

	handler := api.NewHandler(store, catalog, log, []byte(cfg.Session.Secret), cfg.Session.TTL)
	router := api.NewRouter(handler, log, cfg.Server.CORSOrigins)

	log.Info().Str("addr", cfg.Server.Addr).Msg("server starting")
	if err := router.Run(cfg.Server.Addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
