package main

import (
	"log"

	"github.com/thependalorian/buffrsign-sub001/internal/config"
	"github.com/thependalorian/buffrsign-sub001/internal/infra/db"
	httpinfra "github.com/thependalorian/buffrsign-sub001/internal/infra/http"
)

func main() {
	cfg := config.FromEnv()

	store, err := db.NewStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	if store.DB != nil {
		if err := store.Migrate(); err != nil {
			log.Fatalf("failed to migrate schema: %v", err)
		}
	}

	srv := httpinfra.NewServer(cfg, store)
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
