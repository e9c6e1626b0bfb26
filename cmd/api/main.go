package main

import (
	"log"

	"github.com/Nadosaurusrex/devin-proj/internal/shared/config"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/server"
)

func main() {
	cfg := config.Load()
	r, err := server.NewRouter(cfg)
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}

	addr := server.Addr(cfg.Port)
	log.Printf("Starting API server on %s (mock=%v)", addr, cfg.DevinMock)

	if err := r.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
