package main

import (
	"net/http"

	"github.com/mcdev12/mafia/go/internal/config"
	"github.com/mcdev12/mafia/go/internal/game/gateway"
)

func setupServer(cfg config.Config, services *Services) *http.Server {
	mux := http.NewServeMux()
	services.Gateway.RegisterRoutes(mux)
	return gateway.NewServer(cfg.GatewayConfig(), mux)
}
