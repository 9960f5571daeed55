package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/config"
	"github.com/mcdev12/mafia/go/internal/game/engine"
	"github.com/mcdev12/mafia/go/internal/game/gateway"
	"github.com/mcdev12/mafia/go/internal/game/relay"
)

type Services struct {
	Engine  *engine.Engine
	Relay   *relay.JetStreamRelay
	Gateway *gateway.Service
}

func setupServices(ctx context.Context, cfg config.Config) (*Services, error) {
	sessionID := uuid.NewString()

	var (
		rl   *relay.JetStreamRelay
		opts = []engine.Option{engine.WithLogger(log.Logger), engine.WithSessionID(sessionID)}
	)

	if cfg.Relay.Enabled {
		var err error
		rl, err = relay.Connect(ctx, cfg.RelayConfig(), relay.WithLogger(log.Logger), relay.WithSessionID(sessionID))
		if err != nil {
			return nil, fmt.Errorf("failed to start relay: %w", err)
		}
		opts = append(opts, engine.WithRelay(rl))
	}

	e := engine.New(cfg.EngineConfig(), opts...)

	return &Services{
		Engine:  e,
		Relay:   rl,
		Gateway: gateway.NewService(e, cfg.GatewayConfig()),
	}, nil
}

// Close stops the engine before the relay so nothing is forwarded to a
// closed relay.
func (s *Services) Close() {
	if err := s.Engine.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close engine")
	}
	if s.Relay != nil {
		if err := s.Relay.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close relay")
		}
	}
}
