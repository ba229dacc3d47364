package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"orderbooks/internal/clock"
	"orderbooks/internal/config"
	"orderbooks/internal/engine"
	"orderbooks/internal/factory"
	"orderbooks/internal/net"
	"orderbooks/internal/publish"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	sides, err := cfg.Sides()
	if err != nil {
		return err
	}

	var ts clock.TimeSource = clock.SystemMillis{}
	if cfg.Source == config.ClockTick {
		ticker := clock.NewTicker(cfg.Interval)
		defer func() {
			if err := ticker.Stop(); err != nil {
				log.Error().Err(err).Msg("unable to stop clock")
			}
		}()
		ts = ticker
	}

	factoryOpts := []factory.Option{factory.WithClock(ts)}
	if cfg.OrderIDs == config.IDsSequential {
		factoryOpts = append(factoryOpts, factory.WithSequentialIDs())
	}
	orders := factory.New(factoryOpts...)

	// Setup the matching engine and the TCP server in front of it.
	eng := engine.New(
		engine.WithSides(sides),
		engine.WithClock(ts),
	)
	srv := net.New(cfg.Address, cfg.Port, eng, orders, net.WithWorkers(cfg.Workers))
	eng.AddTradeListener(srv)

	if len(cfg.Brokers) > 0 {
		publisher := publish.NewKafkaTradeListener(publish.NewKafkaWriter(cfg.Brokers, cfg.Topic))
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("unable to close trade publisher")
			}
		}()
		eng.AddTradeListener(publisher)
		log.Info().
			Strs("brokers", cfg.Brokers).
			Str("topic", cfg.Topic).
			Msg("publishing trades")
	}

	log.Info().
		Str("strategy", cfg.Strategy).
		Str("order ids", cfg.OrderIDs).
		Str("clock", cfg.Source).
		Msg("matching engine ready")

	// Block on running the server.
	return srv.Run(ctx)
}
