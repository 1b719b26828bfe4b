package core

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Bus is the NATS connection alerts are published on. When configured as
// embedded it also owns an in-process NATS server.
type Bus struct {
	nc     *nats.Conn
	ns     *server.Server
	url    string
	logger zerolog.Logger
}

// NewBus connects to NATS, starting an embedded server first when
// cfg.Embedded is set.
func NewBus(cfg NATSConfig, logger zerolog.Logger) (*Bus, error) {
	bus := &Bus{
		url:    cfg.URL,
		logger: logger.With().Str("component", "bus").Logger(),
	}

	if cfg.Embedded {
		opts := &server.Options{
			Host:   "127.0.0.1",
			Port:   cfg.Port,
			NoLog:  true,
			NoSigs: true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}

		ns.Start()

		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}

		bus.ns = ns
		bus.url = ns.ClientURL()
		bus.logger.Info().Str("url", bus.url).Msg("embedded NATS server started")
	}

	nc, err := nats.Connect(bus.url,
		nats.Name("vigil"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		if bus.ns != nil {
			bus.ns.Shutdown()
		}
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc
	return bus, nil
}

// Conn returns the underlying NATS connection.
func (b *Bus) Conn() *nats.Conn {
	return b.nc
}

// URL returns the URL the bus connected to.
func (b *Bus) URL() string {
	return b.url
}

// Close drains the connection and stops the embedded server, if any.
func (b *Bus) Close() error {
	var err error
	if b.nc != nil {
		err = b.nc.Drain()
	}
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
	}
	return err
}
