// Package natsconn dials the league's NATS server.
package natsconn

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
)

// Config holds the connection settings.
type Config struct {
	URL  string
	Name string
	// NKeySeed authenticates with an nkey when set. It is the user seed
	// ("SU..."), never the public key.
	NKeySeed string
}

// Connect opens a connection that reconnects forever and logs state changes.
func Connect(cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	if cfg.Name == "" {
		cfg.Name = "race-league"
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", attr.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", attr.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	if cfg.NKeySeed != "" {
		opt, err := NKeyOption(cfg.NKeySeed)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS", attr.String("url", conn.ConnectedUrl()), attr.String("name", cfg.Name))
	return conn, nil
}

// NKeyOption authenticates with the user seed. Other NATS clients in the
// process, such as the live update publisher, reuse it.
func NKeyOption(seed string) (nats.Option, error) {
	kp, err := nkeys.FromSeed([]byte(seed))
	if err != nil {
		return nil, fmt.Errorf("failed to parse nkey seed: %w", err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive nkey public key: %w", err)
	}
	return nats.Nkey(pub, kp.Sign), nil
}
