// Package nats dials the server that run events are forwarded to. The CLI
// is its only consumer; the engine itself never talks to NATS.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Options configures the event-forwarding connection.
type Options struct {
	// URL is the NATS server URL, e.g. "nats://localhost:4222".
	URL string

	// Name identifies this client in server monitoring.
	Name string

	// MaxReconnects bounds reconnection attempts; -1 means unlimited.
	MaxReconnects int

	// ReconnectWait is the pause between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout bounds the initial dial.
	Timeout time.Duration
}

// DefaultOptions returns the connection settings the CLI uses.
func DefaultOptions(url string) Options {
	return Options{
		URL:           url,
		Name:          "arachne",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect dials the server, honoring ctx: cancelling it abandons the
// attempt. Later connection state changes are logged, not surfaced, since
// event forwarding must never take a run down with it.
func Connect(ctx context.Context, opts Options, logger *zap.Logger) (*nats.Conn, error) {
	if opts.URL == "" {
		return nil, errors.New("nats url cannot be empty")
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.Timeout(opts.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Debug("NATS connection closed")
		}),
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(opts.URL, natsOpts...)
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		// The dial may still succeed after cancellation; close the
		// connection it would otherwise leak.
		go func() {
			if res := <-resultCh; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", res.err)
		}
		return res.conn, nil
	}
}

// Close drains the connection so queued events reach the server, then
// closes it.
func Close(conn *nats.Conn) error {
	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("error draining connection: %w", err)
	}
	return nil
}
