package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"go.uber.org/zap"
)

var ErrBindExhausted = errors.New("server: no free port found")

// Listen binds host:port. When the port is in use it moves on to the next
// one, trying at most retries further ports.
func Listen(ctx context.Context, host string, port, retries int, log *zap.Logger) (net.Listener, error) {
	var lc net.ListenConfig
	for attempt := 0; attempt <= retries && port+attempt <= 65535; attempt++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port+attempt))
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			if attempt > 0 {
				log.Warn("Bound to fallback port", zap.Int("requested", port), zap.String("addr", ln.Addr().String()))
			}
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		log.Warn("Port in use, trying next", zap.String("addr", addr))
	}
	return nil, fmt.Errorf("%w: ports %d-%d on %s are in use", ErrBindExhausted, port, port+retries, host)
}
