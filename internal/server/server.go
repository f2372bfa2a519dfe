package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/logger"
)

const _shutdownTimeout = 10 * time.Second

type HTTPServer struct {
	s      *http.Server
	logger logger.Logger
}

func NewHTTPServer(ctx context.Context, port string, handler http.Handler, logger logger.Logger) *HTTPServer {
	return &HTTPServer{
		s: &http.Server{
			Handler:           handler,
			Addr:              ":" + port,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
		},
		logger: logger,
	}
}

// Serve accepts connections on l until ctx is done, then drains in-flight requests.
func (s *HTTPServer) Serve(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.s.Serve(l)
	}()
	s.logger.Infof("http server listening on %s", l.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), _shutdownTimeout)
		defer cancel()
		s.logger.Infof("http server shutting down")
		return s.s.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *HTTPServer) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}
