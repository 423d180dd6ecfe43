package demoserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raysh454/capwatch/internal/logging"
)

// Run serves s until ctx is cancelled, then shuts the listener down and
// stops every simulated job.
func Run(ctx context.Context, s *Server) error {
	srv := s.HTTPServer()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("demo backend listening", logging.Field{Key: "addr", Value: srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		// Streams never finish on their own; stop them before draining.
		s.cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.Close()
	return err
}
