// Package server is the HTTP surface of the calculator: the form page and
// the JSON API it talks to. All state lives in the session store; a request
// never affects a session other than the one named by its cookie.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"modelo130/internal/assist"
	"modelo130/internal/ingest"
	"modelo130/internal/logger"
	"modelo130/internal/session"
	"modelo130/internal/tax"
)

// SummaryAppender sends a summary to an external spreadsheet.
type SummaryAppender interface {
	AppendSummary(ctx context.Context, s tax.Summary) error
}

// Deps are the collaborators of the server. Sheets and Responder are
// optional.
type Deps struct {
	Store      *session.Store
	Pipeline   *ingest.Pipeline
	Calculator *tax.Calculator
	Sheets     SummaryAppender
	Responder  assist.Responder
}

// Options tunes the HTTP surface.
type Options struct {
	MaxUploadBytes int64
	SecureCookies  bool
}

// Server serves the form and the API.
type Server struct {
	deps Deps
	opts Options
	log  zerolog.Logger
}

// New returns a server. It panics when a required dependency is missing.
func New(deps Deps, opts Options) *Server {
	if deps.Store == nil || deps.Pipeline == nil || deps.Calculator == nil {
		panic("server: store, pipeline and calculator are required")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	return &Server{
		deps: deps,
		opts: opts,
		log:  logger.WithComponent("server"),
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = s.opts.MaxUploadBytes
	r.SetHTMLTemplate(pageTemplate)

	r.Use(requestLogger())
	r.Use(recovery())
	r.Use(errorHandler())

	r.GET("/health", s.health)

	withSession := r.Group("/", s.sessions())
	withSession.GET("/", s.index)

	api := withSession.Group("/api/v1")
	{
		api.POST("/ingest", s.ingest)
		api.GET("/records", s.getRecords)
		api.PUT("/records", s.putRecords)

		api.POST("/calculate", s.calculate)
		api.GET("/summary/export", s.exportSummary)
		api.POST("/summary/sheets", s.appendToSheets)

		api.POST("/history", s.saveSummary)
		api.GET("/history", s.history)
		api.GET("/history/export", s.exportHistory)

		api.POST("/inquiries", s.postInquiry)
		api.GET("/inquiries", s.inquiries)

		api.DELETE("/session", s.endSession)
	}

	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
