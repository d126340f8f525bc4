// Package httpapi exposes the Engine Facade over a REST transport:
// POST /v1/memories, GET /v1/memories/:id, DELETE /v1/memories/:id,
// POST /v1/search, GET /v1/stats.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	memerrors "github.com/NewTurn2017/oc-memory/internal/errors"
)

// Server wraps a gin.Engine and an http.Server around the REST API's
// routes, grounded on the REST transport conventions used elsewhere in
// the retrieval pack (gin.New()+Recovery(), route groups, graceful
// shutdown via http.Server.Shutdown).
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	handlers   *handlers
	logger     *slog.Logger
}

// NewServer wires a REST server around an already-constructed Engine.
func NewServer(h EngineAPI) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:   router,
		handlers: &handlers{engine: h},
		logger:   slog.Default(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/v1")
	{
		v1.GET("/health", s.handlers.health)
		v1.POST("/memories", s.handlers.storeMemory)
		v1.GET("/memories/:id", s.handlers.getMemory)
		v1.DELETE("/memories/:id", s.handlers.deleteMemory)
		v1.POST("/search", s.handlers.search)
		v1.GET("/stats", s.handlers.stats)
	}
}

// Router returns the underlying gin.Engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve starts the HTTP server on addr and blocks until ctx is
// cancelled, then shuts down gracefully within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting rest api server", slog.String("address", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// statusForError maps an engine-layer error to an HTTP status code.
func statusForError(err error) int {
	var me *memerrors.MemError
	if !errors.As(err, &me) {
		return http.StatusInternalServerError
	}

	switch me.Code {
	case memerrors.ErrCodeMemoryNotFound:
		return http.StatusNotFound
	case memerrors.ErrCodeInvalidInput, memerrors.ErrCodeQueryEmpty, memerrors.ErrCodeQueryTooLong:
		return http.StatusBadRequest
	case memerrors.ErrCodeStaleWrite:
		return http.StatusConflict
	case memerrors.ErrCodeBusy:
		return http.StatusServiceUnavailable
	case memerrors.ErrCodeDeadlineExceed:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
