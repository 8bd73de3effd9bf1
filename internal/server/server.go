package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/embedsrv/embedsrv/internal/util"
)

// Server represents the HTTP API server.
type Server struct {
	host   string
	port   int
	state  *State
	router *gin.Engine
	logger *slog.Logger
}

// NewServer creates a new API server instance bound to host:port and
// serving requests out of state's model map.
func NewServer(host string, port int, state *State) *Server {
	return &Server{
		host:   host,
		port:   port,
		state:  state,
		logger: util.Logger,
	}
}

// buildRouter assembles the gin engine: recovery, trace, and the fixed
// 15-second timeout, then every route. Split out from Start so tests
// can exercise the routes without binding a real listener.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(traceMiddleware())
	router.Use(timeoutMiddleware())

	s.router = router
	s.registerRoutes()
	return router
}

// Start starts the HTTP server and blocks until ctx is cancelled, then
// performs a graceful shutdown: stop accepting new connections, wait
// for in-flight handlers, and stop every model's executor.
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	s.router = s.buildRouter()

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Info("starting HTTP server", "address", addr)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	s.state.Shutdown()
	return err
}
