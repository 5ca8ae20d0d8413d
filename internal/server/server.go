// Package server exposes sessions over MCP Streamable HTTP. Every request on
// "/" or "/sse" is classified once into a handshake, a unary continuation, a
// stream attach or a teardown, and handed to the session it names.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/PostPulse/mcp-server-postpulse/internal/auth"
	"github.com/PostPulse/mcp-server-postpulse/internal/logger"
	"github.com/PostPulse/mcp-server-postpulse/internal/session"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/net/netutil"
)

const (
	// HeaderSessionID carries the session id on requests and responses.
	HeaderSessionID = "Mcp-Session-Id"

	defaultKeepAlive    = 25 * time.Second
	defaultMaxBodyBytes = 4 << 20
	defaultShutdown     = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	// ResourceURL is the public URL of this server, e.g.
	// https://mcp.post-pulse.com. It is advertised in the OAuth metadata.
	ResourceURL string
	// Issuer is the OAuth authorization server.
	Issuer          string
	JWKSURI         string
	ScopesSupported []string
	ResourceName    string

	KeepAlive       time.Duration
	StreamBuffer    int
	MaxConnections  int // 0 = unlimited
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration

	NewID  session.IDGenerator
	Logger *logger.Logger
}

// Server represents the MCP HTTP server
type Server struct {
	opts       Options
	registry   *session.Registry
	gate       *auth.Gate
	factory    session.EngineFactory
	router     *httprouter.Router
	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener
	log        *logger.Logger
	quitChan   chan struct{}
}

// NewServer creates a server routing requests to sessions in registry.
// New sessions authenticate through gate and get their engine from factory.
func NewServer(registry *session.Registry, gate *auth.Gate, factory session.EngineFactory, opts Options) *Server {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = defaultKeepAlive
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdown
	}
	if opts.NewID == nil {
		opts.NewID = session.NewID
	}
	if opts.ResourceName == "" {
		opts.ResourceName = "PostPulse MCP Server"
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global().WithPrefix("server")
	}

	s := &Server{
		opts:     opts,
		registry: registry,
		gate:     gate,
		factory:  factory,
		router:   httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // sessions are addressed by id, not cookies
			},
		},
		log:      log,
		quitChan: make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	for _, path := range []string{"/", "/sse"} {
		s.router.POST(path, s.handleMCP)
		s.router.GET(path, s.handleMCP)
		s.router.DELETE(path, s.handleMCP)
	}

	s.router.GET(ProtectedResourceMetadataPath, s.handleProtectedResourceMetadata)
	s.router.GET(AuthorizationServerMetadataPath, s.handleAuthorizationServerMetadata)
	s.router.GET("/healthz", s.handleHealth)
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler {
	return withCORS(s.router)
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}
	s.listener = ln

	// No WriteTimeout: streams stay open for the life of the session.
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          logger.NewStdLog(s.log, logger.LevelWarn),
	}

	go func() {
		s.log.Info("MCP server listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the HTTP server down. Open streams are released by closing
// their sessions, which the caller does through the registry.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("Stopping MCP server...")

	select {
	case <-s.quitChan:
	default:
		close(s.quitChan)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
