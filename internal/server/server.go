// internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"nutrivision/internal/analysis"
	"nutrivision/internal/diagnostics"
	"nutrivision/internal/imaging"
	"nutrivision/internal/notify"
	"nutrivision/internal/session"
	"nutrivision/internal/tracker"
)

const (
	Name    = "nutrivision"
	Version = "1.0.0"

	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

type Config struct {
	Transport string
	Host      string
	Port      int
}

// Deps are the long-lived components the server routes requests to. Camera,
// Hub and Diagnostics are optional.
type Deps struct {
	Tracker     *tracker.Tracker
	Machine     *session.Machine
	Analyzer    *analysis.Client
	Camera      *imaging.Camera
	Hub         *notify.Hub
	Toaster     *notify.Toaster
	Diagnostics *diagnostics.Runner
	Logger      *log.Logger
}

type Server struct {
	config     *Config
	deps       Deps
	logger     *log.Logger
	notifier   notify.Notifier
	toaster    *notify.Toaster
	engine     *gin.Engine
	httpServer *http.Server
	mcp        *mcpserver.MCPServer
	tools      map[string]toolHandler

	ctx      context.Context
	cancel   context.CancelFunc
	analyses sync.WaitGroup
}

func NewServer(cfg *Config, deps Deps) (*Server, error) {
	if deps.Tracker == nil || deps.Machine == nil || deps.Analyzer == nil {
		return nil, errors.New("server needs a tracker, a session and an analysis client")
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportHTTP
	}
	if cfg.Transport != TransportHTTP && cfg.Transport != TransportStdio {
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}

	s := &Server{
		config:   cfg,
		deps:     deps,
		logger:   deps.Logger,
		notifier: notify.Discard,
	}
	if deps.Hub != nil {
		s.notifier = deps.Hub
	}
	s.toaster = deps.Toaster
	if s.toaster == nil {
		s.toaster = notify.NewToaster(s.notifier, notify.ToastDuration)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	deps.Machine.Observe(func(snap session.Snapshot) {
		s.notifier.Publish(notify.Event{Kind: notify.KindSession, Payload: snap})
	})

	s.registerTools()
	s.mcp = s.newMCPServer()
	s.engine = s.routes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(s.logger.Writer()), gin.Recovery())
	r.MaxMultipartMemory = imaging.MaxUploadBytes

	api := r.Group("/api")
	{
		sess := api.Group("/session")
		sess.GET("", s.handleGetSession)
		sess.POST("/image", s.handleSelectImage)
		sess.POST("/capture", s.handleCapture)
		sess.POST("/analyze", s.handleAnalyze)
		sess.POST("/reset", s.handleReset)
		sess.POST("/open/:id", s.handleOpenHistory)
		sess.GET("/share", s.handleShare)

		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings", s.handlePutSettings)

		api.GET("/history", s.handleGetHistory)
		api.DELETE("/history", s.handleClearHistory)
		api.GET("/history/today", s.handleToday)

		api.GET("/chat", s.handleGetChat)
		api.POST("/chat", s.handleSendChat)
		api.DELETE("/chat", s.handleClearChat)

		api.GET("/reminders", s.handleReminders)
		api.GET("/toast", s.handleToast)
		api.DELETE("/toast", s.handleDismissToast)

		api.GET("/diagnostics", s.handleDiagnostics)
		api.POST("/diagnostics/simulate/:scenario", s.handleSimulate)
	}

	if s.deps.Hub != nil {
		r.GET("/ws", gin.WrapF(s.deps.Hub.Serve))
	}
	r.POST("/mcp", s.handleMCP)
	r.OPTIONS("/mcp", s.handleMCP)
	return r
}

// Handler exposes the HTTP routes without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Start(ctx context.Context) error {
	if s.config.Transport == TransportStdio {
		s.logger.Printf("Serving MCP tools over stdio")
		return mcpserver.ServeStdio(s.mcp)
	}

	s.logger.Printf("Starting nutrivision server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down, abandons analyses in flight and waits for
// them to return.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.cancel()
	s.analyses.Wait()
	s.deps.Machine.Close()
	if s.deps.Camera != nil {
		s.deps.Camera.Close()
	}
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	return err
}
