// Package httpapi is the operator-facing HTTP surface: a small web page plus
// JSON endpoints to edit the task document, read logs and trigger runs.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"

	"bwkeeper/internal/config"
	"bwkeeper/internal/notifier"
	"bwkeeper/internal/probe"
	rtsup "bwkeeper/internal/runtime/supervisor"
	"bwkeeper/internal/storage"
	"bwkeeper/internal/task/scheduler"
	logx "bwkeeper/pkg/logx"
)

const DefaultAddr = ":9016"

// LogLines is how many trailing log lines GET /api/logs returns.
const LogLines = 150

type Config struct {
	Addr string
	// Basic auth is enforced when both are set.
	AuthUser         string
	AuthPasswordHash string
	Pprof            bool
}

type ConfigStore interface {
	Load() (*config.Config, error)
	Save(cfg *config.Config) error
}

type Scheduler interface {
	Configure(expr string) scheduler.State
	RunNow(source string)
	Snapshot() scheduler.Snapshot
}

// LogSource exposes the log file and the live line stream.
type LogSource interface {
	FilePath() string
	Subscribe(buffer int) (<-chan string, func())
}

// Deps are the collaborators behind the endpoints. History, Notifier, Probe
// and Supervisor may be nil.
type Deps struct {
	Config     ConfigStore
	Scheduler  Scheduler
	Logs       LogSource
	FS         afero.Fs
	History    storage.Store
	Notifier   *notifier.Service
	Probe      *probe.Service
	Supervisor *rtsup.Supervisor
}

func init() { gin.SetMode(gin.ReleaseMode) }

type Server struct {
	cfg      Config
	deps     Deps
	log      logx.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	if s.cfg.AuthUser != "" && s.cfg.AuthPasswordHash != "" {
		r.Use(basicAuth(s.cfg.AuthUser, s.cfg.AuthPasswordHash))
	}

	r.GET("/", s.index)
	api := r.Group("/api")
	api.GET("/config", s.getConfig)
	api.POST("/config", s.postConfig)
	api.GET("/logs", s.getLogs)
	api.GET("/logs/stream", s.streamLogs)
	api.POST("/force-run", s.forceRun)
	api.GET("/status", s.status)
	api.GET("/history", s.history)
	api.GET("/probe", s.probeStatus)
	api.POST("/probe", s.startProbe)

	if s.cfg.Pprof {
		pp := r.Group("/debug/pprof")
		pp.GET("/", gin.WrapF(pprof.Index))
		pp.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		pp.GET("/profile", gin.WrapF(pprof.Profile))
		pp.GET("/symbol", gin.WrapF(pprof.Symbol))
		pp.POST("/symbol", gin.WrapF(pprof.Symbol))
		pp.GET("/trace", gin.WrapF(pprof.Trace))
		pp.GET("/:name", func(c *gin.Context) { pprof.Handler(c.Param("name")).ServeHTTP(c.Writer, c.Request) })
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/api/logs" {
			return
		}
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}
