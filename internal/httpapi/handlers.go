package httpapi

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"bwkeeper/internal/config"
	"bwkeeper/internal/probe"
	"bwkeeper/internal/storage"
	logx "bwkeeper/pkg/logx"
)

//go:embed web/index.html
var indexHTML []byte

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) getConfig(c *gin.Context) {
	cfg, err := s.deps.Config.Load()
	if err != nil {
		s.log.Warn("config load failed", logx.Err(err))
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) postConfig(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || isEmptyDocument(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config"})
		return
	}
	var cfg config.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config: " + err.Error()})
		return
	}
	if n := len(cfg.ValidLinks()); n > config.MaxLinks {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at most " + strconv.Itoa(config.MaxLinks) + " valid download links"})
		return
	}

	if err := s.deps.Config.Save(&cfg); err != nil {
		if errors.Is(err, config.ErrTooManyLinks) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.Error("config save via api failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed: " + err.Error()})
		return
	}
	state := s.deps.Scheduler.Configure(cfg.Cron)
	s.log.Info("config updated via api", logx.String("schedule", state.String()))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "config saved and applied"})
}

// isEmptyDocument matches bodies that carry no configuration at all.
func isEmptyDocument(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return len(m) == 0
}

func (s *Server) getLogs(c *gin.Context) {
	lines, err := logx.Tail(s.deps.FS, s.deps.Logs.FilePath(), LogLines)
	switch {
	case errors.Is(err, logx.ErrNoLog):
		c.JSON(http.StatusOK, gin.H{"logs": []string{"[system] no log records"}})
		return
	case err != nil:
		c.JSON(http.StatusOK, gin.H{"logs": []string{"[error] failed to read logs: " + err.Error()}})
		return
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if f := logx.FormatLine([]byte(l)); f != "" {
			out = append(out, f)
		}
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}

func (s *Server) forceRun(c *gin.Context) {
	s.deps.Scheduler.RunNow("manual")
	s.log.Info("manual run triggered via api")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "task triggered"})
}

func (s *Server) status(c *gin.Context) {
	resp := gin.H{"schedule": s.deps.Scheduler.Snapshot()}
	if s.deps.Supervisor != nil {
		resp["supervisor"] = s.deps.Supervisor.Snapshot()
	}
	if s.deps.Notifier != nil {
		resp["notifications"] = s.deps.Notifier.History()
	}
	if s.deps.Probe != nil {
		resp["probe"] = s.deps.Probe.Status()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) history(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "runs": []any{}})
		return
	}
	limit, _ := strconv.Atoi(strings.TrimSpace(c.Query("limit")))
	runs, err := s.deps.History.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "runs": runs})
}

func (s *Server) probeStatus(c *gin.Context) {
	if s.deps.Probe == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "probe disabled"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Probe.Status())
}

func (s *Server) startProbe(c *gin.Context) {
	p := s.deps.Probe
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "probe disabled"})
		return
	}
	if p.Status().Running {
		c.JSON(http.StatusConflict, gin.H{"error": probe.ErrBusy.Error()})
		return
	}
	run := func(ctx context.Context) { _, _ = p.Run(ctx) }
	if s.deps.Supervisor != nil {
		s.deps.Supervisor.Go0("probe", run)
	} else {
		go run(context.Background())
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "probe started"})
}
