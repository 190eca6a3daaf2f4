package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/config"
)

const (
	defaultHistoryLimit = 20
	maxConfigBytes      = 1 << 20
)

type handlers struct {
	monitor Monitor
	logger  *zap.Logger
}

func (h *handlers) health(c *gin.Context) {
	state := h.monitor.CurrentState()
	if state == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "monitor": "pending"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"monitor":   state.Status.String(),
		"composite": state.Composite,
		"emergency": state.Emergency,
		"timestamp": state.Timestamp,
	})
}

func (h *handlers) state(c *gin.Context) {
	state := h.monitor.CurrentState()
	if state == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no state published yet"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *handlers) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Metrics())
}

func (h *handlers) history(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	states := h.monitor.History(limit)
	c.JSON(http.StatusOK, gin.H{"states": states, "count": len(states)})
}

func (h *handlers) processes(c *gin.Context) {
	procs := h.monitor.Processes()
	c.JSON(http.StatusOK, gin.H{"processes": procs, "count": len(procs)})
}

func (h *handlers) getConfig(c *gin.Context) {
	cfg := h.monitor.Configuration()
	cfg.API.Token = ""
	data, err := cfg.Marshal()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/yaml", data)
}

// putConfig accepts a YAML or JSON document. Fields it omits keep their
// defaults, and an omitted API token keeps the running one.
func (h *handlers) putConfig(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxConfigBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	cfg, err := config.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cfg.API.Token == "" {
		cfg.API.Token = h.monitor.Configuration().API.Token
	}

	if err := h.monitor.UpdateConfiguration(cfg, "api"); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrInvalidConfig) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}
