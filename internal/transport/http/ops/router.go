package opshttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"decisiongate/internal/advisor"
	"decisiongate/internal/pkg/circuit"
	"decisiongate/internal/pkg/symbol"
	"decisiongate/internal/reasoning"
	"decisiongate/internal/store"

	"github.com/gin-gonic/gin"
)

type StatsProvider interface {
	Stats() reasoning.StatsSnapshot
}

// BreakerControl is satisfied by *circuit.CircuitBreaker.
type BreakerControl interface {
	Snapshot() circuit.Snapshot
	ForceOpen()
	ForceClose()
}

type DecisionReader interface {
	Recent(ctx context.Context, limit int) ([]store.DecisionRecord, error)
	BySymbol(ctx context.Context, symbol string, limit int) ([]store.DecisionRecord, error)
	CountByProvenance(ctx context.Context) (map[string]int64, error)
}

type LatestProvider interface {
	Latest() []advisor.Outcome
}

// RulesReloader is satisfied by *fallback.Watcher.
type RulesReloader interface {
	Reload() error
	Reloads() uint64
}

const queryTimeout = 2 * time.Second

// Router 暴露 /api 下的查询与控制接口。
type Router struct {
	cfg ServerConfig
}

func NewRouter(cfg ServerConfig) *Router {
	return &Router{cfg: cfg}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/stats", r.handleStats)
	group.GET("/breaker", r.handleBreaker)
	group.POST("/breaker/open", r.handleBreakerOpen)
	group.POST("/breaker/close", r.handleBreakerClose)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/decisions/latest", r.handleLatest)
	group.GET("/decisions/summary", r.handleSummary)
	group.POST("/fallback/reload", r.handleRulesReload)
}

func (r *Router) handleStats(c *gin.Context) {
	snap := r.cfg.Stats.Stats()
	c.JSON(http.StatusOK, gin.H{
		"stats":        snap,
		"success_rate": snap.SuccessRate(),
	})
}

func (r *Router) handleBreaker(c *gin.Context) {
	if r.cfg.Breaker == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "breaker": r.cfg.Breaker.Snapshot()})
}

func (r *Router) handleBreakerOpen(c *gin.Context) {
	if r.cfg.Breaker == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "circuit breaker disabled"})
		return
	}
	r.cfg.Breaker.ForceOpen()
	c.JSON(http.StatusOK, gin.H{"breaker": r.cfg.Breaker.Snapshot()})
}

func (r *Router) handleBreakerClose(c *gin.Context) {
	if r.cfg.Breaker == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "circuit breaker disabled"})
		return
	}
	r.cfg.Breaker.ForceClose()
	c.JSON(http.StatusOK, gin.H{"breaker": r.cfg.Breaker.Snapshot()})
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.cfg.Decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	var (
		recs []store.DecisionRecord
		err  error
	)
	if raw := strings.TrimSpace(c.Query("symbol")); raw != "" {
		sym := symbol.Normalize(raw)
		if sym == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol"})
			return
		}
		recs, err = r.cfg.Decisions.BySymbol(ctx, sym, limit)
	} else {
		recs, err = r.cfg.Decisions.Recent(ctx, limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []store.DecisionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": recs, "count": len(recs)})
}

func (r *Router) handleLatest(c *gin.Context) {
	if r.cfg.Latest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "advisor disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": r.cfg.Latest.Latest()})
}

func (r *Router) handleSummary(c *gin.Context) {
	if r.cfg.Decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()
	counts, err := r.cfg.Decisions.CountByProvenance(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"by_provenance": counts})
}

func (r *Router) handleRulesReload(c *gin.Context) {
	if r.cfg.Rules == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "fallback rules are not file-backed"})
		return
	}
	if err := r.cfg.Rules.Reload(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "reloads": r.cfg.Rules.Reloads()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reloads": r.cfg.Rules.Reloads()})
}
