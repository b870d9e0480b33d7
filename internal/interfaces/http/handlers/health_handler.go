package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xyz-jphil/ccapis/internal/domain/service"
)

// HealthHandler serves the liveness and per-credential health endpoints.
type HealthHandler struct {
	pool    service.PoolProvider
	health  *service.HealthMonitor
	version string
	logger  *zap.Logger
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(pool service.PoolProvider, health *service.HealthMonitor, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		pool:    pool,
		health:  health,
		version: version,
		logger:  logger,
	}
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	active := []string{}
	count := 0
	if pool := h.pool.Pool(); pool != nil {
		count = pool.Len()
		for _, cred := range pool.Active() {
			active = append(active, cred.ID())
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"service":            "ccapis",
		"version":            h.version,
		"active_credentials": active,
		"credential_count":   count,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}

// Accounts handles GET /health/accounts with a plain-text per-credential
// summary meant for humans and shell pipelines.
func (h *HealthHandler) Accounts(c *gin.Context) {
	var b strings.Builder

	pool := h.pool.Pool()
	if pool == nil || pool.Len() == 0 {
		b.WriteString("no credentials configured\n")
		c.String(http.StatusOK, b.String())
		return
	}

	fmt.Fprintf(&b, "%d account(s), %d active, pool loaded %s\n\n",
		pool.Len(), len(pool.Active()), humanize.Time(pool.LoadedAt()))

	for _, cred := range pool.All() {
		if !cred.Flags().Active {
			fmt.Fprintf(&b, "[%s] %s (tier %d)  INACTIVE\n", cred.ID(), cred.DisplayName(), cred.Tier())
			continue
		}

		rec := h.health.Get(cred.ID())
		fmt.Fprintf(&b, "[%s] %s (tier %d)  %s\n", cred.ID(), cred.DisplayName(), cred.Tier(), rec.State)

		if w, ok := rec.LatestUsage.FiveHour(); ok {
			fmt.Fprintf(&b, "    five-hour window: %.1f%% used", w.Utilization)
			if !w.ResetsAt.IsZero() {
				fmt.Fprintf(&b, ", resets %s", humanize.Time(w.ResetsAt))
			}
			b.WriteString("\n")
			fmt.Fprintf(&b, "    usage fetched %s\n", humanize.Time(rec.LatestUsage.FetchedAt))
		} else {
			b.WriteString("    no usage snapshot\n")
		}

		if rec.State == service.StateTripped {
			fmt.Fprintf(&b, "    cooling down until %s (%s)\n",
				rec.CooldownUntil.UTC().Format(time.RFC3339), humanize.Time(rec.CooldownUntil))
		}
		if rec.ConsecutiveFailures > 0 {
			fmt.Fprintf(&b, "    consecutive failures: %d\n", rec.ConsecutiveFailures)
		}
	}

	c.String(http.StatusOK, b.String())
}
