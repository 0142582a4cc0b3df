package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thomasbruketta/therapy-ops-agent/internal/reporting"
)

// RunSource exposes the most recent completed run envelope.
type RunSource interface {
	LatestRun() (reporting.Envelope, bool)
}

// StatusHandler serves liveness and last-run information.
type StatusHandler struct {
	Runs    RunSource
	Version string
	Started time.Time
	Now     func() time.Time
}

// NewStatusHandler wires a StatusHandler started now.
func NewStatusHandler(runs RunSource, version string) *StatusHandler {
	return &StatusHandler{Runs: runs, Version: version, Started: time.Now(), Now: time.Now}
}

// LastRun summarizes a run for the health payload.
type LastRun struct {
	RunID       string `json:"run_id"`
	Mode        string `json:"mode"`
	Disposition string `json:"disposition"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version,omitempty"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	LastRun       *LastRun `json:"last_run,omitempty"`
}

// Health reports liveness plus the disposition of the last run, if any.
// A run that needs review does not make the process unhealthy.
func (h *StatusHandler) Health(c *gin.Context) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	resp := HealthResponse{
		Status:        "ok",
		Version:       h.Version,
		UptimeSeconds: int64(now().Sub(h.Started) / time.Second),
	}
	if h.Runs != nil {
		if env, found := h.Runs.LatestRun(); found {
			resp.LastRun = &LastRun{
				RunID:       env.RunID,
				Mode:        string(env.Mode),
				Disposition: env.Disposition(),
			}
		}
	}
	ok(c, http.StatusOK, resp)
}

// LatestRun returns the last run envelope as JSON, or as the triage Markdown
// report with ?format=markdown.
func (h *StatusHandler) LatestRun(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "markdown" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "format must be json or markdown")
		return
	}
	if h.Runs == nil {
		fail(c, http.StatusNotFound, ErrCodeNoRuns, "no run has completed since startup")
		return
	}
	env, found := h.Runs.LatestRun()
	if !found {
		fail(c, http.StatusNotFound, ErrCodeNoRuns, "no run has completed since startup")
		return
	}
	if format == "markdown" {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(reporting.RenderFindingsMarkdown(env)))
		return
	}
	c.Header("X-Run-Disposition", env.Disposition())
	ok(c, http.StatusOK, env)
}
