package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nholik/smso/internal/control"
	"github.com/nholik/smso/internal/deploy"
	"github.com/rs/zerolog"
)

type handler struct {
	dashboard *control.Dashboard
	logger    zerolog.Logger
}

type resultResponse struct {
	Message  string   `json:"message"`
	Kind     string   `json:"kind"`
	Warnings []string `json:"warnings,omitempty"`
}

func (h *handler) respond(c *gin.Context, result deploy.Result) {
	c.JSON(httpStatus(result.Kind), resultResponse{
		Message:  result.Message,
		Kind:     string(result.Kind),
		Warnings: result.Warnings,
	})
}

func (h *handler) deploy(c *gin.Context) {
	h.respond(c, h.dashboard.Deploy(c.Request.Context(), c.Param("name")))
}

func (h *handler) stop(c *gin.Context) {
	h.respond(c, h.dashboard.Stop(c.Request.Context(), c.Param("name")))
}

func (h *handler) rollback(c *gin.Context) {
	h.respond(c, h.dashboard.Rollback(c.Request.Context(), c.Param("name")))
}

func (h *handler) stopAll(c *gin.Context) {
	h.respond(c, h.dashboard.StopAll(c.Request.Context()))
}

func (h *handler) deployAll(c *gin.Context) {
	batch := h.dashboard.DeployAll(c.Request.Context())
	c.JSON(httpStatus(batch.Kind), batch)
}

func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": h.dashboard.GetSingleStatus(c.Request.Context(), c.Param("name"))})
}

func (h *handler) uptime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": h.dashboard.GetContainerUptime(c.Request.Context(), c.Param("name"))})
}

func (h *handler) version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": h.dashboard.GetServiceVersion(c.Request.Context(), c.Param("name"))})
}

func (h *handler) statusTable(c *gin.Context) {
	table, err := h.dashboard.GetStatusTable(c.Request.Context())
	if err != nil {
		h.fail(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": table})
}

func (h *handler) history(c *gin.Context) {
	records, err := h.dashboard.GetDeploymentHistory(c.Request.Context())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *handler) healthSummary(c *gin.Context) {
	records, err := h.dashboard.GetHealthSummary(c.Request.Context())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *handler) runMonitor(c *gin.Context) {
	pass, err := h.dashboard.RunMonitor(c.Request.Context())
	if errors.Is(err, control.ErrMonitorDisabled) {
		h.fail(c, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil && len(pass.Records) == 0 {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":      pass.RunID,
		"status":      pass.Health.Status,
		"records":     pass.Records,
		"transitions": pass.Transitions,
	})
}

func (h *handler) fail(c *gin.Context, code int, err error) {
	h.logger.Warn().Err(err).Str("path", c.FullPath()).Msg("api request failed")
	c.JSON(code, gin.H{"message": err.Error()})
}
