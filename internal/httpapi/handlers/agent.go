package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/rabbithole/internal/common"
)

// RunAgent triggers a research cycle for the caller. With a queue attached
// the request is handed to the worker; otherwise the cycle runs in this
// process in the background.
func (h *Handler) RunAgent(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = h.Cfg.CycleTopicLimit
	}

	if h.Pub != nil {
		if err := h.Pub.PublishCycle(c.Request.Context(), uid, limit); err != nil {
			common.Fail(c, http.StatusInternalServerError, 50002, "failed to queue cycle")
			return
		}
		common.OK(c, gin.H{"queued": true})
		return
	}

	if h.AgentSvc.Status().Running {
		common.Fail(c, http.StatusConflict, 40901, "research cycle already running")
		return
	}
	go func() {
		if _, err := h.AgentSvc.RunCycle(context.Background(), limit, uid); err != nil {
			h.Log.Errorw("background cycle failed", "user", uid, "err", err)
		}
	}()
	common.OK(c, gin.H{"started": true})
}

// AgentStatus prefers the worker's published snapshot; without one it falls
// back to this process's own orchestrator state.
func (h *Handler) AgentStatus(c *gin.Context) {
	if h.Redis != nil {
		snapshot, err := h.Redis.GetAgentStatus(c.Request.Context())
		if err == nil && snapshot != nil {
			common.OK(c, snapshot)
			return
		}
	}
	common.OK(c, h.AgentSvc.Status())
}
