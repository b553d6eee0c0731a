package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/rabbithole/internal/common"
)

// ListRabbitHoles returns every topic for the user, highest priority first,
// with conversation and insight counts.
func (h *Handler) ListRabbitHoles(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	summaries, err := h.Topics.TopicSummaries(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"rabbit_holes": summaries, "count": len(summaries)})
}

func (h *Handler) GetRabbitHole(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid rabbit hole id")
		return
	}

	ctx := c.Request.Context()
	tp, err := h.Topics.TopicByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40403, "rabbit hole not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if tp.UserID != uid {
		common.Fail(c, http.StatusNotFound, 40403, "rabbit hole not found")
		return
	}

	convs, err := h.Topics.ConversationsForTopic(ctx, id)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	insights, err := h.Topics.InsightsForTopic(ctx, id)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	runs, err := h.Topics.RunsForTopic(ctx, id, 10)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	common.OK(c, gin.H{
		"rabbit_hole":   tp,
		"conversations": convs,
		"insights":      insights,
		"research_runs": runs,
	})
}

func (h *Handler) ListInsights(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	insights, err := h.Topics.RecentInsightsAcrossTopics(c.Request.Context(), uid, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"insights": insights, "count": len(insights)})
}

// TodayPlan serves the plan for today's UTC date; an explicit ?date=
// (YYYY-MM-DD) overrides.
func (h *Handler) TodayPlan(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	date := c.Query("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		common.Fail(c, http.StatusBadRequest, 10005, "invalid date, want YYYY-MM-DD")
		return
	}

	plan, err := h.Topics.PlanForDate(c.Request.Context(), uid, date)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if plan == nil {
		common.Fail(c, http.StatusNotFound, 40404, "no plan for "+date)
		return
	}
	common.OK(c, plan)
}

func (h *Handler) Stats(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	stats, err := h.Topics.StatsForUser(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, stats)
}

// MergeRabbitHoles collapses topics whose names normalize identically.
// Safe to call repeatedly.
func (h *Handler) MergeRabbitHoles(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	merged, err := h.Topics.MergeDuplicates(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "merge failed")
		return
	}
	common.OK(c, gin.H{"merged": merged})
}
