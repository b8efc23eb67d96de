package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/pollquest/services"
	"github.com/cppla/pollquest/utils"
)

// StatsController serves public site counters.
type StatsController struct {
	stats *services.StatsService
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(stats *services.StatsService) *StatsController {
	return &StatsController{stats: stats}
}

// Site returns user, question and vote counts.
func (s *StatsController) Site(ctx *gin.Context) {
	stats, err := s.stats.Site(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, stats)
}
