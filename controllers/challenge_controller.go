package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/pollquest/services"
	"github.com/cppla/pollquest/utils"
)

// ChallengeController serves daily challenges.
type ChallengeController struct {
	challenges *services.ChallengeService
}

func NewChallengeController(challenges *services.ChallengeService) *ChallengeController {
	return &ChallengeController{challenges: challenges}
}

// Daily returns today's set, generating it on first access.
func (c *ChallengeController) Daily(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	set, err := c.challenges.GetDailyChallenges(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, set)
}

// History pages through past days.
func (c *ChallengeController) History(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	page, size := parsePagination(ctx.Query("page"), ctx.Query("page_size"))
	items, total, err := c.challenges.GetChallengeHistory(ctx.Request.Context(), userID, size, (page-1)*size)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, utils.Page{Items: items, Total: total, Page: page, PageSize: size})
}

// Stats aggregates the caller's whole challenge history.
func (c *ChallengeController) Stats(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	stats, err := c.challenges.GetChallengeStats(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, stats)
}
