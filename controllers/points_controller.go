package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cppla/pollquest/services"
	"github.com/cppla/pollquest/utils"
)

// PointsController exposes balances, the ledger and the leaderboard.
type PointsController struct {
	points      *services.PointsService
	leaderboard *services.LeaderboardService
}

// NewPointsController creates a PointsController.
func NewPointsController(points *services.PointsService, leaderboard *services.LeaderboardService) *PointsController {
	return &PointsController{points: points, leaderboard: leaderboard}
}

// Balance returns the caller's balance, level and lifetime totals.
func (p *PointsController) Balance(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	stats, err := p.points.GetStats(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"balance":         stats.CurrentBalance,
		"lifetime_earned": stats.LifetimeEarned,
		"lifetime_spent":  stats.LifetimeSpent,
		"level":           stats.Level,
	})
}

// History pages through the caller's transactions, newest first.
func (p *PointsController) History(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	page, size := parsePagination(ctx.Query("page"), ctx.Query("page_size"))
	items, total, err := p.points.ListTransactions(ctx.Request.Context(), userID, size, (page-1)*size)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, utils.Page{Items: items, Total: total, Page: page, PageSize: size})
}

// Leaderboard returns the top users by balance.
func (p *PointsController) Leaderboard(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "10"))
	entries, err := p.leaderboard.Top(ctx.Request.Context(), limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, entries)
}
