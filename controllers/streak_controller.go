package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/pollquest/services"
	"github.com/cppla/pollquest/utils"
)

// StreakController serves the caller's streak and the freeze action.
type StreakController struct {
	streak *services.StreakService
}

func NewStreakController(streak *services.StreakService) *StreakController {
	return &StreakController{streak: streak}
}

// Info returns the current streak, multiplier and freeze availability.
func (s *StreakController) Info(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	info, err := s.streak.GetStreakInfo(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, info)
}

// Freeze spends the monthly freeze to keep a broken streak alive.
func (s *StreakController) Freeze(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	if _, err := s.streak.UseStreakFreeze(ctx.Request.Context(), userID); err != nil {
		respondError(ctx, err)
		return
	}
	info, err := s.streak.GetStreakInfo(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, info)
}
