package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/pollquest/middleware"
	"github.com/cppla/pollquest/services"
	"github.com/cppla/pollquest/utils"
)

type errorMapping struct {
	err    error
	status int
	code   int
}

var serviceErrors = []errorMapping{
	{services.ErrInvalidAmount, http.StatusBadRequest, 40010},
	{services.ErrInvalidQuestion, http.StatusBadRequest, 40011},
	{services.ErrInvalidOption, http.StatusBadRequest, 40012},
	{services.ErrNoActiveStreak, http.StatusBadRequest, 40013},
	{services.ErrStreakNotBroken, http.StatusBadRequest, 40014},
	{services.ErrReferrerNotFound, http.StatusBadRequest, 40015},
	{services.ErrSelfReferral, http.StatusBadRequest, 40016},
	{services.ErrSelfVoteForbidden, http.StatusForbidden, 40310},
	{services.ErrNotQuestionOwner, http.StatusForbidden, 40311},
	{services.ErrUserNotFound, http.StatusNotFound, 40410},
	{services.ErrUserStatsNotFound, http.StatusNotFound, 40411},
	{services.ErrQuestionNotFound, http.StatusNotFound, 40412},
	{services.ErrInvalidState, http.StatusConflict, 40910},
	{services.ErrDuplicateVote, http.StatusConflict, 40911},
	{services.ErrUsernameTaken, http.StatusConflict, 40912},
}

// respondError maps a service error onto the response envelope. Unknown
// errors are logged and answered with a generic 500.
func respondError(ctx *gin.Context, err error) {
	var insufficient *services.InsufficientPointsError
	if errors.As(err, &insufficient) {
		ctx.Abort()
		utils.Respond(ctx, http.StatusBadRequest, 40020,
			fmt.Sprintf("need %d more points", insufficient.Shortfall()),
			gin.H{"required": insufficient.Required, "current": insufficient.Current})
		return
	}
	var cooling *services.FreezeUnavailableError
	if errors.As(err, &cooling) {
		ctx.Abort()
		utils.Respond(ctx, http.StatusBadRequest, 40021, cooling.Error(),
			gin.H{"days_remaining": cooling.DaysRemaining})
		return
	}
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			utils.Error(ctx, m.status, m.code, err.Error())
			return
		}
	}
	utils.Logger.Error("request failed",
		zap.String("method", ctx.Request.Method),
		zap.String("path", ctx.FullPath()),
		zap.Error(err),
	)
	utils.Error(ctx, http.StatusInternalServerError, 50000, "internal error")
}

// currentUser reads the id set by AuthRequired and answers 401 when missing.
func currentUser(ctx *gin.Context) (uint, bool) {
	id, ok := middleware.CurrentUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
	}
	return id, ok
}

// pathID parses a positive numeric path parameter and answers 400 otherwise.
func pathID(ctx *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(ctx.Param(name)), 10, 64)
	if err != nil || n == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid "+name)
		return 0, false
	}
	return uint(n), true
}

// parsePagination reads page and page_size with defaults 1 and 20, size capped at 100.
func parsePagination(pageStr, sizeStr string) (int, int) {
	page, size := 1, 20
	if n, err := strconv.Atoi(strings.TrimSpace(pageStr)); err == nil && n > 0 {
		page = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(sizeStr)); err == nil && n > 0 && n <= 100 {
		size = n
	}
	return page, size
}
