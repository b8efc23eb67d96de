package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/pollquest/middleware"
	"github.com/cppla/pollquest/services"
	"github.com/cppla/pollquest/utils"
)

// UserController serves public profiles, expertise, badges, topics and referrals.
type UserController struct {
	accounts  *services.AccountService
	points    *services.PointsService
	expertise *services.ExpertiseService
	badges    *services.BadgeService
	questions *services.QuestionService
	referrals *services.ReferralService
}

func NewUserController(reg *services.Registry) *UserController {
	return &UserController{
		accounts:  reg.Accounts,
		points:    reg.Points,
		expertise: reg.Expertise,
		badges:    reg.Badges,
		questions: reg.Questions,
		referrals: reg.Referrals,
	}
}

// Profile returns a user's public profile.
func (u *UserController) Profile(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	user, err := u.accounts.FindByID(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	stats, err := u.points.GetStats(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"id":             user.ID,
		"username":       user.Username,
		"avatar_url":     user.AvatarURL,
		"bio":            user.Bio,
		"points":         user.Points,
		"level":          stats.Level,
		"streak_days":    stats.StreakDays,
		"longest_streak": stats.LongestStreak,
		"created_at":     user.CreatedAt,
	})
}

// Expertise lists a user's topic expertise, strongest first.
func (u *UserController) Expertise(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	items, err := u.expertise.ListUserExpertise(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, items)
}

// Badges lists a user's badges in the order they were earned.
func (u *UserController) Badges(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	items, err := u.badges.ListBadges(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, items)
}

// Referrals reports how many users the caller invited and how many have paid out.
func (u *UserController) Referrals(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	total, rewarded, err := u.referrals.CountReferrals(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"referral_code": ctx.GetString(middleware.ContextUsernameKey), "total": total, "rewarded": rewarded})
}

// Topics lists every topic.
func (u *UserController) Topics(ctx *gin.Context) {
	topics, err := u.questions.ListTopics(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, topics)
}

// CreateTopic adds a topic. Admin only.
func (u *UserController) CreateTopic(ctx *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40002, "name is required")
		return
	}
	topic, err := u.questions.CreateTopic(ctx.Request.Context(), req.Name)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Created(ctx, topic)
}
