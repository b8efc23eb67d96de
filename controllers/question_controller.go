package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/pollquest/services"
	"github.com/cppla/pollquest/utils"
)

// QuestionController serves the question lifecycle and voting.
type QuestionController struct {
	questions *services.QuestionService
	votes     *services.VoteService
	stats     *services.StatsService
}

// NewQuestionController creates a QuestionController.
func NewQuestionController(questions *services.QuestionService, votes *services.VoteService, stats *services.StatsService) *QuestionController {
	return &QuestionController{questions: questions, votes: votes, stats: stats}
}

type createQuestionRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	ImageURL    string     `json:"image_url"`
	Options     []string   `json:"options" binding:"required"`
	TopicIDs    []uint     `json:"topic_ids"`
	IsAnonymous bool       `json:"is_anonymous"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// Create prices and opens a question, charging the creator.
func (q *QuestionController) Create(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req createQuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid request payload")
		return
	}

	question, err := q.questions.Create(ctx.Request.Context(), services.CreateQuestionInput{
		CreatorID:   userID,
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    strings.TrimSpace(req.ImageURL),
		Options:     req.Options,
		TopicIDs:    utils.Unique(req.TopicIDs),
		IsAnonymous: req.IsAnonymous,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Created(ctx, gin.H{"question": question, "cost_paid": question.CostPaid})
}

// Cost quotes a question before creation.
func (q *QuestionController) Cost(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	anonymous, _ := strconv.ParseBool(ctx.DefaultQuery("anonymous", "false"))
	var expiresAt *time.Time
	if raw := strings.TrimSpace(ctx.Query("expires_at")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40018, "expires_at must be RFC3339")
			return
		}
		expiresAt = &t
	}
	quote, err := q.questions.Quote(ctx.Request.Context(), userID, anonymous, expiresAt)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, quote)
}

// List pages through questions with optional search, topic, status and creator filters.
func (q *QuestionController) List(ctx *gin.Context) {
	page, size := parsePagination(ctx.Query("page"), ctx.Query("page_size"))
	filter := services.QuestionFilter{
		Search:   strings.TrimSpace(ctx.Query("search")),
		Status:   strings.TrimSpace(ctx.Query("status")),
		Page:     page,
		PageSize: size,
	}
	if v, err := strconv.ParseUint(ctx.Query("topic_id"), 10, 64); err == nil {
		filter.TopicID = uint(v)
	}
	if v, err := strconv.ParseUint(ctx.Query("creator_id"), 10, 64); err == nil {
		filter.CreatorID = uint(v)
	}

	items, total, err := q.questions.List(ctx.Request.Context(), filter)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, utils.Page{Items: items, Total: total, Page: page, PageSize: size})
}

// Get returns a question with option tallies, served from cache when possible.
func (q *QuestionController) Get(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	key := utils.QuestionCacheKey(id)
	var cached services.QuestionDetail
	if utils.CacheGetJSON(key, &cached) {
		utils.Success(ctx, cached)
		return
	}
	detail, err := q.questions.Get(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.CacheSetJSON(key, detail, 0)
	utils.Success(ctx, detail)
}

// Close ends the caller's question early and pays the completion reward.
func (q *QuestionController) Close(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	result, err := q.questions.Close(ctx.Request.Context(), userID, id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.CacheDelete(utils.QuestionCacheKey(id))
	utils.Success(ctx, result)
}

// Delete removes the caller's question, refunding its cost when nobody voted.
func (q *QuestionController) Delete(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	refund, err := q.questions.Delete(ctx.Request.Context(), userID, id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.CacheDelete(utils.QuestionCacheKey(id))
	utils.Success(ctx, gin.H{"deleted": true, "refund": refund})
}

// Vote casts the caller's vote and reports every reward it produced.
func (q *QuestionController) Vote(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		OptionID uint `json:"option_id" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40002, "option_id is required")
		return
	}

	result, err := q.votes.CastVote(ctx.Request.Context(), userID, id, req.OptionID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.CacheDelete(utils.QuestionCacheKey(id))
	utils.Created(ctx, result)
}

// Stats returns page views and votes for one question.
func (q *QuestionController) Stats(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	stats, err := q.stats.Question(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, stats)
}

// MyVote tells the caller which option they picked, if any.
func (q *QuestionController) MyVote(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	vote, err := q.votes.UserVote(ctx.Request.Context(), userID, id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"voted": vote != nil, "vote": vote})
}
