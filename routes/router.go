package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/pollquest/config"
	"github.com/cppla/pollquest/controllers"
	"github.com/cppla/pollquest/middleware"
	"github.com/cppla/pollquest/services"
	"github.com/cppla/pollquest/utils"
)

// UploadDir is where question images are written and served from /static/uploads.
const UploadDir = "static/uploads"

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB, reg *services.Registry, cfg config.AppConfig) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	accessLog := utils.NewRollingFileLogger(cfg.GinPath, cfg)
	r.Use(ginzap.Ginzap(accessLog, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(accessLog, true))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.Static("/static/uploads", UploadDir)
	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	authController := controllers.NewAuthController(reg.Accounts, reg.Points, cfg)
	questionController := controllers.NewQuestionController(reg.Questions, reg.Votes, reg.Stats)
	pointsController := controllers.NewPointsController(reg.Points, reg.Leaderboard)
	streakController := controllers.NewStreakController(reg.Streak)
	challengeController := controllers.NewChallengeController(reg.Challenges)
	userController := controllers.NewUserController(reg)
	statsController := controllers.NewStatsController(reg.Stats)
	uploadController := controllers.NewUploadController(db, UploadDir, "/static/uploads",
		time.Duration(cfg.UploadTTLMinutes)*time.Minute)

	limit := middleware.RateLimit(cfg.RateLimitPerMinute)
	auth := middleware.AuthRequired()
	views := middleware.QuestionViewRecorder(db, services.Calendar{Loc: cfg.Location()})

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(limit)
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.GET("/captcha", authController.Captcha)
	authGroup.GET("/oauth/:provider/login", authController.OAuthRedirect)
	authGroup.GET("/oauth/:provider/callback", authController.OAuthCallback)
	authGroup.POST("/logout", auth, authController.Logout)
	authGroup.GET("/me", auth, authController.Me)

	api.GET("/questions", questionController.List)
	api.GET("/questions/:id", views, questionController.Get)
	api.GET("/questions/:id/stats", questionController.Stats)
	api.GET("/leaderboard", pointsController.Leaderboard)
	api.GET("/topics", userController.Topics)
	api.GET("/stats", statsController.Site)
	api.GET("/users/:id", userController.Profile)
	api.GET("/users/:id/expertise", userController.Expertise)
	api.GET("/users/:id/badges", userController.Badges)

	protected := api.Group("")
	protected.Use(auth, limit)
	protected.GET("/questions/cost", questionController.Cost)
	protected.POST("/questions", questionController.Create)
	protected.POST("/questions/:id/close", questionController.Close)
	protected.DELETE("/questions/:id", questionController.Delete)
	protected.POST("/questions/:id/votes", questionController.Vote)
	protected.GET("/questions/:id/my-vote", questionController.MyVote)
	protected.GET("/points/balance", pointsController.Balance)
	protected.GET("/points/history", pointsController.History)
	protected.GET("/streak", streakController.Info)
	protected.POST("/streak/freeze", streakController.Freeze)
	protected.GET("/challenges/daily", challengeController.Daily)
	protected.GET("/challenges/history", challengeController.History)
	protected.GET("/challenges/stats", challengeController.Stats)
	protected.GET("/referrals", userController.Referrals)
	protected.POST("/upload", uploadController.Upload)
	protected.POST("/topics", middleware.AdminRequired(cfg.AdminUsernames), userController.CreateTopic)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
