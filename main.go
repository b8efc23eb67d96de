package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/cppla/pollquest/config"
	"github.com/cppla/pollquest/models"
	"github.com/cppla/pollquest/routes"
	"github.com/cppla/pollquest/services"
	"github.com/cppla/pollquest/utils"
)

func main() {
	cfg := config.Load()

	logger, err := utils.InitLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	db := config.InitDatabase(models.All()...)

	reg := services.NewRegistry(db, logger, utils.GetRedis(), services.Options{
		Location:       cfg.Location(),
		StartingPoints: cfg.StartingPoints,
		ReferralReward: cfg.ReferralRewardPoints,
		Sanitizer:      utils.NewPlainText(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	utils.StartQuestionSweeper(ctx, reg.Questions, cfg.QuestionSweepInterval)
	utils.StartUploadCleaner(ctx, db, 0)

	r := routes.SetupRouter(db, reg, cfg)

	logger.Info("starting server", zap.String("port", cfg.AppPort), zap.String("db_driver", cfg.DBDriver))
	if err := utils.GraceServer(ctx, ":"+cfg.AppPort, r, cancel); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}
