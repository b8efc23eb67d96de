package utils

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/pollquest/models"
)

// Expirer closes questions whose expiry has passed and reports their ids.
type Expirer interface {
	ExpireDue(ctx context.Context, limit int) ([]uint, error)
}

// StartQuestionSweeper closes expired questions every interval until ctx is done.
func StartQuestionSweeper(ctx context.Context, expirer Expirer, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go every(ctx, interval, func() {
		sweepQuestions(ctx, expirer, CacheDelete)
	})
}

// sweepQuestions runs one expiry pass and evicts the cached detail of every
// question it closed. A partial pass still evicts what it closed.
func sweepQuestions(ctx context.Context, expirer Expirer, evict func(keys ...string)) []uint {
	ids, err := expirer.ExpireDue(ctx, 100)
	if len(ids) > 0 {
		keys := make([]string, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, QuestionCacheKey(id))
		}
		evict(keys...)
		Logger.Info("question sweep", zap.Int("closed", len(ids)))
	}
	if err != nil {
		Logger.Warn("question sweep failed", zap.Error(err))
	}
	return ids
}

// StartUploadCleaner removes uploads that were never attached to a question
// once they expire. File removal is best-effort; the row goes regardless.
func StartUploadCleaner(ctx context.Context, db *gorm.DB, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go every(ctx, interval, func() {
		if _, err := CleanExpiredUploads(ctx, db, time.Now().UTC()); err != nil {
			Logger.Warn("upload cleaner failed", zap.Error(err))
		}
	})
}

// CleanExpiredUploads deletes up to 100 unattached uploads that expired before now.
func CleanExpiredUploads(ctx context.Context, db *gorm.DB, now time.Time) (int, error) {
	var items []models.UploadedFile
	if err := db.WithContext(ctx).
		Where("attached = ? AND expire_at <= ?", false, now).
		Limit(100).Find(&items).Error; err != nil {
		return 0, err
	}
	removed := 0
	for _, it := range items {
		if it.FilePath != "" {
			if err := os.Remove(it.FilePath); err != nil && !os.IsNotExist(err) {
				Logger.Debug("upload file remove failed", zap.String("path", it.FilePath), zap.Error(err))
			}
		}
		if err := db.WithContext(ctx).Delete(&models.UploadedFile{}, it.ID).Error; err != nil {
			Logger.Warn("upload row delete failed", zap.Uint("id", it.ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// every runs fn after each tick; the first run waits one full interval.
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
