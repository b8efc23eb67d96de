package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/cppla/pollquest/models"
)

// SiteStats are the public counters on the stats page.
type SiteStats struct {
	Users           int64 `json:"users"`
	Questions       int64 `json:"questions"`
	ActiveQuestions int64 `json:"active_questions"`
	Votes           int64 `json:"votes"`
	VotesToday      int64 `json:"votes_today"`
}

// QuestionStats combines page views and votes for one question.
type QuestionStats struct {
	QuestionID uint  `json:"question_id"`
	PageViews  int64 `json:"page_views"`
	Votes      int64 `json:"votes"`
}

// StatsService reports site-wide and per-question counters.
type StatsService struct {
	db    *gorm.DB
	clock Clock
	cal   Calendar
}

// NewStatsService counts "today" in cal.
func NewStatsService(db *gorm.DB, clock Clock, cal Calendar) *StatsService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &StatsService{db: db, clock: clock, cal: cal}
}

// QuestionPath is the detail route whose page views are attributed to a question.
func QuestionPath(id uint) string {
	return fmt.Sprintf("/api/v1/questions/%d", id)
}

// Site counts users, questions and votes concurrently.
func (s *StatsService) Site(ctx context.Context) (SiteStats, error) {
	var out SiteStats
	start, end := s.cal.DayBounds(s.clock.Now())

	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, model interface{}, where ...interface{}) {
		g.Go(func() error {
			q := s.db.WithContext(gctx).Model(model)
			if len(where) > 0 {
				q = q.Where(where[0], where[1:]...)
			}
			return q.Count(dst).Error
		})
	}
	count(&out.Users, &models.User{})
	count(&out.Questions, &models.Question{})
	count(&out.ActiveQuestions, &models.Question{}, "status = ?", models.QuestionActive)
	count(&out.Votes, &models.Vote{})
	count(&out.VotesToday, &models.Vote{}, "created_at BETWEEN ? AND ?", start.UTC(), end.UTC())

	if err := g.Wait(); err != nil {
		return SiteStats{}, err
	}
	return out, nil
}

// Question returns lifetime page views and votes for one question.
func (s *StatsService) Question(ctx context.Context, id uint) (QuestionStats, error) {
	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&models.Question{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return QuestionStats{}, err
	}
	if n == 0 {
		return QuestionStats{}, ErrQuestionNotFound
	}

	out := QuestionStats{QuestionID: id}
	if err := db.Model(&models.PageView{}).Where("path = ?", QuestionPath(id)).
		Select("COALESCE(SUM(count), 0)").Scan(&out.PageViews).Error; err != nil {
		return QuestionStats{}, err
	}
	if err := db.Model(&models.Vote{}).Where("question_id = ?", id).Count(&out.Votes).Error; err != nil {
		return QuestionStats{}, err
	}
	return out, nil
}
