package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/pollquest/models"
)

// Question limits.
const (
	MinOptions         = 2
	MaxOptions         = 10
	MaxTitleLength     = 255
	MaxOptionLength    = 255
	MaxTopics          = 5
	DefaultQuestionTTL = 24 * time.Hour
)

// Sanitizer strips markup from user text. *bluemonday.Policy satisfies it.
type Sanitizer interface {
	Sanitize(s string) string
}

// CreateQuestionInput is a validated request to open a new question.
type CreateQuestionInput struct {
	CreatorID   uint
	Title       string
	Description string
	ImageURL    string
	Options     []string
	TopicIDs    []uint
	IsAnonymous bool
	ExpiresAt   *time.Time
}

// QuestionQuote prices a question before it is created.
type QuestionQuote struct {
	Cost     int  `json:"cost"`
	IsUrgent bool `json:"is_urgent"`
	Affordability
}

// OptionTally is an option with its current vote count.
type OptionTally struct {
	ID       uint   `json:"id"`
	Label    string `json:"label"`
	Position int    `json:"position"`
	Votes    int64  `json:"votes"`
}

// QuestionDetail is the read model for one question.
type QuestionDetail struct {
	models.Question
	Options    []OptionTally  `json:"options"`
	Topics     []models.Topic `json:"topics"`
	TotalVotes int64          `json:"total_votes"`
}

// QuestionFilter narrows List.
type QuestionFilter struct {
	Search    string
	TopicID   uint
	Status    string
	CreatorID uint
	Page      int
	PageSize  int
}

// RankingInvalidator drops cached rankings after balances change.
type RankingInvalidator interface {
	Invalidate(ctx context.Context)
}

// QuestionService manages the question lifecycle: pricing, creation, close,
// expiry and deletion.
type QuestionService struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       Clock
	points      *PointsService
	referrals   *ReferralService
	leaderboard RankingInvalidator
	sanitizer   Sanitizer
}

// NewQuestionService wires the lifecycle to the ledger. leaderboard may be nil.
func NewQuestionService(db *gorm.DB, log *zap.Logger, clock Clock, points *PointsService, referrals *ReferralService, leaderboard RankingInvalidator, sanitizer Sanitizer) *QuestionService {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if sanitizer == nil {
		sanitizer = bluemonday.StrictPolicy()
	}
	return &QuestionService{
		db:          db,
		log:         log.Named("questions"),
		clock:       clock,
		points:      points,
		referrals:   referrals,
		leaderboard: leaderboard,
		sanitizer:   sanitizer,
	}
}

// Quote prices a question for userID and checks the balance.
func (s *QuestionService) Quote(ctx context.Context, userID uint, isAnonymous bool, expiresAt *time.Time) (QuestionQuote, error) {
	now := s.clock.Now()
	exp := s.expiry(expiresAt, now)
	urgent := IsUrgent(exp, now)
	cost := s.points.CalculateQuestionCost(QuestionCostOptions{IsAnonymous: isAnonymous, IsUrgent: urgent})
	aff, err := s.points.CanAffordQuestion(ctx, userID, cost)
	if err != nil {
		return QuestionQuote{}, err
	}
	return QuestionQuote{Cost: cost, IsUrgent: urgent, Affordability: aff}, nil
}

// Create validates in, runs the affordability pre-flight and then writes the
// question and its cost deduction in one transaction.
func (s *QuestionService) Create(ctx context.Context, in CreateQuestionInput) (*models.Question, error) {
	now := s.clock.Now()
	q, err := s.build(in, now)
	if err != nil {
		return nil, err
	}
	if err := s.checkTopics(ctx, in.TopicIDs); err != nil {
		return nil, err
	}

	urgent := IsUrgent(q.ExpiresAt, now)
	cost := s.points.CalculateQuestionCost(QuestionCostOptions{IsAnonymous: q.IsAnonymous, IsUrgent: urgent})
	aff, err := s.points.CanAffordQuestion(ctx, in.CreatorID, cost)
	if err != nil {
		return nil, err
	}
	if !aff.CanAfford {
		return nil, &InsufficientPointsError{Required: cost, Current: aff.Current}
	}
	q.CostPaid = cost

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(q).Error; err != nil {
			return err
		}
		for i, topicID := range in.TopicIDs {
			if err := tx.Create(&models.QuestionTopic{QuestionID: q.ID, TopicID: topicID, Position: i}).Error; err != nil {
				return err
			}
		}
		ref := q.ID
		if _, err := s.points.DeductPointsTx(tx, Entry{
			UserID:      in.CreatorID,
			Amount:      cost,
			Type:        models.TxQuestionCreate,
			ReferenceID: &ref,
			Metadata:    map[string]any{"anonymous": q.IsAnonymous, "urgent": urgent},
		}); err != nil {
			return err
		}
		if q.ImageURL != "" {
			return attachUpload(tx, in.CreatorID, q.ImageURL, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("question created",
		zap.Uint("question_id", q.ID),
		zap.Uint("creator_id", in.CreatorID),
		zap.Int("cost", cost),
	)
	if s.referrals != nil {
		s.referrals.RewardOnFirstQuestion(ctx, in.CreatorID)
	}
	return q, nil
}

// Get loads one question with per-option vote counts and its topics.
func (s *QuestionService) Get(ctx context.Context, id uint) (*QuestionDetail, error) {
	db := s.db.WithContext(ctx)
	var q models.Question
	err := db.Preload("Options", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC")
	}).First(&q, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuestionNotFound
	}
	if err != nil {
		return nil, err
	}

	type optionCount struct {
		OptionID uint
		N        int64
	}
	var counts []optionCount
	if err := db.Model(&models.Vote{}).Select("option_id, COUNT(*) AS n").
		Where("question_id = ?", id).Group("option_id").Scan(&counts).Error; err != nil {
		return nil, err
	}
	byOption := make(map[uint]int64, len(counts))
	for _, c := range counts {
		byOption[c.OptionID] = c.N
	}

	detail := &QuestionDetail{Question: q}
	for _, o := range q.Options {
		n := byOption[o.ID]
		detail.TotalVotes += n
		detail.Options = append(detail.Options, OptionTally{ID: o.ID, Label: o.Label, Position: o.Position, Votes: n})
	}
	detail.Question.Options = nil

	if err := db.Model(&models.Topic{}).
		Joins("JOIN question_topics ON question_topics.topic_id = topics.id").
		Where("question_topics.question_id = ?", id).
		Order("question_topics.position ASC").
		Find(&detail.Topics).Error; err != nil {
		return nil, err
	}
	if detail.IsAnonymous {
		detail.CreatorID = 0
	}
	return detail, nil
}

// List pages through questions, newest first.
func (s *QuestionService) List(ctx context.Context, f QuestionFilter) ([]models.Question, int64, error) {
	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Question{})
	if search := strings.TrimSpace(f.Search); search != "" {
		like := "%" + search + "%"
		query = query.Where("title LIKE ? OR description LIKE ?", like, like)
	}
	if f.TopicID != 0 {
		query = query.Where("id IN (?)", s.db.Model(&models.QuestionTopic{}).Select("question_id").Where("topic_id = ?", f.TopicID))
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.CreatorID != 0 {
		query = query.Where("creator_id = ? AND is_anonymous = ?", f.CreatorID, false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.Question
	if err := query.Preload("Options", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC")
	}).Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * size).Limit(size).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	for i := range list {
		if list[i].IsAnonymous {
			list[i].CreatorID = 0
		}
	}
	return list, total, nil
}

// Close ends a question early. Only the creator may close it.
func (s *QuestionService) Close(ctx context.Context, userID, questionID uint) (CompletionResult, error) {
	var result CompletionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := lockQuestion(tx, questionID)
		if err != nil {
			return err
		}
		if q.CreatorID != userID {
			return ErrNotQuestionOwner
		}
		if q.Status != models.QuestionActive {
			return ErrInvalidState
		}
		result, err = s.closeTx(tx, q)
		return err
	})
	if err != nil {
		return CompletionResult{}, err
	}
	s.log.Info("question closed",
		zap.Uint("question_id", questionID),
		zap.Int("votes", result.VoteCount),
		zap.Int("author_reward", result.AuthorReward),
	)
	s.rankingChanged(ctx)
	return result, nil
}

// ExpireDue closes up to limit active questions whose expiry has passed and
// pays their completion rewards. It returns the ids it closed.
func (s *QuestionService) ExpireDue(ctx context.Context, limit int) ([]uint, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.clock.Now()
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.Question{}).
		Where("status = ? AND expires_at <= ?", models.QuestionActive, now).
		Order("expires_at ASC").Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	var closed []uint
	defer func() {
		if len(closed) > 0 {
			s.rankingChanged(ctx)
		}
	}()
	for _, id := range ids {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		var result CompletionResult
		done := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			q, err := lockQuestion(tx, id)
			if err != nil {
				return err
			}
			if q.Status != models.QuestionActive || q.ExpiresAt.After(now) {
				return nil
			}
			result, err = s.closeTx(tx, q)
			done = err == nil
			return err
		})
		if err != nil {
			s.log.Warn("expire question failed", zap.Uint("question_id", id), zap.Error(err))
			continue
		}
		if done {
			closed = append(closed, id)
			s.log.Info("question expired",
				zap.Uint("question_id", id),
				zap.Int("votes", result.VoteCount),
				zap.Int("author_reward", result.AuthorReward),
			)
		}
	}
	return closed, nil
}

// Delete soft-deletes a question. The creation cost is refunded when nobody voted.
func (s *QuestionService) Delete(ctx context.Context, userID, questionID uint) (int, error) {
	refund := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := lockQuestion(tx, questionID)
		if err != nil {
			return err
		}
		if q.CreatorID != userID {
			return ErrNotQuestionOwner
		}
		var votes int64
		if err := tx.Model(&models.Vote{}).Where("question_id = ?", q.ID).Count(&votes).Error; err != nil {
			return err
		}
		if err := tx.Delete(q).Error; err != nil {
			return err
		}
		if votes > 0 || q.CostPaid <= 0 {
			return nil
		}
		ref := q.ID
		if _, err := s.points.AwardPointsTx(tx, Entry{
			UserID:      q.CreatorID,
			Amount:      q.CostPaid,
			Type:        models.TxQuestionDeleteRefund,
			ReferenceID: &ref,
		}); err != nil {
			return err
		}
		refund = q.CostPaid
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("question deleted", zap.Uint("question_id", questionID), zap.Int("refund", refund))
	if refund > 0 {
		s.rankingChanged(ctx)
	}
	return refund, nil
}

// ListTopics returns every topic by name.
func (s *QuestionService) ListTopics(ctx context.Context) ([]models.Topic, error) {
	var topics []models.Topic
	err := s.db.WithContext(ctx).Order("name ASC").Find(&topics).Error
	return topics, err
}

// CreateTopic adds a topic, returning the existing one if the name is taken.
func (s *QuestionService) CreateTopic(ctx context.Context, name string) (*models.Topic, error) {
	name = strings.TrimSpace(s.sanitizer.Sanitize(name))
	if name == "" || utf8.RuneCountInString(name) > 64 {
		return nil, invalidQuestion("topic name must be 1-64 characters")
	}
	topic := models.Topic{Name: name}
	err := s.db.WithContext(ctx).Where(models.Topic{Name: name}).
		Attrs(models.Topic{CreatedAt: s.clock.Now()}).FirstOrCreate(&topic).Error
	if err != nil {
		return nil, err
	}
	return &topic, nil
}

func (s *QuestionService) closeTx(tx *gorm.DB, q *models.Question) (CompletionResult, error) {
	now := s.clock.Now()
	if err := tx.Model(&models.Question{}).Where("id = ?", q.ID).Updates(map[string]interface{}{
		"status":    models.QuestionClosed,
		"closed_at": now,
	}).Error; err != nil {
		return CompletionResult{}, err
	}
	return s.points.AwardQuestionCompletionRewardsTx(tx, q.ID)
}

func (s *QuestionService) build(in CreateQuestionInput, now time.Time) (*models.Question, error) {
	title := strings.TrimSpace(s.sanitizer.Sanitize(in.Title))
	if title == "" {
		return nil, invalidQuestion("title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, invalidQuestion("title is too long")
	}
	if len(in.Options) < MinOptions || len(in.Options) > MaxOptions {
		return nil, invalidQuestion("a question needs 2 to 10 options")
	}
	if len(in.TopicIDs) > MaxTopics {
		return nil, invalidQuestion("too many topics")
	}

	seen := make(map[string]bool, len(in.Options))
	options := make([]models.QuestionOption, 0, len(in.Options))
	for i, raw := range in.Options {
		label := strings.TrimSpace(s.sanitizer.Sanitize(raw))
		if label == "" {
			return nil, invalidQuestion("options cannot be empty")
		}
		if utf8.RuneCountInString(label) > MaxOptionLength {
			return nil, invalidQuestion("option is too long")
		}
		key := strings.ToLower(label)
		if seen[key] {
			return nil, invalidQuestion("options must be distinct")
		}
		seen[key] = true
		options = append(options, models.QuestionOption{Label: label, Position: i})
	}

	expiresAt := s.expiry(in.ExpiresAt, now)
	if !expiresAt.After(now) {
		return nil, invalidQuestion("expiry must be in the future")
	}

	return &models.Question{
		CreatorID:   in.CreatorID,
		Title:       title,
		Description: strings.TrimSpace(s.sanitizer.Sanitize(in.Description)),
		ImageURL:    strings.TrimSpace(in.ImageURL),
		IsAnonymous: in.IsAnonymous,
		Status:      models.QuestionActive,
		ExpiresAt:   expiresAt.UTC(),
		CreatedAt:   now,
		Options:     options,
	}, nil
}

func (s *QuestionService) expiry(expiresAt *time.Time, now time.Time) time.Time {
	if expiresAt == nil || expiresAt.IsZero() {
		return now.Add(DefaultQuestionTTL)
	}
	return *expiresAt
}

func (s *QuestionService) checkTopics(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return invalidQuestion("duplicate topic")
		}
		seen[id] = true
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Topic{}).Where("id IN ?", ids).Count(&n).Error; err != nil {
		return err
	}
	if int(n) != len(ids) {
		return invalidQuestion("unknown topic")
	}
	return nil
}

// attachUpload claims one of userID's pending uploads for a question.
func attachUpload(tx *gorm.DB, userID uint, url string, now time.Time) error {
	res := tx.Model(&models.UploadedFile{}).
		Where("url = ? AND user_id = ? AND attached = ? AND expire_at > ?", url, userID, false, now).
		Update("attached", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return invalidQuestion("image_url must reference one of your pending uploads")
	}
	return nil
}

func (s *QuestionService) rankingChanged(ctx context.Context) {
	if s.leaderboard != nil {
		s.leaderboard.Invalidate(context.WithoutCancel(ctx))
	}
}

func lockQuestion(tx *gorm.DB, id uint) (*models.Question, error) {
	var q models.Question
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&q, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuestionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}
