package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/pollquest/models"
)

var (
	ErrUsernameTaken    = errors.New("username already exists")
	ErrReferrerNotFound = errors.New("referrer not found")
)

// NewAccount is a user about to be registered. PasswordHash is already hashed.
type NewAccount struct {
	Username     string
	Email        string
	PasswordHash string
	Provider     string
	ProviderID   string
	RegisterIP   string
	AvatarURL    string
	Referrer     string
}

// AccountService creates users together with their ledger.
type AccountService struct {
	db             *gorm.DB
	log            *zap.Logger
	points         *PointsService
	referrals      *ReferralService
	startingPoints int
}

// NewAccountService opens new accounts with startingPoints.
func NewAccountService(db *gorm.DB, log *zap.Logger, points *PointsService, referrals *ReferralService, startingPoints int) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{db: db, log: log.Named("accounts"), points: points, referrals: referrals, startingPoints: startingPoints}
}

// Register inserts the user, opens its stats row with the starting balance
// and records the referral, all in one transaction.
func (s *AccountService) Register(ctx context.Context, in NewAccount) (*models.User, error) {
	user := &models.User{
		Username:     strings.TrimSpace(in.Username),
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: in.PasswordHash,
		Provider:     in.Provider,
		ProviderID:   in.ProviderID,
		RegisterIP:   in.RegisterIP,
		AvatarURL:    in.AvatarURL,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var referrer models.User
		if name := strings.TrimSpace(in.Referrer); name != "" {
			if err := tx.Select("id").Where("username = ?", name).First(&referrer).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrReferrerNotFound
				}
				return err
			}
		}

		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrUsernameTaken
			}
			return err
		}
		if err := s.points.OpenAccountTx(tx, user.ID, s.startingPoints); err != nil {
			return err
		}
		if referrer.ID != 0 && s.referrals != nil {
			return s.referrals.RecordTx(tx, referrer.ID, user.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	user.Points = max(s.startingPoints, 0)
	s.log.Info("account opened", zap.Uint("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// FindByUsername loads a user by exact username.
func (s *AccountService) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	return foundUser(&user, err)
}

// FindByID loads a user by id.
func (s *AccountService) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	return foundUser(&user, err)
}

// FindByProvider loads a user linked to an OAuth identity.
func (s *AccountService) FindByProvider(ctx context.Context, provider, providerID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("provider = ? AND provider_id = ?", provider, providerID).First(&user).Error
	return foundUser(&user, err)
}

// UsernameAvailable reports whether name is unused, including soft-deleted accounts.
func (s *AccountService) UsernameAvailable(ctx context.Context, name string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Unscoped().Model(&models.User{}).Where("username = ?", name).Count(&n).Error
	return n == 0, err
}

func foundUser(user *models.User, err error) (*models.User, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
