package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrUserNotFound      = errors.New("user not found")
	ErrUserStatsNotFound = errors.New("user point stats not found")
	ErrNoActiveStreak    = errors.New("no active streak to protect")
	ErrStreakNotBroken   = errors.New("streak is not broken")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrInvalidState      = errors.New("question is not open for voting")
	ErrSelfVoteForbidden = errors.New("cannot vote on your own question")
	ErrInvalidOption     = errors.New("option does not belong to question")
	ErrDuplicateVote     = errors.New("already voted on this question")
	ErrNotQuestionOwner  = errors.New("only the creator can modify this question")
	ErrInvalidQuestion   = errors.New("invalid question")
)

// InsufficientPointsError reports a deduction the balance cannot cover.
type InsufficientPointsError struct {
	Required int
	Current  int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: need %d more (required %d, current %d)",
		e.Required-e.Current, e.Required, e.Current)
}

// Shortfall is how many more points the user needs.
func (e *InsufficientPointsError) Shortfall() int {
	if e.Required <= e.Current {
		return 0
	}
	return e.Required - e.Current
}

// FreezeUnavailableError is returned while the streak freeze is cooling down.
type FreezeUnavailableError struct {
	DaysRemaining int
}

func (e *FreezeUnavailableError) Error() string {
	return fmt.Sprintf("streak freeze available again in %d days", e.DaysRemaining)
}

// invalidQuestion wraps ErrInvalidQuestion with a reason.
func invalidQuestion(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuestion, reason)
}
