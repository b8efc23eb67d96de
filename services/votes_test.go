package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/cppla/pollquest/models"
)

func TestCastVoteValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	author := e.newUser(t, "author")
	voter := e.newUser(t, "voter")

	open := e.seedQuestion(t, author.ID)
	other := e.seedQuestion(t, author.ID)
	closed := e.seedQuestion(t, author.ID)
	e.db.Model(&models.Question{}).Where("id = ?", closed.ID).Update("status", models.QuestionClosed)
	expired := e.seedQuestion(t, author.ID)
	e.db.Model(&models.Question{}).Where("id = ?", expired.ID).Update("expires_at", e.clock.Now().Add(-time.Minute))

	if _, err := e.votes.CastVote(ctx, voter.ID, open.ID, open.Options[0].ID); err != nil {
		t.Fatalf("first vote: %v", err)
	}

	cases := []struct {
		name     string
		user     uint
		question uint
		option   uint
		want     error
	}{
		{"missing question", voter.ID, 9999, 1, ErrQuestionNotFound},
		{"closed question", voter.ID, closed.ID, closed.Options[0].ID, ErrInvalidState},
		{"expired question", voter.ID, expired.ID, expired.Options[0].ID, ErrInvalidState},
		{"own question", author.ID, open.ID, open.Options[0].ID, ErrSelfVoteForbidden},
		{"foreign option", voter.ID, other.ID, open.Options[0].ID, ErrInvalidOption},
		{"second vote", voter.ID, open.ID, open.Options[1].ID, ErrDuplicateVote},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.votes.CastVote(ctx, tc.user, tc.question, tc.option); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}

	var n int64
	e.db.Model(&models.Vote{}).Where("user_id = ?", voter.ID).Count(&n)
	if n != 1 {
		t.Fatalf("votes recorded = %d", n)
	}
	e.assertLedger(t, voter.ID)
}

func TestCastVoteWithStreakBonus(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	author := e.newUser(t, "author")
	voter := e.newUser(t, "voter")
	yesterday := e.clock.Now().Add(-24 * time.Hour)
	e.setStats(t, voter.ID, map[string]interface{}{
		"streak_days":      7,
		"longest_streak":   7,
		"last_vote_date":   yesterday,
		"streak_last_date": yesterday,
	})
	q := e.seedQuestion(t, author.ID)

	res, err := e.votes.CastVote(ctx, voter.ID, q.ID, q.Options[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.PointsEarned != (PointsEarned{Base: 2, Bonus: 1, Total: 3}) {
		t.Fatalf("points %+v", res.PointsEarned)
	}
	if res.Streak.StreakDays != 8 || res.Streak.Multiplier != 1.5 {
		t.Fatalf("streak %+v", res.Streak)
	}
	if res.Vote.ID == 0 || res.Vote.OptionID != q.Options[1].ID {
		t.Fatalf("vote %+v", res.Vote)
	}
	mine, err := e.votes.UserVote(ctx, voter.ID, q.ID)
	if err != nil || mine == nil || mine.ID != res.Vote.ID {
		t.Fatalf("user vote %+v err=%v", mine, err)
	}
	if none, err := e.votes.UserVote(ctx, author.ID, q.ID); err != nil || none != nil {
		t.Fatalf("author has no vote: %+v err=%v", none, err)
	}

	if n, sum := countTx(t, e.db, voter.ID, models.TxVote); n != 1 || sum != 2 {
		t.Fatalf("vote tx n=%d sum=%d", n, sum)
	}
	if n, sum := countTx(t, e.db, voter.ID, models.TxStreakBonus); n != 1 || sum != 1 {
		t.Fatalf("streak tx n=%d sum=%d", n, sum)
	}
	want := 10 + 3 + res.ChallengeReward
	if got := e.balance(t, voter.ID); got != want {
		t.Fatalf("balance %d, want %d", got, want)
	}
	e.assertLedger(t, voter.ID)
}

func TestCastVoteWithoutStreakHasNoBonus(t *testing.T) {
	e := newTestEnv(t)
	author := e.newUser(t, "author")
	voter := e.newUser(t, "voter")
	q := e.seedQuestion(t, author.ID)

	res, err := e.votes.CastVote(context.Background(), voter.ID, q.ID, q.Options[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.PointsEarned != (PointsEarned{Base: 2, Total: 2}) || res.Streak.StreakDays != 1 {
		t.Fatalf("result %+v", res)
	}
	if n, _ := countTx(t, e.db, voter.ID, models.TxStreakBonus); n != 0 {
		t.Fatalf("unexpected streak bonus rows %d", n)
	}
}

func TestCastVoteSurvivesFollowUpFailure(t *testing.T) {
	e := newTestEnv(t)
	author := e.newUser(t, "author")
	voter := e.newUser(t, "voter")
	q := e.seedQuestion(t, author.ID)

	if err := e.db.Migrator().DropTable(&models.DailyChallengeSet{}); err != nil {
		t.Fatal(err)
	}

	res, err := e.votes.CastVote(context.Background(), voter.ID, q.ID, q.Options[0].ID)
	if err != nil {
		t.Fatalf("vote should commit even when challenges fail: %v", err)
	}
	if len(res.ChallengesCompleted) != 0 || res.PointsEarned.Base != VoteReward {
		t.Fatalf("result %+v", res)
	}
	if got := e.balance(t, voter.ID); got != 12 {
		t.Fatalf("balance %d, want 12", got)
	}
	e.assertLedger(t, voter.ID)
}

func TestStreakBonus(t *testing.T) {
	cases := []struct {
		mult float64
		want int
	}{
		{1.0, 0},
		{1.5, 1},
		{2.0, 2},
		{2.5, 3},
	}
	for _, tc := range cases {
		if got := StreakBonus(VoteReward, tc.mult); got != tc.want {
			t.Errorf("StreakBonus(2, %v) = %d, want %d", tc.mult, got, tc.want)
		}
	}
}

func TestVoteLocksQuestionAgainstClose(t *testing.T) {
	e := newTestEnv(t)
	sqlDB, err := e.db.DB()
	if err != nil {
		t.Fatal(err)
	}
	// Render against a Postgres dialect; SQLite drops row locks.
	pg, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	if err != nil {
		t.Fatal(err)
	}
	stmt := pg.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var q models.Question
		return voteQuestionQuery(tx).First(&q, 7)
	})
	if !strings.Contains(stmt, "FOR SHARE") {
		t.Fatalf("vote reads the question without a share lock: %s", stmt)
	}
}

func TestVoteAfterCloseOrDeleteIsRejected(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	author := e.newUser(t, "author")
	voter := e.newUser(t, "voter")

	closed := e.seedQuestion(t, author.ID)
	if _, err := e.questions.Close(ctx, author.ID, closed.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.votes.CastVote(ctx, voter.ID, closed.ID, closed.Options[0].ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("vote on closed question: %v", err)
	}

	deleted := e.seedQuestion(t, author.ID)
	refund, err := e.questions.Delete(ctx, author.ID, deleted.ID)
	if err != nil || refund != QuestionBaseCost {
		t.Fatalf("delete refund=%d err=%v", refund, err)
	}
	if _, err := e.votes.CastVote(ctx, voter.ID, deleted.ID, deleted.Options[0].ID); !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("vote on deleted question: %v", err)
	}

	var n int64
	e.db.Model(&models.Vote{}).Where("user_id = ?", voter.ID).Count(&n)
	if n != 0 {
		t.Fatalf("votes recorded = %d", n)
	}
}
