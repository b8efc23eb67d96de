package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/cppla/pollquest/models"
)

func TestExpertiseLevel(t *testing.T) {
	cases := []struct {
		votes int
		want  string
	}{
		{1, models.ExpertiseInterested},
		{9, models.ExpertiseInterested},
		{10, models.ExpertiseKnowledgeable},
		{24, models.ExpertiseKnowledgeable},
		{25, models.ExpertiseExpert},
		{49, models.ExpertiseExpert},
		{50, models.ExpertiseMaster},
		{500, models.ExpertiseMaster},
	}
	for _, tc := range cases {
		if got := ExpertiseLevel(tc.votes); got != tc.want {
			t.Errorf("ExpertiseLevel(%d) = %s, want %s", tc.votes, got, tc.want)
		}
	}
}

func TestTopicExpertiseTierUp(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	u := e.newUser(t, "alice")
	golang := e.seedTopic(t, "golang")
	cooking := e.seedTopic(t, "cooking")

	if err := e.db.Create(&models.TopicExpertise{
		UserID: u.ID, TopicID: golang.ID, VoteCount: 9, ExpertiseLevel: models.ExpertiseInterested,
	}).Error; err != nil {
		t.Fatal(err)
	}

	q := e.seedQuestion(t, 50000, cooking.ID, golang.ID)
	rows, err := e.expertise.UpdateTopicExpertiseOnVote(ctx, u.ID, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].TopicID != cooking.ID || rows[1].TopicID != golang.ID {
		t.Fatalf("rows not in tag order: %+v", rows)
	}
	if rows[0].VoteCount != 1 || rows[0].ExpertiseLevel != models.ExpertiseInterested {
		t.Fatalf("new topic row %+v", rows[0])
	}
	if rows[1].VoteCount != 10 || rows[1].ExpertiseLevel != models.ExpertiseKnowledgeable {
		t.Fatalf("tier-up row %+v", rows[1])
	}

	badges, err := e.badges.ListBadges(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(badges) != 1 || badges[0].BadgeType != fmt.Sprintf("knowledgeable_%d", golang.ID) {
		t.Fatalf("badges %+v", badges)
	}
}

func TestTopicExpertiseNeverDowngrades(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	u := e.newUser(t, "alice")
	topic := e.seedTopic(t, "golang")
	if err := e.db.Create(&models.TopicExpertise{
		UserID: u.ID, TopicID: topic.ID, VoteCount: 9, ExpertiseLevel: models.ExpertiseExpert,
	}).Error; err != nil {
		t.Fatal(err)
	}

	q := e.seedQuestion(t, 50000, topic.ID)
	rows, err := e.expertise.UpdateTopicExpertiseOnVote(ctx, u.ID, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].ExpertiseLevel != models.ExpertiseExpert {
		t.Fatalf("level moved down to %s", rows[0].ExpertiseLevel)
	}
	badges, _ := e.badges.ListBadges(ctx, u.ID)
	if len(badges) != 0 {
		t.Fatalf("unexpected badges %+v", badges)
	}
}

func TestUntaggedQuestionTouchesNothing(t *testing.T) {
	e := newTestEnv(t)
	u := e.newUser(t, "alice")
	q := e.seedQuestion(t, 50000)

	rows, err := e.expertise.UpdateTopicExpertiseOnVote(context.Background(), u.ID, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows %+v", rows)
	}
}

func TestBadgeInsertIfAbsent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	u := e.newUser(t, "alice")

	inserted, err := e.badges.InsertIfAbsent(ctx, u.ID, "streak_7", map[string]any{"streak_days": 7})
	if err != nil || !inserted {
		t.Fatalf("first insert: %v %v", inserted, err)
	}
	inserted, err = e.badges.InsertIfAbsent(ctx, u.ID, "streak_7", nil)
	if err != nil || inserted {
		t.Fatalf("second insert: %v %v", inserted, err)
	}

	var n int64
	e.db.Model(&models.Badge{}).Where("user_id = ? AND badge_type = ?", u.ID, "streak_7").Count(&n)
	if n != 1 {
		t.Fatalf("badge rows = %d", n)
	}
}
