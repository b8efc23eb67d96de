package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/cppla/pollquest/config"
	"github.com/cppla/pollquest/models"
	"github.com/cppla/pollquest/services"
)

func TestMain(m *testing.M) {
	config.Set(config.AppConfig{
		JWTSecret: "router-test-secret",
		GinMode:   "test",
		RedisHost: "disabled",
		LogLevel:  "silent",
	})
	os.Exit(m.Run())
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiClient struct {
	t *testing.T
	r *gin.Engine
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	cfg := config.Get()
	cfg.DBDriver = "sqlite"
	cfg.DatabaseURI = filepath.Join(t.TempDir(), "api.db")
	cfg.GinPath = ""
	db, err := config.OpenDatabase(cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := config.Migrate(db, models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	reg := services.NewRegistry(db, nil, nil, services.Options{
		StartingPoints: cfg.StartingPoints,
		ReferralReward: cfg.ReferralRewardPoints,
	})
	return &apiClient{t: t, r: SetupRouter(db, reg, cfg)}
}

func (c *apiClient) do(method, path, token string, body interface{}) (int, envelope) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	c.r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		c.t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func (c *apiClient) register(name, referrer string) (string, uint) {
	c.t.Helper()
	status, env := c.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username":      name,
		"password":      "correct-horse",
		"confirm":       "correct-horse",
		"referral_code": referrer,
	})
	if status != http.StatusCreated {
		c.t.Fatalf("register %s: %d %+v", name, status, env)
	}
	var out struct {
		Token string `json:"token"`
		User  struct {
			ID     uint `json:"id"`
			Points int  `json:"points"`
		} `json:"user"`
	}
	mustDecode(c.t, env.Data, &out)
	if out.Token == "" || out.User.Points != 10 {
		c.t.Fatalf("register payload %+v", out)
	}
	return out.Token, out.User.ID
}

func mustDecode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func TestVoteFlow(t *testing.T) {
	api := newAPI(t)
	alice, aliceID := api.register("alice", "")
	bob, _ := api.register("bob", "alice")

	status, env := api.do(http.MethodGet, "/api/v1/questions/cost?anonymous=true", alice, nil)
	if status != http.StatusOK {
		t.Fatalf("cost: %d %+v", status, env)
	}
	var quote services.QuestionQuote
	mustDecode(t, env.Data, &quote)
	if quote.Cost != 13 || quote.CanAfford || quote.Needed != 3 {
		t.Fatalf("quote %+v", quote)
	}

	status, env = api.do(http.MethodPost, "/api/v1/questions", alice, gin.H{
		"title":   "<b>Tabs</b> or spaces?",
		"options": []string{"tabs", "spaces"},
	})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %+v", status, env)
	}
	var created struct {
		Question models.Question `json:"question"`
		CostPaid int             `json:"cost_paid"`
	}
	mustDecode(t, env.Data, &created)
	q := created.Question
	if created.CostPaid != 10 || q.Title != "Tabs or spaces?" || len(q.Options) != 2 || q.CreatorID != aliceID {
		t.Fatalf("created %+v", created)
	}

	status, env = api.do(http.MethodPost, "/api/v1/questions", alice, gin.H{
		"title":   "Second",
		"options": []string{"a", "b"},
	})
	if status != http.StatusBadRequest || env.Code != 40020 || env.Message != "need 10 more points" {
		t.Fatalf("insufficient: %d %+v", status, env)
	}

	votePath := fmt.Sprintf("/api/v1/questions/%d/votes", q.ID)
	status, env = api.do(http.MethodPost, votePath, bob, gin.H{"option_id": q.Options[1].ID})
	if status != http.StatusCreated {
		t.Fatalf("vote: %d %+v", status, env)
	}
	var vote services.VoteResult
	mustDecode(t, env.Data, &vote)
	if vote.PointsEarned.Base != 2 || vote.Streak.StreakDays != 1 {
		t.Fatalf("vote result %+v", vote)
	}

	if status, env = api.do(http.MethodPost, votePath, bob, gin.H{"option_id": q.Options[0].ID}); status != http.StatusConflict || env.Code != 40911 {
		t.Fatalf("duplicate vote: %d %+v", status, env)
	}
	if status, env = api.do(http.MethodPost, votePath, alice, gin.H{"option_id": q.Options[0].ID}); status != http.StatusForbidden || env.Code != 40310 {
		t.Fatalf("self vote: %d %+v", status, env)
	}

	status, env = api.do(http.MethodGet, fmt.Sprintf("/api/v1/questions/%d", q.ID), "", nil)
	if status != http.StatusOK {
		t.Fatalf("get: %d %+v", status, env)
	}
	var detail services.QuestionDetail
	mustDecode(t, env.Data, &detail)
	if detail.TotalVotes != 1 || detail.Options[1].Votes != 1 {
		t.Fatalf("detail %+v", detail)
	}

	status, env = api.do(http.MethodGet, fmt.Sprintf("/api/v1/questions/%d/stats", q.ID), "", nil)
	var qs services.QuestionStats
	mustDecode(t, env.Data, &qs)
	if status != http.StatusOK || qs.PageViews != 1 || qs.Votes != 1 {
		t.Fatalf("question stats: %d %+v", status, qs)
	}

	status, env = api.do(http.MethodGet, fmt.Sprintf("/api/v1/questions/%d/my-vote", q.ID), bob, nil)
	var mine struct {
		Voted bool        `json:"voted"`
		Vote  models.Vote `json:"vote"`
	}
	mustDecode(t, env.Data, &mine)
	if status != http.StatusOK || !mine.Voted || mine.Vote.OptionID != q.Options[1].ID {
		t.Fatalf("my vote: %d %+v", status, mine)
	}

	status, env = api.do(http.MethodPost, fmt.Sprintf("/api/v1/questions/%d/close", q.ID), alice, nil)
	var closed services.CompletionResult
	mustDecode(t, env.Data, &closed)
	if status != http.StatusOK || closed.VoteCount != 1 || closed.AuthorReward != 0 {
		t.Fatalf("close: %d %+v", status, closed)
	}
}

func TestAuthLifecycle(t *testing.T) {
	api := newAPI(t)
	token, _ := api.register("carol", "")

	if status, env := api.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "carol", "password": "correct-horse", "confirm": "correct-horse",
	}); status != http.StatusConflict || env.Code != 40912 {
		t.Fatalf("duplicate username: %d %+v", status, env)
	}
	if status, env := api.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "dave", "password": "short", "confirm": "short",
	}); status != http.StatusBadRequest || env.Code != 40006 {
		t.Fatalf("weak password: %d %+v", status, env)
	}
	if status, env := api.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "erin", "password": "correct-horse", "confirm": "correct-horse", "referral_code": "nobody",
	}); status != http.StatusBadRequest || env.Code != 40015 {
		t.Fatalf("unknown referrer: %d %+v", status, env)
	}

	if status, env := api.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"username": "carol", "password": "wrong-password",
	}); status != http.StatusUnauthorized {
		t.Fatalf("bad login: %d %+v", status, env)
	}
	status, env := api.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"username": "carol", "password": "correct-horse",
	})
	if status != http.StatusOK {
		t.Fatalf("login: %d %+v", status, env)
	}

	status, env = api.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	var me struct {
		Username string                `json:"username"`
		Stats    models.UserPointStats `json:"stats"`
	}
	mustDecode(t, env.Data, &me)
	if status != http.StatusOK || me.Username != "carol" || me.Stats.CurrentBalance != 10 || me.Stats.Level != 1 {
		t.Fatalf("me: %d %+v", status, me)
	}

	if status, env = api.do(http.MethodPost, "/api/v1/auth/logout", token, nil); status != http.StatusOK {
		t.Fatalf("logout: %d %+v", status, env)
	}
	if status, env = api.do(http.MethodGet, "/api/v1/auth/me", token, nil); status != http.StatusUnauthorized || env.Code != 40104 {
		t.Fatalf("revoked token: %d %+v", status, env)
	}
	if status, env = api.do(http.MethodGet, "/api/v1/points/balance", "", nil); status != http.StatusUnauthorized || env.Code != 40101 {
		t.Fatalf("missing token: %d %+v", status, env)
	}
}

func TestPublicEndpoints(t *testing.T) {
	api := newAPI(t)
	token, id := api.register("frank", "")

	status, env := api.do(http.MethodGet, "/api/v1/leaderboard?limit=5", "", nil)
	var board []services.LeaderboardEntry
	mustDecode(t, env.Data, &board)
	if status != http.StatusOK || len(board) != 1 || board[0].UserID != id || board[0].Rank != 1 {
		t.Fatalf("leaderboard: %d %+v", status, board)
	}

	status, env = api.do(http.MethodGet, "/api/v1/streak", token, nil)
	var info services.StreakInfo
	mustDecode(t, env.Data, &info)
	if status != http.StatusOK || info.CurrentStreak != 0 || !info.CanUseFreeze {
		t.Fatalf("streak: %d %+v", status, info)
	}
	if status, env = api.do(http.MethodPost, "/api/v1/streak/freeze", token, nil); status != http.StatusBadRequest || env.Code != 40013 {
		t.Fatalf("freeze without streak: %d %+v", status, env)
	}

	status, env = api.do(http.MethodGet, "/api/v1/challenges/daily", token, nil)
	var daily services.DailyChallenges
	mustDecode(t, env.Data, &daily)
	if status != http.StatusOK || len(daily.Challenges) != services.ChallengesPerDay {
		t.Fatalf("daily: %d %+v", status, daily)
	}

	if status, env = api.do(http.MethodPost, "/api/v1/topics", token, gin.H{"name": "go"}); status != http.StatusForbidden {
		t.Fatalf("topic by non-admin: %d %+v", status, env)
	}
	if status, env = api.do(http.MethodGet, "/api/v1/users/0", "", nil); status != http.StatusBadRequest {
		t.Fatalf("bad id: %d %+v", status, env)
	}
	if status, env = api.do(http.MethodGet, "/api/v1/users/999", "", nil); status != http.StatusNotFound || env.Code != 40410 {
		t.Fatalf("missing user: %d %+v", status, env)
	}
	if status, env = api.do(http.MethodGet, "/api/v1/nope", "", nil); status != http.StatusNotFound || env.Code != 40400 {
		t.Fatalf("no route: %d %+v", status, env)
	}
}
