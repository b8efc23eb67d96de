package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cppla/pollquest/config"
	"github.com/cppla/pollquest/models"
)

func TestMain(m *testing.M) {
	config.Set(config.AppConfig{JWTSecret: "utils-test", RedisHost: "disabled"})
	os.Exit(m.Run())
}

func TestPasswordHashing(t *testing.T) {
	if _, err := HashPassword("short"); err != ErrWeakPassword {
		t.Fatalf("short password: %v", err)
	}
	if _, err := HashPassword(strings.Repeat("x", 73)); err != ErrWeakPassword {
		t.Fatalf("long password: %v", err)
	}
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword(hash, "correct-horse") || CheckPassword(hash, "battery") || CheckPassword("", "correct-horse") {
		t.Fatal("password check mismatch")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, exp, err := GenerateToken(42, "zoe", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(exp) > time.Minute {
		t.Fatalf("expiry %v", exp)
	}
	claims, err := ParseToken(token)
	if err != nil || claims.UserID != 42 || claims.Username != "zoe" || claims.ID == "" {
		t.Fatalf("claims %+v err=%v", claims, err)
	}
	if _, err := ParseToken(token + "x"); err == nil {
		t.Fatal("tampered token accepted")
	}
}

func TestKeyStoreMemoryFallback(t *testing.T) {
	s := newKeyStore("test:")
	s.put("a", time.Minute)
	s.put("gone", -time.Second)
	if !s.has("a") || s.has("gone") {
		t.Fatal("has mismatch")
	}
	if !s.take("a") || s.take("a") {
		t.Fatal("take must succeed exactly once")
	}

	SaveState("state-1", 0)
	if !ConsumeState("state-1") || ConsumeState("state-1") {
		t.Fatal("oauth state must be single use")
	}
}

func TestRegistrationCooldown(t *testing.T) {
	if !RegistrationCooldownTry("10.0.0.1", time.Minute) {
		t.Fatal("first attempt blocked")
	}
	if RegistrationCooldownTry("10.0.0.1", time.Minute) {
		t.Fatal("second attempt inside the window allowed")
	}
	if !RegistrationCooldownTry("10.0.0.2", time.Minute) || !RegistrationCooldownTry("10.0.0.1", 0) {
		t.Fatal("other ips and disabled cooldown must pass")
	}
}

func TestPlainText(t *testing.T) {
	p := NewPlainText()
	tests := map[string]string{
		"<b>Tom &amp; Jerry</b>":          "Tom & Jerry",
		"  hi <script>alert(1)</script> ": "hi",
		"plain":                           "plain",
	}
	for in, want := range tests {
		if got := p.Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnique(t *testing.T) {
	got := Unique([]uint{3, 1, 3, 2, 1})
	if len(got) != 3 || got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("Unique = %v", got)
	}
}

func TestCleanExpiredUploads(t *testing.T) {
	dir := t.TempDir()
	db, err := config.OpenDatabase(config.AppConfig{
		DBDriver:    "sqlite",
		DatabaseURI: filepath.Join(dir, "uploads.db"),
		LogLevel:    "silent",
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := config.Migrate(db, &models.UploadedFile{}); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	write := func(name string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	rows := []models.UploadedFile{
		{UserID: 1, FilePath: write("expired.png"), URL: "/u/expired.png", ExpireAt: now.Add(-time.Minute)},
		{UserID: 1, FilePath: write("attached.png"), URL: "/u/attached.png", Attached: true, ExpireAt: now.Add(-time.Minute)},
		{UserID: 1, FilePath: write("fresh.png"), URL: "/u/fresh.png", ExpireAt: now.Add(time.Hour)},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatal(err)
	}

	n, err := CleanExpiredUploads(context.Background(), db, now)
	if err != nil || n != 1 {
		t.Fatalf("removed %d err=%v", n, err)
	}
	if _, err := os.Stat(rows[0].FilePath); !os.IsNotExist(err) {
		t.Fatal("expired file still on disk")
	}
	var left int64
	db.Model(&models.UploadedFile{}).Count(&left)
	if left != 2 {
		t.Fatalf("rows left %d", left)
	}
}

type countingExpirer struct{ calls atomic.Int32 }

func (c *countingExpirer) ExpireDue(ctx context.Context, limit int) ([]uint, error) {
	c.calls.Add(1)
	return nil, nil
}

type fixedExpirer struct {
	ids []uint
	err error
}

func (f fixedExpirer) ExpireDue(ctx context.Context, limit int) ([]uint, error) {
	return f.ids, f.err
}

func TestSweepEvictsClosedQuestions(t *testing.T) {
	cases := []struct {
		name string
		exp  fixedExpirer
		want []string
	}{
		{"nothing due", fixedExpirer{}, nil},
		{"two closed", fixedExpirer{ids: []uint{4, 9}}, []string{"cache:question:4", "cache:question:9"}},
		{"partial pass", fixedExpirer{ids: []uint{3}, err: context.Canceled}, []string{"cache:question:3"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var evicted []string
			sweepQuestions(context.Background(), tc.exp, func(keys ...string) {
				evicted = append(evicted, keys...)
			})
			if fmt.Sprint(evicted) != fmt.Sprint(tc.want) {
				t.Fatalf("evicted %v, want %v", evicted, tc.want)
			}
		})
	}
}

func TestQuestionSweeperStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exp := &countingExpirer{}
	StartQuestionSweeper(ctx, exp, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for exp.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if exp.calls.Load() < 2 {
		t.Fatal("sweeper did not run")
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	seen := exp.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if exp.calls.Load() != seen {
		t.Fatal("sweeper kept running after cancel")
	}
}
