package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/pollquest/config"
	"github.com/cppla/pollquest/utils"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	config.Set(config.AppConfig{JWTSecret: "middleware-test", RedisHost: "disabled"})
	os.Exit(m.Run())
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(4)
	now := time.Now()
	if !l.allow("1.1.1.1", now) || !l.allow("1.1.1.1", now) {
		t.Fatal("burst of two should pass")
	}
	if l.allow("1.1.1.1", now) {
		t.Fatal("third request in the same instant should be limited")
	}
	if !l.allow("2.2.2.2", now) {
		t.Fatal("other ips have their own bucket")
	}
	if !l.allow("1.1.1.1", now.Add(15*time.Second)) {
		t.Fatal("bucket should refill after a quarter minute")
	}
	l.allow("3.3.3.3", now.Add(limiterIdle+time.Minute))
	if _, ok := l.visitors["2.2.2.2"]; ok {
		t.Fatal("idle visitor not evicted")
	}
}

func TestIPLimiterSweepsPeriodically(t *testing.T) {
	l := newIPLimiter(60)
	now := time.Now()
	l.allow("stale", now.Add(-2*limiterIdle))
	l.lastSweep = now

	l.allow("fresh", now.Add(limiterSweep/2))
	if _, ok := l.visitors["stale"]; !ok {
		t.Fatal("visitors swept before the sweep interval")
	}
	l.allow("fresh", now.Add(limiterSweep))
	if _, ok := l.visitors["stale"]; ok {
		t.Fatal("idle visitor survived the sweep")
	}
	if _, ok := l.visitors["fresh"]; !ok {
		t.Fatal("active visitor evicted")
	}
}

func newAuthRouter() *gin.Engine {
	r := gin.New()
	r.GET("/me", AuthRequired(), func(c *gin.Context) {
		id, _ := CurrentUserID(c)
		utils.Success(c, gin.H{"id": id, "username": c.GetString(ContextUsernameKey)})
	})
	r.GET("/admin", AuthRequired(), AdminRequired([]string{" Root "}), func(c *gin.Context) {
		utils.Success(c, nil)
	})
	return r
}

func TestAuthRequired(t *testing.T) {
	r := newAuthRouter()
	good, _, err := utils.GenerateToken(7, "root", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	revoked, exp, err := utils.GenerateToken(8, "eve", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	utils.BlacklistToken(revoked, exp)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"missing", "/me", "", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Basic abc", http.StatusUnauthorized},
		{"garbage", "/me", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"revoked", "/me", "Bearer " + revoked, http.StatusUnauthorized},
		{"ok", "/me", "Bearer " + good, http.StatusOK},
		{"admin ok", "/admin", "Bearer " + good, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("status %d body %s", w.Code, w.Body.String())
			}
		})
	}

	other, _, _ := utils.GenerateToken(9, "mallory", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin got %d", w.Code)
	}
}
