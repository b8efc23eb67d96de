package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/cppla/pollquest/services"
	"github.com/cppla/pollquest/utils"
)

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name    string
		err     error
		status  int
		code    int
		message string
	}{
		{"insufficient", &services.InsufficientPointsError{Required: 13, Current: 4}, http.StatusBadRequest, 40020, "need 9 more points"},
		{"freeze cooldown", &services.FreezeUnavailableError{DaysRemaining: 12}, http.StatusBadRequest, 40021, "streak freeze available again in 12 days"},
		{"wrapped not found", fmt.Errorf("load: %w", services.ErrQuestionNotFound), http.StatusNotFound, 40412, "load: question not found"},
		{"duplicate vote", services.ErrDuplicateVote, http.StatusConflict, 40911, services.ErrDuplicateVote.Error()},
		{"self vote", services.ErrSelfVoteForbidden, http.StatusForbidden, 40310, services.ErrSelfVoteForbidden.Error()},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, 50000, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(w)
			ctx.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			respondError(ctx, tt.err)

			var got utils.JSONResponse
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			if w.Code != tt.status || got.Code != tt.code || got.Message != tt.message {
				t.Fatalf("got %d %+v", w.Code, got)
			}
			if !ctx.IsAborted() {
				t.Fatal("chain not aborted")
			}
		})
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		page, size         string
		wantPage, wantSize int
	}{
		{"", "", 1, 20},
		{"3", "50", 3, 50},
		{"-1", "500", 1, 20},
		{"x", "0", 1, 20},
	}
	for _, tt := range tests {
		p, s := parsePagination(tt.page, tt.size)
		if p != tt.wantPage || s != tt.wantSize {
			t.Errorf("parsePagination(%q, %q) = %d, %d", tt.page, tt.size, p, s)
		}
	}
}

func TestUsernameRules(t *testing.T) {
	for _, s := range []string{"alice", "Bob_42", "a-b"} {
		if !validUsername(s) {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []string{"white space", "semi;colon", "ünï"} {
		if validUsername(s) {
			t.Errorf("%q should be invalid", s)
		}
	}
	if got := slugUsername(" Jane.Doe "); got != "jane_doe" {
		t.Errorf("slug = %q", got)
	}
}
