package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/cppla/pollquest/config"
	"github.com/cppla/pollquest/middleware"
	"github.com/cppla/pollquest/models"
	"github.com/cppla/pollquest/services"
	"github.com/cppla/pollquest/utils"
)

// AuthController handles local accounts, OAuth sign-in and sessions.
type AuthController struct {
	accounts *services.AccountService
	points   *services.PointsService
	cfg      config.AppConfig
}

// NewAuthController creates an AuthController.
func NewAuthController(accounts *services.AccountService, points *services.PointsService, cfg config.AppConfig) *AuthController {
	return &AuthController{accounts: accounts, points: points, cfg: cfg}
}

type registerRequest struct {
	Username      string `json:"username" binding:"required"`
	Email         string `json:"email"`
	Password      string `json:"password" binding:"required"`
	Confirm       string `json:"confirm"`
	ReferralCode  string `json:"referral_code"`
	CaptchaID     string `json:"captcha_id"`
	CaptchaAnswer string `json:"captcha_answer"`
}

// Register creates a local account with the starting balance and returns a token.
func (a *AuthController) Register(ctx *gin.Context) {
	var req registerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid request payload")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if n := utf8.RuneCountInString(req.Username); n < 3 || n > 32 || !validUsername(req.Username) {
		utils.Error(ctx, http.StatusBadRequest, 40003, "username must be 3-32 letters, digits, '-' or '_'")
		return
	}
	if req.Password != req.Confirm {
		utils.Error(ctx, http.StatusBadRequest, 40004, "passwords do not match")
		return
	}
	if a.cfg.RegisterCaptchaEnabled && !utils.VerifyCaptcha(strings.TrimSpace(req.CaptchaID), strings.TrimSpace(req.CaptchaAnswer)) {
		utils.Error(ctx, http.StatusBadRequest, 40005, "captcha is wrong or expired")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40006, err.Error())
		return
	}

	ip := ctx.ClientIP()
	if !utils.RegistrationCooldownTry(ip, time.Duration(a.cfg.RegisterCooldownSeconds)*time.Second) {
		utils.Error(ctx, http.StatusTooManyRequests, 42910, "too many registrations, try again later")
		return
	}

	user, err := a.accounts.Register(ctx.Request.Context(), services.NewAccount{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		RegisterIP:   ip,
		Referrer:     req.ReferralCode,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	a.issueToken(ctx, http.StatusCreated, user)
}

// Login verifies username and password and issues a JWT.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid request payload")
		return
	}

	user, err := a.accounts.FindByUsername(ctx.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil && !errors.Is(err, services.ErrUserNotFound) {
		respondError(ctx, err)
		return
	}
	if user == nil || !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}
	a.issueToken(ctx, http.StatusOK, user)
}

// Logout revokes the presented token until it would have expired anyway.
func (a *AuthController) Logout(ctx *gin.Context) {
	token := ctx.GetString(middleware.ContextTokenKey)
	expiresAt := time.Now().Add(a.cfg.JWTTTL)
	if v, ok := ctx.Get(middleware.ContextClaimsKey); ok {
		if claims, ok := v.(*utils.Claims); ok && claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}
	}
	utils.BlacklistToken(token, expiresAt)
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the caller's account together with their point stats.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	user, err := a.accounts.FindByID(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	stats, err := a.points.GetStats(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	payload := a.userResponse(user)
	payload["stats"] = stats
	utils.Success(ctx, payload)
}

// Captcha returns a fresh captcha id and base64 image.
func (a *AuthController) Captcha(ctx *gin.Context) {
	id, b64, err := utils.GenerateCaptcha()
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50060, "failed to generate captcha")
		return
	}
	utils.Success(ctx, gin.H{"id": id, "image": b64, "required": a.cfg.RegisterCaptchaEnabled})
}

// OAuthRedirect returns the provider's authorization URL with a one-time state.
func (a *AuthController) OAuthRedirect(ctx *gin.Context) {
	provider := strings.ToLower(ctx.Param("provider"))
	conf, err := a.oauthConfig(provider)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40007, err.Error())
		return
	}
	state := uuid.NewString()
	utils.SaveState(state, 10*time.Minute)
	utils.Success(ctx, gin.H{"authorization_url": conf.AuthCodeURL(state, oauth2.AccessTypeOnline), "state": state})
}

// OAuthCallback exchanges the code, finds or opens the linked account and issues a JWT.
func (a *AuthController) OAuthCallback(ctx *gin.Context) {
	provider := strings.ToLower(ctx.Param("provider"))
	code, state := ctx.Query("code"), ctx.Query("state")
	if code == "" || state == "" {
		utils.Error(ctx, http.StatusBadRequest, 40008, "missing code or state")
		return
	}
	if !utils.ConsumeState(state) {
		utils.Error(ctx, http.StatusBadRequest, 40009, "invalid or expired state")
		return
	}
	conf, err := a.oauthConfig(provider)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40007, err.Error())
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 15*time.Second)
	defer cancel()
	token, err := conf.Exchange(reqCtx, code)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40017, "failed to exchange code")
		return
	}
	identity, err := fetchIdentity(reqCtx, provider, conf.Client(reqCtx, token))
	if err != nil {
		utils.Error(ctx, http.StatusBadGateway, 50201, err.Error())
		return
	}
	user, err := a.findOrCreateOAuthUser(reqCtx, provider, identity, ctx.ClientIP())
	if err != nil {
		respondError(ctx, err)
		return
	}
	a.issueToken(ctx, http.StatusOK, user)
}

func (a *AuthController) issueToken(ctx *gin.Context, status int, user *models.User) {
	token, expiresAt, err := utils.GenerateToken(user.ID, user.Username, a.cfg.JWTTTL)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to generate token")
		return
	}
	utils.Respond(ctx, status, 0, "success", gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"user":       a.userResponse(user),
	})
}

func (a *AuthController) userResponse(user *models.User) gin.H {
	return gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"provider":   user.Provider,
		"avatar_url": user.AvatarURL,
		"points":     user.Points,
		"created_at": user.CreatedAt,
		"is_admin":   a.isAdmin(user.Username),
	}
}

func (a *AuthController) isAdmin(username string) bool {
	for _, u := range a.cfg.AdminUsernames {
		if strings.EqualFold(strings.TrimSpace(u), username) {
			return true
		}
	}
	return false
}

func (a *AuthController) oauthConfig(provider string) (*oauth2.Config, error) {
	redirect := fmt.Sprintf("%s/api/v1/auth/oauth/%s/callback", strings.TrimRight(a.cfg.OAuthRedirectBase, "/"), provider)
	switch provider {
	case "github":
		if a.cfg.GitHubClientID == "" || a.cfg.GitHubClientSecret == "" {
			return nil, errors.New("github oauth not configured")
		}
		return &oauth2.Config{
			ClientID:     a.cfg.GitHubClientID,
			ClientSecret: a.cfg.GitHubClientSecret,
			RedirectURL:  redirect,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		}, nil
	case "google":
		if a.cfg.GoogleClientID == "" || a.cfg.GoogleClientSecret == "" {
			return nil, errors.New("google oauth not configured")
		}
		return &oauth2.Config{
			ClientID:     a.cfg.GoogleClientID,
			ClientSecret: a.cfg.GoogleClientSecret,
			RedirectURL:  redirect,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func (a *AuthController) findOrCreateOAuthUser(ctx context.Context, provider string, id *oauthIdentity, ip string) (*models.User, error) {
	user, err := a.accounts.FindByProvider(ctx, provider, id.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, services.ErrUserNotFound) {
		return nil, err
	}
	username, err := a.uniqueUsername(ctx, id.Login, provider, id.ID)
	if err != nil {
		return nil, err
	}
	return a.accounts.Register(ctx, services.NewAccount{
		Username:   username,
		Email:      id.Email,
		Provider:   provider,
		ProviderID: id.ID,
		RegisterIP: ip,
		AvatarURL:  id.AvatarURL,
	})
}

func (a *AuthController) uniqueUsername(ctx context.Context, base, provider, id string) (string, error) {
	base = slugUsername(base)
	if utf8.RuneCountInString(base) < 3 {
		base = slugUsername(provider + "_" + id)
	}
	if len(base) > 26 {
		base = base[:26]
	}
	candidate := base
	for i := 1; i < 1000; i++ {
		free, err := a.accounts.UsernameAvailable(ctx, candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", base, i)
	}
	return base + "_" + uuid.NewString()[:4], nil
}

type oauthIdentity struct {
	ID        string
	Login     string
	Email     string
	AvatarURL string
}

// fetchIdentity calls the provider's user endpoint with an authorised client.
func fetchIdentity(ctx context.Context, provider string, client *http.Client) (*oauthIdentity, error) {
	switch provider {
	case "github":
		var u struct {
			ID        int64  `json:"id"`
			Login     string `json:"login"`
			Email     string `json:"email"`
			AvatarURL string `json:"avatar_url"`
		}
		if err := getJSON(ctx, client, "https://api.github.com/user", &u); err != nil {
			return nil, err
		}
		return &oauthIdentity{ID: fmt.Sprintf("%d", u.ID), Login: u.Login, Email: u.Email, AvatarURL: u.AvatarURL}, nil
	case "google":
		var u struct {
			ID      string `json:"id"`
			Email   string `json:"email"`
			Picture string `json:"picture"`
		}
		if err := getJSON(ctx, client, "https://www.googleapis.com/oauth2/v2/userinfo", &u); err != nil {
			return nil, err
		}
		login, _, _ := strings.Cut(u.Email, "@")
		return &oauthIdentity{ID: u.ID, Login: login, Email: u.Email, AvatarURL: u.Picture}, nil
	}
	return nil, fmt.Errorf("unsupported provider: %s", provider)
}

func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("user info request failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func validUsername(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func slugUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.' || r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_-")
}
