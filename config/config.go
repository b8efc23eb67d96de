package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Secrets have no defaults in code and must come from config.json, .env or the environment.
type AppConfig struct {
	AppPort   string
	JWTSecret string
	JWTTTL    time.Duration
	// Database
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// OAuth providers
	GitHubClientID     string
	GitHubClientSecret string
	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectBase  string
	// HTTP
	RateLimitPerMinute int
	AllowedOrigins     []string
	GinMode            string
	GinPath            string
	// Redis for caching, token revocation and OAuth state
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Logging
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Rewards
	StartingPoints       int
	ReferralRewardPoints int
	RewardTimezone       string
	// Background jobs
	QuestionSweepInterval time.Duration
	UploadTTLMinutes      int
	// Registration
	RegisterCaptchaEnabled  bool
	RegisterCooldownSeconds int
	AdminUsernames          []string
}

var cfg AppConfig
var loaded bool

// Load resolves configuration once during boot.
// Precedence: config/config.json -> defaults -> .env -> environment variables.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	if err := loadJSONConfig(filepath.Join("config", "config.json"), &cfg); err != nil {
		log.Printf("ignoring invalid config/config.json: %v", err)
	}

	applyDefaults(&cfg)

	// .env only feeds the process environment; real env vars still win.
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// Set replaces the active configuration. Intended for tests and embedded use.
func Set(c AppConfig) {
	applyDefaults(&c)
	cfg = c
	loaded = true
}

// Location returns the zone used for calendar-day reward arithmetic.
func (c AppConfig) Location() *time.Location {
	if c.RewardTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.RewardTimezone)
	if err != nil {
		log.Printf("unknown REWARD_TIMEZONE %q, using UTC", c.RewardTimezone)
		return time.UTC
	}
	return loc
}

// section reads typed values out of one decoded JSON object.
type section map[string]any

func (s section) str(key string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return ""
}

func (s section) num(key string) int {
	switch t := s[key].(type) {
	case float64:
		return int(t)
	case json.Number:
		i, _ := t.Int64()
		return int(i)
	}
	return 0
}

func (s section) flag(key string) bool {
	b, _ := s[key].(bool)
	return b
}

func (s section) list(key string) []string {
	arr, ok := s[key].([]any)
	if !ok {
		return nil
	}
	res := make([]string, 0, len(arr))
	for _, it := range arr {
		if v, ok := it.(string); ok {
			res = append(res, v)
		}
	}
	return res
}

func (s section) sub(key string) (section, bool) {
	m, ok := s[key].(map[string]any)
	return section(m), ok
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// loadJSONConfig reads grouped sections from path. A missing file is not an error.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}
	root := section(raw)

	if app, ok := root.sub("app"); ok {
		setStr(&out.AppPort, app.str("AppPort"))
		setStr(&out.JWTSecret, app.str("JWTSecret"))
		setInt(&out.RateLimitPerMinute, app.num("RateLimitPerMinute"))
		setStr(&out.OAuthRedirectBase, app.str("OAuthRedirectBase"))
		if list := app.list("AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
		if list := app.list("AdminUsernames"); len(list) > 0 {
			out.AdminUsernames = list
		}
		out.RegisterCaptchaEnabled = app.flag("RegisterCaptchaEnabled")
		setInt(&out.RegisterCooldownSeconds, app.num("RegisterCooldownSeconds"))
	}

	if dbs, ok := root.sub("database"); ok {
		setStr(&out.DBDriver, dbs.str("Driver"))
		setStr(&out.DatabaseURI, dbs.str("DatabaseURI"))
		setStr(&out.DBHost, dbs.str("DBHost"))
		setStr(&out.DBPort, dbs.str("DBPort"))
		setStr(&out.DBUser, dbs.str("DBUser"))
		setStr(&out.DBPassword, dbs.str("DBPassword"))
		setStr(&out.DBName, dbs.str("DBName"))
	}

	if rds, ok := root.sub("redis"); ok {
		setStr(&out.RedisHost, rds.str("RedisHost"))
		setInt(&out.RedisPort, rds.num("RedisPort"))
		setInt(&out.RedisDB, rds.num("RedisDB"))
		setStr(&out.RedisPassword, rds.str("RedisPassword"))
	}

	if oa, ok := root.sub("oauth"); ok {
		setStr(&out.GitHubClientID, oa.str("GitHubClientID"))
		setStr(&out.GitHubClientSecret, oa.str("GitHubClientSecret"))
		setStr(&out.GoogleClientID, oa.str("GoogleClientID"))
		setStr(&out.GoogleClientSecret, oa.str("GoogleClientSecret"))
	}

	if lg, ok := root.sub("log"); ok {
		setStr(&out.LogLevel, lg.str("Level"))
		setStr(&out.LogPath, lg.str("Path"))
		setStr(&out.GinMode, lg.str("GinMode"))
		setStr(&out.GinPath, lg.str("GinPath"))
		setInt(&out.LogMaxSizeMB, lg.num("MaxSizeMB"))
		setInt(&out.LogMaxBackups, lg.num("MaxBackups"))
		setInt(&out.LogMaxAgeDays, lg.num("MaxAgeDays"))
		out.LogCompress = lg.flag("Compress")
	}

	if rw, ok := root.sub("rewards"); ok {
		setInt(&out.StartingPoints, rw.num("StartingPoints"))
		setInt(&out.ReferralRewardPoints, rw.num("ReferralRewardPoints"))
		setStr(&out.RewardTimezone, rw.str("Timezone"))
		if secs := rw.num("QuestionSweepSeconds"); secs > 0 {
			out.QuestionSweepInterval = time.Duration(secs) * time.Second
		}
		setInt(&out.UploadTTLMinutes, rw.num("UploadTTLMinutes"))
	}

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.JWTTTL == 0 {
		c.JWTTTL = 72 * time.Hour
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = defaultDBPort(c.DBDriver)
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "pollquest"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.OAuthRedirectBase == "" {
		c.OAuthRedirectBase = "http://localhost:8080"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.StartingPoints == 0 {
		c.StartingPoints = 10
	}
	if c.ReferralRewardPoints == 0 {
		c.ReferralRewardPoints = 20
	}
	if c.RewardTimezone == "" {
		c.RewardTimezone = "UTC"
	}
	if c.QuestionSweepInterval == 0 {
		c.QuestionSweepInterval = time.Minute
	}
	if c.UploadTTLMinutes == 0 {
		c.UploadTTLMinutes = 24 * 60
	}
}

func defaultDBPort(driver string) string {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		return "5432"
	case "sqlite":
		return ""
	default:
		return "3306"
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	strs := map[string]*string{
		"APP_PORT":                &c.AppPort,
		"JWT_SECRET":              &c.JWTSecret,
		"DB_DRIVER":               &c.DBDriver,
		"DATABASE_URI":            &c.DatabaseURI,
		"DB_HOST":                 &c.DBHost,
		"DB_PORT":                 &c.DBPort,
		"DB_USER":                 &c.DBUser,
		"DB_PASSWORD":             &c.DBPassword,
		"DB_NAME":                 &c.DBName,
		"GITHUB_CLIENT_ID":        &c.GitHubClientID,
		"GITHUB_CLIENT_SECRET":    &c.GitHubClientSecret,
		"GOOGLE_CLIENT_ID":        &c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET":    &c.GoogleClientSecret,
		"OAUTH_REDIRECT_BASE_URL": &c.OAuthRedirectBase,
		"GIN_MODE":                &c.GinMode,
		"GIN_PATH":                &c.GinPath,
		"REDIS_HOST":              &c.RedisHost,
		"REDIS_PASSWORD":          &c.RedisPassword,
		"LOG_LEVEL":               &c.LogLevel,
		"LOG_PATH":                &c.LogPath,
		"REWARD_TIMEZONE":         &c.RewardTimezone,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if os.Getenv("DB_DRIVER") != "" && os.Getenv("DB_PORT") == "" {
		c.DBPort = defaultDBPort(c.DBDriver)
	}

	ints := map[string]*int{
		"RATE_LIMIT_PER_MINUTE":  &c.RateLimitPerMinute,
		"REDIS_PORT":             &c.RedisPort,
		"REDIS_DB":               &c.RedisDB,
		"LOG_MAX_SIZE_MB":        &c.LogMaxSizeMB,
		"LOG_MAX_BACKUPS":        &c.LogMaxBackups,
		"LOG_MAX_AGE_DAYS":       &c.LogMaxAgeDays,
		"STARTING_POINTS":        &c.StartingPoints,
		"REFERRAL_REWARD_POINTS": &c.ReferralRewardPoints,
		"UPLOAD_TTL_MINUTES":     &c.UploadTTLMinutes,
		"REGISTER_COOLDOWN_SEC":  &c.RegisterCooldownSeconds,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			*dst = mustParseInt(v)
		}
	}

	if v := os.Getenv("LOG_COMPRESS"); v != "" {
		c.LogCompress = v == "true"
	}
	if v := os.Getenv("REGISTER_CAPTCHA_ENABLED"); v != "" {
		c.RegisterCaptchaEnabled = v == "true"
	}
	if v := os.Getenv("JWT_TTL"); v != "" {
		c.JWTTTL = mustParseDuration(v)
	}
	if v := os.Getenv("QUESTION_SWEEP_INTERVAL"); v != "" {
		c.QuestionSweepInterval = mustParseDuration(v)
	}
	c.AllowedOrigins = readListEnv("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	c.AdminUsernames = readListEnv("ADMIN_USERNAMES", c.AdminUsernames)
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func mustParseDuration(val string) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Fatalf("invalid duration value %s: %v", val, err)
	}
	return d
}

func readListEnv(key string, defaults []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaults
	}
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
