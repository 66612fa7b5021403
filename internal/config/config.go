// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"sqlgate/internal/database"
	"sqlgate/internal/policy"
)

// DatabaseConfig describes the target PostgreSQL database.
type DatabaseConfig struct {
	URL      string // DATABASE_URL; overrides the discrete fields when set
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	StatementTimeout time.Duration
	IdleTxTimeout    time.Duration
	TimeZone         string
	ConnectTimeout   time.Duration
}

// DSN returns the connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	switch {
	case d.User != "" && d.Password != "":
		u.User = url.UserPassword(d.User, d.Password)
	case d.User != "":
		u.User = url.User(d.User)
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Options returns the session options for database.NewPostgresDialer.
func (d DatabaseConfig) Options() database.Options {
	return database.Options{
		DSN:              d.DSN(),
		StatementTimeout: d.StatementTimeout,
		IdleTxTimeout:    d.IdleTxTimeout,
		TimeZone:         d.TimeZone,
		ConnectTimeout:   d.ConnectTimeout,
	}
}

// AuthConfig holds the credential sources of the HTTP API.
type AuthConfig struct {
	IssuerURL string // OIDC issuer
	JWKSURL   string // OIDC signing keys
	Audience  string // required aud claim for OIDC tokens
	JWTSecret string // HS256 shared secret
	JWTIssuer string // required iss claim for HS256 tokens, optional
	// APIKeys maps a key to its principal, from API_KEYS="principal:key,...".
	APIKeys map[string]string
}

// OIDCEnabled returns true when an external identity provider is configured.
func (a *AuthConfig) OIDCEnabled() bool {
	return a.IssuerURL != "" || a.JWKSURL != ""
}

// Enabled reports whether any credential source is configured.
func (a *AuthConfig) Enabled() bool {
	return a.OIDCEnabled() || a.JWTSecret != "" || len(a.APIKeys) > 0
}

// Validate checks that the auth configuration is internally consistent.
func (a *AuthConfig) Validate() error {
	if a.OIDCEnabled() && (a.IssuerURL == "" || a.JWKSURL == "") {
		return errors.New("AUTH_ISSUER_URL and AUTH_JWKS_URL must be set together")
	}
	if a.OIDCEnabled() && a.JWTSecret != "" {
		return errors.New("configure either OIDC or JWT_SECRET, not both")
	}
	return nil
}

// Config holds the configuration of the gateway server.
type Config struct {
	Database DatabaseConfig

	PolicyFile      string        // policy document path (default "policies.yaml")
	PolicyStrict    bool          // reject unknown policy keys
	Limits          policy.Limits // budgets applied where the policy leaves them unset
	EnumerableLimit int           // distinct values listed per enumerable

	ListenAddr        string        // HTTP listen address (default ":8000")
	TLSCertFile       string        // TLS certificate file path (optional)
	TLSKeyFile        string        // TLS private key file path (optional)
	AllowInsecureHTTP bool          // allow non-TLS listener in production
	RequestTimeout    time.Duration // bound on each gateway call (default 60s)
	ShutdownTimeout   time.Duration // graceful shutdown bound (default 15s)
	MaxBodyBytes      int64         // request body bound (default 1 MiB)

	LogLevel  string // debug, info, warn, error (default "info")
	LogFormat string // text or json (default "text")
	Env       string // "development" (default) or "production"

	RateLimitRPS      float64 // sustained requests per second per client (default 50)
	RateLimitBurst    int     // burst capacity (default 100)
	TrustForwardedFor bool    // key rate limits by X-Forwarded-For

	CORSAllowedOrigins []string // default ["*"]

	Auth AuthConfig

	// Warnings collects non-fatal problems found while loading. They are
	// logged by the caller once the logger exists.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// NewLogger builds the slog logger described by LogLevel and LogFormat.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// envReader reads typed values and records malformed ones as warnings.
type envReader struct {
	warnings []string
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not an integer, using %d", key, v, def))
		return def
	}
	return n
}

func (e *envReader) int64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not an integer, using %d", key, v, def))
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not a number, using %g", key, v, def))
		return def
	}
	return f
}

// duration accepts Go durations ("15s") or plain seconds ("15").
func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not a duration, using %s", key, v, def))
	return def
}

func (e *envReader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not a boolean, using %t", key, v, def))
	return def
}

func (e *envReader) list(key string, def []string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return compactNonEmpty(parts)
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	var e envReader
	defaults := policy.DefaultLimits()

	cfg := &Config{
		Database: DatabaseConfig{
			URL:              e.str("DATABASE_URL", ""),
			Host:             e.str("DB_HOST", "localhost"),
			Port:             e.integer("DB_PORT", 5432),
			Name:             e.str("DB_NAME", "postgres"),
			User:             e.str("DB_USER", "postgres"),
			Password:         os.Getenv("DB_PASSWORD"),
			SSLMode:          e.str("DB_SSLMODE", "disable"),
			StatementTimeout: e.duration("STATEMENT_TIMEOUT", 15*time.Second),
			IdleTxTimeout:    e.duration("IDLE_TX_TIMEOUT", 5*time.Second),
			TimeZone:         e.str("DB_TIMEZONE", "Asia/Almaty"),
			ConnectTimeout:   e.duration("CONNECT_TIMEOUT", 10*time.Second),
		},
		PolicyFile:   e.str("POLICY_FILE", "policies.yaml"),
		PolicyStrict: e.boolean("POLICY_STRICT", false),
		Limits: policy.Limits{
			MaxCost:         e.float("MAX_COST", defaults.MaxCost),
			MaxBytesScanned: e.int64("MAX_BYTES_SCANNED", defaults.MaxBytesScanned),
			MaxEstRows:      e.int64("MAX_EST_ROWS", defaults.MaxEstRows),
		},
		EnumerableLimit:    e.integer("ENUMERABLE_LIMIT", 1000),
		ListenAddr:         e.str("LISTEN_ADDR", ":8000"),
		TLSCertFile:        e.str("TLS_CERT_FILE", ""),
		TLSKeyFile:         e.str("TLS_KEY_FILE", ""),
		AllowInsecureHTTP:  e.boolean("ALLOW_INSECURE_HTTP", false),
		RequestTimeout:     e.duration("REQUEST_TIMEOUT", 60*time.Second),
		ShutdownTimeout:    e.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxBodyBytes:       e.int64("MAX_BODY_BYTES", 1<<20),
		LogLevel:           e.str("LOG_LEVEL", "info"),
		LogFormat:          e.str("LOG_FORMAT", "text"),
		Env:                e.str("ENV", "development"),
		RateLimitRPS:       e.float("RATE_LIMIT_RPS", 50),
		RateLimitBurst:     e.integer("RATE_LIMIT_BURST", 100),
		TrustForwardedFor:  e.boolean("TRUST_FORWARDED_FOR", false),
		CORSAllowedOrigins: e.list("CORS_ALLOWED_ORIGINS", []string{"*"}),
		Auth: AuthConfig{
			IssuerURL: e.str("AUTH_ISSUER_URL", ""),
			JWKSURL:   e.str("AUTH_JWKS_URL", ""),
			Audience:  e.str("AUTH_AUDIENCE", ""),
			JWTSecret: os.Getenv("JWT_SECRET"),
			JWTIssuer: e.str("JWT_ISSUER", ""),
		},
	}

	keys, err := parseAPIKeys(os.Getenv("API_KEYS"))
	if err != nil {
		return nil, err
	}
	cfg.Auth.APIKeys = keys
	cfg.Warnings = e.warnings

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("both TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.Limits.MaxCost < 0 || c.Limits.MaxBytesScanned < 0 || c.Limits.MaxEstRows < 0 {
		return errors.New("MAX_COST, MAX_BYTES_SCANNED and MAX_EST_ROWS must not be negative")
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if c.Database.URL == "" && c.Database.Password == "" {
		c.Warnings = append(c.Warnings, "DB_PASSWORD is not set")
	}
	if !c.Auth.Enabled() {
		c.Warnings = append(c.Warnings, "authentication is disabled: set AUTH_ISSUER_URL, JWT_SECRET or API_KEYS")
	}

	if !c.IsProduction() {
		return nil
	}
	if len(c.CORSAllowedOrigins) == 1 && c.CORSAllowedOrigins[0] == "*" {
		return errors.New("CORS wildcard (*) is not allowed in production (ENV=production)")
	}
	if c.Database.URL == "" && c.Database.Password == "" {
		return errors.New("DB_PASSWORD must be set in production (ENV=production)")
	}
	if !c.Auth.Enabled() {
		return errors.New("authentication must be configured in production (ENV=production)")
	}
	if c.TLSCertFile == "" && !c.AllowInsecureHTTP {
		return errors.New("TLS_CERT_FILE/TLS_KEY_FILE must be set in production unless ALLOW_INSECURE_HTTP=true")
	}
	return nil
}

// parseAPIKeys reads "principal:key" pairs separated by commas.
func parseAPIKeys(v string) (map[string]string, error) {
	keys := map[string]string{}
	for _, pair := range compactNonEmpty(strings.Split(v, ",")) {
		principal, key, ok := strings.Cut(strings.TrimSpace(pair), ":")
		principal, key = strings.TrimSpace(principal), strings.TrimSpace(key)
		if !ok || principal == "" || key == "" {
			return nil, fmt.Errorf("API_KEYS entry %q must be principal:key", pair)
		}
		if _, dup := keys[key]; dup {
			return nil, fmt.Errorf("API_KEYS repeats a key for principal %q", principal)
		}
		keys[key] = principal
	}
	return keys, nil
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setenv %s: %w", key, err)
		}
	}
	return scanner.Err()
}

// stripQuotes removes matching surrounding double or single quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// PolicyOptions returns the load options for the policy store.
func (c *Config) PolicyOptions() policy.LoadOptions {
	return policy.LoadOptions{DefaultLimits: c.Limits, Strict: c.PolicyStrict}
}
