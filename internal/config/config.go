package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Operator   OperatorConfig
	Twilio     TwilioConfig
	Jambonz    JambonzConfig
	Inference  InferenceConfig
	Generative GenerativeConfig
	Demo       DemoConfig
	Sweeper    SweeperConfig
	Analytics  AnalyticsConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is where providers reach our webhooks, e.g. https://amd.example.com.
	PublicBaseURL string
}

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
	DBDriverMemory   = "memory"
)

type DBConfig struct {
	// Driver selects the call store: postgres, sqlite or memory.
	Driver string

	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	SQLitePath string
}

// RedisConfig is optional. Without REDIS_HOST the in-flight limiter is disabled.
type RedisConfig struct {
	Host     string
	Port     int
	Password string

	// InFlightCap is the per-strategy cap on calls that have not reached a terminal state.
	InFlightCap int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// OperatorConfig is the single console account. PasswordHash (bcrypt) wins over Password.
type OperatorConfig struct {
	Email        string
	Password     string
	PasswordHash string
	Role         string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// ValidateSignature turns on X-Twilio-Signature checks for /webhooks/twilio.
	ValidateSignature bool
}

func (c TwilioConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

type JambonzConfig struct {
	BaseURL    string
	AccountSID string
	APIKey     string
	FromNumber string
}

func (c JambonzConfig) Configured() bool {
	return c.BaseURL != "" && c.AccountSID != "" && c.APIKey != ""
}

type InferenceConfig struct {
	Token    string
	Endpoint string
	Model    string
}

type GenerativeConfig struct {
	APIKey string
	Model  string
}

type DemoConfig struct {
	// SimulateCompletion makes every placed call finish on its own after a few seconds.
	SimulateCompletion bool
	MinDelay           time.Duration
	MaxDelay           time.Duration
}

type SweeperConfig struct {
	Schedule   string
	StaleAfter time.Duration
}

type AnalyticsConfig struct {
	// GroundTruth names the labelling oracle: none, phone_parity or static
	// (operator-supplied labels, kept in memory).
	GroundTruth string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Driver = strings.ToLower(strings.TrimSpace(os.Getenv("DB_DRIVER")))
	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT", 5432)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.SQLitePath = strings.TrimSpace(os.Getenv("DB_SQLITE_PATH"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("CALLS_INFLIGHT_CAP", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.InFlightCap = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in applyDefaults() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Operator.Email = strings.TrimSpace(os.Getenv("OPERATOR_EMAIL"))
	c.Operator.Password = os.Getenv("OPERATOR_PASSWORD")
	c.Operator.PasswordHash = strings.TrimSpace(os.Getenv("OPERATOR_PASSWORD_HASH"))
	c.Operator.Role = strings.TrimSpace(os.Getenv("OPERATOR_ROLE"))

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER"))
	{
		b, err := optionalBool("TWILIO_VALIDATE_SIGNATURE", false)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Twilio.ValidateSignature = b
	}

	c.Jambonz.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("JAMBONZ_API_URL")), "/")
	c.Jambonz.AccountSID = strings.TrimSpace(os.Getenv("JAMBONZ_ACCOUNT_SID"))
	c.Jambonz.APIKey = os.Getenv("JAMBONZ_API_KEY")
	c.Jambonz.FromNumber = strings.TrimSpace(os.Getenv("JAMBONZ_PHONE_NUMBER"))

	c.Inference.Token = os.Getenv("HF_API_TOKEN")
	c.Inference.Endpoint = strings.TrimSpace(os.Getenv("HF_ENDPOINT"))
	c.Inference.Model = strings.TrimSpace(os.Getenv("HF_MODEL"))

	c.Generative.APIKey = os.Getenv("GEMINI_API_KEY")
	c.Generative.Model = strings.TrimSpace(os.Getenv("GEMINI_MODEL"))

	{
		// Unset means "on outside production"; applyDefaults resolves it.
		def := os.Getenv("APP_ENV") != "production"
		b, err := optionalBool("DEMO_SIMULATE_COMPLETION", def)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Demo.SimulateCompletion = b
	}
	c.Demo.MinDelay = mustDuration("DEMO_MIN_DELAY")
	c.Demo.MaxDelay = mustDuration("DEMO_MAX_DELAY")

	c.Sweeper.Schedule = strings.TrimSpace(os.Getenv("SWEEPER_SCHEDULE"))
	c.Sweeper.StaleAfter = mustDuration("SWEEPER_STALE_AFTER")

	c.Analytics.GroundTruth = strings.TrimSpace(os.Getenv("AMD_GROUND_TRUTH"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyDefaults fills optional values. Production-sensitive values are left
// empty so Validate can reject them.
func (c *Config) applyDefaults() {
	if c.DB.Driver == "" {
		c.DB.Driver = DBDriverPostgres
	}
	if c.DB.SSLMode == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	if c.DB.Driver == DBDriverSQLite && c.DB.SQLitePath == "" {
		c.DB.SQLitePath = "amd.db"
	}

	if c.Redis.InFlightCap <= 0 {
		c.Redis.InFlightCap = 50
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}

	if !c.IsProduction() {
		if c.Operator.Email == "" {
			c.Operator.Email = "admin@example.com"
		}
		if c.Operator.Password == "" && c.Operator.PasswordHash == "" {
			c.Operator.Password = "admin123"
		}
	}
	if c.Operator.Role == "" {
		c.Operator.Role = "admin"
	}

	if c.Demo.MinDelay <= 0 {
		c.Demo.MinDelay = 3 * time.Second
	}
	if c.Demo.MaxDelay <= 0 {
		c.Demo.MaxDelay = 5 * time.Second
	}

	if c.Sweeper.Schedule == "" {
		c.Sweeper.Schedule = "@every 1m"
	}
	if c.Sweeper.StaleAfter <= 0 {
		c.Sweeper.StaleAfter = 10 * time.Minute
	}

	if c.Analytics.GroundTruth == "" {
		c.Analytics.GroundTruth = "none"
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL != "" && !strings.HasPrefix(c.App.PublicBaseURL, "http://") && !strings.HasPrefix(c.App.PublicBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an http(s) URL, got %q", c.App.PublicBaseURL))
	}
	if c.IsProduction() && (c.Twilio.Configured() || c.Jambonz.Configured()) && c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production when a provider is configured"))
	}

	switch c.DB.Driver {
	case DBDriverPostgres:
		errs = append(errs, c.validatePostgres()...)
	case DBDriverSQLite:
		if c.DB.SQLitePath == "" {
			errs = append(errs, errors.New("DB_SQLITE_PATH is required for the sqlite driver"))
		}
	case DBDriverMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be one of postgres, sqlite, memory, got %q", c.DB.Driver))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Operator.Email == "" {
		errs = append(errs, errors.New("OPERATOR_EMAIL is required"))
	}
	if c.Operator.Password == "" && c.Operator.PasswordHash == "" {
		errs = append(errs, errors.New("OPERATOR_PASSWORD or OPERATOR_PASSWORD_HASH is required"))
	}
	switch c.Operator.Role {
	case "admin", "operator", "analyst":
	default:
		errs = append(errs, fmt.Errorf("OPERATOR_ROLE must be one of admin, operator, analyst, got %q", c.Operator.Role))
	}

	if c.IsProduction() && c.Demo.SimulateCompletion {
		errs = append(errs, errors.New("DEMO_SIMULATE_COMPLETION must be off in production"))
	}
	if c.Demo.MaxDelay < c.Demo.MinDelay {
		errs = append(errs, errors.New("DEMO_MAX_DELAY must not be less than DEMO_MIN_DELAY"))
	}

	switch c.Analytics.GroundTruth {
	case "none", "phone_parity", "static":
	default:
		errs = append(errs, fmt.Errorf("AMD_GROUND_TRUTH must be one of none, phone_parity, static, got %q", c.Analytics.GroundTruth))
	}

	return joinErrors(errs)
}

func (c Config) validatePostgres() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
