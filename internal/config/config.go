package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Discord    DiscordConfig
	Tickets    TicketConfig
	Automation AutomationConfig
	Transcript TranscriptConfig
	Events     EventsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior. Development switches to the console
// encoder with stack traces on warnings; it defaults to APP_ENV=development.
type LoggerConfig struct {
	Level       string
	Development bool
}

// AuthConfig defines staff API token parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// DiscordConfig points the bot at a single guild and its staff channel.
type DiscordConfig struct {
	Token           string
	GuildID         string
	TicketChannelID string
	StaffRoleIDs    []string
	LeadRoleIDs     []string
	AdminRoleIDs    []string
}

// TicketConfig holds lifecycle toggles.
type TicketConfig struct {
	AllowMultipleOpen bool
	RatingEnabled     bool
	NotePrefix        string
	CommandPrefix     string
	CategoriesFile    string
	DefaultCategory   string
}

// AutomationConfig drives the SLA / auto-close sweep. The two checks are
// independent: a zero SLAMinutes disables only SLA flagging and a zero
// AutoCloseHours disables only auto-close. The sweep does not run when both are zero.
type AutomationConfig struct {
	SLAMinutes      int
	AutoCloseHours  int
	IntervalSeconds int
	BatchLimit      int
}

// TranscriptConfig configures transcript upload and fallback delivery.
type TranscriptConfig struct {
	GCSBucket          string
	GCSCredentialsFile string
	PublicBaseURL      string
	MaxAttachmentBytes int
	// InlineImageMaxBytes caps images embedded as data: URIs; larger ones keep
	// their CDN link. Zero disables embedding.
	InlineImageMaxBytes int
}

// EventsConfig configures the event queue and its redis fan-out.
type EventsConfig struct {
	RedisChannel string
	QueueSize    int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-relay"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", strings.EqualFold(getEnv("APP_ENV", "development"), "development")),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Discord: DiscordConfig{
			Token:           os.Getenv("DISCORD_TOKEN"),
			GuildID:         os.Getenv("DISCORD_GUILD_ID"),
			TicketChannelID: os.Getenv("DISCORD_TICKET_CHANNEL_ID"),
			StaffRoleIDs:    getEnvAsList("DISCORD_STAFF_ROLE_IDS"),
			LeadRoleIDs:     getEnvAsList("DISCORD_LEAD_ROLE_IDS"),
			AdminRoleIDs:    getEnvAsList("DISCORD_ADMIN_ROLE_IDS"),
		},
		Tickets: TicketConfig{
			AllowMultipleOpen: getEnvAsBool("TICKETS_ALLOW_MULTIPLE_OPEN", false),
			RatingEnabled:     getEnvAsBool("TICKETS_RATING_ENABLED", true),
			NotePrefix:        getEnv("TICKETS_NOTE_PREFIX", "!note"),
			CommandPrefix:     getEnv("TICKETS_COMMAND_PREFIX", "!"),
			CategoriesFile:    os.Getenv("TICKETS_CATEGORIES_FILE"),
			DefaultCategory:   getEnv("TICKETS_DEFAULT_CATEGORY", "general"),
		},
		Automation: AutomationConfig{
			SLAMinutes:      getEnvAsInt("AUTOMATION_SLA_MINUTES", 0),
			AutoCloseHours:  getEnvAsInt("AUTOMATION_AUTO_CLOSE_HOURS", 0),
			IntervalSeconds: getEnvAsInt("AUTOMATION_INTERVAL_SECONDS", 60),
			BatchLimit:      getEnvAsInt("AUTOMATION_BATCH_LIMIT", 500),
		},
		Transcript: TranscriptConfig{
			GCSBucket:           os.Getenv("TRANSCRIPT_GCS_BUCKET"),
			GCSCredentialsFile:  os.Getenv("TRANSCRIPT_GCS_CREDENTIALS_FILE"),
			PublicBaseURL:       getEnv("TRANSCRIPT_PUBLIC_BASE_URL", "https://storage.googleapis.com"),
			MaxAttachmentBytes:  getEnvAsInt("TRANSCRIPT_MAX_ATTACHMENT_BYTES", 8<<20),
			InlineImageMaxBytes: getEnvAsInt("TRANSCRIPT_INLINE_IMAGE_MAX_BYTES", 1<<20),
		},
		Events: EventsConfig{
			RedisChannel: getEnv("EVENTS_REDIS_CHANNEL", "ticket-relay:events"),
			QueueSize:    getEnvAsInt("EVENTS_QUEUE_SIZE", 256),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// SLAThreshold returns the SLA window, or zero when disabled.
func (a AutomationConfig) SLAThreshold() time.Duration {
	if a.SLAMinutes <= 0 {
		return 0
	}
	return time.Duration(a.SLAMinutes) * time.Minute
}

// AutoCloseThreshold returns the inactivity window, or zero when disabled.
func (a AutomationConfig) AutoCloseThreshold() time.Duration {
	if a.AutoCloseHours <= 0 {
		return 0
	}
	return time.Duration(a.AutoCloseHours) * time.Hour
}

// Interval returns the sweep period.
func (a AutomationConfig) Interval() time.Duration {
	if a.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(a.IntervalSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
