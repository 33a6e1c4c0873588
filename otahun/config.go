//nolint:lll // struct tags can't be split
package otahun

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "OTAHUN_ENV_PREFIX"
	DefaultEnvPrefix   = "OTAHUN"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "otahun.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultDiscordLogLevel      = slog.LevelWarn
	DefaultDiscordgoLogLevel    = slog.LevelWarn
	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentMessageContent
	DefaultDiscordCustomStatus  = "@ me 👂 | created by ozz"

	DefaultOpenAILogLevel             = slog.LevelInfo
	DefaultOpenAIBaseURL              = "https://api.shapes.inc/v1/"
	DefaultCompletionTemperature      = 0.7
	DefaultCompletionMaxTokens        = 2000
	DefaultCompletionTimeout          = 60 * time.Second
	DefaultOpenAIMaxRequestsPerSecond = 1

	DefaultContextScope         = ContextScopeUser
	DefaultMaxContextTurns      = 10
	DefaultTurnContentMaxLength = 500
	DefaultMaxConversations     = 1000
	DefaultRateLimitRequests    = 10
	DefaultRateLimitWindow      = time.Minute
	DefaultBotReplyDelay        = 8 * time.Second
	DefaultInterChunkPause      = 500 * time.Millisecond
	DefaultTypingDelay          = 500 * time.Millisecond

	// discordMaxMessageLength is Discord's hard cap on message content.
	discordMaxMessageLength = 2000

	DefaultAPIListen         = ":8080"
	defaultListenNetwork     = "tcp"
	DefaultAPILogLevel       = slog.LevelInfo
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
)

const (
	DefaultRateLimitMessage     = "⏰ Please slow down! You're sending messages too quickly."
	DefaultEmptyResponseMessage = "I'm not sure how to respond to that."
	DefaultDeliveryErrorMessage = "❌ I had trouble sending my response. Please try again."
	DefaultResetRefusalMessage  = "LoL you thought you have permission to reset my memory! " +
		"In your dreams! <:smug:1358014214148591768>."
)

var structValidator = validator.New()

// Config is the full (startup) configuration for the bot.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres" validate:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits the time the bot has to initialize. If it's
	// exceeded, startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time allowed for a graceful shutdown, after
	// which connections are force-closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// OpenAI configures the completion endpoint integration
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// Chat configures the conversation/admission-control core
	Chat *ChatConfig `yaml:"chat" mapstructure:"chat" json:"chat"`

	// API configures the liveness/status HTTP server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// Validate checks required fields and value constraints. It's called
// once on startup; a non-nil error is fatal.
func (c *Config) Validate() error {
	return structValidator.Struct(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" validate:"required"`

	// Discord application ID (from the 'General Information' tab in the
	// discord dev portal). Also used as the bot's own user ID for
	// self-checks.
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" validate:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is set as the bot's presence once connected
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	httpClient *http.Client
}

// OpenAIConfig configures the chat completion endpoint.
//
//nolint:lll // can't break tags
type OpenAIConfig struct {
	// API token for the completion endpoint
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" validate:"required"`

	// BaseURL of the OpenAI-compatible API
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" validate:"required,url"`

	// Model identifier sent with each completion request
	Model string `yaml:"model" mapstructure:"model" json:"model" validate:"required"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Temperature for completion requests
	Temperature float32 `yaml:"temperature" mapstructure:"temperature" json:"temperature" validate:"min=0,max=2"`

	// MaxTokens for completion responses
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" validate:"min=1"`

	// RequestTimeout bounds a single completion call. On expiry the user
	// sees the same fallback message as for any other completion failure.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" validate:"min=1s"`

	// MaxRequestsPerSecond paces outbound completion API calls
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" validate:"min=1"`
}

// ChatConfig configures the conversation-context and admission-control core.
//
//nolint:lll // can't break tags
type ChatConfig struct {
	// ContextScope selects the conversation key: 'user' isolates turns
	// per (channel, user); 'channel' shares one context per channel.
	ContextScope ContextScope `yaml:"context_scope" mapstructure:"context_scope" json:"context_scope" validate:"oneof=user channel"`

	// MaxContextTurns bounds the number of turns retained per conversation
	MaxContextTurns int `yaml:"max_context_turns" mapstructure:"max_context_turns" json:"max_context_turns" validate:"min=1"`

	// TurnContentMaxLength caps the recorded content of a single turn, in runes
	TurnContentMaxLength int `yaml:"turn_content_max_length" mapstructure:"turn_content_max_length" json:"turn_content_max_length" validate:"min=1"`

	// MaxConversations caps the number of tracked conversations; the
	// least-recently-used conversation is evicted when it's exceeded
	MaxConversations int `yaml:"max_conversations" mapstructure:"max_conversations" json:"max_conversations" validate:"min=1"`

	// RateLimitRequests is the per-user request ceiling within RateLimitWindow
	RateLimitRequests int `yaml:"rate_limit_requests" mapstructure:"rate_limit_requests" json:"rate_limit_requests" validate:"min=1"`

	// RateLimitWindow is the trailing admission window
	RateLimitWindow time.Duration `yaml:"rate_limit_window" mapstructure:"rate_limit_window" json:"rate_limit_window" validate:"min=1s"`

	// BotReplyDelay is imposed before responding to another bot, to avoid
	// bot-to-bot response storms
	BotReplyDelay time.Duration `yaml:"bot_reply_delay" mapstructure:"bot_reply_delay" json:"bot_reply_delay" validate:"min=0"`

	// KeywordTriggers are case-insensitive patterns which force the bot to
	// respond even without a mention
	KeywordTriggers []string `yaml:"keyword_triggers" mapstructure:"keyword_triggers" json:"keyword_triggers"`

	// InterChunkPause is the pause between multi-part replies
	InterChunkPause time.Duration `yaml:"inter_chunk_pause" mapstructure:"inter_chunk_pause" json:"inter_chunk_pause" validate:"min=0"`

	// TypingDelay is how long the typing indicator is shown before replying
	TypingDelay time.Duration `yaml:"typing_delay" mapstructure:"typing_delay" json:"typing_delay" validate:"min=0"`
}

// APIConfig configures the liveness/status HTTP server.
//
//nolint:lll // can't break tags
type APIConfig struct {
	// The address and port on which the server should listen (e.g., ":8080").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" validate:"required"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" validate:"oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the HTTP server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" validate:"min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" validate:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" validate:"min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" validate:"min=1s"`

	// Development enables pprof endpoints and permissive CORS
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// DefaultConfig returns a Config with all default settings populated.
// Required secrets (tokens, application ID, model) are left empty and
// must come from the environment.
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		OpenAI: &OpenAIConfig{
			BaseURL:              DefaultOpenAIBaseURL,
			LogLevel:             openaiLogLevel,
			Temperature:          DefaultCompletionTemperature,
			MaxTokens:            DefaultCompletionMaxTokens,
			RequestTimeout:       DefaultCompletionTimeout,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
		},
		Chat: &ChatConfig{
			ContextScope:         DefaultContextScope,
			MaxContextTurns:      DefaultMaxContextTurns,
			TurnContentMaxLength: DefaultTurnContentMaxLength,
			MaxConversations:     DefaultMaxConversations,
			RateLimitRequests:    DefaultRateLimitRequests,
			RateLimitWindow:      DefaultRateLimitWindow,
			BotReplyDelay:        DefaultBotReplyDelay,
			KeywordTriggers:      DefaultKeywordTriggers(),
			InterChunkPause:      DefaultInterChunkPause,
			TypingDelay:          DefaultTypingDelay,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
