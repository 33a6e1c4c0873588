package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/Psyphen36/Otahun/otahun"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = otahun.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "otahun [flags]",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes log level names into *slog.LevelVar
// when unmarshaling the config.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", otahun.DefaultDatabase)
	viper.SetDefault("database_type", otahun.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		otahun.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		otahun.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", otahun.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", otahun.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", otahun.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		otahun.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		otahun.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		otahun.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.custom_status",
		otahun.DefaultDiscordCustomStatus,
	)

	// OpenAI config
	viper.SetDefault("openai.log_level", otahun.DefaultOpenAILogLevel.String())
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.base_url", otahun.DefaultOpenAIBaseURL)
	viper.SetDefault("openai.model", "")
	viper.SetDefault("openai.temperature", otahun.DefaultCompletionTemperature)
	viper.SetDefault("openai.max_tokens", otahun.DefaultCompletionMaxTokens)
	viper.SetDefault("openai.request_timeout", otahun.DefaultCompletionTimeout)
	viper.SetDefault(
		"openai.max_requests_per_second",
		otahun.DefaultOpenAIMaxRequestsPerSecond,
	)

	// Chat config
	viper.SetDefault("chat.context_scope", string(otahun.DefaultContextScope))
	viper.SetDefault("chat.max_context_turns", otahun.DefaultMaxContextTurns)
	viper.SetDefault(
		"chat.turn_content_max_length",
		otahun.DefaultTurnContentMaxLength,
	)
	viper.SetDefault("chat.max_conversations", otahun.DefaultMaxConversations)
	viper.SetDefault("chat.rate_limit_requests", otahun.DefaultRateLimitRequests)
	viper.SetDefault("chat.rate_limit_window", otahun.DefaultRateLimitWindow)
	viper.SetDefault("chat.bot_reply_delay", otahun.DefaultBotReplyDelay)
	viper.SetDefault("chat.keyword_triggers", otahun.DefaultKeywordTriggers())
	viper.SetDefault("chat.inter_chunk_pause", otahun.DefaultInterChunkPause)
	viper.SetDefault("chat.typing_delay", otahun.DefaultTypingDelay)

	// API config
	viper.SetDefault("api.listen", otahun.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", otahun.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", otahun.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		otahun.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", otahun.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", otahun.DefaultIdleTimeout)
	viper.SetDefault("api.development", false)

	envPrefix := os.Getenv(otahun.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = otahun.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	viper.Set(
		"chat.keyword_triggers",
		viper.GetStringSlice("chat.keyword_triggers"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"openai.log_level",
		"api.log_level",
	} {
		// initConfig runs once per Execute; a repeat invocation finds
		// the already-converted value
		if _, ok := viper.Get(key).(*slog.LevelVar); ok {
			continue
		}
		levelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, levelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
