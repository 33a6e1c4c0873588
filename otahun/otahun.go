package otahun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var defaultLogWriter io.Writer = os.Stdout

// Otahun is the top-level bot: it owns the Discord connection, the
// completion client, the conversation state and the liveness server,
// and runs the message pipeline connecting them.
type Otahun struct {
	config      *Config
	logger      *slog.Logger
	logHandler  slog.Handler
	db          DBI
	discord     *Discord
	api         *API
	completions *Completions
	contexts    *ContextStore
	rateLimiter *UserRateLimiter
	activations *ActivationSet
	triggers    *TriggerEvaluator
	composer    *Composer
	dispatcher  *Dispatcher

	startedAt time.Time

	// botUser is populated from the gateway ready event
	botUser atomic.Pointer[discordgo.User]

	// A signal is sent on this channel when startup is complete:
	// database migrated, gateway connected, commands registered
	signalReady chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// messageWG tracks in-flight message pipelines so shutdown can
	// wait for them
	messageWG sync.WaitGroup
}

// New creates an Otahun instance from the given config. Connections
// aren't opened until Run.
func New(config *Config) (*Otahun, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	o := &Otahun{
		config:      config,
		signalReady: make(chan struct{}, 1),
	}

	o.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	o.logger = slog.New(o.logHandler)
	slog.SetDefault(o.logger)

	o.completions = newCompletions(
		config.OpenAI,
		config.HTTPClient,
		slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.OpenAI.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "openai"),
	)

	config.Discord.httpClient = config.HTTPClient

	disc, err := newDiscord(config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.bot = o
		o.discord = disc
	}

	o.contexts = NewContextStore(config.Chat)
	o.rateLimiter = NewUserRateLimiter(
		config.Chat.RateLimitRequests,
		config.Chat.RateLimitWindow,
	)
	o.activations = NewActivationSet()

	o.api = newAPI(o, config.API)

	return o, errors.Join(errs...)
}

func (o *Otahun) ValidateConfig() error {
	return structValidator.Struct(o.config)
}

// botUserID returns the bot's own user ID, preferring the gateway's
// ready payload over the configured application ID.
func (o *Otahun) botUserID() string {
	if u := o.botUser.Load(); u != nil {
		return u.ID
	}
	return o.config.Discord.ApplicationID
}

func (o *Otahun) botDisplayName() string {
	if u := o.botUser.Load(); u != nil {
		return displayName(u, nil)
	}
	return "Otahun"
}

// Run starts the bot and blocks until ctx is canceled or a fatal error
// occurs. Startup is fail-fast: an invalid config, unreachable
// database or failed completion endpoint probe aborts the process.
func (o *Otahun) Run(ctx context.Context) error {
	// prevents concurrent runs
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.startedAt = time.Now()
	logger := o.logger

	if err := o.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", o.config))

	startCtx, startCancel := context.WithTimeout(ctx, o.config.StartupTimeout)
	defer startCancel()

	gormDB, err := CreateDB(startCtx, o.config.DatabaseType, o.config.Database)
	if err != nil {
		logger.ErrorContext(ctx, "error initializing database", tint.Err(err))
		return err
	}
	o.db = NewDatabase(
		gormDB,
		logger,
		o.config.DatabaseType == dbTypePostgres,
	)

	if err = o.completions.Probe(startCtx); err != nil {
		logger.ErrorContext(ctx, "completion endpoint unreachable", tint.Err(err))
		return fmt.Errorf("completion endpoint probe failed: %w", err)
	}

	session, err := o.discord.newSession()
	if err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return err
	}
	o.discord.session = session

	o.triggers = NewTriggerEvaluator(
		o.botUserID,
		o.config.Chat.KeywordTriggers,
		o.activations,
		session,
		o.discord.logger,
	)
	o.composer = NewComposer(
		o.botUserID,
		o.config.Chat.TurnContentMaxLength,
		session,
		logger.With(loggerNameKey, "composer"),
	)
	o.dispatcher = NewDispatcher(
		session,
		o.config.Chat,
		logger.With(loggerNameKey, "dispatcher"),
	)

	o.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(o.discord.handlerConnect()),
		session.AddHandler(o.discord.handlerDisconnect()),
		session.AddHandler(o.handlerReady()),
		session.AddHandler(o.discord.handlerInteractionCreate()),
		session.AddHandler(o.handlerMessageCreate(ctx)),
	}

	if err = session.Open(); err != nil {
		logger.ErrorContext(ctx, "error opening discord session", tint.Err(err))
		return err
	}

	if _, err = o.discord.registerCommands(
		discordgo.WithContext(startCtx),
	); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(
		func() error {
			serveErr := o.api.Serve(gctx)
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				return serveErr
			}
			return nil
		},
	)

	// periodic sweep so idle users age out of the rate limiter
	g.Go(
		func() error {
			ticker := time.NewTicker(o.config.Chat.RateLimitWindow)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					o.rateLimiter.Prune()
				}
			}
		},
	)

	g.Go(
		func() error {
			<-gctx.Done()
			return o.shutdown()
		},
	)

	o.signalReady <- struct{}{}
	logger.InfoContext(ctx, "startup complete")

	return g.Wait()
}

// shutdown drains in-flight message pipelines, stops the HTTP server
// and closes the gateway connection, bounded by ShutdownTimeout.
func (o *Otahun) shutdown() error {
	o.logger.Warn("shutting down")
	shutdownStart := time.Now()

	timeout := o.config.ShutdownTimeout
	if timeout == 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		o.messageWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		o.logger.Warn("gave up waiting for in-flight messages")
	}

	var errs []error

	if o.api != nil {
		if err := o.api.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	for _, removeHandler := range o.discord.discordgoRemoveHandlerFuncs {
		removeHandler()
	}
	if o.discord.session != nil {
		if err := o.discord.session.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if o.db != nil {
		if sqlDB, err := o.db.DB().DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}

	o.logger.Warn("shutdown finished", "elapsed", time.Since(shutdownStart))
	return errors.Join(errs...)
}

func (o *Otahun) handlerReady() func(*discordgo.Session, *discordgo.Ready) {
	inner := o.discord.handlerReady()
	return func(s *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			o.botUser.Store(r.User)
		}
		inner(s, r)
	}
}

// handlerMessageCreate hands each inbound message to its own
// goroutine, so a slow completion call never blocks the gateway event
// loop.
func (o *Otahun) handlerMessageCreate(ctx context.Context) func(
	*discordgo.Session,
	*discordgo.MessageCreate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m == nil || m.Message == nil {
			return
		}
		event := NewMessageEvent(m.Message)

		// never respond to yourself
		if event.AuthorID == "" || event.AuthorID == o.botUserID() {
			return
		}

		o.messageWG.Add(1)
		go func() {
			defer o.messageWG.Done()
			defer func() {
				if rc := recover(); rc != nil {
					o.logger.Error(
						"panic handling message",
						"recovered", rc,
						"message_id", event.MessageID,
					)
				}
			}()
			o.handleMessage(ctx, event, m.Message)
		}()
	}
}

// handleMessage runs the full pipeline for one inbound message:
// reset refusal, activation commands, trigger evaluation, admission,
// composition, completion and dispatch. Turns are appended only after
// the completion call returns, under the conversation's lock.
func (o *Otahun) handleMessage(
	ctx context.Context,
	event MessageEvent,
	raw *discordgo.Message,
) {
	logger := o.logger.With(
		"channel_id", event.ChannelID,
		"user_id", event.AuthorID,
		"message_id", event.MessageID,
	)
	ctx = WithLogger(ctx, logger)

	if IsResetAttempt(event.Content) {
		_, err := o.discord.session.ChannelMessageSend(
			event.ChannelID,
			DefaultResetRefusalMessage,
			discordgo.WithContext(ctx),
		)
		if err != nil {
			logger.ErrorContext(ctx, "error refusing reset", tint.Err(err))
		}
		return
	}

	stripped := StripLeadingMention(event.Content, o.botUserID())
	if strings.HasPrefix(stripped, activateCommandPrefix) {
		o.handleActivateCommand(ctx, event)
		return
	}
	if strings.HasPrefix(stripped, deactivateCommandPrefix) {
		o.handleDeactivateCommand(ctx, event)
		return
	}

	if !o.triggers.ShouldRespond(ctx, event) {
		return
	}

	messageLog := NewMessageLog(raw)
	_ = o.db.Create(ctx, &messageLog)

	// bot-to-bot storm damper
	if event.AuthorBot {
		sleepContext(ctx, o.config.Chat.BotReplyDelay)
	}

	if admitted, retryIn := o.rateLimiter.Admit(event.AuthorID); !admitted {
		logger.InfoContext(ctx, "rate limited", "retry_in", retryIn)
		_, err := o.discord.session.ChannelMessageSendReply(
			event.ChannelID,
			DefaultRateLimitMessage,
			&discordgo.MessageReference{
				MessageID: event.MessageID,
				ChannelID: event.ChannelID,
				GuildID:   event.GuildID,
			},
			discordgo.WithContext(ctx),
		)
		if err != nil {
			logger.ErrorContext(ctx, "error sending rate limit notice", tint.Err(err))
		}
		return
	}

	key := o.contexts.KeyFor(event.ChannelID, event.AuthorID)
	convo := o.contexts.Get(key)
	convo.Lock()
	defer convo.Unlock()

	prompt := o.composer.BuildPrompt(ctx, convo.Turns(), event)

	if err := o.discord.session.ChannelTyping(
		event.ChannelID,
		discordgo.WithContext(ctx),
	); err != nil {
		logger.WarnContext(ctx, "unable to show typing indicator", tint.Err(err))
	}
	sleepContext(ctx, o.config.Chat.TypingDelay)

	started := time.Now()
	reply, completionErr := o.completions.Complete(ctx, prompt, event.AuthorID)

	completionLog := CompletionLog{
		ChannelID:          event.ChannelID,
		UserID:             event.AuthorID,
		Model:              o.config.OpenAI.Model,
		PromptMessageCount: len(prompt),
		ResponseContent:    reply,
		DurationMS:         time.Since(started).Milliseconds(),
	}
	if completionErr != nil {
		completionLog.Error = completionErr.Error()
		reply = RandomFallbackMessage()
	}
	_ = o.db.Create(ctx, &completionLog)

	if err := o.dispatcher.Deliver(ctx, event, reply); err != nil {
		logger.ErrorContext(ctx, "delivery failed", tint.Err(err))
	}

	convo.Append(
		Turn{
			Speaker:   event.AuthorName,
			Content:   o.composer.renderContent(event),
			Bot:       event.AuthorBot,
			MessageID: event.MessageID,
			Timestamp: event.Timestamp,
		},
	)
	if completionErr == nil {
		convo.Append(
			Turn{
				Speaker:   o.botDisplayName(),
				Content:   reply,
				Bot:       true,
				Timestamp: time.Now(),
			},
		)
	}
}

func (o *Otahun) handleActivateCommand(ctx context.Context, event MessageEvent) {
	content := alreadyActivatedMessage
	if o.activations.Activate(event.ChannelID) {
		content = activateCommandMessage
	}
	if _, err := o.discord.session.ChannelMessageSend(
		event.ChannelID,
		content,
		discordgo.WithContext(ctx),
	); err != nil {
		o.logger.ErrorContext(ctx, "error sending activation notice", tint.Err(err))
	}
}

func (o *Otahun) handleDeactivateCommand(ctx context.Context, event MessageEvent) {
	content := notCurrentlyActivatedMessage
	if o.activations.Deactivate(event.ChannelID) {
		content = deactivateCommandMessage
	}
	if _, err := o.discord.session.ChannelMessageSend(
		event.ChannelID,
		content,
		discordgo.WithContext(ctx),
	); err != nil {
		o.logger.ErrorContext(ctx, "error sending deactivation notice", tint.Err(err))
	}
}
