package otahun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// MessageLog is an audit record of an inbound message the bot decided
// to respond to.
type MessageLog struct {
	ModelUintID
	ModelUnixTime
	MessageID           string `json:"message_id"`
	Content             string `json:"content"`
	ChannelID           string `json:"channel_id"`
	GuildID             string `json:"guild_id"`
	UserID              string `json:"user_id"`
	Username            string `json:"username"`
	GlobalName          string `json:"global_name"`
	ReferencedMessageID string `json:"referenced_message_id"`
	Payload             string `json:"payload"`
}

func NewMessageLog(m *discordgo.Message) MessageLog {
	user := m.Author
	if user == nil && m.Member != nil {
		user = m.Member.User
	}
	ml := MessageLog{
		MessageID: m.ID,
		Content:   m.Content,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
	}

	if user != nil {
		ml.UserID = user.ID
		ml.Username = user.Username
		ml.GlobalName = user.GlobalName
	}

	if m.MessageReference != nil {
		ml.ReferencedMessageID = m.MessageReference.MessageID
	} else if m.ReferencedMessage != nil {
		ml.ReferencedMessageID = m.ReferencedMessage.ID
	}

	data, err := json.Marshal(m)
	if err == nil {
		ml.Payload = string(data)
	}
	return ml
}

// CompletionLog is an audit record of one completion API call.
type CompletionLog struct {
	ModelUintID
	ModelUnixTime
	ChannelID          string `json:"channel_id"`
	UserID             string `json:"user_id"`
	Model              string `json:"model"`
	PromptMessageCount int    `json:"prompt_message_count"`
	ResponseContent    string `json:"response_content"`
	DurationMS         int64  `json:"duration_ms"`
	Error              string `json:"error"`
}

// DBI is the database API used by the bot. The default implementation
// serializes writes, which SQLite requires.
type DBI interface {
	DB() *gorm.DB
	Lock()
	Unlock()

	// Create inserts the given record, holding the write lock
	Create(ctx context.Context, value any) error
}

type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewDatabase wraps a GORM connection. Concurrent writes should only
// be enabled for postgres.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Lock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *database) Unlock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Unlock()
}

func (d *database) Create(ctx context.Context, value any) error {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	if err := d.db.WithContext(ctx).Create(value).Error; err != nil {
		d.logger.ErrorContext(
			ctx,
			"insert failed",
			"record_type", fmt.Sprintf("%T", value),
			tint.Err(err),
		)
		return err
	}
	return nil
}

// CreateDB initializes a database connection based on the provided
// database type and connection string, and migrates the audit models.
func CreateDB(
	ctx context.Context,
	databaseType string,
	connString string,
) (*gorm.DB, error) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, DefaultDatabaseSlowThreshold)
	dbLogger := slog.New(handler)
	dbLogger.InfoContext(
		ctx,
		"initializing database",
		"database_type", databaseType,
		"database", connString,
	)
	db, err := getDB(databaseType, connString, gormLogger)
	if err != nil {
		return db, err
	}

	if databaseType == dbTypeSQLite {
		sqlDB, sqlErr := db.DB()
		if sqlErr != nil {
			return db, sqlErr
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if err = db.WithContext(ctx).Exec(pragma).Error; err != nil {
				return db, err
			}
		}
	}

	txn := db.WithContext(ctx).Begin()

	err = txn.Migrator().AutoMigrate(
		&MessageLog{},
		&CompletionLog{},
	)
	if err != nil {
		return db, err
	}

	return db, txn.Commit().Error
}

func getDB(
	databaseType string,
	connString string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(connString)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(
			sqlite.Open(connString),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(connString), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
