package otahun

import (
	"log/slog"
	"os"
	"testing"

	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
)

func testBotID() string { return testBotUserID }

func testLogger() *slog.Logger {
	return slog.New(
		tint.NewHandler(
			os.Stdout,
			&tint.Options{Level: slog.LevelDebug, AddSource: true},
		),
	)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "hél", truncate("héllo", 3), "truncates runes, not bytes")
	assert.Equal(t, "", truncate("", 5))
}
