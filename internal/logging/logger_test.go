package logging_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/stretchr/testify/assert"
)

func TestNewWithFormat_RenamesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithFormat(&buf, slog.LevelInfo, "json")

	logger.Info("commit failed", "error", errors.New("boom"))

	assert.Contains(t, buf.String(), `"err":"boom"`)
	assert.NotContains(t, buf.String(), `"error"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logging.ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel("loud"))
}
