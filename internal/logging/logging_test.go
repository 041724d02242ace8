package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/preflight/preflight/internal/logging"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logging.LevelDebug, logging.ParseLevel("debug"))
	assert.Equal(t, logging.LevelWarn, logging.ParseLevel("warn"))
	assert.Equal(t, logging.LevelError, logging.ParseLevel("error"))
	assert.Equal(t, logging.LevelInfo, logging.ParseLevel("bogus"))
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, logging.FormatJSON, logging.ParseFormat("json"))
	assert.Equal(t, logging.FormatHuman, logging.ParseFormat("human"))
	assert.Equal(t, logging.FormatHuman, logging.ParseFormat(""))
}

func TestStdLogger_ImplementsLogger(t *testing.T) {
	var l logging.Logger = logging.New(logging.LevelDebug, logging.FormatHuman)
	l.LogInfo("hello", "key", "value")
	l.LogWarn("careful")
	l.LogError("oops", "err", "boom")
}
