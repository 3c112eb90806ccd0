package log_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"

	"github.com/aleksa2808/bevy-networked-platformer/log"
)

func TestNewWritesJSONWithTimestamp(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := log.New(buf, zerolog.InfoLevel, false)
	logger.Info().Str("k", "v").Msg("hello")

	line := buf.String()
	assert.Check(t, strings.Contains(line, `"k":"v"`))
	assert.Check(t, strings.Contains(line, `"message":"hello"`))
	assert.Check(t, strings.Contains(line, `"time"`))
}

func TestNewFiltersBelowLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := log.New(buf, zerolog.WarnLevel, false)
	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	line := buf.String()
	assert.Check(t, !strings.Contains(line, "dropped"))
	assert.Check(t, strings.Contains(line, "kept"))
}

func TestComponentAndPlayerTags(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := log.New(buf, zerolog.DebugLevel, false)

	component := log.Component(logger, "client")
	component.Debug().Msg("tick")
	assert.Check(t, strings.Contains(buf.String(), `"component":"client"`))

	buf.Reset()
	player := log.Player(logger, 2)
	player.Debug().Msg("joined")
	assert.Check(t, strings.Contains(buf.String(), `"player":2`))
}
