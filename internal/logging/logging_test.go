package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_Level(t *testing.T) {
	log := New(Config{Level: "warn"})
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	log := New(Config{Level: "chatty"})
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info().Str("term", "pasta").Msg("added search term")

	assert.Contains(t, buf.String(), `"term":"pasta"`)
	assert.Contains(t, buf.String(), `"added search term"`)
}
