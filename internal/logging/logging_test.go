package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONCarriesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Service: "fcfs-booking", Env: "test", Level: "info", Format: "json"})

	log.Info().Str("slot_id", "s-1").Msg("claimed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "fcfs-booking", line["service"])
	assert.Equal(t, "test", line["env"])
	assert.Equal(t, "s-1", line["slot_id"])
	assert.Equal(t, "claimed", line["message"])
}

func TestNew_LevelFiltersAndBadLevelFallsBack(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Level: "warn", Format: "json"})
	log.Info().Msg("dropped")
	assert.Empty(t, buf.Bytes())
	log.Warn().Msg("kept")
	assert.NotEmpty(t, buf.Bytes())

	buf.Reset()
	log = New(&buf, Options{Level: "not-a-level", Format: "json"})
	log.Info().Msg("info still passes on fallback")
	assert.NotEmpty(t, buf.Bytes())
}
