package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsInert(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: false}, nil)
	require.NoError(t, err)

	// Tracer and meter still work against the global no-op providers.
	_, span := p.Tracer("test").Start(context.Background(), "op")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("shown", "k", "v")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "v", entry["k"])
}

func TestNewLoggerDefaults(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewLogger(&buf, "", "")
	require.NoError(t, err)
}

func TestNewLoggerRejectsUnknown(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewLogger(&buf, "loud", "json")
	assert.Error(t, err)

	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "vigild", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
}
