package natspub

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoi-validoku/p2000/errors"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, DefaultSubject, cfg.Subject)

	cfg = Config{URL: "nats://example:4222", Subject: "alerts.mirror"}.withDefaults()
	assert.Equal(t, "nats://example:4222", cfg.URL)
	assert.Equal(t, "alerts.mirror", cfg.Subject)
}

func TestNewUnreachableServer(t *testing.T) {
	_, err := New(Config{Enabled: true, URL: "nats://127.0.0.1:1"}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
