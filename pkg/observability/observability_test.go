package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "creditcore", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Insecure)
}

func TestDisabledProvider(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, &Config{Enabled: false})
	require.NoError(t, err)

	// A disabled provider is a safe no-op for every recording call.
	p.RecordConsumed(ctx, "credit.allocated")
	p.RecordFailure(ctx, "credit.allocated", "transient")
	p.RecordHandleDuration(ctx, "credit.allocated", 5*time.Millisecond)
	p.RecordInFlight(ctx, 1)
	p.RecordInFlight(ctx, -1)

	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(ctx))
}

func TestNilConfigUsesDefaults(t *testing.T) {
	// nil config must not panic before the exporters are dialed; disabled
	// avoids needing a collector in tests.
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	assert.NotNil(t, p)
}
