package telemetry_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camfinder/camfinder/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "camfinder-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
		Logger:         zerolog.Nop(),
	})

	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestInit_Enabled(t *testing.T) {
	ctx := context.Background()

	// The gRPC exporters connect lazily, so no collector is needed.
	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  "camfinder-test",
		Environment:  "test",
		OTLPEndpoint: "127.0.0.1:1",
		Enabled:      true,
		SampleRatio:  0.5,
		Logger:       zerolog.Nop(),
	})

	require.NoError(t, err)
	assert.NotNil(t, provider.TracerProvider)
	assert.NotNil(t, provider.MeterProvider)

	shutdownCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = provider.Shutdown(shutdownCtx)
}

func TestProvider_Shutdown_NilProviders(t *testing.T) {
	provider := &telemetry.Provider{}
	assert.NoError(t, provider.Shutdown(context.Background()))
}
