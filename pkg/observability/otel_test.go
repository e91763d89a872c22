package observability

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitOTel_Disabled(t *testing.T) {
	logger, hook := test.NewNullLogger()
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, logger)
	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.Equal(t, "OpenTelemetry is disabled", hook.LastEntry().Message)
}

func TestInitOTel_RequiresEndpoint(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := InitOTel(context.Background(), OTelConfig{Enabled: true}, logger)
	assert.Error(t, err)
}

func TestInitOTel_ShutdownRoundTrip(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	// Exporters connect lazily, so construction succeeds without a collector
	providers, err := InitOTel(ctx, OTelConfig{
		Enabled:     true,
		Endpoint:    "127.0.0.1:4317",
		ServiceName: "lookout-test",
		Insecure:    true,
	}, logger)
	require.NoError(t, err)
	require.NotNil(t, providers)

	shutdownCtx, cancel := context.WithTimeout(ctx, 0)
	defer cancel()
	_ = ShutdownOTel(shutdownCtx, providers, logger)
}

func TestShutdownOTel_Nil(t *testing.T) {
	logger, _ := test.NewNullLogger()
	assert.NoError(t, ShutdownOTel(context.Background(), nil, logger))
}
