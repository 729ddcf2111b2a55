package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization = Bearer x ,broken,=nokey,tenant=pool")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "tenant": "pool"}, got)
	require.Empty(t, ParseHeaders(""))
}

func TestInitValidatesConfig(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
	_, err = Init(context.Background(), Config{ServiceName: "poold", SampleRatio: 2})
	require.Error(t, err)
}

func TestInitWithoutSignalsInstallsPropagators(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "poold"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.NotNil(t, Tracer())
}
