package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureFormat(t *testing.T) {
	defer Configure("logfmt", "")

	Configure("json", "")
	require.Equal(t, "json", logFormat)
	require.False(t, debugEnabled)

	Configure("verbose", "debug")
	require.Equal(t, "logfmt", logFormat)
	require.True(t, debugEnabled)

	Configure("simple", "info")
	require.Equal(t, "logfmt", logFormat)
	require.False(t, debugEnabled)
}

func TestLoggerCachedPerRequestID(t *testing.T) {
	first := getLogger("req-cached")
	second := getLogger("req-cached")
	require.NotNil(t, first)
	// Same underlying logger instance comes back for the same request ID
	got, found := loggerCache.Get("req-cached")
	require.True(t, found)
	require.NotNil(t, second)
	require.NotNil(t, got)
}
