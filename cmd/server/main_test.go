package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linechat/internal/server"
)

func parse(t *testing.T, args ...string) (server.Config, error) {
	t.Helper()
	cmd := &cobra.Command{Use: "linechat"}
	opts := &options{}
	bindFlags(cmd.Flags(), opts)

	require.NoError(t, cmd.Flags().Parse(args))
	return buildConfig(cmd, opts, cmd.Flags().Args())
}

func TestBuildConfigDefaults(t *testing.T) {
	t.Setenv("CHAT_PORT", "")
	cfg, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, server.DefaultPort, cfg.Port)
	assert.Equal(t, server.DefaultHTTPAddr, cfg.HTTPAddr)
}

func TestBuildConfigPortPrecedence(t *testing.T) {
	t.Setenv("CHAT_PORT", "5000")

	cfg, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port, "environment overrides the default")

	cfg, err = parse(t, "6000")
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Port, "argument overrides the environment")

	t.Setenv("CHAT_PORT", "bogus")
	cfg, err = parse(t, "5001")
	require.NoError(t, err, "an unused CHAT_PORT is never parsed")
	assert.Equal(t, 5001, cfg.Port)
}

func TestBuildConfigFlags(t *testing.T) {
	t.Setenv("CHAT_PORT", "")
	cfg, err := parse(t, "--host", "127.0.0.1", "--http-addr", "", "--idle-timeout", "2m", "--reap-interval", "5s", "--max-line", "512", "4100")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4100", cfg.Addr())
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.ReapInterval)
	assert.Equal(t, 512, cfg.MaxLineSize)
}

func TestBuildConfigInvalidPort(t *testing.T) {
	t.Setenv("CHAT_PORT", "")
	_, err := parse(t, "notaport")
	assert.Error(t, err)

	t.Setenv("CHAT_PORT", "bogus")
	_, err = parse(t)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	assert.NotNil(t, newLogger("debug"))
	assert.NotNil(t, newLogger("nonsense"))
}
