package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/igtlctl/internal/protocol"
	"github.com/danmuck/igtlctl/internal/protocol/session"
	"github.com/danmuck/igtlctl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "igtlctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
poll_interval = "20ms"
admin_token = " s3cret "
cors_origins = [" http://localhost:3000 ", ""]

[session]
accept_poll = "250ms"
reconnect = false
crc_policy = "ENFORCE"

[[connectors]]
name = "tracker"
role = "Server"
port = 18944

[[connectors]]
name = "scanner"
role = "client"
host = "10.0.0.5"
port = 18946
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	require.Equal(t, 20*time.Millisecond, cfg.PollInterval)
	require.Equal(t, def.AdminAddr, cfg.AdminAddr)
	require.Equal(t, "s3cret", cfg.AdminToken)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.CorsOrigins)
	require.Equal(t, 250*time.Millisecond, cfg.Session.AcceptPoll)
	require.Equal(t, def.Session.ConnectTimeout, cfg.Session.ConnectTimeout)
	require.False(t, cfg.Session.Reconnect)
	require.Equal(t, session.CRCEnforce, cfg.Session.CRCPolicy)
	require.Equal(t, def.Session.Limits, cfg.Session.Limits)
	require.Equal(t, []ConnectorConfig{
		{Name: "tracker", Role: RoleServer, Port: 18944},
		{Name: "scanner", Role: RoleClient, Host: "10.0.0.5", Port: 18946},
	}, cfg.Connectors)
}

func TestLoadRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"duration":  `poll_interval = "soon"`,
		"crc":       "[session]\ncrc_policy = \"strict\"",
		"role":      "[[connectors]]\nname = \"a\"\nrole = \"peer\"\nport = 1",
		"port":      "[[connectors]]\nname = \"a\"\nrole = \"server\"\nport = 0",
		"host":      "[[connectors]]\nname = \"a\"\nrole = \"client\"\nport = 1",
		"name":      "[[connectors]]\nrole = \"server\"\nport = 1",
		"duplicate": "[[connectors]]\nname = \"a\"\nrole = \"server\"\nport = 1\n[[connectors]]\nname = \"a\"\nrole = \"server\"\nport = 2",
		"syntax":    `poll_interval = `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestValidateWrapsInvalidConfiguration(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	cfg.PollInterval = 0
	require.ErrorIs(t, cfg.Validate(), protocol.ErrInvalidConfiguration)

	cfg = Default()
	cfg.Connectors = []ConnectorConfig{{Name: "x", Role: RoleClient, Port: 18944}}
	require.ErrorIs(t, cfg.Validate(), ErrInvalid)
	require.ErrorIs(t, cfg.Validate(), errMissingHost)
}

func TestRenderLoadRoundTrip(t *testing.T) {
	testlog.Start(t)
	data, err := Render(Example())
	require.NoError(t, err)
	path := writeConfig(t, string(data))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Example(), cfg)
}

func TestWriteTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, WriteTemplate(path, false))
	require.Error(t, WriteTemplate(path, false))
	require.NoError(t, WriteTemplate(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Connectors, 2)
}
