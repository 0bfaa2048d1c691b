package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[engine]
instance_id = "engine-a"
freshness_window = "30s"

[database]
driver = "sqlite"
dsn = "file.db"

[coordination]
backend = "memory"
lease_ttl = "6s"

[risk]
risk_fraction = 0.02
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	Set(nil)
	path := writeConfig(t, sampleTOML)
	require.NoError(t, Load(path))

	c := Get()
	assert.Equal(t, "engine-a", c.Engine.InstanceID)
	assert.Equal(t, 30*time.Second, c.Engine.FreshnessWindow)
	assert.Equal(t, "sqlite", c.Database.Driver)
	assert.Equal(t, "memory", c.Coordination.Backend)
	assert.Equal(t, 6*time.Second, c.Coordination.LeaseTTL)
	assert.Equal(t, 0.02, c.Risk.RiskFraction)

	// 未配置的字段保留默认值
	assert.Equal(t, 0.005, c.Risk.VolFraction)
	assert.Equal(t, 60*time.Second, c.Engine.FingerprintBucket)
	assert.Equal(t, 3, c.Pyramid.MaxLevels)
}

func TestLoad_EnvOverrides(t *testing.T) {
	Set(nil)
	t.Setenv(EnvDatabaseDSN, "env.db")
	t.Setenv(EnvNATS, "")

	path := writeConfig(t, sampleTOML)
	require.NoError(t, Load(path))

	c := Get()
	assert.Equal(t, "env.db", c.Database.DSN)
	assert.Equal(t, "nats://localhost:4222", c.NATS.Endpoint)
}

func TestLoad_KeepsInstanceIDOnReload(t *testing.T) {
	Set(nil)
	path := writeConfig(t, sampleTOML)
	require.NoError(t, Load(path))

	changed := writeConfig(t, `
[engine]
instance_id = "engine-b"
`)
	require.NoError(t, Load(changed))
	assert.Equal(t, "engine-a", Get().Engine.InstanceID)
}

func TestLoad_MissingFile(t *testing.T) {
	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.toml")))
}

func TestLoadEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LIVE_ENGINE_TEST_KEY=hello\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("LIVE_ENGINE_TEST_KEY") })

	LoadEnv(envFile, filepath.Join(t.TempDir(), "absent.env"))
	assert.Equal(t, "hello", os.Getenv("LIVE_ENGINE_TEST_KEY"))
}
