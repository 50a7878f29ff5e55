package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"epg_aggregator/internal/config"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)
	return path
}

func validConfig() *config.Config {
	return &config.Config{
		Sources:       []string{"https://example.com/epg.xml", "http://foo.bar/guide.xml.gz"},
		DefaultTTL:    3600,
		Port:          8080,
		FetchTimeout:  30,
		Concurrency:   4,
		RetryMax:      1,
		CacheCapacity: 16,
		MaxBodyMB:     8,
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	json := `{
		"sources": ["https://example.com/epg.xml", " http://foo.bar/guide.xml.gz ", ""],
		"default_ttl": 600,
		"fetch_timeout": 15
	}`
	path := writeTempConfig(t, "config.json", json)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/epg.xml", "http://foo.bar/guide.xml.gz"}, cfg.Sources)
	require.Equal(t, 600, cfg.DefaultTTL)
	require.Equal(t, 15*time.Second, cfg.FetchTimeoutDuration())
	require.Equal(t, config.DefaultConcurrency, cfg.Concurrency)
	require.Equal(t, config.DefaultPort, cfg.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_YAML(t *testing.T) {
	yaml := "sources:\n  - https://example.com/a.xml\nport: 9000\ncache_capacity: 3\n"
	path := writeTempConfig(t, "config.yaml", yaml)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a.xml"}, cfg.Sources)
	require.Equal(t, ":9000", cfg.Address())
	require.Equal(t, 3, cfg.CacheCapacity)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, config.DefaultSources, cfg.Sources)
	require.Equal(t, time.Hour, cfg.TTL())
	require.Equal(t, int64(512<<20), cfg.MaxBodyBytes())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("EPG_DEFAULT_TTL", "120")
	t.Setenv("EPG_PORT", "8181")
	t.Setenv("EPG_MAX_BODY_MB", "64")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 120, cfg.DefaultTTL)
	require.Equal(t, 8181, cfg.Port)
	require.Equal(t, int64(64<<20), cfg.MaxBodyBytes())
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := config.LoadConfig("/nonexistent/config.json")
	require.Error(t, err)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeTempConfig(t, "config.json", `{ invalid json }`)
	_, err := config.LoadConfig(path)
	require.Error(t, err)
}

func TestValidate_Success(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_NoSources(t *testing.T) {
	cfg := validConfig()
	cfg.Sources = nil
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no EPG sources")
}

func TestValidate_InvalidURL(t *testing.T) {
	for _, u := range []string{"not-a-url", "ftp://example.com/epg.xml", "http://"} {
		cfg := validConfig()
		cfg.Sources = []string{u}
		err := cfg.Validate()
		require.Error(t, err, u)
		require.Contains(t, err.Error(), "invalid EPG URL")
	}
}

func TestValidate_Limits(t *testing.T) {
	cases := map[string]func(*config.Config){
		"ttl":         func(c *config.Config) { c.DefaultTTL = 0 },
		"timeout":     func(c *config.Config) { c.FetchTimeout = 0 },
		"concurrency": func(c *config.Config) { c.Concurrency = 0 },
		"retry":       func(c *config.Config) { c.RetryMax = -1 },
		"capacity":    func(c *config.Config) { c.CacheCapacity = 0 },
		"port":        func(c *config.Config) { c.Port = 70000 },
		"max body":    func(c *config.Config) { c.MaxBodyMB = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
