package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("PG_DSN", "")
	t.Setenv("ALGOPACK_TOKEN", "")

	dir := t.TempDir()
	path := writeFile(t, dir, "collector.yaml", "Env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsTestEnv())
	assert.Equal(t, 10, cfg.Postgres.MaxOpen)
	assert.Equal(t, 500, cfg.Algopack.PageLimit)
	assert.Equal(t, 3, cfg.Algopack.RateLimitRetries)
	assert.Equal(t, 60, cfg.Algopack.RateLimitBackoff)

	// No universe file configured: the built-in universe applies.
	require.NotNil(t, cfg.Universe.Value)
	assert.Len(t, cfg.Universe.Value.OITickers, 65)

	assert.Error(t, cfg.RequirePostgres())
	assert.Error(t, cfg.RequireAlgopack())
}

func TestLoadEnvFallbacks(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("PG_DSN", "postgres://localhost:5432/moex")
	t.Setenv("ALGOPACK_TOKEN", "secret")

	dir := t.TempDir()
	path := writeFile(t, dir, "collector.yaml", "Env: prod\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, cfg.RequirePostgres())
	require.NoError(t, cfg.RequireAlgopack())
	assert.Equal(t, "postgres://localhost:5432/moex", cfg.Postgres.DSN)
	assert.Equal(t, "secret", cfg.Algopack.Token)
}

func TestLoadExplicitValuesWinOverEnv(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("PG_DSN", "postgres://env/db")

	dir := t.TempDir()
	path := writeFile(t, dir, "collector.yaml", `Env: dev
Postgres:
  DSN: postgres://file/db
Algopack:
  Token: from-file
  PageLimit: 100
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://file/db", cfg.Postgres.DSN)
	assert.Equal(t, "from-file", cfg.Algopack.Token)
	assert.Equal(t, 100, cfg.Algopack.PageLimit)
}

func TestLoadUniverseSection(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")

	dir := t.TempDir()
	writeFile(t, dir, "universe.yaml", "oi_tickers:\n  - Si\n  - RI\n")
	path := writeFile(t, dir, "collector.yaml", `Env: test
Universe:
  File: universe.yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Universe.Value)
	assert.Equal(t, []string{"Si", "RI"}, cfg.Universe.Value.OITickers)
	assert.Equal(t, filepath.Join(dir, "universe.yaml"), cfg.Universe.File)
}

func TestLoadRejectsUnknownEnv(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")

	dir := t.TempDir()
	path := writeFile(t, dir, "collector.yaml", "Env: staging\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "env must be one of")
}
