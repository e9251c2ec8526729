package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gastos/internal/config"
)

func TestCreateBackend(t *testing.T) {
	f := NewFactory(nil)
	ctx := context.Background()

	res, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "db", "g.db")})
	require.NoError(t, err)
	require.NotNil(t, res.Cleanup)
	require.NotNil(t, res.Ping)
	assert.NoError(t, res.Ping(ctx))
	assert.NoError(t, res.Cleanup())

	res, err = f.CreateBackend(ctx, Config{Type: MemoryBackend, DataDirectory: t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, res.Cleanup)
	cats, err := res.Store.ListCategories(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, cats)

	_, err = f.CreateBackend(ctx, Config{Type: "sheets"})
	assert.Error(t, err)
	_, err = f.CreateBackend(ctx, Config{Type: SQLiteBackend})
	assert.Error(t, err)
}

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	assert.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{DataBackend: "memory", DataDir: "d"})
	require.NoError(t, err)
	assert.Equal(t, MemoryBackend, cfg.Type)
	assert.Equal(t, "d", cfg.DataDirectory)

	_, err = FromAppConfig(&config.Config{DataBackend: "bogus"})
	assert.Error(t, err)
}
