package database

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSetupCreatesManifestTable(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "manifest.db")
	cfg := DefaultConfig()
	cfg.DSN = dsn

	require.NoError(t, Setup(cfg, quietLogger()))
	defer Close()

	assert.FileExists(t, dsn)
	assert.True(t, MustDB().Migrator().HasTable(&models.CommittedBatch{}))

	require.NoError(t, Close())
	assert.Nil(t, DB)
	assert.Panics(t, func() { MustDB() })
}

func TestOpenUnsupportedType(t *testing.T) {
	_, err := Open(&Config{Type: "oracle"}, quietLogger())
	assert.Error(t, err)
}

func TestEnsureDirSkipsMemory(t *testing.T) {
	assert.NoError(t, ensureDir(":memory:"))
	assert.NoError(t, ensureDir("file:memdb_1?mode=memory"))
}
