package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, DriverMongo, cfg.StoreDriver)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "Asia/Jakarta", cfg.Timezone)
	assert.Equal(t, 2*time.Second, cfg.LockWait)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.MongoTransactions)
}

func TestLoad_DotEnvThenEnvironment(t *testing.T) {
	path := writeEnvFile(t, `
# local overrides
STORE_DRIVER=mysql
HTTP_ADDR=":9090"
KAFKA_BROKERS=k1:9092, k2:9092
lock_wait=500ms
`)
	t.Setenv("HTTP_ADDR", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMySQL, cfg.StoreDriver)
	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 500*time.Millisecond, cfg.LockWait)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"driver":   "STORE_DRIVER=postgres",
		"bool":     "MONGO_TRANSACTIONS=maybe",
		"duration": "LOCK_TTL=soon",
		"negative": "LOCK_WAIT=-1s",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeEnvFile(t, content))
			assert.Error(t, err)
		})
	}
}
