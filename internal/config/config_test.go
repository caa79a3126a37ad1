package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_JWT_HS_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8086, cfg.App.Port)
	assert.Equal(t, "8086", cfg.App.PortString())
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "users", cfg.Mongo.UsersCollection)
	assert.Equal(t, "messages", cfg.Mongo.MessagesCollection)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 25*time.Second, cfg.PingInterval)
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := writeConfig(t, `
app:
  port: 9000
store:
  driver: mongo
mongo:
  uri: mongodb://localhost:27017
  db: chat
  connect_timeout_seconds: 3
kafka:
  brokers: ["localhost:9092"]
  topic_message_sent: message.sent
jwt:
  alg: HS256
  hs_secret: from-file
`)
	t.Setenv("APP_APP_PORT", "9100")
	t.Setenv("APP_MONGO_DB", "chat_test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.App.Port)
	assert.Equal(t, DriverMongo, cfg.Store.Driver)
	assert.Equal(t, "chat_test", cfg.Mongo.DB)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "from-file", cfg.JWT.HSSecret)
	assert.True(t, cfg.Kafka.Enabled())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown driver": "store:\n  driver: sqlite\njwt:\n  hs_secret: x\n",
		"mongo no uri":   "store:\n  driver: mongo\njwt:\n  hs_secret: x\n",
		"redis bad addr": "store:\n  driver: redis\nredis:\n  addr: localhost\njwt:\n  hs_secret: x\n",
		"hs256 secret":   "jwt:\n  alg: HS256\n",
		"rs256 key":      "jwt:\n  alg: RS256\n",
		"unknown alg":    "jwt:\n  alg: none\n",
		"bad port":       "app:\n  port: 70000\njwt:\n  hs_secret: x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
