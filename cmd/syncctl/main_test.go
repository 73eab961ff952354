package main

import (
	"testing"
	"time"

	"github.com/alumnet/syncengine"
	"github.com/golang-jwt/jwt/v5"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetConfigValue(t *testing.T) {
	t.Run("known keys", func(t *testing.T) {
		cfg := &Config{}
		require.NoError(t, setConfigValue(cfg, "default.chat_url", "http://chat"))
		require.NoError(t, setConfigValue(cfg, "default.log_json", "true"))
		require.NoError(t, setConfigValue(cfg, "auth.token", "tok"))
		assert.Equal(t, "http://chat", cfg.Default.ChatURL)
		assert.True(t, cfg.Default.LogJSON)
		assert.Equal(t, "tok", cfg.Auth.Token)
	})

	t.Run("rejected keys", func(t *testing.T) {
		cfg := &Config{}
		for _, key := range []string{"token", "default.nope", "auth.nope", "other.token"} {
			assert.Error(t, setConfigValue(cfg, key, "x"), key)
		}
		assert.Error(t, setConfigValue(cfg, "default.log_json", "maybe"))
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SYNCENGINE_TOKEN":     "from-env",
		"SYNCENGINE_API_URL":   "http://api",
		"SYNCENGINE_LOG_LEVEL": "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &Config{Default: ConfigDefault{LogLevel: "warn"}, Auth: ConfigAuth{Token: "from-file"}}
	overridden, err := applyEnv(cfg, lookup)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"auth.token": true, "default.api_url": true}, overridden)
	assert.Equal(t, "from-env", cfg.Auth.Token)
	assert.Equal(t, "http://api", cfg.Default.APIURL)
	assert.Equal(t, "warn", cfg.Default.LogLevel, "empty values do not override")

	env["SYNCENGINE_LOG_JSON"] = "yes please"
	_, err = applyEnv(cfg, lookup)
	assert.Error(t, err)
}

func testToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestApplyEnvToken(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	token := testToken(t, jwt.MapClaims{"id": "u-env", "exp": exp.Unix()})
	file := Config{Auth: ConfigAuth{Token: "file-token", UserID: "u-file", TokenExpires: "2020-01-01T00:00:00Z"}}

	t.Run("identity follows the overriding token", func(t *testing.T) {
		cfg := file
		_, err := applyEnv(&cfg, mapLookup(map[string]string{"SYNCENGINE_TOKEN": token}))
		require.NoError(t, err)
		assert.Equal(t, "u-env", cfg.Auth.UserID)
		assert.Equal(t, exp.Format(time.RFC3339), cfg.Auth.TokenExpires)
	})

	t.Run("explicit user id wins", func(t *testing.T) {
		cfg := file
		_, err := applyEnv(&cfg, mapLookup(map[string]string{"SYNCENGINE_TOKEN": token, "SYNCENGINE_USER_ID": "u-explicit"}))
		require.NoError(t, err)
		assert.Equal(t, "u-explicit", cfg.Auth.UserID)
	})

	t.Run("opaque token drops the stale identity", func(t *testing.T) {
		cfg := file
		_, err := applyEnv(&cfg, mapLookup(map[string]string{"SYNCENGINE_TOKEN": "opaque"}))
		require.NoError(t, err)
		assert.Empty(t, cfg.Auth.UserID)
		assert.Empty(t, cfg.Auth.TokenExpires)
	})

	t.Run("file identity kept without an override", func(t *testing.T) {
		cfg := file
		_, err := applyEnv(&cfg, mapLookup(nil))
		require.NoError(t, err)
		assert.Equal(t, file, cfg)
	})
}

func TestEffectiveConfig(t *testing.T) {
	byKey := func(entries []configEntry) map[string]configEntry {
		out := make(map[string]configEntry, len(entries))
		for _, e := range entries {
			out[e.Key] = e
		}
		return out
	}

	t.Run("environment overrides the file", func(t *testing.T) {
		token := testToken(t, jwt.MapClaims{"id": "u-env"})
		file := &Config{
			Default: ConfigDefault{ChatURL: "http://chat.file", LogJSON: true},
			Auth:    ConfigAuth{Token: "file-token-0123456789", UserID: "u-file", Email: "a@b.c"},
		}
		entries, err := effectiveConfig(file, mapLookup(map[string]string{
			"SYNCENGINE_TOKEN":   token,
			"SYNCENGINE_API_URL": "http://api.env",
		}))
		require.NoError(t, err)
		got := byKey(entries)

		assert.Equal(t, configEntry{Key: "default.chat_url", Value: "http://chat.file", Source: "file"}, got["default.chat_url"])
		assert.Equal(t, configEntry{Key: "default.api_url", Value: "http://api.env", Source: "env"}, got["default.api_url"])
		assert.Equal(t, configEntry{Key: "default.notification_url", Value: syncengine.DefaultNotificationURL, Source: "default"}, got["default.notification_url"])
		assert.Equal(t, configEntry{Key: "default.log_level", Value: "info", Source: "default"}, got["default.log_level"])
		assert.Equal(t, configEntry{Key: "default.log_json", Value: "true", Source: "file"}, got["default.log_json"])
		assert.Equal(t, configEntry{Key: "auth.token", Value: maskToken(token), Source: "env"}, got["auth.token"])
		assert.Equal(t, configEntry{Key: "auth.user_id", Value: "u-env", Source: "token"}, got["auth.user_id"])
		assert.Equal(t, configEntry{Key: "auth.token_expires", Value: "-", Source: "token"}, got["auth.token_expires"])
		assert.Equal(t, configEntry{Key: "auth.email", Value: "a@b.c", Source: "file"}, got["auth.email"])
		assert.Equal(t, "file-token-0123456789", file.Auth.Token, "file config is not modified")
	})

	t.Run("empty config", func(t *testing.T) {
		entries, err := effectiveConfig(&Config{}, mapLookup(nil))
		require.NoError(t, err)
		got := byKey(entries)
		assert.Len(t, entries, len(configKeys)+1)
		assert.Equal(t, configEntry{Key: "auth.token", Value: "-", Source: "unset"}, got["auth.token"])
		assert.Equal(t, configEntry{Key: "default.log_json", Value: "false", Source: "default"}, got["default.log_json"])
	})

	t.Run("invalid override fails", func(t *testing.T) {
		_, err := effectiveConfig(&Config{}, mapLookup(map[string]string{"SYNCENGINE_LOG_JSON": "sometimes"}))
		assert.Error(t, err)
	})
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := Config{
		Default: ConfigDefault{ChatURL: "http://chat", LogJSON: true},
		Auth:    ConfigAuth{Token: "tok", UserID: "u1"},
	}
	data, err := toml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[auth]")

	var got Config
	require.NoError(t, toml.Unmarshal(data, &got))
	assert.Equal(t, cfg, got)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "(none)", valueOrDefault("", "(none)"))
	assert.Equal(t, "abc", valueOrDefault("abc", "(none)"))
	assert.NotContains(t, maskToken("eyJhbGciOiJIUzI1NiJ9.payload.signature"), "payload")
}
