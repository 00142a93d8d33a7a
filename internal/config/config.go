package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr       string
	CORSOrigin string
	// Hasura
	HasuraEndpoint    string
	HasuraAdminSecret string
	HasuraJWTSecret   string
	// AuthToken is the bearer token the CLI sends on behalf of its user.
	AuthToken string
	// Gateway
	GatewayTimeout time.Duration
	GatewayBreaker bool
	// Reading sessions
	RedisURL   string
	SessionTTL time.Duration
	// Meilisearch, disabled when MeiliURL is empty
	MeiliURL string
	MeiliKey string
	// Apache Tika, work uploads are disabled when TikaURL is empty
	TikaURL string
	// Logging
	LogLevel  string
	LogFormat string
}

// env names the variables read for each key, in addition to the ESEURI_
// prefixed form viper derives.
var env = map[string][]string{
	"addr":                {"ESEURI_ADDR"},
	"cors_origin":         {"ESEURI_CORS_ORIGIN"},
	"hasura.endpoint":     {"HASURA_GRAPHQL_ENDPOINT"},
	"hasura.admin_secret": {"HASURA_GRAPHQL_ADMIN_SECRET"},
	"hasura.jwt_secret":   {"HASURA_GRAPHQL_JWT_SECRET"},
	"auth.token":          {"ESEURI_AUTH_TOKEN"},
	"gateway.timeout":     {"ESEURI_GATEWAY_TIMEOUT"},
	"gateway.breaker":     {"ESEURI_GATEWAY_BREAKER"},
	"redis.url":           {"REDIS_URL"},
	"session.ttl":         {"ESEURI_SESSION_TTL"},
	"meili.url":           {"MEILI_URL"},
	"meili.key":           {"MEILI_MASTER_KEY"},
	"tika.url":            {"TIKA_URL"},
	"log.level":           {"ESEURI_LOG_LEVEL"},
	"log.format":          {"ESEURI_LOG_FORMAT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":4000")
	v.SetDefault("cors_origin", "*")
	v.SetDefault("hasura.endpoint", "http://localhost:8080")
	v.SetDefault("gateway.timeout", 15*time.Second)
	v.SetDefault("gateway.breaker", true)
	v.SetDefault("session.ttl", 2*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from the optional file at path and the
// environment. Environment values win over the file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ESEURI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range env {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Config{}, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Addr:              v.GetString("addr"),
		CORSOrigin:        v.GetString("cors_origin"),
		HasuraEndpoint:    strings.TrimRight(v.GetString("hasura.endpoint"), "/"),
		HasuraAdminSecret: v.GetString("hasura.admin_secret"),
		HasuraJWTSecret:   v.GetString("hasura.jwt_secret"),
		AuthToken:         v.GetString("auth.token"),
		GatewayTimeout:    getDurationOrDefault(v, "gateway.timeout", 15*time.Second),
		GatewayBreaker:    v.GetBool("gateway.breaker"),
		RedisURL:          v.GetString("redis.url"),
		SessionTTL:        getDurationOrDefault(v, "session.ttl", 2*time.Hour),
		MeiliURL:          v.GetString("meili.url"),
		MeiliKey:          v.GetString("meili.key"),
		TikaURL:           strings.TrimRight(v.GetString("tika.url"), "/"),
		LogLevel:          v.GetString("log.level"),
		LogFormat:         v.GetString("log.format"),
	}
	if cfg.HasuraEndpoint == "" {
		return Config{}, fmt.Errorf("hasura.endpoint is required")
	}
	return cfg, nil
}

// getDurationOrDefault returns duration from config or default value
func getDurationOrDefault(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	if d := v.GetDuration(key); d > 0 {
		return d
	}
	return defaultValue
}
