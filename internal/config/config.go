package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// SenseBoxID is the openSenseMap box whose sensors are ingested and
	// displayed. Required; there is no sensible default.
	SenseBoxID string

	// APIBaseURL is the openSenseMap read API root, without trailing slash.
	APIBaseURL string

	Driver string
	DSN    string

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	// SQLitePath is used when Driver is "sqlite3" and no DSN is set.
	SQLitePath string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// MQTTBroker enables the live measurement feed when non-empty.
	MQTTBroker   string
	MQTTPort     int
	MQTTTopic    string
	MQTTClientID string
}

// LiveFeedEnabled reports whether the optional MQTT live feed is configured.
func (c Config) LiveFeedEnabled() bool {
	return c.MQTTBroker != ""
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8050"
	}

	boxID := strings.TrimSpace(os.Getenv("SENSEBOX_ID"))
	if boxID == "" {
		return Config{}, fmt.Errorf("SENSEBOX_ID is required")
	}

	apiBaseURL := strings.TrimSpace(os.Getenv("OSEM_API_URL"))
	if apiBaseURL == "" {
		apiBaseURL = "https://api.opensensemap.org"
	}
	apiBaseURL = strings.TrimRight(apiBaseURL, "/")

	driver := strings.TrimSpace(os.Getenv("DB_DRIVER"))
	if driver == "" {
		driver = "postgres"
	}
	switch driver {
	case "postgres", "sqlite3":
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q (allowed: postgres, sqlite3)", driver)
	}

	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))

	sqlitePath := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if sqlitePath == "" {
		sqlitePath = "senseboxd.db"
	}

	maxOpenConns, err := envInt("DB_MAX_OPEN_CONNS", 2)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := envInt("DB_MAX_IDLE_CONNS", 2)
	if err != nil {
		return Config{}, err
	}

	connMaxLifetimeStr := strings.TrimSpace(os.Getenv("DB_CONN_MAX_LIFETIME"))
	if connMaxLifetimeStr == "" {
		connMaxLifetimeStr = "0s"
	}
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	mqttPort, err := envInt("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}
	mqttTopic := strings.TrimSpace(os.Getenv("MQTT_TOPIC"))
	if mqttTopic == "" {
		mqttTopic = "sensebox/" + boxID + "/measurements"
	}
	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "senseboxd-" + boxID
	}

	return Config{
		AppEnv:          appEnv,
		LogLevel:        level,
		HTTPAddr:        httpAddr,
		SenseBoxID:      boxID,
		APIBaseURL:      apiBaseURL,
		Driver:          driver,
		DSN:             dsn,
		DBUser:          envOr("DB_USER", "user"),
		DBPassword:      envOr("DB_PASSWORD", "password"),
		DBHost:          envOr("DB_HOST", "db"),
		DBPort:          envOr("DB_PORT", "5432"),
		DBName:          envOr("DB_NAME", "env_monitoring"),
		SQLitePath:      sqlitePath,
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
		MQTTBroker:      mqttBroker,
		MQTTPort:        mqttPort,
		MQTTTopic:       mqttTopic,
		MQTTClientID:    mqttClientID,
	}, nil
}

func envOr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
