// Package config resolves service settings from defaults, an optional .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMongo = "mongo"
	DriverMySQL = "mysql"
)

type Config struct {
	AppEnv   string
	LogLevel string
	HTTPAddr string
	GRPCAddr string

	StoreDriver       string
	MongoURI          string
	MongoDatabase     string
	MongoTransactions bool
	MySQLDSN          string

	// RedisAddr empty selects the in-process lock table.
	RedisAddr     string
	RedisPassword string

	// KafkaBrokers empty disables event publishing.
	KafkaBrokers []string
	KafkaTopic   string

	OTelEndpoint string
	OTelInsecure bool

	Timezone string
	LockWait time.Duration
	LockTTL  time.Duration

	ShutdownTimeout time.Duration
}

func defaultValues() map[string]string {
	return map[string]string{
		"APP_ENV":            "local",
		"LOG_LEVEL":          "info",
		"HTTP_ADDR":          ":8080",
		"GRPC_ADDR":          ":50051",
		"STORE_DRIVER":       DriverMongo,
		"MONGO_URI":          "mongodb://localhost:27017",
		"MONGO_DATABASE":     "inventory",
		"MONGO_TRANSACTIONS": "false",
		"MYSQL_DSN":          "root:root@tcp(localhost:3306)/inventory?parseTime=true",
		"REDIS_ADDR":         "",
		"REDIS_PASSWORD":     "",
		"KAFKA_BROKERS":      "",
		"KAFKA_TOPIC":        "inventory.products",
		"OTEL_ENDPOINT":      "",
		"OTEL_INSECURE":      "true",
		"TIMEZONE":           "Asia/Jakarta",
		"LOCK_WAIT":          "2s",
		"LOCK_TTL":           "10s",
		"SHUTDOWN_TIMEOUT":   "10s",
	}
}

// Load reads envFile when it exists; a missing file is not an error.
func Load(envFile string) (*Config, error) {
	values := defaultValues()

	if envFile != "" {
		if err := mergeDotEnv(envFile, values); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	for key := range values {
		if v, ok := os.LookupEnv(key); ok {
			values[key] = strings.TrimSpace(v)
		}
	}

	return parse(values)
}

func parse(values map[string]string) (*Config, error) {
	cfg := &Config{
		AppEnv:        values["APP_ENV"],
		LogLevel:      values["LOG_LEVEL"],
		HTTPAddr:      values["HTTP_ADDR"],
		GRPCAddr:      values["GRPC_ADDR"],
		StoreDriver:   strings.ToLower(values["STORE_DRIVER"]),
		MongoURI:      values["MONGO_URI"],
		MongoDatabase: values["MONGO_DATABASE"],
		MySQLDSN:      values["MYSQL_DSN"],
		RedisAddr:     values["REDIS_ADDR"],
		RedisPassword: values["REDIS_PASSWORD"],
		KafkaBrokers:  splitList(values["KAFKA_BROKERS"]),
		KafkaTopic:    values["KAFKA_TOPIC"],
		OTelEndpoint:  values["OTEL_ENDPOINT"],
		Timezone:      values["TIMEZONE"],
	}

	switch cfg.StoreDriver {
	case DriverMongo, DriverMySQL:
	default:
		return nil, fmt.Errorf("STORE_DRIVER: unsupported driver %q", cfg.StoreDriver)
	}

	var err error
	if cfg.MongoTransactions, err = parseBool(values, "MONGO_TRANSACTIONS"); err != nil {
		return nil, err
	}
	if cfg.OTelInsecure, err = parseBool(values, "OTEL_INSECURE"); err != nil {
		return nil, err
	}
	if cfg.LockWait, err = parseDuration(values, "LOCK_WAIT"); err != nil {
		return nil, err
	}
	if cfg.LockTTL, err = parseDuration(values, "LOCK_TTL"); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = parseDuration(values, "SHUTDOWN_TIMEOUT"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseBool(values map[string]string, key string) (bool, error) {
	b, err := strconv.ParseBool(values[key])
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func parseDuration(values map[string]string, key string) (time.Duration, error) {
	d, err := time.ParseDuration(values[key])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mergeDotEnv(path string, out map[string]string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			continue
		}

		key := strings.ToUpper(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		value = strings.Trim(value, `"'`)
		out[key] = value
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
