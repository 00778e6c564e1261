package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr          string
	RedisAddr         string
	StoreBackend      string
	AccountDBPath     string
	RecordsDBDSN      string
	KafkaBrokers      []string
	KafkaTopicPrefix  string
	OtelEndpoint      string
	ChainIDs          []uint64
	RPCURLs           map[uint64]string
	BundlerURLs       map[uint64]string
	NativeAAChainIDs  []uint64
	SignerKeys        []string
	DefaultFactory    string
	DefaultEntrypoint string
	SendWorkers       int
	ConfirmWorkers    int
	PollInterval      time.Duration
	PromoteInterval   time.Duration
	LogLevel          string
	LogFile           string
	LogMaxSizeMB      int
	LogMaxBackups     int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	chainIDs, err := parseUintList(source, "CHAIN_IDS")
	if err != nil {
		return Config{}, err
	}
	if len(chainIDs) == 0 {
		return Config{}, errors.New("CHAIN_IDS is required")
	}

	rpcURLs := make(map[uint64]string, len(chainIDs))
	bundlerURLs := make(map[uint64]string, len(chainIDs))
	for _, chainID := range chainIDs {
		rpcURL, ok := source.Lookup(fmt.Sprintf("RPC_URL_%d", chainID))
		if !ok || strings.TrimSpace(rpcURL) == "" {
			return Config{}, fmt.Errorf("RPC_URL_%d is required", chainID)
		}
		rpcURLs[chainID] = strings.TrimSpace(rpcURL)
		bundlerURL, _ := source.Lookup(fmt.Sprintf("BUNDLER_URL_%d", chainID))
		bundlerURL = strings.TrimSpace(bundlerURL)
		if bundlerURL == "" {
			bundlerURL = rpcURLs[chainID]
		}
		bundlerURLs[chainID] = bundlerURL
	}

	nativeAAChainIDs, err := parseUintList(source, "NATIVE_AA_CHAIN_IDS")
	if err != nil {
		return Config{}, err
	}

	httpAddr := ":8080"
	if raw, ok := source.Lookup("HTTP_ADDR"); ok && raw != "" {
		httpAddr = raw
	}

	redisAddr := "127.0.0.1:6379"
	if raw, ok := source.Lookup("REDIS_ADDR"); ok {
		redisAddr = strings.TrimSpace(raw)
	}

	storeBackend := "redis"
	if raw, ok := source.Lookup("STORE_BACKEND"); ok && strings.TrimSpace(raw) != "" {
		storeBackend = strings.ToLower(strings.TrimSpace(raw))
	}
	if storeBackend != "redis" && storeBackend != "memory" {
		return Config{}, fmt.Errorf("invalid STORE_BACKEND: %s", storeBackend)
	}

	accountDBPath := "engine-accounts.db"
	if raw, ok := source.Lookup("ACCOUNT_DB_PATH"); ok && strings.TrimSpace(raw) != "" {
		accountDBPath = strings.TrimSpace(raw)
	}

	recordsDBDSN, _ := source.Lookup("RECORDS_DB_DSN")
	recordsDBDSN = strings.TrimSpace(recordsDBDSN)

	kafkaBrokers := parseOptionalList(source, "KAFKA_BROKERS")
	kafkaTopicPrefix, ok := source.Lookup("KAFKA_TOPIC_PREFIX")
	if !ok || kafkaTopicPrefix == "" {
		kafkaTopicPrefix = "engine-transactions"
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelEndpoint = strings.TrimSpace(otelEndpoint)

	signerKeys := parseOptionalList(source, "SIGNER_KEYS")

	defaultFactory, _ := source.Lookup("DEFAULT_FACTORY")
	defaultEntrypoint, _ := source.Lookup("DEFAULT_ENTRYPOINT")

	sendWorkers, err := parseIntEnv(source, "SEND_WORKERS", 4)
	if err != nil {
		return Config{}, err
	}
	confirmWorkers, err := parseIntEnv(source, "CONFIRM_WORKERS", 4)
	if err != nil {
		return Config{}, err
	}

	pollInterval, err := parseDurationEnv(source, "POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	promoteInterval, err := parseDurationEnv(source, "PROMOTE_INTERVAL", time.Second)
	if err != nil {
		return Config{}, err
	}

	logLevel, _ := source.Lookup("LOG_LEVEL")
	logFile, _ := source.Lookup("LOG_FILE")
	logMaxSizeMB, err := parseIntEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseIntEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	return Config{
		HTTPAddr:          httpAddr,
		RedisAddr:         redisAddr,
		StoreBackend:      storeBackend,
		AccountDBPath:     accountDBPath,
		RecordsDBDSN:      recordsDBDSN,
		KafkaBrokers:      kafkaBrokers,
		KafkaTopicPrefix:  kafkaTopicPrefix,
		OtelEndpoint:      otelEndpoint,
		ChainIDs:          chainIDs,
		RPCURLs:           rpcURLs,
		BundlerURLs:       bundlerURLs,
		NativeAAChainIDs:  nativeAAChainIDs,
		SignerKeys:        signerKeys,
		DefaultFactory:    strings.TrimSpace(defaultFactory),
		DefaultEntrypoint: strings.TrimSpace(defaultEntrypoint),
		SendWorkers:       sendWorkers,
		ConfirmWorkers:    confirmWorkers,
		PollInterval:      pollInterval,
		PromoteInterval:   promoteInterval,
		LogLevel:          logLevel,
		LogFile:           logFile,
		LogMaxSizeMB:      logMaxSizeMB,
		LogMaxBackups:     logMaxBackups,
	}, nil
}

func parseIntEnv(source EnvSource, key string, defaultValue int) (int, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func parseOptionalList(source EnvSource, key string) []string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	var values []string
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	return values
}

func parseUintList(source EnvSource, key string) ([]uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	items := strings.Split(raw, ",")
	values := make([]uint64, 0, len(items))
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		values = append(values, parsed)
	}
	return values, nil
}
