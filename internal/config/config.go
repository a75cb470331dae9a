package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
)

// Schedule store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	TBAddresses []string
	TBClusterID uint64

	ScheduleBackend string
	DBSource        string
	BoltPath        string
	RedisAddr       string

	Deposit    domain.Policy
	Withdrawal domain.Policy

	SettleMaxAttempts  int
	SettleRetryBackoff time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("SERVER_PORT", "8080"),
		Env:      getEnv("ENVIRONMENT", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TBAddresses: splitList(getEnv("TB_ADDRESS", "3000")),

		ScheduleBackend: getEnv("SCHEDULE_BACKEND", BackendMemory),
		DBSource:        os.Getenv("DB_SOURCE"),
		BoltPath:        getEnv("BOLT_PATH", "./settlements.db"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
	}

	var err error
	if cfg.TBClusterID, err = getEnvUint("TB_CLUSTER_ID", 0, 64); err != nil {
		return nil, err
	}
	if cfg.Deposit, err = loadPolicy("DEPOSIT", domain.DefaultDepositPolicy); err != nil {
		return nil, err
	}
	if cfg.Withdrawal, err = loadPolicy("WITHDRAWAL", domain.DefaultWithdrawalPolicy); err != nil {
		return nil, err
	}
	attempts, err := getEnvUint("SETTLE_MAX_ATTEMPTS", 3, 31)
	if err != nil {
		return nil, err
	}
	cfg.SettleMaxAttempts = int(attempts)
	if cfg.SettleRetryBackoff, err = getEnvDuration("SETTLE_RETRY_BACKOFF", 500*time.Millisecond); err != nil {
		return nil, err
	}

	switch cfg.ScheduleBackend {
	case BackendMemory, BackendBolt:
	case BackendPostgres:
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required for the postgres schedule backend")
		}
	default:
		return nil, fmt.Errorf("unknown SCHEDULE_BACKEND %q", cfg.ScheduleBackend)
	}

	if len(cfg.TBAddresses) == 0 {
		return nil, fmt.Errorf("TB_ADDRESS must name at least one replica")
	}
	if cfg.SettleMaxAttempts < 1 {
		return nil, fmt.Errorf("SETTLE_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.SettleRetryBackoff <= 0 {
		return nil, fmt.Errorf("SETTLE_RETRY_BACKOFF must be positive")
	}

	return cfg, nil
}

// loadPolicy reads <prefix>_SETTLE_DELAY and <prefix>_TIMEOUT_SECONDS.
func loadPolicy(prefix string, def domain.Policy) (domain.Policy, error) {
	delay, err := getEnvDuration(prefix+"_SETTLE_DELAY", def.Delay)
	if err != nil {
		return domain.Policy{}, err
	}
	timeout, err := getEnvUint(prefix+"_TIMEOUT_SECONDS", uint64(def.TimeoutSeconds), 32)
	if err != nil {
		return domain.Policy{}, err
	}
	p := domain.Policy{Delay: delay, TimeoutSeconds: uint32(timeout)}
	if err := p.Validate(); err != nil {
		return domain.Policy{}, fmt.Errorf("%s policy: %w", strings.ToLower(prefix), err)
	}
	return p, nil
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

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvUint rejects negative or out-of-range values rather than wrapping them.
func getEnvUint(key string, defaultVal uint64, bits int) (uint64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	u, err := strconv.ParseUint(strings.TrimSpace(val), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer below 2^%d: %q", key, bits, val)
	}
	return u, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
