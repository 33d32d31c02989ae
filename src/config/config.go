package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultPort        = "8080"
	DefaultBusCapacity = 1024
)

// Config holds everything the proxy reads from the environment. Load it
// after godotenv so a local .env file is honored.
type Config struct {
	// Port the HTTP/WebSocket listener binds to.
	Port string

	// Token is the bot token used for the upstream identify.
	Token string

	// ShardCount is the total shard count of the bot. ShardIDs lists the
	// shards this process owns; when empty it defaults to 0..ShardCount-1.
	ShardCount int
	ShardIDs   []int

	// Intents is the raw gateway intents bitfield. Zero means the upstream
	// session falls back to all non-privileged intents.
	Intents int

	// BusCapacity is the per-subscriber ring size of the broadcast bus.
	// Sized for a few seconds of peak event rate; a client that falls
	// further behind than this is disconnected.
	BusCapacity int

	// BehindProxy enables proxy-header client IP extraction for the REST
	// rate limiter.
	BehindProxy bool
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Port:        getenv("PORT", DefaultPort),
		Token:       os.Getenv("DISCORD_TOKEN"),
		BusCapacity: DefaultBusCapacity,
		BehindProxy: getenv("BEHIND_PROXY", "false") == "true",
	}

	if cfg.Token == "" {
		return Config{}, fmt.Errorf("config: DISCORD_TOKEN is required")
	}

	var err error
	if cfg.ShardCount, err = getint("SHARD_COUNT", 1); err != nil {
		return Config{}, err
	}
	if cfg.ShardCount < 1 {
		return Config{}, fmt.Errorf("config: SHARD_COUNT must be at least 1")
	}
	if cfg.Intents, err = getint("GATEWAY_INTENTS", 0); err != nil {
		return Config{}, err
	}
	if cfg.BusCapacity, err = getint("BUS_CAPACITY", DefaultBusCapacity); err != nil {
		return Config{}, err
	}
	if cfg.BusCapacity < 1 {
		return Config{}, fmt.Errorf("config: BUS_CAPACITY must be at least 1")
	}

	if cfg.ShardIDs, err = parseShardIDs(os.Getenv("SHARD_IDS"), cfg.ShardCount); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseShardIDs(raw string, shardCount int) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		ids := make([]int, shardCount)
		for i := range ids {
			ids[i] = i
		}
		return ids, nil
	}
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("config: invalid shard id %q: %w", part, err)
		}
		if id < 0 || id >= shardCount {
			return nil, fmt.Errorf("config: shard id %d out of range for SHARD_COUNT=%d", id, shardCount)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("config: SHARD_IDS contains no shard ids")
	}
	return ids, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}
