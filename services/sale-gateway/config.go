package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// APIKeyConfig describes a single API key + secret pair accepted by the
// gateway.
type APIKeyConfig struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// Config captures runtime configuration for the sale gateway service.
type Config struct {
	ListenAddress        string
	NodeURL              string
	NodeAuthToken        string
	DatabasePath         string
	AllowedTimestampSkew time.Duration
	NonceTTL             time.Duration
	NonceCapacity        int
	APIKeys              []APIKeyConfig
}

// LoadConfigFromEnv builds a configuration using environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddress:        getenvDefault("SALE_GATEWAY_LISTEN", ":8081"),
		NodeURL:              os.Getenv("SALE_GATEWAY_NODE_URL"),
		NodeAuthToken:        os.Getenv("SALE_GATEWAY_NODE_TOKEN"),
		DatabasePath:         getenvDefault("SALE_GATEWAY_DB_PATH", "sale-gateway.db"),
		AllowedTimestampSkew: 2 * time.Minute,
		NonceCapacity:        1024,
	}

	if skew := strings.TrimSpace(os.Getenv("SALE_GATEWAY_TIMESTAMP_SKEW")); skew != "" {
		dur, err := time.ParseDuration(skew)
		if err != nil {
			return Config{}, fmt.Errorf("parse SALE_GATEWAY_TIMESTAMP_SKEW: %w", err)
		}
		cfg.AllowedTimestampSkew = dur
	}

	cfg.NonceTTL = 2 * cfg.AllowedTimestampSkew
	if raw := strings.TrimSpace(os.Getenv("SALE_GATEWAY_NONCE_TTL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SALE_GATEWAY_NONCE_TTL: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("SALE_GATEWAY_NONCE_TTL must be positive")
		}
		cfg.NonceTTL = dur
	}
	if cfg.NonceTTL < cfg.AllowedTimestampSkew {
		cfg.NonceTTL = cfg.AllowedTimestampSkew
	}

	if raw := strings.TrimSpace(os.Getenv("SALE_GATEWAY_NONCE_CAP")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SALE_GATEWAY_NONCE_CAP: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("SALE_GATEWAY_NONCE_CAP must be positive")
		}
		cfg.NonceCapacity = val
	}

	if cfg.NodeURL == "" {
		return Config{}, errors.New("SALE_GATEWAY_NODE_URL is required")
	}

	// API keys arrive as a JSON array: [{"key":"...","secret":"..."}, ...]
	apiJSON := strings.TrimSpace(os.Getenv("SALE_GATEWAY_API_KEYS"))
	if apiJSON == "" {
		return Config{}, errors.New("SALE_GATEWAY_API_KEYS is required")
	}
	var entries []APIKeyConfig
	if err := json.Unmarshal([]byte(apiJSON), &entries); err != nil {
		return Config{}, err
	}
	for _, entry := range entries {
		key := strings.TrimSpace(entry.Key)
		secret := strings.TrimSpace(entry.Secret)
		if key == "" || secret == "" {
			return Config{}, errors.New("api key entries must include key and secret")
		}
		cfg.APIKeys = append(cfg.APIKeys, APIKeyConfig{Key: key, Secret: secret})
	}
	if len(cfg.APIKeys) == 0 {
		return Config{}, errors.New("no API keys configured")
	}

	return cfg, nil
}

// SecretMap returns the API keys as the map shape consumed by the
// authenticator.
func (c Config) SecretMap() map[string]string {
	out := make(map[string]string, len(c.APIKeys))
	for _, entry := range c.APIKeys {
		out[entry.Key] = entry.Secret
	}
	return out
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
