package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"homestead/crypto"

	"github.com/BurntSushi/toml"
)

// Config carries the escrow daemon settings. Role addresses are bech32
// strings with the hst prefix and must name three distinct identities.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	NetworkName    string `toml:"NetworkName"`
	SellerAddress  string `toml:"SellerAddress"`
	InspectorAddr  string `toml:"InspectorAddress"`
	LenderAddress  string `toml:"LenderAddress"`
}

// Load loads the configuration from the given path, creating a default file
// with freshly generated role identities when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./homestead-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "homestead-local"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the role addresses decode and are pairwise distinct.
func (c *Config) Validate() error {
	seller, err := decodeRole("SellerAddress", c.SellerAddress)
	if err != nil {
		return err
	}
	inspector, err := decodeRole("InspectorAddress", c.InspectorAddr)
	if err != nil {
		return err
	}
	lender, err := decodeRole("LenderAddress", c.LenderAddress)
	if err != nil {
		return err
	}
	if seller == inspector || seller == lender || inspector == lender {
		return fmt.Errorf("seller, inspector and lender must be distinct addresses")
	}
	return nil
}

// Roles returns the decoded seller, inspector and lender identities.
func (c *Config) Roles() (seller, inspector, lender crypto.Address, err error) {
	if seller, err = crypto.DecodeAddress(c.SellerAddress); err != nil {
		return
	}
	if inspector, err = crypto.DecodeAddress(c.InspectorAddr); err != nil {
		return
	}
	lender, err = crypto.DecodeAddress(c.LenderAddress)
	return
}

func decodeRole(field, value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, fmt.Errorf("%s must be set", field)
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	if addr.Prefix() != crypto.HomesteadPrefix {
		return [20]byte{}, fmt.Errorf("%s: expected %q prefix, got %q", field, crypto.HomesteadPrefix, addr.Prefix())
	}
	if addr.IsZero() {
		return [20]byte{}, fmt.Errorf("%s must not be the zero address", field)
	}
	return addr.Array(), nil
}

// createDefault creates and saves a default configuration file with three
// freshly generated role identities.
func createDefault(path string) (*Config, error) {
	roles := make([]string, 3)
	for i := range roles {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		roles[i] = key.PubKey().Address().String()
	}

	cfg := &Config{
		RPCAddress:     ":8080",
		MetricsAddress: ":9090",
		DataDir:        "./homestead-data",
		NetworkName:    "homestead-local",
		SellerAddress:  roles[0],
		InspectorAddr:  roles[1],
		LenderAddress:  roles[2],
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
