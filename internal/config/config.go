package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rescp17/peerlink/internal/util"
	"github.com/rescp17/peerlink/pkg/peer"
	"github.com/rescp17/peerlink/pkg/transfer"
)

const (
	// DataDirEnv overrides where the node keeps its config and content cache.
	DataDirEnv = "PEERLINK_DATA_DIR"
	FileName   = "config.json"

	DefaultSignalingURL = "ws://localhost:8080/ws"
	DefaultSTUNServer   = "stun:stun.l.google.com:19302"
)

// CacheBackend selects where completed transfers are kept.
type CacheBackend string

const (
	CacheSQLite CacheBackend = "sqlite"
	CacheMemory CacheBackend = "memory"
)

// Config is the persisted node configuration.
type Config struct {
	UserID string `json:"user_id"`

	// SignalingURL may be empty, leaving manual negotiation as the only way to connect.
	SignalingURL string `json:"signaling_url"`
	// DirectoryURL points at an HTTP roster. Empty means the roster is
	// browsed over mDNS on the local network.
	DirectoryURL string `json:"directory_url,omitempty"`
	Announce     bool   `json:"announce"`

	ICEServers   []string `json:"ice_servers"`
	MulticastDNS bool     `json:"multicast_dns"`

	Contacts []peer.Contact `json:"contacts"`

	Cache    CacheBackend             `json:"cache"`
	Transfer *transfer.TransferConfig `json:"transfer"`
}

// Default returns a configuration with a fresh user id.
func Default() *Config {
	return &Config{
		UserID:       uuid.NewString(),
		SignalingURL: DefaultSignalingURL,
		Announce:     true,
		ICEServers:   []string{DefaultSTUNServer},
		MulticastDNS: true,
		Contacts:     []peer.Contact{},
		Cache:        CacheSQLite,
		Transfer:     transfer.DefaultTransferConfig(),
	}
}

// DataDir resolves the data directory from DataDirEnv, falling back to
// peerlink under the user's config directory.
func DataDir() (string, error) {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(base, "peerlink"), nil
}

// Load reads config.json from dir. A missing file yields Default; fields
// absent from the file keep their defaults.
func Load(dir string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Transfer == nil {
		cfg.Transfer = transfer.DefaultTransferConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save validates cfg and writes it to dir, creating dir if needed.
func (c *Config) Save(dir string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := util.EnsureDirectory(dir); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.UserID == "" {
		return errors.New("user_id is required")
	}
	if c.UserID == peer.ManualPlaceholderID {
		return fmt.Errorf("user_id %q is reserved", c.UserID)
	}
	if c.SignalingURL != "" {
		if err := checkURL("signaling_url", c.SignalingURL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.DirectoryURL != "" {
		if err := checkURL("directory_url", c.DirectoryURL, "http", "https"); err != nil {
			return err
		}
	}
	switch c.Cache {
	case CacheSQLite, CacheMemory:
	default:
		return fmt.Errorf("cache must be %s or %s", CacheSQLite, CacheMemory)
	}

	seen := make(map[string]bool, len(c.Contacts))
	for _, contact := range c.Contacts {
		if contact.ID == "" {
			return errors.New("contact id is required")
		}
		if seen[contact.ID] {
			return fmt.Errorf("duplicate contact %s", contact.ID)
		}
		seen[contact.ID] = true
	}

	if c.Transfer == nil {
		return errors.New("transfer settings are required")
	}
	if err := c.Transfer.Validate(); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %v URL, got %q", field, schemes, raw)
}

// AddContact appends a contact unless one with the same id exists.
func (c *Config) AddContact(contact peer.Contact) bool {
	for _, existing := range c.Contacts {
		if existing.ID == contact.ID {
			return false
		}
	}
	c.Contacts = append(c.Contacts, contact)
	return true
}
