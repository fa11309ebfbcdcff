// ABOUTME: Application configuration loaded from an optional YAML file with environment overrides
// ABOUTME: Reads .env first, then config.yaml under the XDG config directory
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/harperreed/cosell/charm"
	"github.com/harperreed/cosell/crm"
	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/detect"
	"github.com/harperreed/cosell/extract"
	"github.com/harperreed/cosell/models"
	"github.com/harperreed/cosell/sync"
	"github.com/harperreed/cosell/warehouse"
)

// Config holds all configuration for cosell.
// Secrets only come from the environment (yaml:"-").
type Config struct {
	Scan     ScanConfig     `yaml:"scan"`
	Graph    GraphConfig    `yaml:"graph"`
	Google   GoogleConfig   `yaml:"google"`
	Dynamics DynamicsConfig `yaml:"dynamics"`
	Fabric   FabricConfig   `yaml:"fabric"`
	LLM      LLMConfig      `yaml:"llm"`
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	KV       KVConfig       `yaml:"kv"`
}

// ScanConfig controls detection runs.
type ScanConfig struct {
	Keywords       []string `yaml:"keywords" env:"COSELL_KEYWORDS" env-separator:","`
	Sources        string   `yaml:"sources" env:"COSELL_SOURCES" env-default:"email,chat,meeting"`
	DefaultDays    int      `yaml:"default_days" env:"COSELL_SCAN_DAYS" env-default:"7"`
	Concurrency    int      `yaml:"concurrency" env:"COSELL_CONCURRENCY" env-default:"4"`
	SourceProvider string   `yaml:"source_provider" env:"COSELL_SOURCE_PROVIDER" env-default:"graph"`
	CRM            string   `yaml:"crm" env:"COSELL_CRM" env-default:"none"`
	Recorder       string   `yaml:"recorder" env:"COSELL_RECORDER" env-default:"sqlite"`
	User           string   `yaml:"user" env:"COSELL_USER"` // recorded as the scanning user
}

// GraphConfig is the Microsoft Graph app registration.
type GraphConfig struct {
	TenantID       string  `yaml:"tenant_id" env:"MS_TENANT_ID" env-default:"common"`
	ClientID       string  `yaml:"client_id" env:"MS_CLIENT_ID"`
	ClientSecret   string  `yaml:"-" env:"MS_CLIENT_SECRET"`
	BaseURL        string  `yaml:"base_url" env:"GRAPH_BASE_URL" env-default:"https://graph.microsoft.com/v1.0"`
	RequestsPerSec float64 `yaml:"requests_per_sec" env:"GRAPH_RPS" env-default:"10"`
	Burst          int     `yaml:"burst" env:"GRAPH_BURST" env-default:"5"`
	PageSize       int     `yaml:"page_size" env:"GRAPH_PAGE_SIZE" env-default:"50"`
}

// GoogleConfig is the OAuth client used by the Gmail source.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"-" env:"GOOGLE_CLIENT_SECRET"`
}

// DynamicsConfig points at the Dynamics 365 organization.
type DynamicsConfig struct {
	URL            string `yaml:"url" env:"DYNAMICS_URL"`
	ReferralEntity string `yaml:"referral_entity" env:"DYNAMICS_REFERRAL_ENTITY" env-default:"msp_referrals"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"DYNAMICS_TIMEOUT" env-default:"30"`
}

// FabricConfig is the Fabric / Azure SQL warehouse connection.
type FabricConfig struct {
	Host         string `yaml:"host" env:"FABRIC_HOST"`
	Port         int    `yaml:"port" env:"FABRIC_PORT" env-default:"1433"`
	Database     string `yaml:"database" env:"FABRIC_DATABASE"`
	Schema       string `yaml:"schema" env:"FABRIC_SCHEMA" env-default:"dbo"`
	AuthMethod   string `yaml:"auth_method" env:"FABRIC_AUTH_METHOD" env-default:"service_principal"`
	Username     string `yaml:"username" env:"FABRIC_USERNAME"`
	Password     string `yaml:"-" env:"FABRIC_PASSWORD"`
	TenantID     string `yaml:"tenant_id" env:"FABRIC_TENANT_ID"`
	ClientID     string `yaml:"client_id" env:"FABRIC_CLIENT_ID"`
	ClientSecret string `yaml:"-" env:"FABRIC_CLIENT_SECRET"`
	Encrypt      bool   `yaml:"encrypt" env:"FABRIC_ENCRYPT" env-default:"true"`
}

// LLMConfig selects the extraction model. An empty endpoint uses the heuristic extractor.
type LLMConfig struct {
	Endpoint          string  `yaml:"endpoint" env:"LLM_ENDPOINT"`
	Model             string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey            string  `yaml:"-" env:"LLM_API_KEY"`
	RequestsPerSec    float64 `yaml:"requests_per_sec" env:"LLM_RPS" env-default:"2"`
	Burst             int     `yaml:"burst" env:"LLM_BURST" env-default:"2"`
	DefaultConfidence float64 `yaml:"default_confidence" env:"LLM_DEFAULT_CONFIDENCE" env-default:"0.5"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"COSELL_LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"COSELL_LOG_DEV" env-default:"false"`
}

type DBConfig struct {
	Path string `yaml:"path" env:"COSELL_DB"`
}

// KVConfig is the Charm KV store that carries scan history between devices.
type KVConfig struct {
	Host       string        `yaml:"host" env:"CHARM_HOST" env-default:"charm.2389.dev"`
	ManualSync bool          `yaml:"manual_sync" env:"COSELL_KV_MANUAL_SYNC"` // off: sync on open and after writes
	StaleAfter time.Duration `yaml:"stale_after" env:"COSELL_KV_STALE_AFTER" env-default:"1h"`
}

// DefaultPath returns the config file location under the XDG config directory.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "cosell", "config.yaml")
}

// Load reads .env (if present) and then the YAML file at path (if present),
// with environment variables overriding file values. An empty path uses DefaultPath.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path == "" {
		path = DefaultPath()
	}

	cfg := &Config{}
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if len(cfg.Scan.Keywords) == 0 {
		cfg.Scan.Keywords = append([]string(nil), detect.DefaultKeywords...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks enum-like settings and the collaborators they require.
func (c *Config) Validate() error {
	if _, err := models.ParseSourceList(c.Scan.Sources); err != nil {
		return err
	}
	if c.Scan.DefaultDays < 1 {
		return fmt.Errorf("scan.default_days must be positive")
	}
	if c.Scan.Concurrency < 1 {
		return fmt.Errorf("scan.concurrency must be positive")
	}

	switch c.Scan.SourceProvider {
	case "graph", "gmail":
	default:
		return fmt.Errorf("unknown source provider %q (valid: graph, gmail)", c.Scan.SourceProvider)
	}

	switch c.Scan.CRM {
	case "none":
	case "dynamics":
		if c.Dynamics.URL == "" {
			return fmt.Errorf("dynamics.url is required when crm is dynamics")
		}
	case "fabric":
		if c.Fabric.Host == "" || c.Fabric.Database == "" {
			return fmt.Errorf("fabric.host and fabric.database are required when crm is fabric")
		}
	default:
		return fmt.Errorf("unknown crm %q (valid: none, dynamics, fabric)", c.Scan.CRM)
	}

	switch c.Scan.Recorder {
	case "sqlite":
	case "fabric":
		if c.Fabric.Host == "" || c.Fabric.Database == "" {
			return fmt.Errorf("fabric.host and fabric.database are required when recorder is fabric")
		}
	default:
		return fmt.Errorf("unknown recorder %q (valid: sqlite, fabric)", c.Scan.Recorder)
	}

	if c.LLM.DefaultConfidence <= 0 || c.LLM.DefaultConfidence > 1 {
		return fmt.Errorf("llm.default_confidence must be in (0, 1]")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.KV.StaleAfter < 0 {
		return fmt.Errorf("kv.stale_after must not be negative")
	}
	return nil
}

// Sources returns the configured default sources.
func (c *Config) Sources() []models.SourceType {
	sources, _ := models.ParseSourceList(c.Scan.Sources)
	return sources
}

// DBPath returns the SQLite path, defaulting under XDG data.
func (c *Config) DBPath() string {
	if strings.TrimSpace(c.DB.Path) != "" {
		return c.DB.Path
	}
	return db.DefaultPath()
}

func (c *Config) KVClientConfig() charm.Config {
	return charm.Config{
		Host:           c.KV.Host,
		AutoSync:       !c.KV.ManualSync,
		StaleThreshold: c.KV.StaleAfter,
		StampPath:      charm.DefaultStampPath(),
	}
}

func (c *Config) GraphClientConfig() sync.GraphConfig {
	return sync.GraphConfig{
		BaseURL:        c.Graph.BaseURL,
		RequestsPerSec: c.Graph.RequestsPerSec,
		Burst:          c.Graph.Burst,
		PageSize:       c.Graph.PageSize,
		Timeout:        30 * time.Second,
	}
}

func (c *Config) DynamicsClientConfig() crm.Config {
	return crm.Config{
		OrgURL:         c.Dynamics.URL,
		ReferralEntity: c.Dynamics.ReferralEntity,
		Timeout:        time.Duration(c.Dynamics.TimeoutSeconds) * time.Second,
	}
}

func (c *Config) WarehouseConfig() warehouse.Config {
	return warehouse.Config{
		Host:         c.Fabric.Host,
		Port:         c.Fabric.Port,
		Database:     c.Fabric.Database,
		Schema:       c.Fabric.Schema,
		AuthMethod:   c.Fabric.AuthMethod,
		Username:     c.Fabric.Username,
		Password:     c.Fabric.Password,
		TenantID:     c.Fabric.TenantID,
		ClientID:     c.Fabric.ClientID,
		ClientSecret: c.Fabric.ClientSecret,
		Encrypt:      c.Fabric.Encrypt,
	}
}

// LLMEnabled reports whether an LLM endpoint is configured.
func (c *Config) LLMEnabled() bool {
	return strings.TrimSpace(c.LLM.Endpoint) != ""
}

func (c *Config) ExtractorConfig() extract.Config {
	return extract.Config{
		Endpoint:          c.LLM.Endpoint,
		Model:             c.LLM.Model,
		APIKey:            c.LLM.APIKey,
		RequestsPerSec:    c.LLM.RequestsPerSec,
		Burst:             c.LLM.Burst,
		DefaultConfidence: c.LLM.DefaultConfidence,
	}
}
