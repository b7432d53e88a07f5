// Package config handles loading and parsing of azdls configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Credential types accepted in azdls.credentials.type.
const (
	CredentialsSharedKey       = "shared_key"
	CredentialsSAS             = "sas"
	CredentialsClientSecret    = "client_secret"
	CredentialsManagedIdentity = "managed_identity"
	CredentialsDefault         = "default_credentials"
)

// DefaultAPIVersion is the x-ms-version sent when none is configured.
const DefaultAPIVersion = "2021-08-06"

// Config is the top-level configuration for the azdls binaries.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Azdls         AzdlsConfig         `yaml:"azdls"`
	Journal       JournalConfig       `yaml:"journal"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds gateway HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// MaxObjectSize caps the body accepted by a single upload, in bytes.
	MaxObjectSize int64 `yaml:"max_object_size"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AzdlsConfig describes the remote filesystem and how to authenticate to it.
type AzdlsConfig struct {
	// Endpoint is the dfs endpoint, e.g. https://account.dfs.core.windows.net.
	// Derived from AccountName when empty.
	Endpoint string `yaml:"endpoint"`
	// Filesystem is the ADLS Gen2 filesystem (container) name.
	Filesystem string `yaml:"filesystem"`
	// Root is the directory all paths are resolved against.
	Root string `yaml:"root"`
	// AccountName is the storage account. Derived from Endpoint when empty.
	AccountName string `yaml:"account_name"`
	// AccountKey is the base64 shared key for the account.
	AccountKey string `yaml:"account_key"`
	// SASToken is a shared access signature query string.
	SASToken string `yaml:"sas_token"`
	// APIVersion is sent as x-ms-version on every request.
	APIVersion string `yaml:"api_version"`
	// Timeout bounds each HTTP round trip, in seconds.
	Timeout     int               `yaml:"timeout"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// CredentialsConfig selects the signing method.
type CredentialsConfig struct {
	// Type is one of shared_key, sas, client_secret, managed_identity,
	// default_credentials. Empty means pick from what is configured.
	Type     string `yaml:"type"`
	TenantID string `yaml:"tenant_id"`
	ClientID string `yaml:"client_id"`
	Secret   string `yaml:"secret"`
}

// JournalConfig holds settings for the local write journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	Metrics bool `yaml:"metrics"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed, validated Config. Unset values fall back to defaults and then to
// the standard AZURE_STORAGE_* environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes; see Load.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnv(cfg, os.Getenv)
	if err := cfg.Azdls.resolveEndpoint(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9010,
			ShutdownTimeout: 30,
			MaxObjectSize:   256 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Azdls: AzdlsConfig{
			Root:       "/",
			APIVersion: DefaultAPIVersion,
			Timeout:    60,
		},
		Journal: JournalConfig{
			Path: "./data/journal.db",
		},
		Observability: ObservabilityConfig{
			Metrics: true,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9010
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Server.MaxObjectSize == 0 {
		cfg.Server.MaxObjectSize = 256 << 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Azdls.Root == "" {
		cfg.Azdls.Root = "/"
	}
	if cfg.Azdls.APIVersion == "" {
		cfg.Azdls.APIVersion = DefaultAPIVersion
	}
	if cfg.Azdls.Timeout == 0 {
		cfg.Azdls.Timeout = 60
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "./data/journal.db"
	}
}

// applyEnv fills credentials left empty by the file from the environment.
func applyEnv(cfg *Config, getenv func(string) string) {
	if cfg.Azdls.AccountName == "" {
		cfg.Azdls.AccountName = getenv("AZURE_STORAGE_ACCOUNT_NAME")
	}
	if cfg.Azdls.AccountKey == "" {
		cfg.Azdls.AccountKey = getenv("AZURE_STORAGE_ACCOUNT_KEY")
	}
	if cfg.Azdls.SASToken == "" {
		cfg.Azdls.SASToken = getenv("AZURE_STORAGE_SAS_TOKEN")
	}
}

// resolveEndpoint derives whichever of Endpoint and AccountName is missing
// from the other.
func (a *AzdlsConfig) resolveEndpoint() error {
	if a.Endpoint == "" {
		if a.AccountName == "" {
			return errors.New("azdls.endpoint or azdls.account_name is required")
		}
		a.Endpoint = fmt.Sprintf("https://%s.dfs.core.windows.net", a.AccountName)
		return nil
	}

	a.Endpoint = strings.TrimRight(a.Endpoint, "/")
	if a.AccountName == "" {
		u, err := url.Parse(a.Endpoint)
		if err != nil {
			return fmt.Errorf("parsing azdls.endpoint: %w", err)
		}
		a.AccountName = AccountFromHost(u.Hostname())
	}
	return nil
}

// AccountFromHost extracts the storage account from an endpoint host such
// as "account.dfs.core.windows.net". It returns "" for hosts that do not
// follow the {account}.{service}.{suffix} shape.
func AccountFromHost(host string) string {
	parts := strings.SplitN(host, ".", 3)
	if len(parts) < 3 {
		return ""
	}
	switch parts[1] {
	case "dfs", "blob":
		return parts[0]
	}
	return ""
}

// BlobEndpoint returns the Blob service endpoint paired with the dfs
// endpoint, used for property lookups over the Blob API.
func (a *AzdlsConfig) BlobEndpoint() string {
	return strings.Replace(a.Endpoint, ".dfs.", ".blob.", 1)
}

// CredentialsType returns the credentials type in effect: the explicit
// credentials.type, otherwise shared_key when an account key is set, sas when
// a SAS token is set, and default otherwise.
func (a *AzdlsConfig) CredentialsType() string {
	if a.Credentials.Type != "" {
		return a.Credentials.Type
	}
	switch {
	case a.AccountKey != "":
		return CredentialsSharedKey
	case a.SASToken != "":
		return CredentialsSAS
	default:
		return CredentialsDefault
	}
}

// Validate checks the configuration for missing or inconsistent values.
// Credentials are checked against the effective type, so an account key
// without a derivable account name fails here rather than at signing time.
func (c *Config) Validate() error {
	if c.Azdls.Filesystem == "" {
		return errors.New("azdls.filesystem is required")
	}
	if _, err := url.Parse(c.Azdls.Endpoint); err != nil {
		return fmt.Errorf("parsing azdls.endpoint: %w", err)
	}

	cred := c.Azdls.Credentials
	switch typ := c.Azdls.CredentialsType(); typ {
	case CredentialsDefault, CredentialsManagedIdentity:
	case CredentialsSharedKey:
		if c.Azdls.AccountKey == "" {
			return errors.New("shared_key credentials require azdls.account_key")
		}
		if c.Azdls.AccountName == "" {
			return errors.New("shared_key credentials require azdls.account_name; it could not be derived from the endpoint")
		}
	case CredentialsSAS:
		if c.Azdls.SASToken == "" {
			return errors.New("sas credentials require azdls.sas_token")
		}
	case CredentialsClientSecret:
		if cred.TenantID == "" || cred.ClientID == "" || cred.Secret == "" {
			return errors.New("client_secret credentials require tenant_id, client_id and secret")
		}
	default:
		return fmt.Errorf("invalid credentials type: %q", typ)
	}
	return nil
}
