package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/internal/logging"
	"github.com/systmms/kvrotate/internal/secure"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "kvrotate.yaml"

// Environment variables that override file settings.
const (
	EnvVaultURL     = "KVROTATE_VAULT_URL"
	EnvVaultName    = "KEY_VAULT_NAME"
	EnvTenantID     = "AZURE_TENANT_ID"
	EnvClientID     = "AZURE_CLIENT_ID"
	EnvClientSecret = "AZURE_CLIENT_SECRET"
	EnvDataDir      = "KVROTATE_DATA_DIR"
)

// Auth methods understood by the vault bootstrap.
const (
	AuthDefault         = "default"
	AuthManagedIdentity = "managed_identity"
	AuthClientSecret    = "client_secret"
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the kvrotate.yaml structure
type Definition struct {
	Vault         VaultConfig        `yaml:"vault"`
	Rotation      RotationConfig     `yaml:"rotation"`
	Issuance      IssuanceConfig     `yaml:"issuance"`
	Server        ServerConfig       `yaml:"server"`
	Storage       StorageConfig      `yaml:"storage"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// VaultConfig identifies the Key Vault and how to authenticate against it.
type VaultConfig struct {
	// URL is the vault endpoint, e.g. https://my-vault.vault.azure.net/.
	URL string `yaml:"url,omitempty"`

	// Name is used to derive URL when URL is empty.
	Name string `yaml:"name,omitempty"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig selects the credential used by the authentication bootstrap.
type AuthConfig struct {
	Method         string `yaml:"method,omitempty"`
	TenantID       string `yaml:"tenant_id,omitempty"`
	ClientID       string `yaml:"client_id,omitempty"`
	ClientSecret   string `yaml:"client_secret,omitempty"`
	UserAssignedID string `yaml:"user_assigned_identity_id,omitempty"`

	// Secret is the sealed form of ClientSecret; ClientSecret is cleared
	// once Load has sealed it.
	Secret *secure.Sealed `yaml:"-"`
}

// PollConfig is a wait budget for the operation poller.
type PollConfig struct {
	Interval time.Duration `yaml:"poll_interval"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

// RotationConfig controls expiry evaluation and the scheduled sweep.
type RotationConfig struct {
	ThresholdDays int        `yaml:"threshold_days"`
	Interactive   PollConfig `yaml:"interactive"`
	Scheduled     PollConfig `yaml:"scheduled"`

	// Schedule is a five-field cron expression evaluated in UTC.
	Schedule   string `yaml:"schedule"`
	RunOnStart bool   `yaml:"run_on_start,omitempty"`

	// SubmitRetries bounds retries of a renewal submission that failed
	// with a transient error.
	SubmitRetries int `yaml:"submit_retries"`
}

// IssuanceConfig is the policy used when creating a brand new certificate.
type IssuanceConfig struct {
	Issuer            string   `yaml:"issuer"`
	SubjectTemplate   string   `yaml:"subject_template"`
	ValidityMonths    int32    `yaml:"validity_months"`
	KeyType           string   `yaml:"key_type"`
	KeySize           int32    `yaml:"key_size"`
	Exportable        bool     `yaml:"exportable"`
	ReuseKey          bool     `yaml:"reuse_key"`
	KeyUsages         []string `yaml:"key_usages"`
	ExtendedKeyUsages []string `yaml:"extended_key_usages"`
	ContentType       string   `yaml:"content_type"`
}

// ServerConfig configures the on-demand HTTP surface.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	Path         string        `yaml:"path"`
	MetricsPath  string        `yaml:"metrics_path"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig configures the file-backed audit log.
type StorageConfig struct {
	Dir       string        `yaml:"dir,omitempty"`
	Retention time.Duration `yaml:"retention"`
	Disabled  bool          `yaml:"disabled,omitempty"`
}

// Default returns a definition populated with the built-in defaults.
func Default() Definition {
	return Definition{
		Vault: VaultConfig{
			Auth: AuthConfig{Method: AuthDefault},
		},
		Rotation: RotationConfig{
			ThresholdDays: 30,
			Interactive:   PollConfig{Interval: 2 * time.Second, MaxWait: 60 * time.Second},
			Scheduled:     PollConfig{Interval: 5 * time.Second, MaxWait: 120 * time.Second},
			Schedule:      "0 2 * * *",
			SubmitRetries: 3,
		},
		Issuance: IssuanceConfig{
			Issuer:            "Self",
			SubjectTemplate:   "CN={{name}}",
			ValidityMonths:    12,
			KeyType:           "RSA",
			KeySize:           2048,
			Exportable:        true,
			KeyUsages:         []string{"digitalSignature", "keyEncipherment"},
			ExtendedKeyUsages: []string{"1.3.6.1.5.5.7.3.1", "1.3.6.1.5.5.7.3.2"},
			ContentType:       "application/x-pkcs12",
		},
		Server: ServerConfig{
			Listen:       ":8080",
			Path:         "/api/certificates",
			MetricsPath:  "/metrics",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 150 * time.Second,
		},
		Storage: StorageConfig{
			Retention: 90 * 24 * time.Hour,
		},
		Notifications: NotificationConfig{
			QueueSize: 100,
		},
	}
}

// Load reads and parses the kvrotate.yaml file. A missing file is only
// tolerated for the default path, so deployments driven purely by
// environment variables work.
func (c *Config) Load() error {
	def := Default()

	data, err := os.ReadFile(c.Path)
	switch {
	case err == nil:
		if err := validateSchema(data); err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, &def); err != nil {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    fmt.Sprintf("invalid YAML: %v", err),
				Suggestion: "Check for indentation errors and missing quotes",
			}
		}
	case os.IsNotExist(err) && (c.Path == "" || c.Path == DefaultPath):
		if c.Logger != nil {
			c.Logger.Debug("No config file at %s, using defaults and environment", DefaultPath)
		}
	case os.IsNotExist(err):
		return dserrors.ConfigError{
			Field:      "path",
			Value:      c.Path,
			Message:    "configuration file not found",
			Suggestion: "Pass --config with an existing file or omit it to use environment variables",
		}
	default:
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def.applyEnv()
	def.Vault.URL = def.Vault.ResolvedURL()
	def.Vault.Auth.Secret = secure.Seal(def.Vault.Auth.ClientSecret)
	def.Vault.Auth.ClientSecret = ""

	if err := def.Validate(); err != nil {
		return err
	}

	c.Definition = &def
	return nil
}

func (d *Definition) applyEnv() {
	if v := os.Getenv(EnvVaultURL); v != "" {
		d.Vault.URL = v
	}
	if v := os.Getenv(EnvVaultName); v != "" && d.Vault.URL == "" {
		d.Vault.Name = v
	}
	if v := os.Getenv(EnvTenantID); v != "" {
		d.Vault.Auth.TenantID = v
	}
	if v := os.Getenv(EnvClientID); v != "" {
		d.Vault.Auth.ClientID = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		d.Vault.Auth.ClientSecret = v
		if d.Vault.Auth.Method == "" || d.Vault.Auth.Method == AuthDefault {
			d.Vault.Auth.Method = AuthClientSecret
		}
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		d.Storage.Dir = v
	}
}

// ResolvedURL returns URL, or the public-cloud URL derived from Name.
func (v VaultConfig) ResolvedURL() string {
	if v.URL != "" {
		return v.URL
	}
	if v.Name != "" {
		return fmt.Sprintf("https://%s.vault.azure.net/", v.Name)
	}
	return ""
}

// DisplayName returns the short vault name used in responses and logs.
func (v VaultConfig) DisplayName() string {
	if v.Name != "" {
		return v.Name
	}
	u, err := url.Parse(v.ResolvedURL())
	if err != nil || u.Host == "" {
		return ""
	}
	host, _, _ := strings.Cut(u.Host, ".")
	return host
}

// StorageDir returns the configured audit directory or the XDG default.
func (s StorageConfig) StorageDir() string {
	if s.Dir != "" {
		return s.Dir
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "kvrotate")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "kvrotate")
	}
	return filepath.Join(os.TempDir(), "kvrotate")
}

// Subject renders the subject template for a certificate name.
func (i IssuanceConfig) Subject(name string) string {
	return strings.ReplaceAll(i.SubjectTemplate, "{{name}}", name)
}
