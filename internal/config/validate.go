package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/hashicorp/go-multierror"
	dserrors "github.com/systmms/kvrotate/internal/errors"
)

// Validate checks every section and reports all problems at once. The vault
// identifier is checked separately by RequireVault because commands that only
// read the audit log do not need one.
func (d *Definition) Validate() error {
	var result *multierror.Error

	if d.Vault.URL != "" {
		u, err := url.Parse(d.Vault.URL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			result = multierror.Append(result, dserrors.ConfigError{
				Field:      "vault.url",
				Value:      d.Vault.URL,
				Message:    "invalid vault URL",
				Suggestion: "Use format: https://vault-name.vault.azure.net/",
			})
		}
	}

	switch d.Vault.Auth.Method {
	case "", AuthDefault, AuthManagedIdentity:
	case AuthClientSecret:
		if d.Vault.Auth.TenantID == "" || d.Vault.Auth.ClientID == "" || d.Vault.Auth.Secret.Empty() {
			result = multierror.Append(result, dserrors.ConfigError{
				Field:      "vault.auth",
				Message:    "client_secret auth requires tenant_id, client_id and client_secret",
				Suggestion: "Set AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET",
			})
		}
	default:
		result = multierror.Append(result, dserrors.ConfigError{
			Field:   "vault.auth.method",
			Value:   d.Vault.Auth.Method,
			Message: "unknown auth method",
		})
	}

	if d.Rotation.ThresholdDays < 0 {
		result = multierror.Append(result, dserrors.ConfigError{
			Field:   "rotation.threshold_days",
			Value:   d.Rotation.ThresholdDays,
			Message: "must not be negative",
		})
	}
	for name, p := range map[string]PollConfig{
		"rotation.interactive": d.Rotation.Interactive,
		"rotation.scheduled":   d.Rotation.Scheduled,
	} {
		if err := p.validate(name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if !gronx.New().IsValid(d.Rotation.Schedule) {
		result = multierror.Append(result, dserrors.ConfigError{
			Field:      "rotation.schedule",
			Value:      d.Rotation.Schedule,
			Message:    "invalid cron expression",
			Suggestion: "Use five fields, e.g. \"0 2 * * *\" for daily at 02:00 UTC",
		})
	}

	if err := d.Issuance.validate(); err != nil {
		result = multierror.Append(result, err)
	}

	// An empty metrics_path disables the metrics endpoint.
	if !strings.HasPrefix(d.Server.Path, "/") || (d.Server.MetricsPath != "" && !strings.HasPrefix(d.Server.MetricsPath, "/")) {
		result = multierror.Append(result, dserrors.ConfigError{
			Field:   "server",
			Message: "path and metrics_path must start with '/'",
		})
	}
	if w, maxWait := d.Server.WriteTimeout, d.Rotation.Interactive.MaxWait; w > 0 && w <= maxWait {
		result = multierror.Append(result, dserrors.ConfigError{
			Field:      "server.write_timeout",
			Value:      w.String(),
			Message:    fmt.Sprintf("must be longer than rotation.interactive.max_wait (%s), or rotate responses are cut off", maxWait),
			Suggestion: "Raise server.write_timeout or lower rotation.interactive.max_wait",
		})
	}

	for i, wh := range d.Notifications.Webhooks {
		u, err := url.Parse(wh.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			result = multierror.Append(result, dserrors.ConfigError{
				Field:   fmt.Sprintf("notifications.webhooks[%d].url", i),
				Value:   wh.URL,
				Message: "invalid webhook URL",
			})
		}
	}

	return result.ErrorOrNil()
}

// RequireVault returns a ConfigError when no vault identifier is configured.
func (d *Definition) RequireVault() error {
	if d.Vault.ResolvedURL() == "" {
		return dserrors.ConfigError{
			Field:      "vault.url",
			Message:    "vault identifier is required",
			Suggestion: fmt.Sprintf("Set vault.url or vault.name in the config file, or export %s / %s", EnvVaultURL, EnvVaultName),
		}
	}
	return nil
}

func (p PollConfig) validate(field string) error {
	if p.Interval <= 0 || p.MaxWait <= 0 {
		return dserrors.ConfigError{
			Field:   field,
			Message: "poll_interval and max_wait must be positive",
		}
	}
	if p.MaxWait < p.Interval {
		return dserrors.ConfigError{
			Field:   field,
			Message: fmt.Sprintf("max_wait (%s) is shorter than poll_interval (%s)", p.MaxWait, p.Interval),
		}
	}
	return nil
}

func (i IssuanceConfig) validate() error {
	if i.ValidityMonths < 1 {
		return dserrors.ConfigError{Field: "issuance.validity_months", Value: i.ValidityMonths, Message: "must be at least 1"}
	}
	if strings.HasPrefix(i.KeyType, "RSA") {
		switch i.KeySize {
		case 2048, 3072, 4096:
		default:
			return dserrors.ConfigError{Field: "issuance.key_size", Value: i.KeySize, Message: "RSA keys must be 2048, 3072 or 4096 bits"}
		}
	}
	if i.SubjectTemplate == "" {
		return dserrors.ConfigError{Field: "issuance.subject_template", Message: "must not be empty"}
	}
	return nil
}
