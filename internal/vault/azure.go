package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azcertificates"
	"github.com/systmms/kvrotate/internal/config"
	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/internal/logging"
)

// CertificatesAPI is the subset of *azcertificates.Client used by AzureVault.
// This allows for mocking in tests.
type CertificatesAPI interface {
	NewListCertificatePropertiesPager(options *azcertificates.ListCertificatePropertiesOptions) *runtime.Pager[azcertificates.ListCertificatePropertiesResponse]
	GetCertificate(ctx context.Context, name string, version string, options *azcertificates.GetCertificateOptions) (azcertificates.GetCertificateResponse, error)
	GetCertificatePolicy(ctx context.Context, name string, options *azcertificates.GetCertificatePolicyOptions) (azcertificates.GetCertificatePolicyResponse, error)
	CreateCertificate(ctx context.Context, name string, parameters azcertificates.CreateCertificateParameters, options *azcertificates.CreateCertificateOptions) (azcertificates.CreateCertificateResponse, error)
	GetCertificateOperation(ctx context.Context, name string, options *azcertificates.GetCertificateOperationOptions) (azcertificates.GetCertificateOperationResponse, error)
}

var _ Client = (*AzureVault)(nil)

// AzureVault implements Client against Azure Key Vault certificates.
type AzureVault struct {
	name   string
	url    string
	client CertificatesAPI
	logger *logging.Logger
	now    func() time.Time
}

// Option is a functional option for configuring AzureVault
type Option func(*AzureVault)

// WithCertificatesAPI sets a custom certificates client (for testing)
func WithCertificatesAPI(client CertificatesAPI) Option {
	return func(v *AzureVault) {
		v.client = client
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *logging.Logger) Option {
	return func(v *AzureVault) {
		v.logger = logger
	}
}

// WithClock overrides the clock used to stamp operation start times.
func WithClock(now func() time.Time) Option {
	return func(v *AzureVault) {
		v.now = now
	}
}

// NewAzureVault binds a client to the configured vault. Authentication
// happens here, once; the returned value is shared by every component.
func NewAzureVault(cfg config.VaultConfig, opts ...Option) (*AzureVault, error) {
	url := cfg.ResolvedURL()
	if url == "" {
		return nil, dserrors.ConfigError{
			Field:      "vault.url",
			Message:    "vault identifier is required",
			Suggestion: fmt.Sprintf("Set vault.url or vault.name, or export %s", config.EnvVaultName),
		}
	}

	v := &AzureVault{
		name:   cfg.DisplayName(),
		url:    url,
		logger: logging.Discard(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.client == nil {
		cred, err := NewCredential(cfg.Auth)
		if err != nil {
			return nil, err
		}
		client, err := azcertificates.NewClient(url, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Key Vault certificates client: %w", err)
		}
		v.client = client
	}

	return v, nil
}

// Name returns the short vault name
func (v *AzureVault) Name() string {
	return v.name
}

// URL returns the vault endpoint.
func (v *AzureVault) URL() string {
	return v.url
}

// ListCertificates pages through every certificate in the vault.
func (v *AzureVault) ListCertificates(ctx context.Context) ([]Certificate, error) {
	var certs []Certificate

	pager := v.client.NewListCertificatePropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify("list certificates", "", err)
		}
		for _, props := range page.Value {
			if props == nil {
				continue
			}
			certs = append(certs, fromProperties(props))
		}
	}

	v.logger.Debug("Listed %d certificates in %s", len(certs), v.name)
	return certs, nil
}

// GetCertificate fetches the current version of name.
func (v *AzureVault) GetCertificate(ctx context.Context, name string) (Certificate, error) {
	resp, err := v.client.GetCertificate(ctx, name, "", nil)
	if err != nil {
		return Certificate{}, classify("get certificate", name, err)
	}
	return fromCertificate(name, resp.Certificate), nil
}

// GetRenewalPolicy fetches the issuance policy of name.
func (v *AzureVault) GetRenewalPolicy(ctx context.Context, name string) (RenewalPolicy, error) {
	resp, err := v.client.GetCertificatePolicy(ctx, name, nil)
	if err != nil {
		return RenewalPolicy{}, classify("get policy", name, err)
	}
	return fromPolicy(resp.CertificatePolicy), nil
}

// SubmitRenewal starts issuance of a new version of name under policy.
func (v *AzureVault) SubmitRenewal(ctx context.Context, name string, policy RenewalPolicy) (Operation, error) {
	started := v.now()

	v.logger.Debug("Submitting issuance for %s (issuer %s)", name, policy.Issuer)
	resp, err := v.client.CreateCertificate(ctx, name, azcertificates.CreateCertificateParameters{
		CertificatePolicy: toPolicy(policy),
	}, nil)
	if err != nil {
		return Operation{}, classify("submit renewal", name, err)
	}

	return fromOperation(name, started, resp.CertificateOperation), nil
}

// PollOperation reads the pending operation of op's certificate.
func (v *AzureVault) PollOperation(ctx context.Context, op Operation) (Operation, error) {
	resp, err := v.client.GetCertificateOperation(ctx, op.Certificate, nil)
	if err != nil {
		return op, classify("poll operation", op.Certificate, err)
	}
	return fromOperation(op.Certificate, op.Started, resp.CertificateOperation), nil
}
