package vault_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azcertificates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/kvrotate/internal/config"
	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/internal/vault"
	"github.com/systmms/kvrotate/tests/fakes"
)

func newTestVault(t *testing.T, fake *fakes.FakeCertificatesClient) *vault.AzureVault {
	t.Helper()

	v, err := vault.NewAzureVault(
		config.VaultConfig{URL: "https://test-vault.vault.azure.net/"},
		vault.WithCertificatesAPI(fake),
	)
	require.NoError(t, err)
	return v
}

func TestNewAzureVaultRequiresIdentifier(t *testing.T) {
	t.Parallel()

	_, err := vault.NewAzureVault(config.VaultConfig{}, vault.WithCertificatesAPI(fakes.NewFakeCertificatesClient()))
	require.Error(t, err)
	assert.Equal(t, dserrors.KindConfiguration, dserrors.Kind(err))
}

func TestAzureVaultName(t *testing.T) {
	t.Parallel()

	v, err := vault.NewAzureVault(config.VaultConfig{Name: "prod-kv"}, vault.WithCertificatesAPI(fakes.NewFakeCertificatesClient()))
	require.NoError(t, err)
	assert.Equal(t, "prod-kv", v.Name())
	assert.Equal(t, "https://prod-kv.vault.azure.net/", v.URL())
}

func TestListCertificatesPages(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeCertificatesClient()
	fake.PageSize = 2
	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, name := range []string{"a", "b", "c"} {
		fake.AddCertificate(name, "v1", []byte{0xab, 0x01}, expires)
	}

	certs, err := newTestVault(t, fake).ListCertificates(context.Background())
	require.NoError(t, err)
	require.Len(t, certs, 3)

	assert.Equal(t, "a", certs[0].Name)
	assert.Equal(t, "v1", certs[0].Version)
	assert.Equal(t, "AB01", certs[0].Thumbprint)
	assert.Equal(t, expires, certs[0].Expires)
	assert.True(t, certs[0].Enabled)
	assert.Equal(t, "c", certs[2].Name)
}

func TestListCertificatesError(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeCertificatesClient()
	fake.Errors["list"] = fakes.ResponseError(http.StatusForbidden, "Forbidden")

	_, err := newTestVault(t, fake).ListCertificates(context.Background())

	var upErr *dserrors.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusForbidden, upErr.StatusCode)
	assert.False(t, upErr.Retryable)
	assert.Contains(t, upErr.Suggestion, "access")
}

func TestGetCertificateNotFound(t *testing.T) {
	t.Parallel()

	_, err := newTestVault(t, fakes.NewFakeCertificatesClient()).GetCertificate(context.Background(), "missing")

	var nf *dserrors.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.Certificate)
}

func TestGetCertificateThrottled(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeCertificatesClient()
	fake.Errors["get:web"] = fakes.ResponseError(http.StatusTooManyRequests, "Throttled")

	_, err := newTestVault(t, fake).GetCertificate(context.Background(), "web")
	assert.True(t, dserrors.IsRetryable(err))
	assert.Equal(t, dserrors.KindUpstream, dserrors.Kind(err))
}

func TestGetRenewalPolicy(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeCertificatesClient()
	keyType := azcertificates.KeyTypeRSA
	fake.Policies["web"] = &azcertificates.CertificatePolicy{
		IssuerParameters: &azcertificates.IssuerParameters{Name: to.Ptr("Self")},
		KeyProperties: &azcertificates.KeyProperties{
			KeyType:    &keyType,
			KeySize:    to.Ptr(int32(2048)),
			Exportable: to.Ptr(true),
		},
		X509CertificateProperties: &azcertificates.X509CertificateProperties{
			Subject:          to.Ptr("CN=web"),
			ValidityInMonths: to.Ptr(int32(12)),
			KeyUsage:         []*azcertificates.KeyUsageType{to.Ptr(azcertificates.KeyUsageTypeDigitalSignature)},
			EnhancedKeyUsage: []*string{to.Ptr("1.3.6.1.5.5.7.3.1")},
		},
	}

	policy, err := newTestVault(t, fake).GetRenewalPolicy(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, vault.RenewalPolicy{
		Issuer:            "Self",
		Subject:           "CN=web",
		ValidityMonths:    12,
		KeyType:           "RSA",
		KeySize:           2048,
		Exportable:        true,
		KeyUsages:         []string{"digitalSignature"},
		ExtendedKeyUsages: []string{"1.3.6.1.5.5.7.3.1"},
	}, policy)
}

func TestSubmitRenewalSendsPolicy(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeCertificatesClient()
	started := time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC)
	v, err := vault.NewAzureVault(
		config.VaultConfig{URL: "https://test-vault.vault.azure.net/"},
		vault.WithCertificatesAPI(fake),
		vault.WithClock(func() time.Time { return started }),
	)
	require.NoError(t, err)

	op, err := v.SubmitRenewal(context.Background(), "api", vault.RenewalPolicy{
		Issuer:         "Self",
		Subject:        "CN=api",
		ValidityMonths: 12,
		KeyType:        "RSA",
		KeySize:        2048,
		KeyUsages:      []string{"digitalSignature", "keyEncipherment"},
		ContentType:    "application/x-pkcs12",
	})
	require.NoError(t, err)
	assert.Equal(t, vault.StatusInProgress, op.Status)
	assert.Equal(t, "api", op.Certificate)
	assert.Equal(t, started, op.Started)

	params := fake.Created["api"]
	require.NotNil(t, params.CertificatePolicy)
	assert.Equal(t, "Self", *params.CertificatePolicy.IssuerParameters.Name)
	assert.Equal(t, int32(2048), *params.CertificatePolicy.KeyProperties.KeySize)
	assert.Equal(t, "CN=api", *params.CertificatePolicy.X509CertificateProperties.Subject)
	assert.Len(t, params.CertificatePolicy.X509CertificateProperties.KeyUsage, 2)
	assert.Equal(t, "application/x-pkcs12", *params.CertificatePolicy.SecretProperties.ContentType)
}

func TestPollOperationStatuses(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeCertificatesClient()
	fake.SetOperationStatuses("api", "inProgress", "completed")
	fake.SetOperationStatuses("bad", "cancelled")
	v := newTestVault(t, fake)
	ctx := context.Background()

	op, err := v.PollOperation(ctx, vault.Operation{Certificate: "api"})
	require.NoError(t, err)
	assert.Equal(t, vault.StatusInProgress, op.Status)
	assert.False(t, op.Status.Terminal())

	op, err = v.PollOperation(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, vault.StatusCompleted, op.Status)
	assert.True(t, op.Status.Terminal())

	op, err = v.PollOperation(ctx, vault.Operation{Certificate: "bad"})
	require.NoError(t, err)
	assert.Equal(t, vault.StatusFailed, op.Status)
	assert.Equal(t, "cancelled", op.ErrorCode)
}

func TestPollOperationReportsServiceError(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeCertificatesClient()
	fake.Operations["api"] = []azcertificates.CertificateOperation{{
		Status: to.Ptr("failed"),
	}}

	op, err := newTestVault(t, fake).PollOperation(context.Background(), vault.Operation{Certificate: "api"})
	require.NoError(t, err)
	assert.Equal(t, vault.StatusFailed, op.Status)
}

func TestPollOperationMapsErrorInfo(t *testing.T) {
	t.Parallel()

	var info azcertificates.ErrorInfo
	require.NoError(t, json.Unmarshal([]byte(`{"code":"Forbidden","message":"issuer denied the request"}`), &info))

	fake := fakes.NewFakeCertificatesClient()
	fake.Operations["api"] = []azcertificates.CertificateOperation{{
		Status: to.Ptr("inProgress"),
		Error:  &info,
	}}

	op, err := newTestVault(t, fake).PollOperation(context.Background(), vault.Operation{Certificate: "api"})
	require.NoError(t, err)
	assert.Equal(t, vault.StatusFailed, op.Status)
	assert.Equal(t, "Forbidden", op.ErrorCode)
	assert.Contains(t, op.ErrorMessage, "issuer denied the request")
}
