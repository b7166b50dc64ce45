package rotation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/internal/logging"
	"github.com/systmms/kvrotate/internal/vault"
	"github.com/systmms/kvrotate/tests/fakes"
)

func selfSigned(name string) vault.RenewalPolicy {
	return vault.RenewalPolicy{
		Issuer:            "Self",
		Subject:           "CN=" + name,
		ValidityMonths:    12,
		KeyType:           "RSA",
		KeySize:           2048,
		Exportable:        true,
		KeyUsages:         []string{"digitalSignature", "keyEncipherment"},
		ExtendedKeyUsages: []string{"1.3.6.1.5.5.7.3.1", "1.3.6.1.5.5.7.3.2"},
	}
}

func newTestHandler(fv *fakes.FakeVault, budget Budget, obs Observer) *Handler {
	return NewHandler(fv, NewEvaluatorAt(fixedClock), newTestPoller(fv), budget, selfSigned, obs, logging.Discard())
}

func seededVault() *fakes.FakeVault {
	fv := newFakeVault()
	fv.AddCertificate("expired", daysFromNow(-2))
	fv.AddCertificate("soon", daysFromNow(10))
	fv.AddCertificate("fine", daysFromNow(400))
	return fv
}

func TestParseRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		action  string
		cert    string
		days    string
		want    Request
		wantErr string
	}{
		{name: "default is list", want: ListRequest{ThresholdDays: 30}},
		{name: "list override", action: "list", days: "7", want: ListRequest{ThresholdDays: 7}},
		{name: "check", action: "CHECK", want: CheckRequest{ThresholdDays: 30}},
		{name: "rotate", action: "rotate", cert: "web", want: RotateRequest{CertificateName: "web"}},
		{name: "create trims", action: "create", cert: " api ", want: CreateRequest{CertificateName: "api"}},
		{name: "rotate without name", action: "rotate", wantErr: "certificateName"},
		{name: "create without name", action: "create", wantErr: "certificateName"},
		{name: "bad name", action: "rotate", cert: "web/../x", wantErr: "certificateName"},
		{name: "unknown action", action: "delete", wantErr: "action"},
		{name: "non-integer days", action: "check", days: "soon", wantErr: "daysBeforeExpiry"},
		{name: "negative days", action: "list", days: "-1", wantErr: "daysBeforeExpiry"},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseRequest(tt.action, tt.cert, tt.days, DefaultThresholdDays)
			if tt.wantErr != "" {
				var valErr dserrors.ValidationError
				require.True(t, errors.As(err, &valErr), "got %v", err)
				assert.Equal(t, tt.wantErr, valErr.Field)
				assert.Nil(t, got)
				assert.True(t, got == nil, "want an untyped nil request, got %#v", got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Action(), got.Action())
		})
	}
}

func TestRotateWithoutNameMakesNoVaultCalls(t *testing.T) {
	t.Parallel()

	fv := seededVault()
	_, err := ParseRequest("rotate", "", "", DefaultThresholdDays)

	require.Error(t, err)
	assert.Equal(t, dserrors.KindValidation, dserrors.Kind(err))
	assert.Empty(t, fv.Calls())
}

func TestHandleList(t *testing.T) {
	t.Parallel()

	fv := seededVault()
	fv.Put(vault.Certificate{Name: "undated", Enabled: true})

	resp, err := newTestHandler(fv, fastBudget, nil).Handle(context.Background(), ListRequest{ThresholdDays: 30})
	require.NoError(t, err)

	assert.Equal(t, ActionList, resp.Action)
	assert.Equal(t, "test-kv", resp.Vault)
	assert.Equal(t, testNow, resp.Timestamp)
	assert.Equal(t, "Found 4 certificates", resp.Message)
	require.Len(t, resp.Certificates, 4)
	assert.Equal(t, StatusExpired, resp.Certificates[0].Status)
	assert.Equal(t, StatusExpiringSoon, resp.Certificates[1].Status)
	assert.Equal(t, 10, resp.Certificates[1].DaysUntilExpiry)
	assert.True(t, resp.Certificates[1].NeedsRotation)
	assert.Equal(t, StatusOK, resp.Certificates[2].Status)
	assert.Equal(t, StatusUnknown, resp.Certificates[3].Status)
	assert.Empty(t, fv.Submissions())
}

func TestHandleListThresholdOverride(t *testing.T) {
	t.Parallel()

	fv := seededVault()
	resp, err := newTestHandler(fv, fastBudget, nil).Handle(context.Background(), ListRequest{ThresholdDays: 5})
	require.NoError(t, err)

	assert.Equal(t, StatusOK, resp.Certificates[1].Status)
	assert.Equal(t, 5, resp.ThresholdDays)
}

func TestHandleCheck(t *testing.T) {
	t.Parallel()

	fv := seededVault()
	resp, err := newTestHandler(fv, fastBudget, nil).Handle(context.Background(), CheckRequest{ThresholdDays: 30})
	require.NoError(t, err)

	require.NotNil(t, resp.Check)
	assert.Equal(t, CheckCounts{Total: 3, Expired: 1, ExpiringSoon: 1, OK: 1}, resp.Check.Counts)
	assert.Equal(t, "expired", resp.Check.Expired[0].Name)
	assert.Equal(t, "soon", resp.Check.ExpiringSoon[0].Name)
	assert.Equal(t, "fine", resp.Check.OK[0].Name)
	assert.Contains(t, resp.Message, "1 expired")
	assert.Empty(t, fv.Submissions())
}

func TestHandleRotate(t *testing.T) {
	t.Parallel()

	fv := seededVault()
	before, _ := fv.Certificate("fine")
	obs := &recordingObserver{}

	resp, err := newTestHandler(fv, fastBudget, obs).Handle(context.Background(), RotateRequest{CertificateName: "fine"})
	require.NoError(t, err)

	require.NotNil(t, resp.Result)
	assert.Equal(t, OutcomeRotated, resp.Result.Outcome)
	assert.Equal(t, before.Thumbprint, resp.Result.OldThumbprint)
	assert.NotEqual(t, before.Thumbprint, resp.Result.NewThumbprint)
	assert.Equal(t, "Certificate 'fine' rotated", resp.Message)
	assert.Equal(t, []string{"fine"}, fv.Submissions())

	require.Len(t, obs.summaries, 1)
	assert.Equal(t, TriggerOnDemand, obs.summaries[0].Trigger)
	assert.Equal(t, 1, obs.summaries[0].Counts.Rotated)
}

func TestHandleRotateUnknownCertificate(t *testing.T) {
	t.Parallel()

	fv := seededVault()
	_, err := newTestHandler(fv, fastBudget, nil).Handle(context.Background(), RotateRequest{CertificateName: "missing"})

	assert.Equal(t, dserrors.KindNotFound, dserrors.Kind(err))
	assert.Empty(t, fv.Submissions())
}

func TestHandleRotateTimeout(t *testing.T) {
	t.Parallel()

	fv := seededVault()
	fv.Statuses["soon"] = []vault.OperationStatus{vault.StatusInProgress}

	resp, err := newTestHandler(fv, shortBudget, nil).Handle(context.Background(), RotateRequest{CertificateName: "soon"})

	require.Error(t, err)
	assert.Equal(t, dserrors.KindTimeout, dserrors.Kind(err))
	require.NotNil(t, resp.Result)
	assert.Equal(t, OutcomeTimedOut, resp.Result.Outcome)
	assert.Contains(t, resp.Message, "did not finish")
}

func TestHandleCreate(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	resp, err := newTestHandler(fv, fastBudget, nil).Handle(context.Background(), CreateRequest{CertificateName: "new-api"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeRotated, resp.Result.Outcome)
	assert.Equal(t, "created", resp.Result.Reason)
	assert.Equal(t, "Certificate 'new-api' created", resp.Message)

	policy, err := fv.GetRenewalPolicy(context.Background(), "new-api")
	require.NoError(t, err)
	assert.Equal(t, selfSigned("new-api"), policy)

	cert, ok := fv.Certificate("new-api")
	require.True(t, ok)
	assert.Equal(t, testNow.AddDate(0, 12, 0), cert.Expires)
}

func TestHandleCreateWithoutTemplate(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	h := NewHandler(fv, NewEvaluatorAt(fixedClock), newTestPoller(fv), fastBudget, nil, nil, logging.Discard())

	_, err := h.Handle(context.Background(), CreateRequest{CertificateName: "x"})
	assert.Equal(t, dserrors.KindConfiguration, dserrors.Kind(err))
	assert.Empty(t, fv.Calls())
}
