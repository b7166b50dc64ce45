package vault

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	dserrors "github.com/systmms/kvrotate/internal/errors"
)

// classify converts an SDK error into the engine's error taxonomy. A 404 on
// a named certificate becomes a NotFoundError; everything else is an
// UpstreamError whose Retryable flag follows the HTTP status.
func classify(op, certificate string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &dserrors.UpstreamError{Op: op, Certificate: certificate, Err: err}
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == http.StatusNotFound && certificate != "" {
			return &dserrors.NotFoundError{Certificate: certificate, Err: err}
		}
		return &dserrors.UpstreamError{
			Op:          op,
			Certificate: certificate,
			StatusCode:  respErr.StatusCode,
			Retryable:   dserrors.RetryableStatus(respErr.StatusCode),
			Suggestion:  suggestion(err),
			Err:         err,
		}
	}

	// Transport failures never reached the service.
	return &dserrors.UpstreamError{
		Op:          op,
		Certificate: certificate,
		Retryable:   dserrors.IsRetryable(err),
		Suggestion:  suggestion(err),
		Err:         err,
	}
}

// suggestion provides an operator hint based on Azure errors
func suggestion(err error) string {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "forbidden") || strings.Contains(errStr, "403"):
		return "Check Key Vault access: certificates get, list, create and update permissions are required"
	case strings.Contains(errStr, "certificatenotfound") || strings.Contains(errStr, "404"):
		return "Verify the certificate name exists in the Key Vault. Names are case-sensitive"
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "401"):
		return "Check authentication: verify managed identity, service principal, or Azure CLI login"
	case strings.Contains(errStr, "no such host") || strings.Contains(errStr, "vault not found"):
		return "Check the vault URL and that the Key Vault exists and is reachable"
	case strings.Contains(errStr, "throttled") || strings.Contains(errStr, "429"):
		return "Request was throttled; it will be retried with backoff"
	case strings.Contains(errStr, "conflict") || strings.Contains(errStr, "409"):
		return "Another operation is pending for this certificate; wait for it to finish"
	case strings.Contains(errStr, "tenant"):
		return "Check that the tenant ID is correct and the application is registered"
	default:
		return "Check Azure credentials, Key Vault URL, and access policies"
	}
}
