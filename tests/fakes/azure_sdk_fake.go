package fakes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azcertificates"
)

// FakeCertificatesClient is a mock implementation of vault.CertificatesAPI.
type FakeCertificatesClient struct {
	mu sync.Mutex

	// VaultURL prefixes generated certificate IDs.
	VaultURL string
	// PageSize splits ListCertificateProperties into pages. Zero means one page.
	PageSize int

	// Certificates maps names to their current version.
	Certificates map[string]*azcertificates.Certificate
	// Policies maps names to their issuance policy.
	Policies map[string]*azcertificates.CertificatePolicy
	// Operations maps names to the status sequence returned by
	// GetCertificateOperation; the last entry repeats.
	Operations map[string][]azcertificates.CertificateOperation
	// Errors maps "<method>:<name>" (or "<method>" for list) to errors to return
	Errors map[string]error

	// Created records parameters passed to CreateCertificate.
	Created map[string]azcertificates.CreateCertificateParameters

	order []string
}

// NewFakeCertificatesClient creates a new mock certificates client
func NewFakeCertificatesClient() *FakeCertificatesClient {
	return &FakeCertificatesClient{
		VaultURL:     "https://test-vault.vault.azure.net",
		Certificates: make(map[string]*azcertificates.Certificate),
		Policies:     make(map[string]*azcertificates.CertificatePolicy),
		Operations:   make(map[string][]azcertificates.CertificateOperation),
		Errors:       make(map[string]error),
		Created:      make(map[string]azcertificates.CreateCertificateParameters),
	}
}

// AddCertificate adds a certificate version with the given thumbprint and expiry.
func (f *FakeCertificatesClient) AddCertificate(name, version string, thumbprint []byte, expires time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.Certificates[name]; !exists {
		f.order = append(f.order, name)
	}
	id := azcertificates.ID(fmt.Sprintf("%s/certificates/%s/%s", f.VaultURL, name, version))
	f.Certificates[name] = &azcertificates.Certificate{
		ID:             &id,
		X509Thumbprint: thumbprint,
		Attributes: &azcertificates.CertificateAttributes{
			Enabled: to.Ptr(true),
			Expires: to.Ptr(expires),
		},
	}
}

// SetOperationStatuses scripts the statuses reported for name's pending operation.
func (f *FakeCertificatesClient) SetOperationStatuses(name string, statuses ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ops := make([]azcertificates.CertificateOperation, 0, len(statuses))
	for _, s := range statuses {
		ops = append(ops, azcertificates.CertificateOperation{
			Status:    to.Ptr(s),
			RequestID: to.Ptr("req-" + name),
		})
	}
	f.Operations[name] = ops
}

// NewListCertificatePropertiesPager pages over the certificates in insertion order.
func (f *FakeCertificatesClient) NewListCertificatePropertiesPager(_ *azcertificates.ListCertificatePropertiesOptions) *runtime.Pager[azcertificates.ListCertificatePropertiesResponse] {
	return runtime.NewPager(runtime.PagingHandler[azcertificates.ListCertificatePropertiesResponse]{
		More: func(page azcertificates.ListCertificatePropertiesResponse) bool {
			return page.NextLink != nil
		},
		Fetcher: func(_ context.Context, cur *azcertificates.ListCertificatePropertiesResponse) (azcertificates.ListCertificatePropertiesResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()

			if err := f.Errors["list"]; err != nil {
				return azcertificates.ListCertificatePropertiesResponse{}, err
			}

			start := 0
			if cur != nil && cur.NextLink != nil {
				start, _ = strconv.Atoi(*cur.NextLink)
			}
			end := len(f.order)
			if f.PageSize > 0 && start+f.PageSize < end {
				end = start + f.PageSize
			}

			var resp azcertificates.ListCertificatePropertiesResponse
			for _, name := range f.order[start:end] {
				c := f.Certificates[name]
				resp.Value = append(resp.Value, &azcertificates.CertificateProperties{
					ID:             c.ID,
					Attributes:     c.Attributes,
					X509Thumbprint: c.X509Thumbprint,
					Tags:           c.Tags,
				})
			}
			if end < len(f.order) {
				resp.NextLink = to.Ptr(strconv.Itoa(end))
			}
			return resp, nil
		},
	})
}

// GetCertificate returns the current version of name.
func (f *FakeCertificatesClient) GetCertificate(_ context.Context, name string, _ string, _ *azcertificates.GetCertificateOptions) (azcertificates.GetCertificateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors["get:"+name]; err != nil {
		return azcertificates.GetCertificateResponse{}, err
	}
	c, ok := f.Certificates[name]
	if !ok {
		return azcertificates.GetCertificateResponse{}, ResponseError(http.StatusNotFound, "CertificateNotFound")
	}
	return azcertificates.GetCertificateResponse{Certificate: *c}, nil
}

// GetCertificatePolicy returns the stored policy of name.
func (f *FakeCertificatesClient) GetCertificatePolicy(_ context.Context, name string, _ *azcertificates.GetCertificatePolicyOptions) (azcertificates.GetCertificatePolicyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors["policy:"+name]; err != nil {
		return azcertificates.GetCertificatePolicyResponse{}, err
	}
	p, ok := f.Policies[name]
	if !ok {
		return azcertificates.GetCertificatePolicyResponse{}, ResponseError(http.StatusNotFound, "CertificateNotFound")
	}
	return azcertificates.GetCertificatePolicyResponse{CertificatePolicy: *p}, nil
}

// CreateCertificate records the request and returns an in-progress operation.
func (f *FakeCertificatesClient) CreateCertificate(_ context.Context, name string, parameters azcertificates.CreateCertificateParameters, _ *azcertificates.CreateCertificateOptions) (azcertificates.CreateCertificateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors["create:"+name]; err != nil {
		return azcertificates.CreateCertificateResponse{}, err
	}
	f.Created[name] = parameters
	return azcertificates.CreateCertificateResponse{
		CertificateOperation: azcertificates.CertificateOperation{
			Status:    to.Ptr("inProgress"),
			RequestID: to.Ptr("req-" + name),
		},
	}, nil
}

// GetCertificateOperation pops the next scripted status for name.
func (f *FakeCertificatesClient) GetCertificateOperation(_ context.Context, name string, _ *azcertificates.GetCertificateOperationOptions) (azcertificates.GetCertificateOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors["operation:"+name]; err != nil {
		return azcertificates.GetCertificateOperationResponse{}, err
	}
	ops := f.Operations[name]
	if len(ops) == 0 {
		return azcertificates.GetCertificateOperationResponse{}, ResponseError(http.StatusNotFound, "PendingCertificateNotFound")
	}
	op := ops[0]
	if len(ops) > 1 {
		f.Operations[name] = ops[1:]
	}
	return azcertificates.GetCertificateOperationResponse{CertificateOperation: op}, nil
}

// ResponseError builds an *azcore.ResponseError as the SDK returns it.
func ResponseError(status int, code string) error {
	req, _ := http.NewRequest(http.MethodGet, "https://test-vault.vault.azure.net/certificates", nil)
	return &azcore.ResponseError{
		ErrorCode:  code,
		StatusCode: status,
		RawResponse: &http.Response{
			StatusCode: status,
			Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    req,
		},
	}
}
