// Package vault is the certificate vault capability the rotation engine
// consumes, plus its Azure Key Vault implementation.
package vault

import (
	"context"
	"time"
)

// OperationStatus is the state of an issuance operation.
type OperationStatus string

const (
	StatusInProgress OperationStatus = "InProgress"
	StatusCompleted  OperationStatus = "Completed"
	StatusFailed     OperationStatus = "Failed"
)

// Terminal reports whether no further status change is expected.
func (s OperationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Certificate is the current version of a named certificate. The vault owns
// it; the engine only reads it and requests new versions.
type Certificate struct {
	Name       string            `json:"name"`
	Version    string            `json:"version,omitempty"`
	Thumbprint string            `json:"thumbprint,omitempty"`
	Expires    time.Time         `json:"expires,omitempty"`
	NotBefore  time.Time         `json:"notBefore,omitempty"`
	Enabled    bool              `json:"enabled"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// HasExpiry reports whether the vault returned an expiry timestamp.
func (c Certificate) HasExpiry() bool {
	return !c.Expires.IsZero()
}

// RenewalPolicy is the issuance policy a new version is created under.
type RenewalPolicy struct {
	Issuer            string   `json:"issuer"`
	Subject           string   `json:"subject"`
	ValidityMonths    int32    `json:"validityMonths"`
	KeyType           string   `json:"keyType"`
	KeySize           int32    `json:"keySize,omitempty"`
	Exportable        bool     `json:"exportable"`
	ReuseKey          bool     `json:"reuseKey"`
	KeyUsages         []string `json:"keyUsages,omitempty"`
	ExtendedKeyUsages []string `json:"extendedKeyUsages,omitempty"`
	ContentType       string   `json:"contentType,omitempty"`
}

// Operation is the handle returned by a renewal submission.
type Operation struct {
	Certificate  string          `json:"certificate"`
	RequestID    string          `json:"requestId,omitempty"`
	Status       OperationStatus `json:"status"`
	Started      time.Time       `json:"started"`
	ErrorCode    string          `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// Client is the upstream contract. Implementations are bound to one vault and
// an already-authorized session; they never re-authenticate implicitly.
type Client interface {
	// Name is the short vault name reported in responses.
	Name() string

	ListCertificates(ctx context.Context) ([]Certificate, error)
	GetCertificate(ctx context.Context, name string) (Certificate, error)
	GetRenewalPolicy(ctx context.Context, name string) (RenewalPolicy, error)

	// SubmitRenewal asks the vault to issue a new version of name under
	// policy. It creates the certificate when name does not exist yet.
	SubmitRenewal(ctx context.Context, name string, policy RenewalPolicy) (Operation, error)

	// PollOperation returns the current state of op.
	PollOperation(ctx context.Context, op Operation) (Operation, error)
}
