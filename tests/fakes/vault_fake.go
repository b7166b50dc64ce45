package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/internal/vault"
)

// VaultCall records one call made against FakeVault.
type VaultCall struct {
	Method      string
	Certificate string
}

// FakeVault is an in-memory vault.Client with scripted operation outcomes.
type FakeVault struct {
	mu sync.Mutex

	// VaultName is returned by Name.
	VaultName string

	// Policies maps certificate names to their renewal policy. A missing
	// entry yields a default policy derived from the name.
	Policies map[string]vault.RenewalPolicy

	// Statuses maps certificate names to the statuses PollOperation returns
	// in order; the last entry repeats. A missing entry completes on the
	// first poll.
	Statuses map[string][]vault.OperationStatus

	// ListErr is returned by ListCertificates.
	ListErr error
	// GetErrs maps names to errors returned by GetCertificate.
	GetErrs map[string]error
	// SubmitErrs maps names to errors returned by successive SubmitRenewal
	// calls; once consumed, submissions succeed.
	SubmitErrs map[string][]error
	// PollErrs maps names to errors returned by successive PollOperation
	// calls before the scripted statuses are used.
	PollErrs map[string][]error
	// FailOnComplete maps names to an error GetCertificate returns once the
	// new version has been issued.
	FailOnComplete map[string]error

	// PollDelay is slept inside every PollOperation call.
	PollDelay time.Duration
	// Now stamps new versions. Defaults to time.Now.
	Now func() time.Time

	// OnSubmit, if set, runs inside SubmitRenewal before it returns.
	OnSubmit func(name string)

	certs    map[string]vault.Certificate
	order    []string
	versions map[string]int
	calls    []VaultCall
}

// NewFakeVault creates an empty fake vault named name.
func NewFakeVault(name string) *FakeVault {
	return &FakeVault{
		VaultName:      name,
		Policies:       make(map[string]vault.RenewalPolicy),
		Statuses:       make(map[string][]vault.OperationStatus),
		GetErrs:        make(map[string]error),
		SubmitErrs:     make(map[string][]error),
		PollErrs:       make(map[string][]error),
		FailOnComplete: make(map[string]error),
		certs:          make(map[string]vault.Certificate),
		versions:       make(map[string]int),
	}
}

// AddCertificate stores an enabled certificate expiring at expires.
func (f *FakeVault) AddCertificate(name string, expires time.Time) vault.Certificate {
	return f.Put(vault.Certificate{Name: name, Expires: expires, Enabled: true})
}

// Put stores c, assigning a version and thumbprint when empty.
func (f *FakeVault) Put(c vault.Certificate) vault.Certificate {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.certs[c.Name]; !exists {
		f.order = append(f.order, c.Name)
	}
	f.versions[c.Name]++
	if c.Version == "" {
		c.Version = fmt.Sprintf("v%d", f.versions[c.Name])
	}
	if c.Thumbprint == "" {
		c.Thumbprint = thumbprintFor(c.Name, f.versions[c.Name])
	}
	f.certs[c.Name] = c
	return c
}

// Certificate returns the stored certificate without recording a call.
func (f *FakeVault) Certificate(name string) (vault.Certificate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.certs[name]
	return c, ok
}

// Calls returns a copy of every recorded call.
func (f *FakeVault) Calls() []VaultCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]VaultCall(nil), f.calls...)
}

// CallCount counts recorded calls of method, for any certificate.
func (f *FakeVault) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Submissions returns the names passed to SubmitRenewal, in order.
func (f *FakeVault) Submissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.calls {
		if c.Method == "SubmitRenewal" {
			names = append(names, c.Certificate)
		}
	}
	return names
}

func (f *FakeVault) record(method, name string) {
	f.calls = append(f.calls, VaultCall{Method: method, Certificate: name})
}

func (f *FakeVault) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// Name returns VaultName.
func (f *FakeVault) Name() string {
	return f.VaultName
}

// ListCertificates returns stored certificates in insertion order.
func (f *FakeVault) ListCertificates(_ context.Context) ([]vault.Certificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("ListCertificates", "")
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]vault.Certificate, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, f.certs[name])
	}
	return out, nil
}

// GetCertificate returns the stored certificate or a NotFoundError.
func (f *FakeVault) GetCertificate(_ context.Context, name string) (vault.Certificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("GetCertificate", name)
	if err := f.GetErrs[name]; err != nil {
		return vault.Certificate{}, err
	}
	c, ok := f.certs[name]
	if !ok {
		return vault.Certificate{}, &dserrors.NotFoundError{Certificate: name}
	}
	return c, nil
}

// GetRenewalPolicy returns the configured or default policy of name.
func (f *FakeVault) GetRenewalPolicy(_ context.Context, name string) (vault.RenewalPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("GetRenewalPolicy", name)
	if _, ok := f.certs[name]; !ok {
		return vault.RenewalPolicy{}, &dserrors.NotFoundError{Certificate: name}
	}
	if p, ok := f.Policies[name]; ok {
		return p, nil
	}
	return vault.RenewalPolicy{
		Issuer:         "Self",
		Subject:        "CN=" + name,
		ValidityMonths: 12,
		KeyType:        "RSA",
		KeySize:        2048,
	}, nil
}

// SubmitRenewal records the submission and returns an in-progress operation.
func (f *FakeVault) SubmitRenewal(_ context.Context, name string, policy vault.RenewalPolicy) (vault.Operation, error) {
	f.mu.Lock()
	f.record("SubmitRenewal", name)
	if errs := f.SubmitErrs[name]; len(errs) > 0 {
		f.SubmitErrs[name] = errs[1:]
		f.mu.Unlock()
		return vault.Operation{}, errs[0]
	}
	f.Policies[name] = policy
	hook := f.OnSubmit
	f.mu.Unlock()

	if hook != nil {
		hook(name)
	}

	return vault.Operation{
		Certificate: name,
		RequestID:   "req-" + name,
		Status:      vault.StatusInProgress,
		Started:     f.now(),
	}, nil
}

// PollOperation advances the scripted status sequence of op's certificate.
// Reaching Completed issues a new version.
func (f *FakeVault) PollOperation(ctx context.Context, op vault.Operation) (vault.Operation, error) {
	if f.PollDelay > 0 {
		select {
		case <-time.After(f.PollDelay):
		case <-ctx.Done():
			return op, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := op.Certificate
	f.record("PollOperation", name)

	if errs := f.PollErrs[name]; len(errs) > 0 {
		f.PollErrs[name] = errs[1:]
		return op, errs[0]
	}

	status := vault.StatusCompleted
	if script := f.Statuses[name]; len(script) > 0 {
		status = script[0]
		if len(script) > 1 {
			f.Statuses[name] = script[1:]
		}
	}

	op.Status = status
	switch status {
	case vault.StatusCompleted:
		f.issue(name)
	case vault.StatusFailed:
		op.ErrorCode = "PolicyViolation"
		op.ErrorMessage = "issuer rejected the request"
	}
	return op, nil
}

// issue stores a new version of name. Must be called with f.mu held.
func (f *FakeVault) issue(name string) {
	months := 12
	if p, ok := f.Policies[name]; ok && p.ValidityMonths > 0 {
		months = int(p.ValidityMonths)
	}
	if _, exists := f.certs[name]; !exists {
		f.order = append(f.order, name)
	}
	f.versions[name]++
	now := f.now().UTC()
	f.certs[name] = vault.Certificate{
		Name:       name,
		Version:    fmt.Sprintf("v%d", f.versions[name]),
		Thumbprint: thumbprintFor(name, f.versions[name]),
		Expires:    now.AddDate(0, months, 0),
		NotBefore:  now,
		Enabled:    true,
	}
	if err := f.FailOnComplete[name]; err != nil {
		f.GetErrs[name] = err
	}
}

func thumbprintFor(name string, version int) string {
	return fmt.Sprintf("%X", []byte(fmt.Sprintf("%s#%d", name, version)))
}
