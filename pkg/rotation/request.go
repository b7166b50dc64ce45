package rotation

import (
	"fmt"
	"strconv"
	"strings"

	dserrors "github.com/systmms/kvrotate/internal/errors"
)

// Action names an on-demand operation.
type Action string

const (
	ActionList   Action = "list"
	ActionCheck  Action = "check"
	ActionRotate Action = "rotate"
	ActionCreate Action = "create"
)

// Actions lists every supported action.
var Actions = []Action{ActionList, ActionCheck, ActionRotate, ActionCreate}

// Request is one of ListRequest, CheckRequest, RotateRequest or
// CreateRequest. Each variant is validated when it is constructed.
type Request interface {
	Action() Action
	isRequest()
}

// ListRequest reports every certificate with its evaluated status.
type ListRequest struct {
	ThresholdDays int
}

// CheckRequest buckets certificates by status without mutating anything.
type CheckRequest struct {
	ThresholdDays int
}

// RotateRequest rotates one existing certificate.
type RotateRequest struct {
	CertificateName string
}

// CreateRequest issues a new certificate under the default issuance policy.
type CreateRequest struct {
	CertificateName string
}

func (ListRequest) Action() Action   { return ActionList }
func (CheckRequest) Action() Action  { return ActionCheck }
func (RotateRequest) Action() Action { return ActionRotate }
func (CreateRequest) Action() Action { return ActionCreate }

func (ListRequest) isRequest()   {}
func (CheckRequest) isRequest()  {}
func (RotateRequest) isRequest() {}
func (CreateRequest) isRequest() {}

// NewListRequest validates the threshold and builds a ListRequest.
func NewListRequest(thresholdDays int) (ListRequest, error) {
	if err := validateThreshold(thresholdDays); err != nil {
		return ListRequest{}, err
	}
	return ListRequest{ThresholdDays: thresholdDays}, nil
}

// NewCheckRequest validates the threshold and builds a CheckRequest.
func NewCheckRequest(thresholdDays int) (CheckRequest, error) {
	if err := validateThreshold(thresholdDays); err != nil {
		return CheckRequest{}, err
	}
	return CheckRequest{ThresholdDays: thresholdDays}, nil
}

// NewRotateRequest requires a certificate name.
func NewRotateRequest(name string) (RotateRequest, error) {
	name, err := validateName(name)
	if err != nil {
		return RotateRequest{}, err
	}
	return RotateRequest{CertificateName: name}, nil
}

// NewCreateRequest requires a certificate name.
func NewCreateRequest(name string) (CreateRequest, error) {
	name, err := validateName(name)
	if err != nil {
		return CreateRequest{}, err
	}
	return CreateRequest{CertificateName: name}, nil
}

// ParseRequest builds a request from loosely typed parameters as they arrive
// over HTTP. An empty action means list; an empty daysBeforeExpiry means
// defaultThreshold.
func ParseRequest(action, certificateName, daysBeforeExpiry string, defaultThreshold int) (Request, error) {
	threshold := defaultThreshold
	if d := strings.TrimSpace(daysBeforeExpiry); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			return nil, dserrors.ValidationError{Field: "daysBeforeExpiry", Message: fmt.Sprintf("%q is not an integer", daysBeforeExpiry)}
		}
		threshold = n
	}

	var (
		req Request
		err error
	)
	switch Action(strings.ToLower(strings.TrimSpace(action))) {
	case "", ActionList:
		req, err = NewListRequest(threshold)
	case ActionCheck:
		req, err = NewCheckRequest(threshold)
	case ActionRotate:
		req, err = NewRotateRequest(certificateName)
	case ActionCreate:
		req, err = NewCreateRequest(certificateName)
	default:
		return nil, dserrors.ValidationError{
			Field:   "action",
			Message: fmt.Sprintf("unknown action %q (expected one of list, check, rotate, create)", action),
		}
	}
	// A typed zero value in the interface would not compare equal to nil.
	if err != nil {
		return nil, err
	}
	return req, nil
}

func validateThreshold(days int) error {
	if days < 0 {
		return dserrors.ValidationError{Field: "daysBeforeExpiry", Message: "must not be negative"}
	}
	return nil
}

// validateName accepts Key Vault object names: 1-127 alphanumerics and dashes.
func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", dserrors.ValidationError{Field: "certificateName", Message: "certificateName is required"}
	}
	if len(name) > 127 {
		return "", dserrors.ValidationError{Field: "certificateName", Message: "must be at most 127 characters"}
	}
	for _, r := range name {
		if !(r == '-' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return "", dserrors.ValidationError{Field: "certificateName", Message: fmt.Sprintf("invalid character %q", r)}
		}
	}
	return name, nil
}
