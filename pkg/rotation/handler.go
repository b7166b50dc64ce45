package rotation

import (
	"context"
	"fmt"
	"time"

	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/internal/logging"
	"github.com/systmms/kvrotate/internal/vault"
)

// PolicyTemplate returns the issuance policy for a new certificate.
type PolicyTemplate func(name string) vault.RenewalPolicy

// CertificateStatus is one row of a list or check response.
type CertificateStatus struct {
	Name            string    `json:"name"`
	Thumbprint      string    `json:"thumbprint,omitempty"`
	Expires         time.Time `json:"expires,omitempty"`
	DaysUntilExpiry int       `json:"daysUntilExpiry"`
	Status          Status    `json:"status"`
	NeedsRotation   bool      `json:"needsRotation"`
	Enabled         bool      `json:"enabled"`
}

// CheckReport buckets certificates by status.
type CheckReport struct {
	Expired      []CertificateStatus `json:"expired"`
	ExpiringSoon []CertificateStatus `json:"expiringSoon"`
	OK           []CertificateStatus `json:"ok"`
	Unknown      []CertificateStatus `json:"unknown,omitempty"`
	Counts       CheckCounts         `json:"summary"`
}

// CheckCounts is the size of each CheckReport bucket.
type CheckCounts struct {
	Total        int `json:"total"`
	Expired      int `json:"expired"`
	ExpiringSoon int `json:"expiringSoon"`
	OK           int `json:"ok"`
	Unknown      int `json:"unknown,omitempty"`
}

// Response is the outcome of an on-demand request. Exactly one of
// Certificates, Check and Result is set, depending on Action.
type Response struct {
	Action        Action              `json:"action"`
	Vault         string              `json:"keyVault"`
	Timestamp     time.Time           `json:"timestamp"`
	Message       string              `json:"message"`
	ThresholdDays int                 `json:"daysBeforeExpiry,omitempty"`
	Certificates  []CertificateStatus `json:"certificates,omitempty"`
	Check         *CheckReport        `json:"check,omitempty"`
	Result        *Result             `json:"result,omitempty"`
}

// Handler serves on-demand requests with the same evaluator and poller the
// sweep uses.
type Handler struct {
	client    vault.Client
	evaluator *Evaluator
	poller    *Poller
	budget    Budget
	template  PolicyTemplate
	observer  Observer
	logger    *logging.Logger
}

// NewHandler wires a handler. budget is the interactive wait budget; observer
// may be nil.
func NewHandler(client vault.Client, evaluator *Evaluator, poller *Poller, budget Budget, template PolicyTemplate, observer Observer, logger *logging.Logger) *Handler {
	if observer == nil {
		observer = Observers(nil)
	}
	return &Handler{
		client:    client,
		evaluator: evaluator,
		poller:    poller,
		budget:    budget,
		template:  template,
		observer:  observer,
		logger:    logger.Named("handler"),
	}
}

// Handle dispatches req. For rotate and create, a Failed or TimedOut result
// is returned both in the response and as the error.
func (h *Handler) Handle(ctx context.Context, req Request) (Response, error) {
	resp := Response{
		Action: req.Action(),
		Vault:  h.client.Name(),
	}

	var err error
	switch r := req.(type) {
	case ListRequest:
		err = h.list(ctx, r, &resp)
	case CheckRequest:
		err = h.check(ctx, r, &resp)
	case RotateRequest:
		err = h.rotate(ctx, r, &resp)
	case CreateRequest:
		err = h.create(ctx, r, &resp)
	default:
		err = dserrors.ValidationError{Field: "action", Message: fmt.Sprintf("unsupported request %T", req)}
	}

	resp.Timestamp = h.evaluator.Now().UTC()
	return resp, err
}

func (h *Handler) statuses(ctx context.Context, threshold int) ([]CertificateStatus, error) {
	certs, err := h.client.ListCertificates(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]CertificateStatus, 0, len(certs))
	for _, c := range certs {
		row := CertificateStatus{
			Name:       c.Name,
			Thumbprint: c.Thumbprint,
			Expires:    c.Expires,
			Enabled:    c.Enabled,
			Status:     StatusUnknown,
		}
		if ev, err := h.evaluator.Evaluate(c, threshold); err == nil {
			row.Status = ev.Status
			row.DaysUntilExpiry = ev.DaysUntilExpiry
			row.NeedsRotation = ev.NeedsRotation
		}
		out = append(out, row)
	}
	return out, nil
}

func (h *Handler) list(ctx context.Context, req ListRequest, resp *Response) error {
	rows, err := h.statuses(ctx, req.ThresholdDays)
	if err != nil {
		return err
	}
	resp.ThresholdDays = req.ThresholdDays
	resp.Certificates = rows
	resp.Message = fmt.Sprintf("Found %d certificates", len(rows))
	return nil
}

func (h *Handler) check(ctx context.Context, req CheckRequest, resp *Response) error {
	rows, err := h.statuses(ctx, req.ThresholdDays)
	if err != nil {
		return err
	}

	report := &CheckReport{
		Expired:      []CertificateStatus{},
		ExpiringSoon: []CertificateStatus{},
		OK:           []CertificateStatus{},
	}
	for _, row := range rows {
		switch row.Status {
		case StatusExpired:
			report.Expired = append(report.Expired, row)
		case StatusExpiringSoon:
			report.ExpiringSoon = append(report.ExpiringSoon, row)
		case StatusOK:
			report.OK = append(report.OK, row)
		default:
			report.Unknown = append(report.Unknown, row)
		}
	}
	report.Counts = CheckCounts{
		Total:        len(rows),
		Expired:      len(report.Expired),
		ExpiringSoon: len(report.ExpiringSoon),
		OK:           len(report.OK),
		Unknown:      len(report.Unknown),
	}

	resp.ThresholdDays = req.ThresholdDays
	resp.Check = report
	resp.Message = fmt.Sprintf("%d expired, %d expiring within %d days, %d ok",
		report.Counts.Expired, report.Counts.ExpiringSoon, req.ThresholdDays, report.Counts.OK)
	return nil
}

func (h *Handler) rotate(ctx context.Context, req RotateRequest, resp *Response) error {
	cert, err := h.client.GetCertificate(ctx, req.CertificateName)
	if err != nil {
		return err
	}
	policy, err := h.client.GetRenewalPolicy(ctx, req.CertificateName)
	if err != nil {
		return err
	}

	h.logger.Info("Rotating %s on demand", req.CertificateName)
	res := h.poller.SubmitAndWait(ctx, req.CertificateName, policy, h.budget)
	res.OldThumbprint = cert.Thumbprint
	if snap, _, err := h.evaluator.Snapshot(cert, DefaultThresholdDays); err == nil {
		res.Expiry = snap
	}

	return h.record(res, resp, "rotated")
}

func (h *Handler) create(ctx context.Context, req CreateRequest, resp *Response) error {
	if h.template == nil {
		return dserrors.ConfigError{Field: "issuance", Message: "no issuance policy configured"}
	}

	h.logger.Info("Creating %s on demand", req.CertificateName)
	res := h.poller.SubmitAndWait(ctx, req.CertificateName, h.template(req.CertificateName), h.budget)
	if res.Outcome == OutcomeRotated {
		res.Reason = "created"
	}

	return h.record(res, resp, "created")
}

// record sends a single rotate or create result through the aggregator so
// on-demand mutations leave the same audit trail as sweeps.
func (h *Handler) record(res Result, resp *Response, verb string) error {
	agg := newAggregator(h.client.Name(), TriggerOnDemand, h.evaluator.now)
	agg.Add(res)
	h.observer.ResultRecorded(TriggerOnDemand, res)
	summary := agg.Summary()
	h.observer.SummaryRecorded(summary)
	h.logger.Audit(string(resp.Action), summary)

	resp.Result = &res
	switch res.Outcome {
	case OutcomeRotated:
		resp.Message = fmt.Sprintf("Certificate '%s' %s", res.Certificate, verb)
		return nil
	case OutcomeTimedOut:
		resp.Message = fmt.Sprintf("Certificate '%s' operation did not finish within %s", res.Certificate, h.budget.MaxWait)
	default:
		resp.Message = fmt.Sprintf("Certificate '%s' could not be %s", res.Certificate, verb)
	}
	if res.Err != nil {
		return res.Err
	}
	return fmt.Errorf("%s", res.Error)
}
