package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/pkg/rotation"
)

func (s *Server) handleCertificates(c echo.Context) error {
	var params requestParams
	if err := s.bind(c, &params); err != nil {
		return s.fail(c, params.Action, err, nil)
	}

	req, err := rotation.ParseRequest(params.Action, params.CertificateName, string(params.DaysBeforeExpiry), s.defaultThreshold)
	if err != nil {
		return s.fail(c, params.Action, err, nil)
	}

	resp, err := s.handler.Handle(c.Request().Context(), req)
	if err != nil {
		return s.fail(c, string(req.Action()), err, &resp)
	}
	return c.JSON(http.StatusOK, s.success(resp))
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":   "ok",
		"keyVault": s.vault,
	})
}

// bind reads query parameters for every method, then the body if present,
// and validates the result. Parse failures are validation errors.
func (s *Server) bind(c echo.Context, params *requestParams) error {
	binder := &echo.DefaultBinder{}
	if err := binder.BindQueryParams(c, params); err != nil {
		return dserrors.ValidationError{Message: "malformed query string"}
	}
	if c.Request().ContentLength != 0 {
		if err := binder.BindBody(c, params); err != nil {
			return dserrors.ValidationError{Message: "malformed request body"}
		}
	}

	params.Action = strings.ToLower(strings.TrimSpace(params.Action))
	params.CertificateName = strings.TrimSpace(params.CertificateName)
	return c.Validate(params)
}

// success flattens resp into the response envelope.
func (s *Server) success(resp rotation.Response) echo.Map {
	body := s.envelope(string(resp.Action))
	body["success"] = true
	body["message"] = resp.Message
	if !resp.Timestamp.IsZero() {
		body["timestamp"] = resp.Timestamp.UTC().Format(time.RFC3339)
	}

	switch resp.Action {
	case rotation.ActionList:
		body["daysBeforeExpiry"] = resp.ThresholdDays
		body["certificates"] = nonNil(resp.Certificates)
	case rotation.ActionCheck:
		body["daysBeforeExpiry"] = resp.ThresholdDays
		if resp.Check != nil {
			body["summary"] = resp.Check.Counts
			body["expired"] = nonNil(resp.Check.Expired)
			body["expiringSoon"] = nonNil(resp.Check.ExpiringSoon)
			body["ok"] = nonNil(resp.Check.OK)
			if len(resp.Check.Unknown) > 0 {
				body["unknown"] = resp.Check.Unknown
			}
		}
	case rotation.ActionRotate, rotation.ActionCreate:
		if resp.Result != nil {
			body["certificateName"] = resp.Result.Certificate
			body["result"] = resp.Result
		}
	}
	return body
}

// fail writes the error envelope. resp carries a partial result, if any.
func (s *Server) fail(c echo.Context, action string, err error, resp *rotation.Response) error {
	if action == "" {
		action = string(rotation.ActionList)
	}

	kind := dserrors.Kind(err)
	body := s.envelope(action)
	body["success"] = false
	body["error"] = err.Error()
	body["errorKind"] = kind

	if resp != nil {
		if resp.Message != "" {
			body["message"] = resp.Message
		}
		if resp.Result != nil {
			body["certificateName"] = resp.Result.Certificate
			body["result"] = resp.Result
		}
	}

	status := StatusForKind(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s failed: %v", action, err)
	}
	return c.JSON(status, body)
}

func (s *Server) envelope(action string) echo.Map {
	return echo.Map{
		"action":    action,
		"keyVault":  s.vault,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}
}

// StatusForKind maps an error kind to the HTTP status of the error envelope.
func StatusForKind(kind string) int {
	switch kind {
	case dserrors.KindValidation:
		return http.StatusBadRequest
	case dserrors.KindNotFound:
		return http.StatusNotFound
	case dserrors.KindTimeout:
		return http.StatusGatewayTimeout
	case dserrors.KindUpstream, dserrors.KindOperationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(rows []rotation.CertificateStatus) []rotation.CertificateStatus {
	if rows == nil {
		return []rotation.CertificateStatus{}
	}
	return rows
}
