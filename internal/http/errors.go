package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/compliance"
	"github.com/fyrsmithlabs/outreachd/internal/experiment"
	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Check string `json:"check,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, compliance.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, compliance.ErrComplianceBlock),
		errors.Is(err, sequencer.ErrLeadNotCompliant):
		return http.StatusUnprocessableEntity
	case errors.Is(err, compliance.ErrAuditUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, campaign.ErrConfiguration),
		errors.Is(err, campaign.ErrReviewerRequired),
		errors.Is(err, sequencer.ErrReviewerRequired),
		errors.Is(err, sequencer.ErrInvalidPack),
		errors.Is(err, sequencer.ErrUnknownIntent),
		errors.Is(err, experiment.ErrInvalidSpec),
		errors.Is(err, experiment.ErrUnknownVariant):
		return http.StatusBadRequest
	case errors.Is(err, campaign.ErrCampaignNotFound),
		errors.Is(err, sequencer.ErrSequenceNotFound),
		errors.Is(err, experiment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaign.ErrInvalidTransition),
		errors.Is(err, campaign.ErrCampaignExists),
		errors.Is(err, campaign.ErrCampaignInactive),
		errors.Is(err, sequencer.ErrInvalidTransition),
		errors.Is(err, sequencer.ErrSequenceExists),
		errors.Is(err, sequencer.ErrNotActive),
		errors.Is(err, sequencer.ErrCampaignPaused),
		errors.Is(err, guardrail.ErrBreach):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders errors as ErrorResponse. Internal errors are logged
// and their text is not returned.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			code = http.StatusInternalServerError
			body ErrorResponse
			he   *echo.HTTPError
		)
		if errors.As(err, &he) {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				body.Error = msg
			} else {
				body.Error = http.StatusText(code)
			}
		} else {
			code = statusFor(err)
			body.Error = err.Error()
			var be *compliance.BlockError
			if errors.As(err, &be) {
				body.Check = string(be.Check)
			}
		}

		if code >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.Error(err),
				zap.String("uri", c.Request().RequestURI),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			if he == nil {
				body.Error = http.StatusText(code)
			}
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, body)
		}
		if writeErr != nil {
			logger.Warn("write error response", zap.Error(writeErr))
		}
	}
}
