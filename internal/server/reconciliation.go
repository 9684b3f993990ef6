package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/reconciler/internal/observability/context"
	reconciliationdomain "github.com/smallbiznis/reconciler/internal/reconciliation/domain"
	"go.uber.org/zap"
)

const contextRunIDKey = "run_id"

type runReconciliationRequest struct {
	StartDate *string `json:"startDate"`
	EndDate   *string `json:"endDate"`
	// AutoResolve is the legacy name of LogForReview; neither resolves anything.
	AutoResolve  *bool `json:"autoResolve"`
	LogForReview *bool `json:"logForReview"`
}

func (r runReconciliationRequest) toRunRequest() (reconciliationdomain.RunRequest, error) {
	var req reconciliationdomain.RunRequest
	vErr := &ValidationErrors{}

	if r.StartDate != nil {
		start, err := parseOptionalTime(*r.StartDate, false)
		if err != nil || start == nil {
			vErr.Add("startDate", "invalid_time", "startDate must be an ISO-8601 date or timestamp")
		} else {
			req.Start = start
		}
	}
	if r.EndDate != nil {
		end, err := parseOptionalTime(*r.EndDate, true)
		if err != nil || end == nil {
			vErr.Add("endDate", "invalid_time", "endDate must be an ISO-8601 date or timestamp")
		} else {
			req.End = end
		}
	}
	if !vErr.Empty() {
		return reconciliationdomain.RunRequest{}, vErr
	}

	req.LogForReview = (r.AutoResolve != nil && *r.AutoResolve) || (r.LogForReview != nil && *r.LogForReview)
	return req, nil
}

// RunReconciliation handles POST /admin/reconciliation.
func (s *Server) RunReconciliation(c *gin.Context) {
	var body runReconciliationRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, bindError(err))
		return
	}

	req, err := body.toRunRequest()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx, runID := obscontext.EnsureRunID(c.Request.Context())
	c.Request = c.Request.WithContext(ctx)
	c.Set(contextRunIDKey, runID)

	result, err := s.reconciliationSvc.Reconcile(ctx, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListReconciliationLogs handles GET /admin/reconciliation.
func (s *Server) ListReconciliationLogs(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil || (limit != nil && *limit < 0) {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a non-negative integer"))
		return
	}

	req := reconciliationdomain.HistoryRequest{PageToken: c.Query("page_token")}
	if limit != nil {
		req.Limit = *limit
	}

	resp, err := s.reconciliationSvc.History(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Debug("listed reconciliation logs", zap.Int("count", len(resp.Logs)))
	c.JSON(http.StatusOK, resp)
}

func bindError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return newValidationError(typeErr.Field, "invalid_type", typeErr.Field+" has the wrong type")
	}
	return invalidRequestError()
}
