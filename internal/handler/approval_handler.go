package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/partsflow/approval-engine/internal/domain"
	"github.com/partsflow/approval-engine/internal/engine"
	"github.com/partsflow/approval-engine/internal/observability"
)

// ApprovalService is the engine surface the HTTP handlers need.
type ApprovalService interface {
	SendForApproval(ctx context.Context, poID int64, recipient string) (*domain.TrackingRecord, error)
	ProcessEmailApproval(ctx context.Context, trackingCode string, approvalEmail string, isApprovedHint bool, body string) (*engine.ApprovalResult, error)
	TrackingHistory(ctx context.Context, poID int64) ([]domain.TrackingRecord, error)
}

type ApprovalHandler struct {
	service ApprovalService
}

func NewApprovalHandler(service ApprovalService) (*ApprovalHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("approval service is required")
	}
	return &ApprovalHandler{service: service}, nil
}

func RegisterApprovalRoutes(router fiber.Router, service ApprovalService) error {
	h, err := NewApprovalHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/purchase-orders/:id/dispatch", h.DispatchForApproval)
	v1.Get("/purchase-orders/:id/tracking", h.GetTrackingHistory)
	v1.Post("/approvals", h.ProcessApproval)

	return nil
}

type dispatchRequest struct {
	Recipient string `json:"recipient"`
}

type processApprovalRequest struct {
	TrackingCode   string `json:"trackingCode"`
	ApprovalEmail  string `json:"approvalEmail"`
	IsApprovedHint bool   `json:"isApprovedHint"`
	Body           string `json:"body"`
}

type processApprovalResponse struct {
	Success        bool   `json:"success"`
	POID           int64  `json:"poId"`
	Status         string `json:"status"`
	ApprovalStatus string `json:"approvalStatus"`
}

type trackingRecordResponse struct {
	ID                   string     `json:"id"`
	POID                 int64      `json:"poId"`
	RecipientEmail       string     `json:"recipientEmail"`
	EmailSubject         string     `json:"emailSubject"`
	TrackingCode         string     `json:"trackingCode"`
	Status               string     `json:"status"`
	SentDate             time.Time  `json:"sentDate"`
	ApprovalDate         *time.Time `json:"approvalDate,omitempty"`
	ApprovalEmail        *string    `json:"approvalEmail,omitempty"`
	Notes                *string    `json:"notes,omitempty"`
	ReroutedTo           *string    `json:"reroutedTo,omitempty"`
	ReroutedDate         *time.Time `json:"reroutedDate,omitempty"`
	ReroutedTrackingCode *string    `json:"reroutedTrackingCode,omitempty"`
}

type trackingHistoryResponse struct {
	POID    int64                    `json:"poId"`
	Records []trackingRecordResponse `json:"records"`
}

func (h *ApprovalHandler) DispatchForApproval(c *fiber.Ctx) error {
	poID, err := purchaseOrderID(c)
	if err != nil {
		return toHTTPError(err)
	}

	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	record, err := h.service.SendForApproval(requestContext(c), poID, req.Recipient)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toTrackingRecordResponse(record))
}

func (h *ApprovalHandler) ProcessApproval(c *fiber.Ctx) error {
	var req processApprovalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.ProcessEmailApproval(
		requestContext(c), req.TrackingCode, req.ApprovalEmail, req.IsApprovedHint, req.Body,
	)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(processApprovalResponse{
		Success:        result.Success,
		POID:           result.POID,
		Status:         result.NewStatus.String(),
		ApprovalStatus: result.ApprovalStatus.String(),
	})
}

func (h *ApprovalHandler) GetTrackingHistory(c *fiber.Ctx) error {
	poID, err := purchaseOrderID(c)
	if err != nil {
		return toHTTPError(err)
	}

	records, err := h.service.TrackingHistory(requestContext(c), poID)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]trackingRecordResponse, 0, len(records))
	for i := range records {
		responses = append(responses, toTrackingRecordResponse(&records[i]))
	}

	return c.Status(fiber.StatusOK).JSON(trackingHistoryResponse{
		POID:    poID,
		Records: responses,
	})
}

// requestContext threads the caller's request id into the context so the
// engine's logs can be tied back to the HTTP request.
func requestContext(c *fiber.Ctx) context.Context {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return observability.WithCorrelationID(c.Context(), value)
	}
	return c.Context()
}

func purchaseOrderID(c *fiber.Ctx) (int64, error) {
	raw := strings.TrimSpace(c.Params("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid purchase order id %q", domain.ErrValidation, raw)
	}
	return id, nil
}

func toTrackingRecordResponse(r *domain.TrackingRecord) trackingRecordResponse {
	if r == nil {
		return trackingRecordResponse{}
	}

	return trackingRecordResponse{
		ID:                   r.ID,
		POID:                 r.POID,
		RecipientEmail:       r.RecipientEmail,
		EmailSubject:         r.EmailSubject,
		TrackingCode:         r.TrackingCode,
		Status:               r.Status.String(),
		SentDate:             r.SentDate,
		ApprovalDate:         r.ApprovalDate,
		ApprovalEmail:        r.ApprovalEmail,
		Notes:                r.Notes,
		ReroutedTo:           r.ReroutedTo,
		ReroutedDate:         r.ReroutedDate,
		ReroutedTrackingCode: r.ReroutedTrackingCode,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorizedApprover):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateTrackingCode):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
