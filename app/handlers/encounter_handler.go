// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/parsclinic/clinic-core/app/dto"
	businessflow "github.com/parsclinic/clinic-core/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// EncounterHandlerInterface defines the contract for encounter handlers
type EncounterHandlerInterface interface {
	CompleteEncounter(c fiber.Ctx) error
	StartEncounter(c fiber.Ctx) error
	CancelEncounter(c fiber.Ctx) error
	GetEncounter(c fiber.Ctx) error
	GetBillingRecord(c fiber.Ctx) error
}

// EncounterHandler handles encounter-related HTTP requests
type EncounterHandler struct {
	completionFlow businessflow.CompletionFlow
	queryFlow      businessflow.QueryFlow
	validator      *validator.Validate
}

// NewEncounterHandler creates a new encounter handler
func NewEncounterHandler(completionFlow businessflow.CompletionFlow, queryFlow businessflow.QueryFlow) *EncounterHandler {
	return &EncounterHandler{
		completionFlow: completionFlow,
		queryFlow:      queryFlow,
		validator:      validator.New(),
	}
}

func (h *EncounterHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *EncounterHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CompleteEncounter handles the encounter completion workflow
// @Summary Complete Encounter
// @Description Complete an active clinical encounter: reserve dispensed inventory, issue the billing record, and link all records. Idempotent for already completed encounters.
// @Tags Encounters
// @Accept json
// @Produce json
// @Param request body dto.CompleteEncounterRequest true "Completion data"
// @Success 200 {object} dto.APIResponse{data=dto.CompleteEncounterResponse} "Encounter completed"
// @Failure 400 {object} dto.APIResponse "Validation error or invalid request"
// @Failure 404 {object} dto.APIResponse "Encounter not found"
// @Failure 409 {object} dto.APIResponse "Encounter in a state that cannot be completed"
// @Failure 422 {object} dto.APIResponse "Insufficient stock for a dispensed item"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/encounters/complete [post]
func (h *EncounterHandler) CompleteEncounter(c fiber.Ctx) error {
	var req dto.CompleteEncounterRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	// Validate request
	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	// Get client information
	ipAddress := c.IP()
	userAgent := c.Get("User-Agent")
	metadata := businessflow.NewClientMetadata(ipAddress, userAgent)

	// Call business logic with proper context
	result, err := h.completionFlow.CompleteEncounter(h.createRequestContext(c, "/api/v1/encounters/complete"), &req, metadata)
	if err != nil {
		// Handle specific business errors
		if businessflow.IsEncounterNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Encounter not found", "ENCOUNTER_NOT_FOUND", nil)
		}
		if businessflow.IsEncounterCancelled(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Encounter is cancelled", "ENCOUNTER_CANCELLED", nil)
		}
		if businessflow.IsInvalidStateTransition(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Encounter cannot be completed in its current state", "INVALID_STATE", nil)
		}
		if businessflow.IsInsufficientStock(err) {
			var stockErr *businessflow.InsufficientStockError
			var details any
			if errors.As(err, &stockErr) {
				details = fiber.Map{"item_id": stockErr.ItemID, "requested": stockErr.Requested}
			}
			return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Insufficient stock for a dispensed item", "INSUFFICIENT_STOCK", details)
		}
		if businessflow.IsAllocationUnavailable(err) {
			return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Identifier allocation unavailable, retry later", "ALLOCATION_UNAVAILABLE", nil)
		}

		log.Println("Encounter completion failed", err)
		// Handle generic business errors
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Encounter completion failed", "COMPLETION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// StartEncounter handles the visit start transition
// @Summary Start Encounter
// @Description Move a checked-in encounter to active when the practitioner begins the visit
// @Tags Encounters
// @Accept json
// @Produce json
// @Param request body dto.StartEncounterRequest true "Start data"
// @Success 200 {object} dto.APIResponse{data=dto.StartEncounterResponse} "Encounter started"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Encounter not found"
// @Failure 409 {object} dto.APIResponse "Encounter in a state that cannot be started"
// @Router /api/v1/encounters/start [post]
func (h *EncounterHandler) StartEncounter(c fiber.Ctx) error {
	var req dto.StartEncounterRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.completionFlow.StartEncounter(h.createRequestContext(c, "/api/v1/encounters/start"), &req, metadata)
	if err != nil {
		if businessflow.IsEncounterNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Encounter not found", "ENCOUNTER_NOT_FOUND", nil)
		}
		if businessflow.IsInvalidStateTransition(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Encounter cannot be started in its current state", "INVALID_STATE", nil)
		}

		log.Println("Encounter start failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Encounter start failed", "START_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// CancelEncounter handles encounter cancellation
// @Summary Cancel Encounter
// @Description Cancel any non-completed encounter and release held inventory reservations
// @Tags Encounters
// @Accept json
// @Produce json
// @Param request body dto.CancelEncounterRequest true "Cancellation data"
// @Success 200 {object} dto.APIResponse{data=dto.CancelEncounterResponse} "Encounter cancelled"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Encounter not found"
// @Failure 409 {object} dto.APIResponse "Completed encounters cannot be cancelled"
// @Router /api/v1/encounters/cancel [post]
func (h *EncounterHandler) CancelEncounter(c fiber.Ctx) error {
	var req dto.CancelEncounterRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.completionFlow.CancelEncounter(h.createRequestContext(c, "/api/v1/encounters/cancel"), &req, metadata)
	if err != nil {
		if businessflow.IsEncounterNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Encounter not found", "ENCOUNTER_NOT_FOUND", nil)
		}
		if businessflow.IsInvalidStateTransition(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Completed encounters cannot be cancelled", "INVALID_STATE", nil)
		}

		log.Println("Encounter cancellation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Encounter cancellation failed", "CANCEL_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// GetEncounter handles encounter retrieval
// @Summary Get Encounter
// @Description Retrieve one encounter with its dispensed line items
// @Tags Encounters
// @Produce json
// @Param id path int true "Encounter ID"
// @Success 200 {object} dto.APIResponse{data=dto.EncounterDTO} "Encounter retrieved"
// @Failure 400 {object} dto.APIResponse "Invalid encounter ID"
// @Failure 404 {object} dto.APIResponse "Encounter not found"
// @Router /api/v1/encounters/{id} [get]
func (h *EncounterHandler) GetEncounter(c fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid encounter ID", "INVALID_REQUEST", nil)
	}

	result, err := h.queryFlow.GetEncounter(h.createRequestContext(c, "/api/v1/encounters/:id"), uint(id))
	if err != nil {
		if businessflow.IsEncounterNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Encounter not found", "ENCOUNTER_NOT_FOUND", nil)
		}

		log.Println("Encounter retrieval failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Encounter retrieval failed", "QUERY_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Encounter retrieved", result)
}

// GetBillingRecord handles billing record retrieval
// @Summary Get Billing Record
// @Description Retrieve one billing record by its display identifier
// @Tags Billing
// @Produce json
// @Param display_id path string true "Billing record display ID"
// @Success 200 {object} dto.APIResponse{data=dto.BillingRecordDTO} "Billing record retrieved"
// @Failure 404 {object} dto.APIResponse "Billing record not found"
// @Router /api/v1/billing/{display_id} [get]
func (h *EncounterHandler) GetBillingRecord(c fiber.Ctx) error {
	displayID := c.Params("display_id")
	if displayID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid billing record ID", "INVALID_REQUEST", nil)
	}

	result, err := h.queryFlow.GetBillingRecord(h.createRequestContext(c, "/api/v1/billing/:display_id"), displayID)
	if err != nil {
		if businessflow.IsBillingRecordNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Billing record not found", "BILLING_RECORD_NOT_FOUND", nil)
		}

		log.Println("Billing record retrieval failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Billing record retrieval failed", "QUERY_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Billing record retrieved", result)
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func (h *EncounterHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

// createRequestContextWithTimeout creates a context with custom timeout and request-scoped values
func (h *EncounterHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	// Add request-scoped values for observability
	ctx = context.WithValue(ctx, "request_id", c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, "user_agent", c.Get("User-Agent"))
	ctx = context.WithValue(ctx, "ip_address", c.IP())
	ctx = context.WithValue(ctx, "endpoint", endpoint)
	ctx = context.WithValue(ctx, "timeout", timeout)
	ctx = context.WithValue(ctx, "cancel_func", cancel) // Store cancel function for cleanup

	return ctx
}
