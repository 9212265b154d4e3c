// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/parsclinic/clinic-core/app/dto"
	businessflow "github.com/parsclinic/clinic-core/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// CheckInHandlerInterface defines the contract for check-in handlers
type CheckInHandlerInterface interface {
	CheckIn(c fiber.Ctx) error
	RepairLink(c fiber.Ctx) error
}

// CheckInHandler handles check-in related HTTP requests
type CheckInHandler struct {
	checkInFlow businessflow.CheckInFlow
	validator   *validator.Validate
}

// NewCheckInHandler creates a new check-in handler
func NewCheckInHandler(checkInFlow businessflow.CheckInFlow) *CheckInHandler {
	return &CheckInHandler{
		checkInFlow: checkInFlow,
		validator:   validator.New(),
	}
}

func (h *CheckInHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *CheckInHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CheckIn handles the patient arrival workflow
// @Summary Check In
// @Description Create the clinical encounter for a booked appointment and link both records. Idempotent; the response always carries both the appointment id and the encounter id.
// @Tags CheckIn
// @Accept json
// @Produce json
// @Param request body dto.CheckInRequest true "Check-in data"
// @Success 200 {object} dto.APIResponse{data=dto.CheckInResponse} "Checked in"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Appointment not found"
// @Failure 409 {object} dto.APIResponse "Appointment cancelled or link requires manual reconciliation"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/appointments/check-in [post]
func (h *CheckInHandler) CheckIn(c fiber.Ctx) error {
	var req dto.CheckInRequest
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

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.checkInFlow.EstablishCheckIn(h.createRequestContext(c, "/api/v1/appointments/check-in"), &req, metadata)
	if err != nil {
		if businessflow.IsAppointmentNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Appointment not found", "APPOINTMENT_NOT_FOUND", nil)
		}
		if businessflow.IsAppointmentCancelled(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Appointment is cancelled", "APPOINTMENT_CANCELLED", nil)
		}
		if businessflow.IsLinkAmbiguous(err) {
			var ambErr *businessflow.AmbiguousLinkError
			var details any
			if errors.As(err, &ambErr) {
				details = fiber.Map{
					"forward_encounter_id":  ambErr.ForwardEncounterID,
					"backward_encounter_id": ambErr.BackwardEncounterID,
				}
			}
			return h.ErrorResponse(c, fiber.StatusConflict, "Link requires manual reconciliation", "LINK_AMBIGUOUS", details)
		}
		if businessflow.IsAllocationUnavailable(err) {
			return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Identifier allocation unavailable, retry later", "ALLOCATION_UNAVAILABLE", nil)
		}

		log.Println("Check-in failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Check-in failed", "CHECKIN_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// RepairLink handles manual link repair
// @Summary Repair Link
// @Description Run the appointment-encounter link repair pass for one appointment
// @Tags CheckIn
// @Accept json
// @Produce json
// @Param request body dto.RepairLinkRequest true "Repair data"
// @Success 200 {object} dto.APIResponse{data=dto.RepairLinkResponse} "Repair result"
// @Failure 404 {object} dto.APIResponse "Appointment not found"
// @Failure 409 {object} dto.APIResponse "Link requires manual reconciliation"
// @Router /api/v1/appointments/repair-link [post]
func (h *CheckInHandler) RepairLink(c fiber.Ctx) error {
	var req dto.RepairLinkRequest
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

	result, err := h.checkInFlow.RepairLink(h.createRequestContext(c, "/api/v1/appointments/repair-link"), &req, metadata)
	if err != nil {
		if businessflow.IsAppointmentNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Appointment not found", "APPOINTMENT_NOT_FOUND", nil)
		}
		if businessflow.IsLinkAmbiguous(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Link requires manual reconciliation", "LINK_AMBIGUOUS", nil)
		}

		log.Println("Link repair failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Link repair failed", "REPAIR_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func (h *CheckInHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	ctx = context.WithValue(ctx, "request_id", c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, "user_agent", c.Get("User-Agent"))
	ctx = context.WithValue(ctx, "ip_address", c.IP())
	ctx = context.WithValue(ctx, "endpoint", endpoint)
	ctx = context.WithValue(ctx, "cancel_func", cancel) // Store cancel function for cleanup

	return ctx
}
