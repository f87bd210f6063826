package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/literanusa/backend/internal/middleware"
	"github.com/literanusa/backend/internal/services"
)

type PickupHandler struct {
	service   *services.PickupService
	validator *services.ValidationHelper
}

func NewPickupHandler(service *services.PickupService) *PickupHandler {
	return &PickupHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateCode issues a pickup code for one of the member's loans
// @Summary Generate pickup code
// @Description Generate a single-use desk code for collecting a borrowed book
// @Tags pickup
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{loanId=int} true "Pickup code request"
// @Success 200 {object} object{code=string,expiresIn=int}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /pickup/generate [post]
func (h *PickupHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		LoanID int `json:"loanId" validate:"required,gt=0"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		log.Printf("[PICKUP] GenerateCode - Decode error: %v", err)
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	code, err := h.service.GenerateCode(r.Context(), userID, req.LoanID)
	if err != nil {
		log.Printf("[PICKUP] GenerateCode - Service error: %v", err)
		switch {
		case errors.Is(err, services.ErrLoanNotFound):
			services.SendErrorResponse(w, "Loan not found", http.StatusNotFound, nil)
		case errors.Is(err, services.ErrAlreadyReturned):
			services.SendErrorResponse(w, "Loan has already been returned", http.StatusConflict, nil)
		case errors.Is(err, services.ErrPickupRateLimited):
			services.SendErrorResponse(w, "Too many pickup codes, try again later", http.StatusTooManyRequests, nil)
		default:
			services.SendErrorResponse(w, "Failed to generate pickup code", http.StatusInternalServerError, nil)
		}
		return
	}

	expiresIn := int(h.service.GetCodeTimeout().Seconds())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"code":      code,
		"expiresIn": expiresIn,
	})
}

// RedeemCode validates and consumes a pickup code at the desk
// @Summary Redeem pickup code
// @Description Validate and consume a single-use pickup code
// @Tags pickup
// @Accept json
// @Produce json
// @Param request body object{code=string} true "Code redemption request"
// @Success 200 {object} services.PickupCode
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /pickup/redeem [post]
func (h *PickupHandler) RedeemCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	pickup, err := h.service.ValidateAndConsume(r.Context(), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPickupCodeInvalid):
			services.SendErrorResponse(w, "Invalid pickup code", http.StatusBadRequest, nil)
		case errors.Is(err, services.ErrPickupCodeUsed):
			services.SendErrorResponse(w, "Pickup code already used", http.StatusConflict, nil)
		case errors.Is(err, services.ErrPickupCodeExpired):
			services.SendErrorResponse(w, "Pickup code expired", http.StatusConflict, nil)
		default:
			services.SendErrorResponse(w, "Failed to redeem pickup code", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pickup)
}

// GetUserCodes lists the member's pickup codes
// @Summary Get pickup codes
// @Description Get all pickup codes issued to the authenticated member
// @Tags pickup
// @Produce json
// @Security BearerAuth
// @Success 200 {array} services.PickupCode
// @Failure 401 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /pickup/codes [get]
func (h *PickupHandler) GetUserCodes(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	codes, err := h.service.GetUserCodes(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch pickup codes", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(codes)
}
