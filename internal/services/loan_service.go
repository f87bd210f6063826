package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/literanusa/backend/internal/middleware"
)

// LoanService exposes the loan ledger over HTTP.
type LoanService struct {
	db        *sql.DB
	ledger    *LoanLedgerService
	validator *ValidationHelper
}

func NewLoanService(db *sql.DB) *LoanService {
	return &LoanService{
		db:        db,
		ledger:    NewLoanLedgerService(db),
		validator: NewValidationHelper(),
	}
}

// Ledger returns the underlying ledger, used by the overdue sweep worker.
func (ls *LoanService) Ledger() *LoanLedgerService {
	return ls.ledger
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBookNotFound):
		SendErrorResponse(w, "Book not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrLoanNotFound):
		SendErrorResponse(w, "Loan not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrBookUnavailable):
		SendErrorResponse(w, "No copies available", http.StatusConflict, nil)
	case errors.Is(err, ErrDuplicateActiveLoan):
		SendErrorResponse(w, "Member already has an open loan for this book", http.StatusConflict, nil)
	case errors.Is(err, ErrAlreadyReturned):
		SendErrorResponse(w, "Loan has already been returned", http.StatusConflict, nil)
	case errors.Is(err, ErrStorageUnavailable):
		SendErrorResponse(w, "Storage unavailable", http.StatusServiceUnavailable, nil)
	default:
		SendErrorResponse(w, "Failed to process loan", http.StatusInternalServerError, nil)
	}
}

// BorrowBook checks out a copy for the authenticated member
// @Summary Borrow a book
// @Description Create a loan for the authenticated member, decrementing availability
// @Tags loans
// @Accept json
// @Produce json
// @Param loan body object{bookId=int} true "Book to borrow"
// @Success 201 {object} models.Loan
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /loans [post]
func (ls *LoanService) BorrowBook(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == 0 {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		BookID int `json:"bookId" validate:"required,gt=0"`
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ls.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	loan, err := ls.ledger.Borrow(r.Context(), userID, req.BookID, time.Now())
	if err != nil {
		log.Printf("[LOAN] Borrow failed for user %d, book %d: %v", userID, req.BookID, err)
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"loan":    loan,
	})
}

// ReturnBook closes a loan and restores the copy
// @Summary Return a borrowed book
// @Description Mark the loan returned and increment availability. Members can only return their own loans
// @Tags loans
// @Produce json
// @Param loanId path int true "Loan ID"
// @Success 200 {object} models.Loan
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /loans/{loanId}/return [post]
func (ls *LoanService) ReturnBook(w http.ResponseWriter, r *http.Request) {
	loanID, err := strconv.Atoi(chi.URLParam(r, "loanId"))
	if err != nil || loanID <= 0 {
		SendErrorResponse(w, "Invalid loan id", http.StatusBadRequest, nil)
		return
	}

	ownerID := middleware.UserIDFromContext(r.Context())
	if ownerID == 0 {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if middleware.RoleFromContext(r.Context()) == "ADMIN" {
		ownerID = 0 // admins can close any loan
	}

	loan, err := ls.ledger.Return(r.Context(), loanID, ownerID, time.Now())
	if err != nil {
		log.Printf("[LOAN] Return failed for loan %d: %v", loanID, err)
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"loan":    loan,
	})
}

// GetMyLoans lists the authenticated member's loan history
// @Summary Get loan history
// @Description List all loans of the authenticated member, newest first
// @Tags loans
// @Produce json
// @Success 200 {object} object{loans=[]models.Loan,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /loans [get]
func (ls *LoanService) GetMyLoans(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == 0 {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	loans, err := ls.ledger.LoansByUser(r.Context(), userID)
	if err != nil {
		log.Printf("[LOAN] Failed to fetch loans for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch loans", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"loans": loans,
		"count": len(loans),
	})
}

// GetAllLoans lists every loan in the system
// @Summary List all loans
// @Description Admin view of every loan, newest first
// @Tags loans
// @Produce json
// @Success 200 {object} object{loans=[]models.Loan,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /loans/all [get]
func (ls *LoanService) GetAllLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := ls.ledger.AllLoans(r.Context())
	if err != nil {
		log.Printf("[LOAN] Failed to fetch all loans: %v", err)
		SendErrorResponse(w, "Failed to fetch loans", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"loans": loans,
		"count": len(loans),
	})
}

// SweepOverdue marks every active loan past its due date as overdue
// @Summary Run the overdue sweep
// @Description Mark all active loans past due date as OVERDUE; safe to re-run
// @Tags loans
// @Produce json
// @Success 200 {object} object{marked=int64}
// @Failure 500 {object} ErrorResponse
// @Router /loans/sweep-overdue [post]
func (ls *LoanService) SweepOverdue(w http.ResponseWriter, r *http.Request) {
	marked, err := ls.ledger.RecomputeOverdue(r.Context(), time.Now())
	if err != nil {
		log.Printf("[LOAN] Overdue sweep failed: %v", err)
		SendErrorResponse(w, "Failed to run overdue sweep", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"marked":  marked,
	})
}

// LedgerCheckHandler verifies copy conservation for a book
// @Summary Verify ledger conservation
// @Description Check that available copies plus open loans equals total copies
// @Tags loans
// @Produce json
// @Param bookId path int true "Book ID"
// @Success 200 {object} LedgerCheck
// @Failure 404 {object} ErrorResponse
// @Router /books/{bookId}/ledger-check [get]
func (ls *LoanService) LedgerCheckHandler(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookId"))
	if err != nil || bookID <= 0 {
		SendErrorResponse(w, "Invalid book id", http.StatusBadRequest, nil)
		return
	}

	check, err := ls.ledger.VerifyConservation(r.Context(), bookID)
	if err != nil {
		log.Printf("[LOAN] Ledger check failed for book %d: %v", bookID, err)
		writeLedgerError(w, err)
		return
	}

	if !check.Consistent {
		log.Printf("[LOAN] Ledger drift detected for book %d: available=%d open=%d total=%d",
			bookID, check.AvailableCopies, check.OpenLoans, check.TotalCopies)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(check)
}
