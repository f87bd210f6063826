package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/literanusa/backend/internal/audit"
	"github.com/literanusa/backend/internal/models"
)

// Every failed precondition gets its own error value so callers can tell
// terminal failures from retryable storage trouble.
var (
	ErrBookNotFound        = errors.New("book not found")
	ErrBookUnavailable     = errors.New("no copies available")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrAlreadyReturned     = errors.New("loan already returned")
	ErrDuplicateActiveLoan = errors.New("user already has an open loan for this book")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

const DefaultLoanPeriodDays = 14

// LoanLedgerService owns the loan state machine and the available_copies
// counter. Borrow and Return each run as one database transaction with the
// book row locked, so two borrowers can never both take the last copy.
type LoanLedgerService struct {
	db             *sql.DB
	audit          *audit.Logger
	loanPeriodDays int
}

func NewLoanLedgerService(db *sql.DB) *LoanLedgerService {
	loanPeriodDays := DefaultLoanPeriodDays
	if envDays := os.Getenv("LOAN_PERIOD_DAYS"); envDays != "" {
		if val, err := strconv.Atoi(envDays); err == nil && val > 0 {
			loanPeriodDays = val
		}
	}
	return &LoanLedgerService{
		db:             db,
		audit:          audit.NewLogger(),
		loanPeriodDays: loanPeriodDays,
	}
}

// Borrow creates an ACTIVE loan and takes one copy off the shelf, or does
// nothing at all.
func (s *LoanLedgerService) Borrow(ctx context.Context, userID, bookID int, today time.Time) (*models.Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	available, _, err := s.lockBook(ctx, tx, bookID)
	if err != nil {
		return nil, err
	}

	var hasOpenLoan bool
	err = tx.QueryRowContext(ctx, `
        SELECT EXISTS(
            SELECT 1 FROM loans
            WHERE user_id = $1 AND book_id = $2 AND status IN ('ACTIVE', 'OVERDUE')
        )
    `, userID, bookID).Scan(&hasOpenLoan)
	if err != nil {
		return nil, fmt.Errorf("failed to check open loans: %w", err)
	}
	if hasOpenLoan {
		return nil, ErrDuplicateActiveLoan
	}

	if available <= 0 {
		return nil, ErrBookUnavailable
	}

	loan := &models.Loan{
		UserID:   userID,
		BookID:   bookID,
		LoanDate: today,
		DueDate:  today.AddDate(0, 0, s.loanPeriodDays),
		Status:   models.LoanActive,
	}
	err = tx.QueryRowContext(ctx, `
        INSERT INTO loans (user_id, book_id, loan_date, due_date, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `, loan.UserID, loan.BookID, loan.LoanDate, loan.DueDate, string(loan.Status)).Scan(&loan.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
        UPDATE books
        SET available_copies = available_copies - 1
        WHERE id = $1 AND available_copies > 0
    `, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrement availability: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		// The FOR UPDATE lock should make this unreachable.
		return nil, ErrBookUnavailable
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrStorageUnavailable, err)
	}

	s.audit.LogBorrow(loan.ID, userID, bookID, loan.DueDate)
	log.Printf("[LEDGER] Loan %d created: user=%d book=%d due=%s", loan.ID, userID, bookID, loan.DueDate.Format("2006-01-02"))
	return loan, nil
}

// Return closes an open loan and puts the copy back, clamped at total_copies.
// A non-zero ownerID restricts the return to that member's own loans; admins
// and the returns desk pass zero. A loan belonging to someone else reports
// ErrLoanNotFound so the id leaks nothing.
func (s *LoanLedgerService) Return(ctx context.Context, loanID, ownerID int, today time.Time) (*models.Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	loan := &models.Loan{ID: loanID}
	var status string
	err = tx.QueryRowContext(ctx, `
        SELECT user_id, book_id, loan_date, due_date, status
        FROM loans
        WHERE id = $1
        FOR UPDATE
    `, loanID).Scan(&loan.UserID, &loan.BookID, &loan.LoanDate, &loan.DueDate, &status)
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock loan %d: %w", loanID, err)
	}
	if ownerID != 0 && loan.UserID != ownerID {
		return nil, ErrLoanNotFound
	}
	if status == string(models.LoanReturned) {
		return nil, ErrAlreadyReturned
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE loans
        SET status = $1, return_date = $2
        WHERE id = $3
    `, string(models.LoanReturned), today, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to close loan %d: %w", loanID, err)
	}

	// LEAST keeps a drifting counter from ever exceeding capacity.
	_, err = tx.ExecContext(ctx, `
        UPDATE books
        SET available_copies = LEAST(available_copies + 1, total_copies)
        WHERE id = $1
    `, loan.BookID)
	if err != nil {
		return nil, fmt.Errorf("failed to increment availability: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrStorageUnavailable, err)
	}

	returnDate := today
	loan.ReturnDate = &returnDate
	loan.Status = models.LoanReturned

	s.audit.LogReturn(loan.ID, loan.UserID, loan.BookID, today)
	log.Printf("[LEDGER] Loan %d returned: user=%d book=%d", loan.ID, loan.UserID, loan.BookID)
	return loan, nil
}

// RecomputeOverdue marks every ACTIVE loan past its due date OVERDUE.
// Idempotent: a second run matches nothing.
func (s *LoanLedgerService) RecomputeOverdue(ctx context.Context, today time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
        UPDATE loans
        SET status = $1
        WHERE status = $2 AND due_date < $3
    `, string(models.LoanOverdue), string(models.LoanActive), today)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep overdue loans: %w", err)
	}

	marked, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		s.audit.LogOverdueSweep(marked, today)
		log.Printf("[LEDGER] Overdue sweep marked %d loans as of %s", marked, today.Format("2006-01-02"))
	}
	return marked, nil
}

// AvailableCopies reads the current shelf count for a book.
func (s *LoanLedgerService) AvailableCopies(ctx context.Context, bookID int) (int, error) {
	var available int
	err := s.db.QueryRowContext(ctx, `
        SELECT available_copies FROM books WHERE id = $1
    `, bookID).Scan(&available)
	if err == sql.ErrNoRows {
		return 0, ErrBookNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read availability: %w", err)
	}
	return available, nil
}

// LedgerCheck is the conservation diagnostic: available_copies plus open
// loans must equal total_copies.
type LedgerCheck struct {
	BookID          int  `json:"bookId"`
	AvailableCopies int  `json:"availableCopies"`
	TotalCopies     int  `json:"totalCopies"`
	OpenLoans       int  `json:"openLoans"`
	Consistent      bool `json:"consistent"`
}

func (s *LoanLedgerService) VerifyConservation(ctx context.Context, bookID int) (*LedgerCheck, error) {
	check := &LedgerCheck{BookID: bookID}
	err := s.db.QueryRowContext(ctx, `
        SELECT available_copies, total_copies FROM books WHERE id = $1
    `, bookID).Scan(&check.AvailableCopies, &check.TotalCopies)
	if err == sql.ErrNoRows {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read book %d: %w", bookID, err)
	}

	err = s.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM loans
        WHERE book_id = $1 AND status IN ('ACTIVE', 'OVERDUE')
    `, bookID).Scan(&check.OpenLoans)
	if err != nil {
		return nil, fmt.Errorf("failed to count open loans: %w", err)
	}

	check.Consistent = check.AvailableCopies+check.OpenLoans == check.TotalCopies
	if !check.Consistent {
		log.Printf("[LEDGER] Conservation violated for book %d: available=%d open=%d total=%d",
			bookID, check.AvailableCopies, check.OpenLoans, check.TotalCopies)
	}
	return check, nil
}

// LoansByUser lists a user's loan history, newest first.
func (s *LoanLedgerService) LoansByUser(ctx context.Context, userID int) ([]models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, book_id, loan_date, due_date, return_date, status
        FROM loans
        WHERE user_id = $1
        ORDER BY loan_date DESC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans for user %d: %w", userID, err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

// ActiveLoansByBook lists the open loans currently holding copies of a book.
func (s *LoanLedgerService) ActiveLoansByBook(ctx context.Context, bookID int) ([]models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, book_id, loan_date, due_date, return_date, status
        FROM loans
        WHERE book_id = $1 AND status IN ('ACTIVE', 'OVERDUE')
        ORDER BY loan_date DESC
    `, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open loans for book %d: %w", bookID, err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

// AllLoans lists every loan, newest first.
func (s *LoanLedgerService) AllLoans(ctx context.Context) ([]models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, book_id, loan_date, due_date, return_date, status
        FROM loans
        ORDER BY loan_date DESC
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

func (s *LoanLedgerService) lockBook(ctx context.Context, tx *sql.Tx, bookID int) (available, total int, err error) {
	err = tx.QueryRowContext(ctx, `
        SELECT available_copies, total_copies
        FROM books
        WHERE id = $1
        FOR UPDATE
    `, bookID).Scan(&available, &total)
	if err == sql.ErrNoRows {
		return 0, 0, ErrBookNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to lock book %d: %w", bookID, err)
	}
	return available, total, nil
}

func scanLoans(rows *sql.Rows) ([]models.Loan, error) {
	loans := []models.Loan{}
	for rows.Next() {
		var loan models.Loan
		var returnDate sql.NullTime
		var status string
		if err := rows.Scan(&loan.ID, &loan.UserID, &loan.BookID, &loan.LoanDate, &loan.DueDate, &returnDate, &status); err != nil {
			return nil, err
		}
		if returnDate.Valid {
			loan.ReturnDate = &returnDate.Time
		}
		loan.Status = models.LoanStatus(status)
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}
