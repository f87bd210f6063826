package models

import "time"

type LoanStatus string

const (
	LoanActive   LoanStatus = "ACTIVE"
	LoanReturned LoanStatus = "RETURNED"
	LoanOverdue  LoanStatus = "OVERDUE"

	LoanEntity = "loan"
)

var ValidLoanStatuses = map[string]bool{
	string(LoanActive):   true,
	string(LoanReturned): true,
	string(LoanOverdue):  true,
}

func IsValidLoanStatus(status string) bool {
	return ValidLoanStatuses[status]
}

// Loan records one borrow of one book by one user. Status moves
// ACTIVE -> OVERDUE when the due date passes and either of those -> RETURNED
// on return; RETURNED is terminal.
type Loan struct {
	ID         int        `json:"id" db:"id"`
	UserID     int        `json:"userId" db:"user_id"`
	BookID     int        `json:"bookId" db:"book_id"`
	LoanDate   time.Time  `json:"loanDate" db:"loan_date"`
	DueDate    time.Time  `json:"dueDate" db:"due_date"`
	ReturnDate *time.Time `json:"returnDate,omitempty" db:"return_date"`
	Status     LoanStatus `json:"status" db:"status"`
}

// Open reports whether the loan still holds a copy (ACTIVE or OVERDUE).
func (l *Loan) Open() bool {
	return l.Status == LoanActive || l.Status == LoanOverdue
}
