package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	LoanID    int       `json:"loan_id,omitempty"`
	UserID    int       `json:"user_id,omitempty"`
	BookID    int       `json:"book_id,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogBorrow(loanID, userID, bookID int, dueDate time.Time) {
	a.log(Event{
		EventType: "BORROW",
		LoanID:    loanID,
		UserID:    userID,
		BookID:    bookID,
		Status:    "SUCCESS",
		Details:   map[string]string{"due_date": dueDate.Format("2006-01-02")},
	})
}

func (a *Logger) LogReturn(loanID, userID, bookID int, returnDate time.Time) {
	a.log(Event{
		EventType: "RETURN",
		LoanID:    loanID,
		UserID:    userID,
		BookID:    bookID,
		Status:    "SUCCESS",
		Details:   map[string]string{"return_date": returnDate.Format("2006-01-02")},
	})
}

func (a *Logger) LogOverdueSweep(marked int64, asOf time.Time) {
	a.log(Event{
		EventType: "OVERDUE_SWEEP",
		Status:    "SUCCESS",
		Details:   map[string]any{"marked": marked, "as_of": asOf.Format("2006-01-02")},
	})
}

func (a *Logger) LogError(loanID, userID, bookID int, err error) {
	a.log(Event{
		EventType: "ERROR",
		LoanID:    loanID,
		UserID:    userID,
		BookID:    bookID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	event.EventID = uuid.NewString()
	event.Timestamp = time.Now()
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
