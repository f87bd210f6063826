package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/literanusa/backend/internal/config"
)

var (
	ErrPickupCodeInvalid = errors.New("invalid pickup code")
	ErrPickupCodeUsed    = errors.New("pickup code already used")
	ErrPickupCodeExpired = errors.New("pickup code expired")
	ErrPickupRateLimited = errors.New("pickup code rate limit exceeded")
)

// PickupCode is a single-use desk code a member presents to collect a
// borrowed book.
type PickupCode struct {
	Code      string    `json:"code"`
	Reference string    `json:"reference"`
	UserID    int       `json:"userId"`
	LoanID    int       `json:"loanId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Expired   bool      `json:"expired"`
	Used      bool      `json:"used"`
}

// PickupService issues and redeems pickup codes. Codes are stored hashed
// and consumed under a row lock so a code can only be redeemed once.
type PickupService struct {
	db     *sql.DB
	redis  *redis.Client
	config *config.PickupConfig
}

func NewPickupService(db *sql.DB, redisClient *redis.Client) *PickupService {
	return &PickupService{
		db:     db,
		redis:  redisClient,
		config: config.LoadPickupConfig(),
	}
}

// GenerateCode issues a pickup code for a member's loan.
func (s *PickupService) GenerateCode(ctx context.Context, userID, loanID int) (string, error) {
	log.Printf("[PICKUP] GenerateCode - userID: %d, loanID: %d", userID, loanID)

	if err := s.checkRateLimit(ctx, userID); err != nil {
		log.Printf("[PICKUP] GenerateCode - Rate limit error: %v", err)
		return "", err
	}

	var loanUserID int
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT user_id, status FROM loans WHERE id = $1`, loanID).Scan(&loanUserID, &status)
	if err == sql.ErrNoRows {
		return "", ErrLoanNotFound
	}
	if err != nil {
		return "", err
	}
	if loanUserID != userID {
		return "", ErrLoanNotFound
	}
	if status == "RETURNED" {
		return "", ErrAlreadyReturned
	}

	code, err := s.generateSecureCode()
	if err != nil {
		return "", err
	}
	hashedCode := s.hashCode(code)
	reference, err := s.generateReference()
	if err != nil {
		return "", err
	}
	expiresAt := time.Now().Add(s.config.CodeTimeout)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pickup_codes (reference, code_hash, user_id, loan_id, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, false)
	`, reference, hashedCode, userID, loanID, expiresAt)

	if err != nil {
		log.Printf("[PICKUP] GenerateCode - DB insert error: %v", err)
		return "", fmt.Errorf("failed to store pickup code: %w", err)
	}

	s.incrementRateLimit(ctx, userID)

	log.Printf("[PICKUP] GenerateCode - Issued reference %s, expires: %v", reference, expiresAt)
	return code, nil
}

// ValidateAndConsume redeems a pickup code at the desk. The row is locked
// so concurrent redemption attempts cannot both succeed.
func (s *PickupService) ValidateAndConsume(ctx context.Context, code string) (*PickupCode, error) {
	hashedCode := s.hashCode(code)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var pickup PickupCode
	var used bool
	err = tx.QueryRowContext(ctx, `
		SELECT reference, user_id, loan_id, expires_at, used
		FROM pickup_codes
		WHERE code_hash = $1
		FOR UPDATE
	`, hashedCode).Scan(&pickup.Reference, &pickup.UserID, &pickup.LoanID, &pickup.ExpiresAt, &used)

	if err == sql.ErrNoRows {
		return nil, ErrPickupCodeInvalid
	}
	if err != nil {
		return nil, err
	}

	if used {
		return nil, ErrPickupCodeUsed
	}

	if time.Now().After(pickup.ExpiresAt) {
		return nil, ErrPickupCodeExpired
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE pickup_codes
		SET used = true, used_at = $1
		WHERE code_hash = $2
	`, time.Now(), hashedCode)

	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	pickup.Code = code
	return &pickup, nil
}

func (s *PickupService) generateSecureCode() (string, error) {
	const charset = "0123456789"
	code := make([]byte, s.config.CodeLength)
	charsetLen := big.NewInt(int64(len(charset)))

	for i := range code {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("failed to read code entropy: %w", err)
		}
		code[i] = charset[n.Int64()]
	}

	return string(code), nil
}

func (s *PickupService) generateReference() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read reference entropy: %w", err)
	}
	return fmt.Sprintf("%s-%X-%d", s.config.CodePrefix, b, time.Now().Unix()), nil
}

func (s *PickupService) hashCode(code string) string {
	hash := sha256.Sum256([]byte(code))
	return hex.EncodeToString(hash[:])
}

func (s *PickupService) checkRateLimit(ctx context.Context, userID int) error {
	if s.redis == nil {
		return nil
	}

	key := fmt.Sprintf("pickup:ratelimit:%d", userID)
	count, err := s.redis.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return err
	}

	if count >= s.config.MaxGenerationPerUser {
		return ErrPickupRateLimited
	}

	return nil
}

func (s *PickupService) incrementRateLimit(ctx context.Context, userID int) {
	if s.redis == nil {
		return
	}

	key := fmt.Sprintf("pickup:ratelimit:%d", userID)
	pipe := s.redis.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.RateLimitWindow)
	pipe.Exec(ctx)
}

// CleanupExpiredCodes removes stale codes. Used codes are kept for a day
// for the desk audit trail.
func (s *PickupService) CleanupExpiredCodes(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pickup_codes
		WHERE expires_at < $1 OR (used = true AND used_at < $2)
	`, time.Now(), time.Now().Add(-24*time.Hour))
	return err
}

func (s *PickupService) GetCodeTimeout() time.Duration {
	return s.config.CodeTimeout
}

// GetUserCodes lists a member's pickup codes with the code itself masked.
func (s *PickupService) GetUserCodes(ctx context.Context, userID int) ([]PickupCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reference, user_id, loan_id, expires_at, created_at, used
		FROM pickup_codes
		WHERE user_id = $1
		ORDER BY expires_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []PickupCode
	for rows.Next() {
		var code PickupCode
		var used bool
		if err := rows.Scan(&code.Reference, &code.UserID, &code.LoanID, &code.ExpiresAt, &code.CreatedAt, &used); err != nil {
			return nil, err
		}

		code.Expired = time.Now().After(code.ExpiresAt) || used
		code.Used = used
		code.Code = "***" // Masked for security
		codes = append(codes, code)
	}

	return codes, rows.Err()
}
