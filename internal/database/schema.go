package database

import (
	"database/sql"
	"fmt"
	"log"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		username VARCHAR(50) UNIQUE NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		password TEXT NOT NULL,
		full_name VARCHAR(255) NOT NULL,
		role VARCHAR(10) NOT NULL DEFAULT 'USER',
		phone VARCHAR(30),
		address TEXT,
		profile_picture TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id SERIAL PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		author VARCHAR(255) NOT NULL,
		isbn VARCHAR(17),
		genre VARCHAR(100) NOT NULL,
		synopsis TEXT,
		rating NUMERIC(3,2) NOT NULL DEFAULT 0,
		available_copies INT NOT NULL,
		total_copies INT NOT NULL,
		cover_image TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (available_copies >= 0),
		CHECK (available_copies <= total_copies),
		CHECK (total_copies >= 1)
	)`,
	// Partial so books without an ISBN (NULL) do not collide.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_books_isbn ON books (isbn) WHERE isbn IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS loans (
		id SERIAL PRIMARY KEY,
		user_id INT NOT NULL REFERENCES users(id),
		book_id INT NOT NULL REFERENCES books(id),
		loan_date TIMESTAMPTZ NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		return_date TIMESTAMPTZ,
		status VARCHAR(10) NOT NULL DEFAULT 'ACTIVE'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_user ON loans (user_id, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_book_status ON loans (book_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_overdue ON loans (status, due_date)`,
	`CREATE TABLE IF NOT EXISTS wishlists (
		user_id INT NOT NULL REFERENCES users(id),
		book_id INT NOT NULL REFERENCES books(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, book_id)
	)`,
	`CREATE TABLE IF NOT EXISTS pickup_codes (
		id SERIAL PRIMARY KEY,
		reference VARCHAR(64) UNIQUE NOT NULL,
		code_hash VARCHAR(64) UNIQUE NOT NULL,
		user_id INT NOT NULL REFERENCES users(id),
		loan_id INT NOT NULL REFERENCES loans(id),
		expires_at TIMESTAMPTZ NOT NULL,
		used BOOLEAN NOT NULL DEFAULT FALSE,
		used_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// InitSchema creates the tables and indexes the service needs. Statements
// are idempotent so startup is safe against an already provisioned database.
func InitSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	log.Println("Database schema ready")
	return nil
}
