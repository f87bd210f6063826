package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

// InitDatabase opens the Postgres pool the service runs on, or exits.
// The catalog and loan ledger have no fallback store, so there is nothing
// useful to do without it.
func InitDatabase() *sql.DB {
	db, err := openPool()
	if err != nil {
		log.Fatalf("[DB] Failed to connect to Postgres: %v", err)
	}
	return db
}

func openPool() (*sql.DB, error) {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "literanusa")
	viper.SetDefault("database.ssl_mode", "disable")
	// Borrow and return hold a row lock for the life of their transaction,
	// so the pool stays small; circulation traffic is bursty, not heavy.
	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("database.max_idle_conns", 4)
	viper.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	viper.SetDefault("database.conn_max_idle_time", 5*time.Minute)

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		viper.GetString("database.host"),
		viper.GetString("database.port"),
		viper.GetString("database.user"),
		viper.GetString("database.password"),
		viper.GetString("database.name"),
		viper.GetString("database.ssl_mode"),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(viper.GetInt("database.max_open_conns"))
	db.SetMaxIdleConns(viper.GetInt("database.max_idle_conns"))
	db.SetConnMaxLifetime(viper.GetDuration("database.conn_max_lifetime"))
	db.SetConnMaxIdleTime(viper.GetDuration("database.conn_max_idle_time"))

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	log.Printf("[DB] Connected to Postgres at %s:%s/%s",
		viper.GetString("database.host"),
		viper.GetString("database.port"),
		viper.GetString("database.name"))
	return db, nil
}
