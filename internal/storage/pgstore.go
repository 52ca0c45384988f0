package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PGStore is the Postgres driver for the device store, used by the
// self-hosted server build where state outlives any single container.
type PGStore struct {
	db *sql.DB
}

// Connect opens a Postgres connection with pool settings sized for the
// small, chatty workload of a state store.
func Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// NewPGStore creates the backing table if needed and returns the store.
func NewPGStore(db *sql.DB) (*PGStore, error) {
	query := `CREATE TABLE IF NOT EXISTS device_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("failed to create device_state table: %w", err)
	}
	return &PGStore{db: db}, nil
}

func (s *PGStore) Get(key, def string) string {
	var value string
	err := s.db.QueryRow(`SELECT value FROM device_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return def
	}
	return value
}

func (s *PGStore) Set(key, value string) error {
	query := `
		INSERT INTO device_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key)
		DO UPDATE SET value = $2, updated_at = NOW()
	`
	_, err := s.db.Exec(query, key, value)
	return err
}

func (s *PGStore) Remove(key string) error {
	_, err := s.db.Exec(`DELETE FROM device_state WHERE key = $1`, key)
	return err
}
