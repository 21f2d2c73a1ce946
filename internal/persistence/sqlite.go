package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/models"
)

const (
	collectionChains   = "chains"
	collectionRequests = "requests"
)

// SQLiteStore persists the two engine collections as JSON blobs, one row
// per collection.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore creates the store and ensures its schema exists.
func NewSQLiteStore(db *sql.DB, logger *zap.Logger) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS approval_collections (
			name TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`
	_, err := s.db.Exec(query)
	return err
}

// Load reads both collections. Missing rows yield an empty snapshot so a
// fresh database is not an error.
func (s *SQLiteStore) Load() (*Snapshot, error) {
	snap := &Snapshot{}

	chainsPayload, err := s.loadCollection(collectionChains)
	if err != nil {
		return nil, err
	}
	if chainsPayload != "" {
		if err := json.Unmarshal([]byte(chainsPayload), &snap.Chains); err != nil {
			return nil, fmt.Errorf("failed to decode chains collection: %w", err)
		}
	}

	requestsPayload, err := s.loadCollection(collectionRequests)
	if err != nil {
		return nil, err
	}
	if requestsPayload != "" {
		if err := json.Unmarshal([]byte(requestsPayload), &snap.Requests); err != nil {
			return nil, fmt.Errorf("failed to decode requests collection: %w", err)
		}
	}

	s.logger.Info("Snapshot loaded",
		zap.Int("chains", len(snap.Chains)),
		zap.Int("requests", len(snap.Requests)))

	return snap, nil
}

func (s *SQLiteStore) loadCollection(name string) (string, error) {
	var payload string
	err := s.db.QueryRow(
		"SELECT payload FROM approval_collections WHERE name = ?", name,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load collection %s: %w", name, err)
	}
	return payload, nil
}

// Save writes both collections in one transaction.
func (s *SQLiteStore) Save(snap *Snapshot) error {
	chains := snap.Chains
	if chains == nil {
		chains = []*models.ApprovalChain{}
	}
	requests := snap.Requests
	if requests == nil {
		requests = []*models.ApprovalRequest{}
	}

	chainsPayload, err := json.Marshal(chains)
	if err != nil {
		return fmt.Errorf("failed to encode chains collection: %w", err)
	}
	requestsPayload, err := json.Marshal(requests)
	if err != nil {
		return fmt.Errorf("failed to encode requests collection: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO approval_collections (name, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`
	if _, err := tx.Exec(query, collectionChains, string(chainsPayload), now); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to save chains collection: %w", err)
	}
	if _, err := tx.Exec(query, collectionRequests, string(requestsPayload), now); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to save requests collection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}
