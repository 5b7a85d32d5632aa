package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/focusshield/shieldd/internal/domain"
)

// Ensure the sqlcipher driver registers itself with database/sql.
var _ = sqlcipher.ErrBusy

const delayDBName = "delay.db"

// EncryptedDelayStore implements domain.DelaySessionStore using a
// SQLCipher-encrypted SQLite database, keyed by a random key from its own
// FileKeyProvider file, separate from the bearer token. Adapted from the teacher's EncryptedRegistry:
// same PRAGMA-key-in-DSN opening pattern, schema redefined for per-domain
// delay-progression bookkeeping instead of daemon PID/secret rows.
type EncryptedDelayStore struct {
	db *sql.DB
}

// NewEncryptedDelayStore opens (or creates) the encrypted delay database
// under dataDir, using key as the SQLCipher passphrase.
func NewEncryptedDelayStore(dataDir string, key []byte) (*EncryptedDelayStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, delayDBName)
	keyHex := hex.EncodeToString(key)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted delay database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted delay database: %w", err)
	}

	store := &EncryptedDelayStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create delay tables: %w", err)
	}
	return store, nil
}

func (s *EncryptedDelayStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS delay_session (
		domain TEXT PRIMARY KEY,
		access_count_today INTEGER NOT NULL DEFAULT 0,
		last_reset_date TEXT NOT NULL DEFAULT '',
		last_access_at INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the delay session for domainName, or the zero value if none
// has been recorded yet.
func (s *EncryptedDelayStore) Get(domainName string) (domain.DelaySession, error) {
	var d domain.DelaySession
	var lastAccessUnix int64
	err := s.db.QueryRow(
		`SELECT domain, access_count_today, last_reset_date, last_access_at FROM delay_session WHERE domain = ?`,
		domainName,
	).Scan(&d.Domain, &d.AccessCountToday, &d.LastResetDate, &lastAccessUnix)
	if err == sql.ErrNoRows {
		return domain.DelaySession{Domain: domainName}, nil
	}
	if err != nil {
		return domain.DelaySession{}, err
	}
	if lastAccessUnix > 0 {
		d.LastAccessAt = time.Unix(lastAccessUnix, 0).UTC()
	}
	return d, nil
}

// Put upserts the delay session for its domain.
func (s *EncryptedDelayStore) Put(session domain.DelaySession) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO delay_session (domain, access_count_today, last_reset_date, last_access_at)
		 VALUES (?, ?, ?, ?)`,
		session.Domain, session.AccessCountToday, session.LastResetDate, session.LastAccessAt.Unix(),
	)
	return err
}

// Close releases the underlying database connection.
func (s *EncryptedDelayStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ domain.DelaySessionStore = (*EncryptedDelayStore)(nil)
