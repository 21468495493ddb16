package storage

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ListingRecord is an accepted listing as persisted.
type ListingRecord struct {
	ID             string
	Title          string
	Description    string
	Price          float64
	Category       string
	ImageURL       string
	ImageHash      string
	ConversationID string
	AnalysisText   string
	// Transcript is stored encrypted and decrypted on read.
	Transcript string
	CreatedAt  time.Time
}

// AnalysisCacheEntry is a cached image analysis result.
type AnalysisCacheEntry struct {
	Text      string
	Backend   string
	CreatedAt time.Time
}

// Store defines the interface for listing persistence.
type Store interface {
	SaveListing(rec *ListingRecord) error
	GetListing(id string) (*ListingRecord, error)
	RecentListings(limit int) ([]ListingRecord, error)

	// Analysis cache methods
	GetAnalysisCache(imageHash string) (*AnalysisCacheEntry, error)
	SetAnalysisCache(imageHash string, entry *AnalysisCacheEntry) error

	Close() error
}

// SQLiteStore implements Store using SQLite with encrypted transcripts.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-based store.
// The dbPath is the path to the SQLite database file.
// The encryptionKey is used to encrypt/decrypt transcripts.
func NewSQLiteStore(dbPath string, encryptionKey []byte) (*SQLiteStore, error) {
	// Configure SQLite with WAL mode and busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:            db,
		encryptionKey: encryptionKey,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	// Transcripts are personal; keep the file private
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", dbPath).Msg("failed to restrict database permissions")
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	listingsQuery := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		price REAL NOT NULL,
		category TEXT NOT NULL,
		image_url TEXT NOT NULL,
		conversation_id TEXT,
		analysis_text TEXT,
		encrypted_transcript TEXT,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(listingsQuery); err != nil {
		return fmt.Errorf("failed to create listings table: %w", err)
	}

	// Migration: add image_hash column if it doesn't exist (for existing databases)
	if _, err := s.db.Exec("ALTER TABLE listings ADD COLUMN image_hash TEXT"); err != nil {
		// "duplicate column name" error is expected if column already exists
		if !strings.Contains(err.Error(), "duplicate column name") {
			log.Warn().Err(err).Msg("failed to add image_hash column (migration)")
		}
	}

	analysisCacheQuery := `
	CREATE TABLE IF NOT EXISTS analysis_cache (
		image_hash TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		backend TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(analysisCacheQuery); err != nil {
		return fmt.Errorf("failed to create analysis_cache table: %w", err)
	}

	return nil
}

// SaveListing inserts or replaces a listing record. CreatedAt is set when
// zero.
func (s *SQLiteStore) SaveListing(rec *ListingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var encryptedTranscript string
	if rec.Transcript != "" {
		var err error
		encryptedTranscript, err = Encrypt([]byte(rec.Transcript), s.encryptionKey, []byte(rec.ID))
		if err != nil {
			return fmt.Errorf("failed to encrypt transcript: %w", err)
		}
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO listings (id, title, description, price, category, image_url, image_hash,
			conversation_id, analysis_text, encrypted_transcript, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			price = excluded.price,
			category = excluded.category,
			image_url = excluded.image_url,
			image_hash = excluded.image_hash,
			conversation_id = excluded.conversation_id,
			analysis_text = excluded.analysis_text,
			encrypted_transcript = excluded.encrypted_transcript
	`, rec.ID, rec.Title, rec.Description, rec.Price, rec.Category, rec.ImageURL, rec.ImageHash,
		rec.ConversationID, rec.AnalysisText, encryptedTranscript, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save listing: %w", err)
	}

	return nil
}

const listingColumns = `id, title, description, price, category, image_url, image_hash,
	conversation_id, analysis_text, encrypted_transcript, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanListing(row rowScanner) (*ListingRecord, error) {
	var rec ListingRecord
	var imageHash, conversationID, analysisText, encryptedTranscript sql.NullString

	err := row.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.Price, &rec.Category, &rec.ImageURL,
		&imageHash, &conversationID, &analysisText, &encryptedTranscript, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	rec.ImageHash = imageHash.String
	rec.ConversationID = conversationID.String
	rec.AnalysisText = analysisText.String

	if encryptedTranscript.String != "" {
		transcript, err := Decrypt(encryptedTranscript.String, s.encryptionKey, []byte(rec.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt transcript for listing %s: %w", rec.ID, err)
		}
		rec.Transcript = string(transcript)
	}

	return &rec, nil
}

// GetListing retrieves a listing by id.
// Returns nil, nil if the listing doesn't exist.
func (s *SQLiteStore) GetListing(id string) (*ListingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+listingColumns+" FROM listings WHERE id = ?", id)
	rec, err := s.scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query listing: %w", err)
	}
	return rec, nil
}

// RecentListings returns up to limit listings, newest first.
func (s *SQLiteStore) RecentListings(limit int) ([]ListingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT "+listingColumns+" FROM listings ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	var listings []ListingRecord
	for rows.Next() {
		rec, err := s.scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		listings = append(listings, *rec)
	}

	return listings, rows.Err()
}

// GetAnalysisCache retrieves a cached analysis result by image hash.
// Returns nil, nil if no cache entry exists.
func (s *SQLiteStore) GetAnalysisCache(imageHash string) (*AnalysisCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entry AnalysisCacheEntry
	var backend sql.NullString
	err := s.db.QueryRow(
		"SELECT text, backend, created_at FROM analysis_cache WHERE image_hash = ?",
		imageHash,
	).Scan(&entry.Text, &backend, &entry.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis cache: %w", err)
	}

	entry.Backend = backend.String
	return &entry, nil
}

// SetAnalysisCache stores an analysis result in the cache.
func (s *SQLiteStore) SetAnalysisCache(imageHash string, entry *AnalysisCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO analysis_cache (image_hash, text, backend)
		VALUES (?, ?, ?)
		ON CONFLICT(image_hash) DO UPDATE SET
			text = excluded.text,
			backend = excluded.backend,
			created_at = CURRENT_TIMESTAMP
	`, imageHash, entry.Text, entry.Backend)

	if err != nil {
		return fmt.Errorf("failed to cache analysis result: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
