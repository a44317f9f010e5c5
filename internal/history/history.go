// Package history persists confirmed scans: the two image references, the
// letter rank and the time of capture.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when no scan has the requested id.
var ErrNotFound = errors.New("scan not found")

// Scan is one saved product scan.
type Scan struct {
	ID            int64  `json:"id"`
	CoverImageRef string `json:"coverImageRef"`
	OCRImageRef   string `json:"ocrImageRef"`
	Rank          string `json:"rank"`
	Timestamp     int64  `json:"timestampSeconds"`
}

// Store is the scan history backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite serializes writers; one connection also keeps ":memory:" a
	// single database.
	db.SetMaxOpenConns(1)
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New applies the schema to an already-open database.
func New(db *sql.DB) (*Store, error) {
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert saves a scan stamped with the current time and returns it with its
// id.
func (s *Store) Insert(ctx context.Context, coverRef, ocrRef, rank string) (Scan, error) {
	if coverRef == "" || ocrRef == "" {
		return Scan{}, errors.New("insert scan: image references must be non-empty")
	}
	sc := Scan{
		CoverImageRef: coverRef,
		OCRImageRef:   ocrRef,
		Rank:          rank,
		Timestamp:     s.now().Unix(),
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO scans (cover_image_ref, ocr_image_ref, rank, timestamp_seconds)
		 VALUES (?, ?, ?, ?)
		 RETURNING id`,
		sc.CoverImageRef, sc.OCRImageRef, sc.Rank, sc.Timestamp,
	).Scan(&sc.ID)
	if err != nil {
		return Scan{}, fmt.Errorf("insert scan: %w", err)
	}
	return sc, nil
}

// List returns up to limit scans, newest first, skipping offset rows.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cover_image_ref, ocr_image_ref, rank, timestamp_seconds
		 FROM scans
		 ORDER BY timestamp_seconds DESC, id DESC
		 LIMIT ? OFFSET ?`,
		limit, max(offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	scans := []Scan{}
	for rows.Next() {
		var sc Scan
		if err := rows.Scan(&sc.ID, &sc.CoverImageRef, &sc.OCRImageRef, &sc.Rank, &sc.Timestamp); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		scans = append(scans, sc)
	}
	return scans, rows.Err()
}

// Get returns the scan with id.
func (s *Store) Get(ctx context.Context, id int64) (Scan, error) {
	var sc Scan
	err := s.db.QueryRowContext(ctx,
		`SELECT id, cover_image_ref, ocr_image_ref, rank, timestamp_seconds FROM scans WHERE id = ?`, id,
	).Scan(&sc.ID, &sc.CoverImageRef, &sc.OCRImageRef, &sc.Rank, &sc.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return Scan{}, ErrNotFound
	}
	if err != nil {
		return Scan{}, fmt.Errorf("get scan %d: %w", id, err)
	}
	return sc, nil
}

// Delete removes the scan with id and returns the deleted row so the caller
// can release its images.
func (s *Store) Delete(ctx context.Context, id int64) (Scan, error) {
	var sc Scan
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM scans WHERE id = ?
		 RETURNING id, cover_image_ref, ocr_image_ref, rank, timestamp_seconds`, id,
	).Scan(&sc.ID, &sc.CoverImageRef, &sc.OCRImageRef, &sc.Rank, &sc.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return Scan{}, ErrNotFound
	}
	if err != nil {
		return Scan{}, fmt.Errorf("delete scan %d: %w", id, err)
	}
	return sc, nil
}

// Count returns the number of saved scans.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count scans: %w", err)
	}
	return n, nil
}
