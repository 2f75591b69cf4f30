package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AnalysisSummary holds the metadata of one stored analysis revision.
type AnalysisSummary struct {
	ID        int64
	URL       string
	Rev       int
	TabID     int
	Label     string // optional
	Hash      string
	Size      int // uncompressed payload bytes
	CreatedAt time.Time
}

// AnalysisRevision is a summary plus its decompressed payload.
type AnalysisRevision struct {
	AnalysisSummary
	Payload json.RawMessage
}

// HashPayload returns the hex sha256 of a payload. Revisions with equal
// hashes carry identical payloads.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// SaveAnalysis stores payload as the next revision for url. The rev number
// is auto-assigned per url. Returns the assigned rev.
func SaveAnalysis(db *sql.DB, url string, tabID int, payload []byte, label string) (int, error) {
	blob, err := compressPayload(payload)
	if err != nil {
		return 0, err
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rev int
	err = tx.QueryRow("SELECT COALESCE(MAX(rev), 0) + 1 FROM analyses WHERE url = ?", url).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("compute next rev: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO analyses (url, rev, tab_id, label, hash, size, payload) VALUES (?, ?, ?, ?, ?, ?, ?)",
		url, rev, tabID, label, HashPayload(payload), len(payload), blob,
	)
	if err != nil {
		return 0, fmt.Errorf("insert analysis: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return rev, nil
}

const summaryColumns = "id, url, rev, tab_id, COALESCE(label, ''), hash, size, created_at"

func scanSummary(row interface{ Scan(...any) error }, s *AnalysisSummary) error {
	return row.Scan(&s.ID, &s.URL, &s.Rev, &s.TabID, &s.Label, &s.Hash, &s.Size, &s.CreatedAt)
}

// ListAnalyses returns revisions newest first. An empty url lists every
// page.
func ListAnalyses(db *sql.DB, url string) ([]AnalysisSummary, error) {
	query := "SELECT " + summaryColumns + " FROM analyses"
	var args []any
	if url != "" {
		query += " WHERE url = ?"
		args = append(args, url)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var result []AnalysisSummary
	for rows.Next() {
		var s AnalysisSummary
		if err := scanSummary(rows, &s); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return result, nil
}

// GetAnalysis loads one revision by url and rev number.
func GetAnalysis(db *sql.DB, url string, rev int) (*AnalysisRevision, error) {
	var r AnalysisRevision
	var blob []byte
	err := db.QueryRow(
		"SELECT "+summaryColumns+", payload FROM analyses WHERE url = ? AND rev = ?",
		url, rev,
	).Scan(&r.ID, &r.URL, &r.Rev, &r.TabID, &r.Label, &r.Hash, &r.Size, &r.CreatedAt, &blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("analysis rev %d not found for %s", rev, url)
		}
		return nil, fmt.Errorf("query analysis: %w", err)
	}
	payload, err := decompressPayload(blob)
	if err != nil {
		return nil, fmt.Errorf("analysis rev %d: %w", rev, err)
	}
	r.Payload = payload
	return &r, nil
}

// LatestAnalysis returns the newest revision for url, or nil, nil when
// none exists.
func LatestAnalysis(db *sql.DB, url string) (*AnalysisRevision, error) {
	var rev int
	err := db.QueryRow("SELECT rev FROM analyses WHERE url = ? ORDER BY rev DESC LIMIT 1", url).Scan(&rev)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest rev: %w", err)
	}
	return GetAnalysis(db, url, rev)
}

// DeleteAnalysis removes one revision. Returns an error if it does not exist.
func DeleteAnalysis(db *sql.DB, url string, rev int) error {
	res, err := db.Exec("DELETE FROM analyses WHERE url = ? AND rev = ?", url, rev)
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("analysis rev %d not found for %s", rev, url)
	}
	return nil
}
