package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Record is the durable session blob written after a successful login.
// Field names match the broker's token response so the file doubles as a
// readable audit of what was issued.
type Record struct {
	APISessionKey string `json:"api_session_key"`
	Susertoken    string `json:"susertoken"`
	UID           string `json:"uid"`
	LastLoginTS   int64  `json:"last_login_ts"`
}

// LoadStatus classifies the outcome of reading the durable record.
type LoadStatus int

const (
	// LoadAbsent means no record file exists.
	LoadAbsent LoadStatus = iota
	// LoadLoaded means a valid record was read.
	LoadLoaded
	// LoadCorrupt means the file exists but could not be parsed. The
	// session starts empty; the reason is logged, never surfaced as an
	// error.
	LoadCorrupt
)

// LoadResult is the outcome of loading the durable session record.
type LoadResult struct {
	Status LoadStatus
	Record Record
	Reason string // populated for LoadCorrupt
}

// loadRecord reads the session record at path. Missing or malformed files
// never produce an error: startup must not crash on a stale session file.
func loadRecord(path string) LoadResult {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return LoadResult{Status: LoadAbsent}
		}
		return LoadResult{Status: LoadCorrupt, Reason: err.Error()}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return LoadResult{Status: LoadCorrupt, Reason: err.Error()}
	}
	if rec.APISessionKey == "" || rec.Susertoken == "" {
		return LoadResult{Status: LoadCorrupt, Reason: "record missing credentials"}
	}
	return LoadResult{Status: LoadLoaded, Record: rec}
}

// saveRecord writes the session record atomically: a temp file in the same
// directory followed by a rename, so a crash mid-write can never leave a
// half-written record behind.
func saveRecord(path string, rec Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp session file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing session record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing session record: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming session record: %w", err)
	}
	return nil
}

// deleteRecord removes the session record. Missing files are not an error.
func deleteRecord(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session record: %w", err)
	}
	return nil
}
