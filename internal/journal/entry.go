package journal

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Ext is the file extension of per-transaction journal files.
const Ext = ".log"

var (
	// ErrWrite wraps any failure to durably append an entry. The writer stops
	// on the first one.
	ErrWrite = errors.New("journal write failed")

	ErrInvalidKey  = errors.New("invalid journal key")
	ErrInvalidLine = errors.New("invalid journal line")
)

// Entry records the energy still owed for one transaction at one instant.
// Entries are only ever appended; the newest one for an (Address, TxID) pair
// is authoritative.
type Entry struct {
	Address            string
	TxID               string
	Time               time.Time
	RemainingWattHours float64
}

// Complete reports whether the entry marks its delivery as finished.
func (e Entry) Complete() bool {
	return e.RemainingWattHours <= 0
}

// Line renders the entry the way it is stored on disk, without newline:
// an RFC 3339 UTC timestamp, a space and the signed remaining energy with two
// decimals, e.g. "2024-01-01T00:00:00Z +12.34".
func (e Entry) Line() string {
	return fmt.Sprintf("%s %+.2f", e.Time.UTC().Format(time.RFC3339), e.RemainingWattHours)
}

// ParseLine is the inverse of Entry.Line.
func ParseLine(line string) (time.Time, float64, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidLine, line)
	}
	ts, err := time.Parse(time.RFC3339, fields[0])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: timestamp: %w", ErrInvalidLine, err)
	}
	remaining, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: remaining: %w", ErrInvalidLine, err)
	}
	return ts, remaining, nil
}

// ValidKey reports whether s can be used as one path element under the
// journal root.
func ValidKey(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && !strings.ContainsRune(s, 0)
}

// Path returns <root>/<address>/<txid>.log.
func Path(root, address, txid string) (string, error) {
	if !ValidKey(address) {
		return "", fmt.Errorf("%w: address %q", ErrInvalidKey, address)
	}
	if !ValidKey(txid) {
		return "", fmt.Errorf("%w: txid %q", ErrInvalidKey, txid)
	}
	return filepath.Join(root, address, txid+Ext), nil
}
