package journal

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/cipo/internal/payment"
)

// Record is the state of one journal file as seen at startup.
type Record struct {
	Address            string
	TxID               string
	Time               time.Time
	RemainingWattHours float64
	// Corrupt is set when the file could not be read or its last line did
	// not parse. RemainingWattHours then holds the fallback value.
	Corrupt bool
}

// Outstanding reports whether the delivery still owes energy.
func (r Record) Outstanding() bool {
	return r.RemainingWattHours > 0
}

// Reader scans the journal on startup.
type Reader struct {
	root string
	log  *zap.Logger
}

func NewReader(root string, log *zap.Logger) *Reader {
	return &Reader{root: root, log: log}
}

// Scan returns the last state of every journal file, sorted by address then
// txid. A missing root is an empty journal. Unreadable or malformed files are
// reported as completed (remaining 0): the credit they were written for is
// not known here, so replaying a guess could deliver energy nobody paid for.
func (r *Reader) Scan() ([]Record, error) {
	addrDirs, err := os.ReadDir(r.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal root: %w", err)
	}

	var records []Record
	for _, ad := range addrDirs {
		if !ad.IsDir() {
			continue
		}
		address := ad.Name()
		files, err := os.ReadDir(filepath.Join(r.root, address))
		if err != nil {
			return nil, fmt.Errorf("read journal dir %s: %w", address, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), Ext) {
				continue
			}
			txid := strings.TrimSuffix(f.Name(), Ext)
			records = append(records, r.readRecord(address, txid))
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Address != records[j].Address {
			return records[i].Address < records[j].Address
		}
		return records[i].TxID < records[j].TxID
	})
	return records, nil
}

func (r *Reader) readRecord(address, txid string) Record {
	rec := Record{Address: address, TxID: txid}
	path := filepath.Join(r.root, address, txid+Ext)

	ts, remaining, err := lastEntry(path)
	if err != nil {
		r.log.Warn("corrupt journal file, treating delivery as complete",
			zap.String("path", path),
			zap.Error(err),
		)
		rec.Corrupt = true
		return rec
	}
	rec.Time = ts
	rec.RemainingWattHours = remaining
	return rec
}

// Recovery is the journal's startup view: deliveries to resume, and txids
// that were already served and must never start again.
type Recovery struct {
	Outstanding []payment.Credit
	Delivered   []string
}

// Recover scans the journal. Outstanding deliveries carry only the energy
// still owed; every other journaled txid (completed or corrupt) is listed in
// Delivered.
func (r *Reader) Recover() (Recovery, error) {
	records, err := r.Scan()
	if err != nil {
		return Recovery{}, err
	}
	var rec Recovery
	for _, record := range records {
		if !record.Outstanding() {
			rec.Delivered = append(rec.Delivered, record.TxID)
			continue
		}
		rec.Outstanding = append(rec.Outstanding, payment.Credit{
			Address:   record.Address,
			TxID:      record.TxID,
			WattHours: record.RemainingWattHours,
		})
	}
	r.log.Info("journal scanned",
		zap.Int("files", len(records)),
		zap.Int("outstanding", len(rec.Outstanding)),
		zap.Int("delivered", len(rec.Delivered)),
	)
	return rec, nil
}

// Outstanding returns one credit per unfinished delivery, for the remaining
// energy only.
func (r *Reader) Outstanding() ([]payment.Credit, error) {
	rec, err := r.Recover()
	return rec.Outstanding, err
}

// lastEntry parses the final non-empty line of a journal file.
func lastEntry(path string) (time.Time, float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, 0, err
	}
	data = bytes.TrimRight(data, "\r\n\t ")
	if len(data) == 0 {
		return time.Time{}, 0, fmt.Errorf("%w: empty file", ErrInvalidLine)
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return ParseLine(string(data))
}
