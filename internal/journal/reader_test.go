package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0gfoundation/cipo/internal/payment"
)

func writeJournal(t *testing.T, root, address, txid, body string) {
	t.Helper()
	dir := filepath.Join(root, address)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, txid+Ext), []byte(body), 0o644))
}

func TestReader_MissingRoot(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), "journal"), zap.NewNop())
	credits, err := r.Outstanding()
	require.NoError(t, err)
	assert.Empty(t, credits)
}

func TestReader_OnlyLastLineCounts(t *testing.T) {
	root := t.TempDir()
	writeJournal(t, root, "4Addr", "tx1",
		"2024-01-01T00:00:00Z +500.00\n2024-01-01T00:00:10Z +300.00\n2024-01-01T00:00:20Z +100.00\n")

	credits, err := NewReader(root, zap.NewNop()).Outstanding()
	require.NoError(t, err)
	assert.Equal(t, []payment.Credit{{Address: "4Addr", TxID: "tx1", WattHours: 100}}, credits)
}

func TestReader_CompletedNotReplayed(t *testing.T) {
	root := t.TempDir()
	writeJournal(t, root, "4Addr", "done-zero", "2024-01-01T00:00:00Z +10.00\n2024-01-01T00:00:10Z +0.00\n")
	writeJournal(t, root, "4Addr", "done-neg", "2024-01-01T00:00:00Z +10.00\n2024-01-01T00:00:10Z -4.20\n")

	credits, err := NewReader(root, zap.NewNop()).Outstanding()
	require.NoError(t, err)
	assert.Empty(t, credits)
}

func TestReader_CorruptFallsBackToComplete(t *testing.T) {
	root := t.TempDir()
	writeJournal(t, root, "4Addr", "empty", "")
	writeJournal(t, root, "4Addr", "garbage", "2024-01-01T00:00:00Z +10.00\n2024-01-01T00:0")
	writeJournal(t, root, "4Addr", "ok", "2024-01-01T00:00:00Z +7.50\n")

	core, logs := observer.New(zapcore.WarnLevel)
	r := NewReader(root, zap.New(core))

	records, err := r.Scan()
	require.NoError(t, err)
	require.Len(t, records, 3)

	byTx := map[string]Record{}
	for _, rec := range records {
		byTx[rec.TxID] = rec
	}
	assert.True(t, byTx["empty"].Corrupt)
	assert.True(t, byTx["garbage"].Corrupt)
	assert.False(t, byTx["empty"].Outstanding())
	assert.False(t, byTx["garbage"].Outstanding())
	assert.False(t, byTx["ok"].Corrupt)
	assert.Equal(t, 2, logs.Len())

	credits, err := r.Outstanding()
	require.NoError(t, err)
	assert.Equal(t, []payment.Credit{{Address: "4Addr", TxID: "ok", WattHours: 7.5}}, credits)
}

func TestReader_RecoverListsDelivered(t *testing.T) {
	root := t.TempDir()
	writeJournal(t, root, "4Addr", "open", "2024-01-01T00:00:00Z +12.00\n")
	writeJournal(t, root, "4Addr", "done", "2024-01-01T00:00:00Z -0.40\n")
	writeJournal(t, root, "4Other", "broken", "nope\n")

	rec, err := NewReader(root, zap.NewNop()).Recover()
	require.NoError(t, err)
	assert.Equal(t, []payment.Credit{{Address: "4Addr", TxID: "open", WattHours: 12}}, rec.Outstanding)
	assert.Equal(t, []string{"done", "broken"}, rec.Delivered)
}

func TestReader_IgnoresStrayFiles(t *testing.T) {
	root := t.TempDir()
	writeJournal(t, root, "4Addr", "tx1", "2024-01-01T00:00:00Z +1.00\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "4Addr", "notes.txt"), []byte("hi"), 0o644))

	records, err := NewReader(root, zap.NewNop()).Scan()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "tx1", records[0].TxID)
}

func TestReader_SortedByAddressThenTx(t *testing.T) {
	root := t.TempDir()
	writeJournal(t, root, "B", "t1", "2024-01-01T00:00:00Z +1.00\n")
	writeJournal(t, root, "A", "t2", "2024-01-01T00:00:00Z +1.00\n")
	writeJournal(t, root, "A", "t1", "2024-01-01T00:00:00Z +1.00\n")

	credits, err := NewReader(root, zap.NewNop()).Outstanding()
	require.NoError(t, err)
	require.Len(t, credits, 3)
	assert.Equal(t, [3]string{"A/t1", "A/t2", "B/t1"}, [3]string{
		credits[0].Address + "/" + credits[0].TxID,
		credits[1].Address + "/" + credits[1].TxID,
		credits[2].Address + "/" + credits[2].TxID,
	})
}

func TestWriterReader_RoundTrip(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, 1, zap.NewNop())
	for _, r := range []float64{500, 300, 100} {
		require.NoError(t, w.Append(Entry{Address: "4Addr", TxID: "tx", Time: t0, RemainingWattHours: r}))
	}

	credits, err := NewReader(root, zap.NewNop()).Outstanding()
	require.NoError(t, err)
	assert.Equal(t, []payment.Credit{{Address: "4Addr", TxID: "tx", WattHours: 100}}, credits)
}
