package snapscan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riftlake/snapscan/pkg/domain"
	"riftlake/snapscan/pkg/snapscan"
	"riftlake/snapscan/pkg/store"
)

func newTestTable(capacity int) *store.Table {
	schema := &domain.TableInfo{
		Name: "widgets",
		Columns: []domain.ColumnInfo{
			{Name: "id", Type: "int", Primary: true},
		},
	}
	return store.NewTable("widgets", schema, capacity)
}

func drainAll(t *testing.T, ctx *snapscan.Context) []snapscan.Tuple {
	t.Helper()
	var out []snapscan.Tuple
	for {
		tuple, ok := ctx.Advance()
		if !ok {
			break
		}
		out = append(out, tuple)
		require.NoError(t, ctx.CleanupTuple(tuple, false))
	}
	return out
}

func ids(tuples []snapscan.Tuple) []int {
	out := make([]int, len(tuples))
	for i, tp := range tuples {
		out[i] = tp.Data["id"].(int)
	}
	return out
}

// A quiescent table with no mutations during the scan: every row is
// emitted exactly once, straight from the live cursor.
func TestScan_QuiescentTable(t *testing.T) {
	table := newTestTable(4)
	for i := 1; i <= 5; i++ {
		table.Insert(domain.Row{"id": i})
	}

	ctx := snapscan.NewContext(table, snapscan.Config{TrackTupleCount: true})
	ctx.Activate()

	tuples := drainAll(t, ctx)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, ids(tuples))

	require.NoError(t, ctx.Cleanup())
}

// An update to a row the cursor has already passed does not need a
// pre-image: the cursor already emitted the old value and never revisits
// the slot.
func TestScan_UpdateBehindCursor(t *testing.T) {
	table := newTestTable(8)
	addr1 := table.Insert(domain.Row{"id": 1})
	table.Insert(domain.Row{"id": 2})

	ctx := snapscan.NewContext(table, snapscan.Config{TrackTupleCount: true})
	ctx.Activate()

	first, ok := ctx.Advance()
	require.True(t, ok)
	assert.Equal(t, 1, first.Data["id"])
	require.NoError(t, ctx.CleanupTuple(first, false))

	table.Update(addr1, domain.Row{"id": 1, "touched": true})

	rest := drainAll(t, ctx)
	assert.ElementsMatch(t, []int{2}, ids(rest))
	require.NoError(t, ctx.Cleanup())
}

// An update to a row ahead of the cursor must preserve the pre-image: the
// live slot gets mutated and dirty-marked, so the scan instead sees the
// value as of the moment just before the update, via the backup phase.
func TestScan_UpdateAheadOfCursor(t *testing.T) {
	table := newTestTable(8)
	table.Insert(domain.Row{"id": 1})
	addr2 := table.Insert(domain.Row{"id": 2, "name": "before"})

	ctx := snapscan.NewContext(table, snapscan.Config{TrackTupleCount: true})
	ctx.Activate()

	table.Update(addr2, domain.Row{"id": 2, "name": "after"})

	tuples := drainAll(t, ctx)
	assert.ElementsMatch(t, []int{1, 2}, ids(tuples))

	for _, tp := range tuples {
		if tp.Data["id"] == 2 {
			assert.Equal(t, "before", tp.Data["name"])
			assert.True(t, tp.FromBackup)
		}
	}
	require.NoError(t, ctx.Cleanup())
}

// A delete of a row the cursor already passed can proceed immediately;
// the scan never needed the row's storage again.
func TestScan_DeleteAfterCursorPassed(t *testing.T) {
	table := newTestTable(8)
	addr1 := table.Insert(domain.Row{"id": 1})
	table.Insert(domain.Row{"id": 2})

	ctx := snapscan.NewContext(table, snapscan.Config{TrackTupleCount: true})
	ctx.Activate()

	first, ok := ctx.Advance()
	require.True(t, ok)
	assert.Equal(t, 1, first.Data["id"])
	require.NoError(t, ctx.CleanupTuple(first, false))

	deleted := table.Delete(addr1)
	assert.True(t, deleted)

	blocks := table.Blocks()
	assert.Equal(t, 1, blocks[0].LiveCount())
	ref, found := table.RefAt(addr1)
	require.True(t, found)
	assert.False(t, ref.IsPendingDelete())

	rest := drainAll(t, ctx)
	assert.ElementsMatch(t, []int{2}, ids(rest))
	require.NoError(t, ctx.Cleanup())
}

// A delete of a row the cursor has not yet reached must preserve the
// pre-image and defer the physical free until the scan has moved past it.
func TestScan_DeleteBeforeCursorReachesIt(t *testing.T) {
	table := newTestTable(8)
	table.Insert(domain.Row{"id": 1})
	addr2 := table.Insert(domain.Row{"id": 2})

	ctx := snapscan.NewContext(table, snapscan.Config{TrackTupleCount: true})
	ctx.Activate()

	deleted := table.Delete(addr2)
	assert.True(t, deleted)

	ref, found := table.RefAt(addr2)
	require.True(t, found)
	assert.True(t, ref.IsPendingDelete())

	tuples := drainAll(t, ctx)
	assert.ElementsMatch(t, []int{1, 2}, ids(tuples))
	require.NoError(t, ctx.Cleanup())
}

// A block compacted away mid-scan must not lose the rows it was still
// holding for the cursor.
func TestScan_BlockCompactedMidScan(t *testing.T) {
	table := newTestTable(2)
	table.Insert(domain.Row{"id": 1})
	table.Insert(domain.Row{"id": 2})
	table.Insert(domain.Row{"id": 3})
	table.Insert(domain.Row{"id": 4})

	ctx := snapscan.NewContext(table, snapscan.Config{TrackTupleCount: true})
	ctx.Activate()

	first, ok := ctx.Advance()
	require.True(t, ok)
	second, ok := ctx.Advance()
	require.True(t, ok)
	require.NoError(t, ctx.CleanupTuple(first, false))
	require.NoError(t, ctx.CleanupTuple(second, false))

	blocks := table.Blocks()
	require.Len(t, blocks, 2)
	table.Compact(blocks[1])

	rest := drainAll(t, ctx)
	assert.ElementsMatch(t, []int{3, 4}, ids(rest))
	require.NoError(t, ctx.Cleanup())

	stats := ctx.Stats()
	assert.Equal(t, 1, stats.BlocksCompacted)
}

func TestScan_ActivateIsIdempotent(t *testing.T) {
	table := newTestTable(4)
	table.Insert(domain.Row{"id": 1})

	ctx := snapscan.NewContext(table, snapscan.Config{})
	ctx.Activate()
	ctx.Activate()

	tuples := drainAll(t, ctx)
	assert.Len(t, tuples, 1)
	require.NoError(t, ctx.Cleanup())
}

func TestScan_RowsInsertedAfterActivationAreNeverEmitted(t *testing.T) {
	table := newTestTable(4)
	table.Insert(domain.Row{"id": 1})

	ctx := snapscan.NewContext(table, snapscan.Config{TrackTupleCount: true})
	ctx.Activate()

	table.Insert(domain.Row{"id": 2})

	tuples := drainAll(t, ctx)
	assert.ElementsMatch(t, []int{1}, ids(tuples))
	require.NoError(t, ctx.Cleanup())
}

// A row inserted after activation, then deleted before the cursor ever
// reaches its slot, must never surface as a phantom: it was already
// dirty-marked by the insert, so the delete must free it immediately rather
// than saving a pre-image of a row outside the snapshot.
func TestScan_DeleteOfPostActivationInsertNeverPhantoms(t *testing.T) {
	table := newTestTable(8)
	table.Insert(domain.Row{"id": 1})

	ctx := snapscan.NewContext(table, snapscan.Config{TrackTupleCount: true})
	ctx.Activate()

	addr2 := table.Insert(domain.Row{"id": 2})
	deleted := table.Delete(addr2)
	assert.True(t, deleted)

	ref, found := table.RefAt(addr2)
	require.True(t, found)
	assert.False(t, ref.IsPendingDelete(), "dirty rows are freed immediately, never deferred")

	tuples := drainAll(t, ctx)
	assert.ElementsMatch(t, []int{1}, ids(tuples), "row 2 must never be emitted, live or via backup")
	require.NoError(t, ctx.Cleanup())
}

// A row updated ahead of the cursor (pre-image saved, dirty-marked), then
// deleted before the cursor reaches it, must not produce a second,
// incorrect pre-image: the row is already dirty, so the delete frees it
// immediately and the side table keeps only the one correct pre-image.
func TestScan_DeleteAfterUpdateAheadOfCursorDoesNotDoubleBackup(t *testing.T) {
	table := newTestTable(8)
	table.Insert(domain.Row{"id": 1})
	addr2 := table.Insert(domain.Row{"id": 2, "name": "before"})

	ctx := snapscan.NewContext(table, snapscan.Config{TrackTupleCount: true})
	ctx.Activate()

	ok := table.Update(addr2, domain.Row{"id": 2, "name": "after"})
	require.True(t, ok)

	deleted := table.Delete(addr2)
	assert.True(t, deleted)

	ref, found := table.RefAt(addr2)
	require.True(t, found)
	assert.False(t, ref.IsPendingDelete(), "already-dirty rows are freed immediately on delete")

	tuples := drainAll(t, ctx)
	assert.ElementsMatch(t, []int{1, 2}, ids(tuples), "row 2's one saved pre-image must be emitted exactly once")
	require.NoError(t, ctx.Cleanup())

	stats := ctx.Stats()
	assert.Equal(t, 1, stats.Updates)
}

// Counters track inserts, updates and deletes exactly as the notification
// protocol dictates.
func TestScan_CountersTrackNotifications(t *testing.T) {
	table := newTestTable(8)
	addr1 := table.Insert(domain.Row{"id": 1})
	table.Insert(domain.Row{"id": 2})
	addr3 := table.Insert(domain.Row{"id": 3})

	ctx := snapscan.NewContext(table, snapscan.Config{TrackTupleCount: true})
	ctx.Activate()

	table.Insert(domain.Row{"id": 4})        // ahead-of-cursor insert -> inserts++
	table.Update(addr1, domain.Row{"id": 1}) // ahead-of-cursor update -> updates++
	deleted := table.Delete(addr3)           // ahead-of-cursor delete -> deletes++
	require.True(t, deleted)

	_ = drainAll(t, ctx)
	require.NoError(t, ctx.Cleanup())

	stats := ctx.Stats()
	assert.Equal(t, 1, stats.Inserts)
	assert.Equal(t, 1, stats.Updates)
	assert.Equal(t, 1, stats.Deletes)
}

// RecordSerializationBatch is a pass-through counter for a consumer's own
// output batching; the context never calls it itself.
func TestScan_RecordSerializationBatch(t *testing.T) {
	table := newTestTable(4)
	table.Insert(domain.Row{"id": 1})

	ctx := snapscan.NewContext(table, snapscan.Config{})
	ctx.Activate()

	ctx.RecordSerializationBatch()
	ctx.RecordSerializationBatch()

	assert.Equal(t, 2, ctx.Stats().SerializationBatches)
	require.NoError(t, ctx.Cleanup())
}

// CleanupTuple(tuple, true) asks the surgeon to delete for undo when the
// tuple was not already pending-delete, for rebalancing flows that wrap the
// scan in a transaction.
func TestScan_CleanupTupleWithDeleteTupleTrueDeletesForUndo(t *testing.T) {
	table := newTestTable(4)
	table.Insert(domain.Row{"id": 1})

	ctx := snapscan.NewContext(table, snapscan.Config{})
	ctx.Activate()

	first, ok := ctx.Advance()
	require.True(t, ok)

	require.NoError(t, ctx.CleanupTuple(first, true))

	blocks := table.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, 0, blocks[0].LiveCount(), "undo-delete must free the slot even though it was never pending-delete")

	require.NoError(t, ctx.Cleanup())
}
