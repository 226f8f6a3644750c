// Package mvcc
//
// (C) Copyright Alex Gaetano Padula
//
// Licensed under the Mozilla Public License, v. 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.mozilla.org/en-US/MPL/2.0/
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package mvcc

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenEngine yields a single position with a missing key or row
type brokenEngine struct {
	SkiplistEngine
	key []byte
	row *Row
}

type brokenIter struct {
	key  []byte
	row  *Row
	done bool
}

func (b *brokenEngine) Scan(start []byte, exclusiveStart bool, end []byte, exclusiveEnd bool, version Version) (QueryEngineIterator, error) {
	return &brokenIter{key: b.key, row: b.row}, nil
}

func (b *brokenEngine) RevertIter(it QueryEngineIterator) {}

func (it *brokenIter) Next() error {
	if it.done {
		return ErrIterEnd
	}
	it.done = true
	return nil
}

func (it *brokenIter) Key() []byte         { return it.key }
func (it *brokenIter) Value() *Row         { return it.row }
func (it *brokenIter) IsReverseScan() bool { return false }
func (it *brokenIter) IterFlag() uint8     { return 0 }

// flaggedEngine yields fixed rows, each with its own iter flag
type flaggedEngine struct {
	SkiplistEngine
	keys  []string
	rows  []*Row
	flags []uint8
}

type flaggedIter struct {
	e   *flaggedEngine
	pos int
}

func (f *flaggedEngine) Scan(start []byte, exclusiveStart bool, end []byte, exclusiveEnd bool, version Version) (QueryEngineIterator, error) {
	return &flaggedIter{e: f, pos: -1}, nil
}

func (f *flaggedEngine) RevertIter(it QueryEngineIterator) {}

func (it *flaggedIter) Next() error {
	if it.pos+1 >= len(it.e.keys) {
		return ErrIterEnd
	}
	it.pos++
	return nil
}

func (it *flaggedIter) Key() []byte         { return []byte(it.e.keys[it.pos]) }
func (it *flaggedIter) Value() *Row         { return it.e.rows[it.pos] }
func (it *flaggedIter) IsReverseScan() bool { return false }
func (it *flaggedIter) IterFlag() uint8     { return it.e.flags[it.pos] }

// newScanFixture builds rows a..e where only a, c and e are visible at 10
func newScanFixture(t *testing.T) (*SkiplistEngine, *TxDataTable) {
	t.Helper()
	table := newTestTable(t)
	e := NewSkiplistEngine(quietLogger())

	e.GetOrCreate([]byte("a")).Insert(committedNode(1, 1, 5))
	e.GetOrCreate([]byte("b")).Insert(committedNode(1, 1, 15))
	e.GetOrCreate([]byte("c")).Insert(committedNode(1, 1, 5))
	e.GetOrCreate([]byte("d")).Insert(abortedNode(2, 1))
	e.GetOrCreate([]byte("e")).Insert(committedNode(1, 1, 9))
	return e, table
}

func collectRows(t *testing.T, it *RowIterator) []string {
	t.Helper()
	var keys []string
	for {
		key, vi, _, ok, err := it.GetNextRow(false)
		require.NoError(t, err)
		if !ok {
			return keys
		}
		require.True(t, vi.IsExist())
		keys = append(keys, string(key))
	}
}

func TestRowIteratorSkipsInvisibleRows(t *testing.T) {
	e, table := newScanFixture(t)
	ctx := NewAccessCtx(TxSnapshot{Version: 10}, 1, table)

	it := NewRowIterator(quietLogger(), nil)
	require.NoError(t, it.Init(e, ctx, ScanRange{BorderFlag: BorderInclusiveStart | BorderInclusiveEnd}, QueryFlag{}))
	assert.Equal(t, []string{"a", "c", "e"}, collectRows(t, it))
	it.Reset()

	// At a later snapshot b is visible too
	ctx = NewAccessCtx(TxSnapshot{Version: 20}, 1, table)
	require.NoError(t, it.Init(e, ctx, ScanRange{}, QueryFlag{}))
	assert.Equal(t, []string{"a", "b", "c", "e"}, collectRows(t, it))
	it.Reset()
	assert.Equal(t, int64(0), e.ActiveIterators())
}

func TestRowIteratorBorders(t *testing.T) {
	e, table := newScanFixture(t)
	ctx := NewAccessCtx(TxSnapshot{Version: 20}, 1, table)

	cases := []struct {
		name string
		rng  ScanRange
		want []string
	}{
		{"inclusive", ScanRange{Start: []byte("b"), End: []byte("e"), BorderFlag: BorderInclusiveStart | BorderInclusiveEnd}, []string{"b", "c", "e"}},
		{"exclusive", ScanRange{Start: []byte("b"), End: []byte("e")}, []string{"c"}},
		{"inclusive start only", ScanRange{Start: []byte("b"), End: []byte("e"), BorderFlag: BorderInclusiveStart}, []string{"b", "c"}},
		{"reverse", ScanRange{Start: []byte("e"), End: []byte("a"), BorderFlag: BorderInclusiveStart | BorderInclusiveEnd}, []string{"e", "c", "b", "a"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			it := NewRowIterator(quietLogger(), nil)
			require.NoError(t, it.Init(e, ctx, tc.rng, QueryFlag{}))
			defer it.Reset()
			assert.Equal(t, tc.want, collectRows(t, it))
		})
	}
}

func TestRowIteratorNotInit(t *testing.T) {
	it := NewRowIterator(nil, nil)

	_, _, _, _, err := it.GetNextRow(false)
	assert.True(t, errors.Is(err, ErrNotInit))
	_, _, err = it.GetKeyVal()
	assert.True(t, errors.Is(err, ErrNotInit))
	_, err = it.TryPurge(TxSnapshot{Version: 1}, []byte("k"), NewRow())
	assert.True(t, errors.Is(err, ErrNotInit))
	_, _, err = it.GetEndGapKey(TxSnapshot{Version: 1})
	assert.True(t, errors.Is(err, ErrNotInit))

	// Reset on a fresh iterator is harmless
	it.Reset()
}

func TestRowIteratorInitErrors(t *testing.T) {
	e, table := newScanFixture(t)
	it := NewRowIterator(quietLogger(), nil)

	err := it.Init(nil, NewAccessCtx(TxSnapshot{Version: 10}, 1, table), ScanRange{}, QueryFlag{})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	err = it.Init(e, NewAccessCtx(TxSnapshot{}, 1, table), ScanRange{}, QueryFlag{})
	assert.True(t, errors.Is(err, ErrInvalidSnapshot))
	assert.Equal(t, int64(0), e.ActiveIterators())
}

func TestRowIteratorReinit(t *testing.T) {
	e, table := newScanFixture(t)
	ctx := NewAccessCtx(TxSnapshot{Version: 10}, 1, table)

	it := NewRowIterator(quietLogger(), nil)
	require.NoError(t, it.Init(e, ctx, ScanRange{}, QueryFlag{}))
	require.NoError(t, it.Init(e, ctx, ScanRange{}, QueryFlag{}))
	assert.Equal(t, int64(1), e.ActiveIterators(), "re-init releases the previous scan")
	it.Reset()
	assert.Equal(t, int64(0), e.ActiveIterators())
}

func TestRowIteratorNilKeyOrRow(t *testing.T) {
	table := newTestTable(t)
	ctx := NewAccessCtx(TxSnapshot{Version: 10}, 1, table)

	for _, engine := range []*brokenEngine{
		{key: nil, row: NewRow()},
		{key: []byte("k"), row: nil},
	} {
		it := NewRowIterator(quietLogger(), nil)
		require.NoError(t, it.Init(engine, ctx, ScanRange{}, QueryFlag{}))
		_, _, _, ok, err := it.GetNextRow(false)
		assert.False(t, ok)
		require.Error(t, err)
		assert.True(t, errors.HasAssertionFailure(err))
	}
}

func TestRowIteratorPartialRowFlag(t *testing.T) {
	table := newTestTable(t)
	ctx := NewAccessCtx(TxSnapshot{Version: 10}, 1, table)

	engine := &flaggedEngine{
		keys:  []string{"a", "b", "c", "d"},
		rows:  []*Row{buildRow(committedNode(1, 1, 5)), buildRow(committedNode(1, 1, 50)), buildRow(committedNode(1, 1, 5)), buildRow(committedNode(1, 1, 50))},
		flags: []uint8{0, IterFlagRowPartial, 0, IterFlagRowPartial},
	}

	it := NewRowIterator(quietLogger(), nil)
	require.NoError(t, it.Init(engine, ctx, ScanRange{}, QueryFlag{}))
	defer it.Reset()

	key, _, flag, ok, err := it.GetNextRow(false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", string(key))
	assert.Equal(t, uint8(0), flag)

	// b is invisible, its partial flag carries over to c
	key, _, flag, ok, err = it.GetNextRow(false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", string(key))
	assert.Equal(t, IterFlagRowPartial, flag)

	// d is invisible and last, the flag comes back with the end of the scan
	_, _, flag, ok, err = it.GetNextRow(false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, IterFlagRowPartial, flag)
}

func TestRowIteratorBaselineRow(t *testing.T) {
	table := newTestTable(t)
	e := NewSkiplistEngine(quietLogger())
	baseline := NewCompactNode(10, []byte("base"))
	e.GetOrCreate([]byte("k")).Insert(baseline)
	ctx := NewAccessCtx(TxSnapshot{Version: 20}, 1, table)

	it := NewRowIterator(quietLogger(), nil)
	require.NoError(t, it.Init(e, ctx, ScanRange{}, QueryFlag{}))
	_, vi, _, ok, err := it.GetNextRow(true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []*TransNode{baseline}, drain(t, vi))
	it.Reset()

	// A baseline that ends the walk leaves nothing to return for the row
	require.NoError(t, it.Init(e, ctx, ScanRange{}, QueryFlag{}))
	_, _, _, ok, err = it.GetNextRow(false)
	require.NoError(t, err)
	assert.False(t, ok)
	it.Reset()
}

func TestRowIteratorValueIterPositioned(t *testing.T) {
	table := newTestTable(t)
	e := NewSkiplistEngine(quietLogger())
	row := e.GetOrCreate([]byte("k"))
	row.Insert(committedNode(1, 1, 3))
	row.Insert(committedNode(2, 1, 6))
	row.Insert(committedNode(3, 1, 12))

	it := NewRowIterator(quietLogger(), nil)
	require.NoError(t, it.Init(e, NewAccessCtx(TxSnapshot{Version: 10}, 9, table), ScanRange{}, QueryFlag{}))
	defer it.Reset()

	key, vi, _, ok, err := it.GetNextRow(false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "k", string(key))

	versions := []Version{}
	for _, n := range drain(t, vi) {
		versions = append(versions, n.TransVersion())
	}
	assert.Equal(t, []Version{6, 3}, versions)

	gotKey, gotRow, err := it.GetKeyVal()
	require.NoError(t, err)
	assert.Equal(t, "k", string(gotKey))
	assert.Same(t, row, gotRow)
}

func TestRowIteratorTryPurge(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats, err := NewStats(reg)
	require.NoError(t, err)

	table := newTestTable(t)
	e := NewSkiplistEngine(quietLogger())
	e.GetOrCreate([]byte("a")).Insert(committedNode(1, 1, 5))
	dead := e.GetOrCreate([]byte("b"))
	dead.Insert(committedNode(1, 1, 2))
	dead.Insert(deleteNode(2, 4))

	it := NewRowIterator(quietLogger(), stats)
	require.NoError(t, it.Init(e, NewAccessCtx(TxSnapshot{Version: 10}, 1, table), ScanRange{}, QueryFlag{IterUncommitted: true}))
	defer it.Reset()

	for {
		_, _, _, ok, err := it.GetNextRow(false)
		require.NoError(t, err)
		if !ok {
			break
		}
		key, row, err := it.GetKeyVal()
		require.NoError(t, err)
		purged, err := it.TryPurge(TxSnapshot{Version: 10}, key, row)
		require.NoError(t, err)
		assert.Equal(t, string(key) == "b", purged)
	}

	assert.True(t, dead.IsRetired())
	assert.Equal(t, int64(1), e.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.rowPurge))

	_, err = it.TryPurge(TxSnapshot{Version: 10}, nil, dead)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	// A row someone else already purged is not counted again
	purged, err := it.TryPurge(TxSnapshot{Version: 10}, []byte("b"), dead)
	require.NoError(t, err)
	assert.False(t, purged)
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.rowPurge))
}

func TestRowIteratorGetEndGapKey(t *testing.T) {
	table := newTestTable(t)
	e := NewSkiplistEngine(quietLogger())
	e.GetOrCreate([]byte("a")).Insert(committedNode(1, 1, 5))
	for _, k := range []string{"b", "c", "d"} {
		row := e.GetOrCreate([]byte(k))
		row.Insert(committedNode(1, 1, 2))
		row.Insert(deleteNode(2, 4))
	}
	e.GetOrCreate([]byte("e")).Insert(committedNode(1, 1, 5))

	snapshot := TxSnapshot{Version: 10}
	it := NewRowIterator(quietLogger(), nil)
	require.NoError(t, it.Init(e, NewAccessCtx(snapshot, 1, table), ScanRange{}, QueryFlag{}))
	defer it.Reset()

	// Not positioned yet
	_, _, err := it.GetEndGapKey(snapshot)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	key, _, _, ok, err := it.GetNextRow(false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", string(key))

	end, size, err := it.GetEndGapKey(snapshot)
	require.NoError(t, err)
	assert.Equal(t, "e", string(end))
	assert.Equal(t, int64(3), size)
}
