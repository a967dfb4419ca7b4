package datafile

import (
	"sort"
	"time"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/record"
)

// UnboundedBackfill is the backfill-bytes sentinel that indexes the whole file
const UnboundedBackfill int64 = 0xFFFFFFFF

// index holds the entries of every array in a file, each slice sorted by key
type index struct {
	arrays map[uint32][]IndexEntry
}

func newIndex() *index {
	return &index{arrays: make(map[uint32][]IndexEntry)}
}

func (ix *index) reset() {
	ix.arrays = make(map[uint32][]IndexEntry)
}

func (ix *index) entries(arrayID uint32) []IndexEntry {
	return ix.arrays[arrayID]
}

func (ix *index) len() int {
	n := 0
	for _, es := range ix.arrays {
		n += len(es)
	}
	return n
}

// truncateBefore drops entries whose record starts before offset
func (ix *index) truncateBefore(offset int64) {
	for id, es := range ix.arrays {
		kept := es[:0]
		for _, e := range es {
			if e.Offset >= offset {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(ix.arrays, id)
			continue
		}
		ix.arrays[id] = kept
	}
}

// merge appends fresh entries in scan order. An array is resorted only when
// its appended range does not sort strictly after the existing tail.
func (ix *index) merge(fresh []IndexEntry) {
	boundary := make(map[uint32]int)
	for _, e := range fresh {
		id := e.Key.ArrayID
		if _, seen := boundary[id]; !seen {
			boundary[id] = len(ix.arrays[id])
		}
		ix.arrays[id] = append(ix.arrays[id], e)
	}
	for id, from := range boundary {
		es := ix.arrays[id]
		if !sortedFrom(es, from) {
			sortEntries(es)
		}
	}
}

// sortedFrom reports whether es[from-1:] is strictly increasing
func sortedFrom(es []IndexEntry, from int) bool {
	if from < 1 {
		from = 1
	}
	for i := from; i < len(es); i++ {
		if !es[i-1].Key.Less(es[i].Key) {
			return false
		}
	}
	return true
}

func sortEntries(es []IndexEntry) {
	sort.SliceStable(es, func(i, j int) bool { return es[i].Key.Less(es[j].Key) })
}

// lowerBound returns the first position whose key is not less than key
func lowerBound(es []IndexEntry, key record.Key) int {
	return sort.Search(len(es), func(i int) bool { return !es[i].Key.Less(key) })
}

// backfillStart is the offset indexing starts from for a file of size bytes
func backfillStart(size, backfill, dataStart int64) int64 {
	if backfill <= 0 || backfill >= UnboundedBackfill {
		return dataStart
	}
	start := size - backfill
	if start < dataStart {
		return dataStart
	}
	return start
}

// resolveStart chooses the first entry a new cursor returns. es must not be
// empty. AfterNewest resolves past the end so nothing already written is
// returned.
func resolveStart(es []IndexEntry, opt access.StartOption, arrayID uint32) int {
	last := len(es) - 1
	switch opt.Kind {
	case access.StartAtNewest:
		return last
	case access.StartAfterNewest:
		return len(es)
	case access.StartAtTime:
		return lowerBound(es, record.Key{Stamp: opt.Stamp, ArrayID: arrayID})
	case access.StartDateQuery:
		return lowerBound(es, record.Key{Stamp: opt.Begin, ArrayID: arrayID})
	case access.StartAtRecord:
		for i, e := range es {
			if e.Key.RecordNo >= opt.RecordNo {
				return i
			}
		}
		return 0
	case access.StartRelativeToNewest:
		stamp := es[last].Key.Stamp.Add(opt.Backfill - time.Nanosecond)
		if pos := lowerBound(es, record.Key{Stamp: stamp, ArrayID: arrayID}); pos < len(es) {
			return pos
		}
		return 0
	case access.StartAtOffsetFromNewest:
		pos := len(es) - int(opt.Offset)
		if pos < 0 {
			pos = 0
		}
		if pos > last {
			pos = last
		}
		return pos
	}
	return 0
}

// resumePosition is where a started cursor continues. Real time order skips
// the backlog and returns at most the newest entry.
func resumePosition(es []IndexEntry, order access.Order, lastKey record.Key) int {
	if len(es) == 0 {
		return 0
	}
	if order == access.OrderRealTime {
		last := len(es) - 1
		if lastKey.Less(es[last].Key) {
			return last
		}
		return len(es)
	}
	pos := lowerBound(es, lastKey)
	if pos < len(es) && es[pos].Key.Compare(lastKey) == 0 {
		pos++
	}
	return pos
}
