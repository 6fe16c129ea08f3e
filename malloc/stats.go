package malloc

import "unsafe"

import humanize "github.com/dustin/go-humanize"

// Info memory accounting for this heap: window capacity, bytes
// acquired from the memory system, bytes held by allocated blocks
// and book-keeping overhead.
func (m *Malloc) Info() (capacity, heap, alloc, overhead int64) {
	if m.heap == nil {
		panicerr("heap already released")
	}
	capacity, heap = m.heap.Capacity(), m.heap.Size()
	alloc = m.allocated
	overhead = int64(unsafe.Sizeof(*m)) + 4*Wsize + m.nblocks*Dsize
	return capacity, heap, alloc, overhead
}

// Allocated bytes held by allocated blocks.
func (m *Malloc) Allocated() int64 {
	return m.allocated
}

// Available bytes that can still be turned into allocated blocks.
func (m *Malloc) Available() int64 {
	if m.heap == nil {
		panicerr("heap already released")
	}
	return m.heap.Capacity() - m.allocated
}

// Utilization free-memory share per size-class bucket. Returns the
// lower bound of each non-empty bucket and the bucket's percentage
// of all free bytes.
func (m *Malloc) Utilization() ([]int, []float64) {
	freesizes := make([]int64, Listlimit)
	total := int64(0)
	for list := 0; list < Listlimit; list++ {
		for bp := m.lists[list]; bp != 0; bp = m.pred(bp) {
			freesizes[list] += sizeof(hdrp(bp))
			total += sizeof(hdrp(bp))
		}
	}
	sizes, zs := make([]int, 0), make([]float64, 0)
	for list := 0; list < Listlimit; list++ {
		if freesizes[list] == 0 {
			continue
		}
		sizes = append(sizes, 1<<uint(list))
		zs = append(zs, (float64(freesizes[list])/float64(total))*100)
	}
	return sizes, zs
}

// Log heap accounting in human readable form.
func (m *Malloc) Log() {
	capacity, heap, alloc, overhead := m.Info()
	nfree, freesize := m.countfree()
	infof(
		"malloc: capacity %v heap %v alloc %v overhead %v\n",
		humanize.Bytes(uint64(capacity)), humanize.Bytes(uint64(heap)),
		humanize.Bytes(uint64(alloc)), humanize.Bytes(uint64(overhead)))
	infof(
		"malloc: %v blocks allocated, %v free blocks of %v\n",
		m.nblocks, nfree, humanize.Bytes(uint64(freesize)))
}
