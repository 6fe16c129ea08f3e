// Functions and methods are not thread safe.

package malloc

import "errors"
import "fmt"
import "unsafe"

import s "github.com/bnclabs/gosettings"

import "github.com/bnclabs/gomalloc/api"
import "github.com/bnclabs/gomalloc/lib"
import "github.com/bnclabs/gomalloc/mem"

// ErrorOutofMemory returned when the memory system refuses to extend
// the heap window.
var ErrorOutofMemory = errors.New("malloc.outofmemory")

// Malloc is a segregated-fit allocator over a single contiguous heap
// window. Blocks carry boundary tags, free blocks are indexed by
// size-class buckets, freed neighbours are coalesced eagerly and
// realloc over-allocates by Reallocbuffer bytes to absorb repeated
// in-place growth. Implements api.Mallocer{}.
type Malloc struct {
	// 64-bit aligned stats
	nmalloc   int64
	nfree     int64
	nrealloc  int64
	nextends  int64
	allocated int64 // bytes held by allocated blocks, incl. overhead
	nblocks   int64 // number of live allocated blocks

	heap  *mem.Memory
	lo    uintptr
	lists [Listlimit]uintptr // bucket heads, 0 is the nil sentinel

	// settings
	capacity   int64
	debugcheck bool
}

var _ api.Mallocer = (*Malloc)(nil)

// New create a new heap. Settings params described in
// Defaultsettings().
func New(setts s.Settings) (*Malloc, error) {
	setts = Defaultsettings().Mixin(setts)
	m := &Malloc{
		capacity:   setts.Int64("capacity"),
		debugcheck: setts.Bool("debug.check"),
	}
	if m.capacity > Maxcapacity {
		panicerr("capacity %v exceeds %v", m.capacity, Maxcapacity)
	}
	heap, err := mem.New(m.capacity)
	if err != nil {
		return nil, err
	}
	m.heap, m.lo = heap, heap.Lo()
	if err := m.Init(); err != nil {
		heap.Release()
		return nil, err
	}
	infof("malloc: new heap of %v capacity\n", m.heap.Capacity())
	return m, nil
}

// Init reset the segregated index, lay down the heap prologue and
// epilogue and seed the heap with one initial free block. The same
// window is reused, previous allocations are forgotten.
func (m *Malloc) Init() error {
	if m.heap == nil {
		panicerr("heap already released")
	}
	m.heap.Reset()
	for i := range m.lists {
		m.lists[i] = 0
	}
	m.nmalloc, m.nfree, m.nrealloc, m.nextends = 0, 0, 0, 0
	m.allocated, m.nblocks = 0, 0

	start, err := m.heap.Sbrk(4 * Wsize)
	if err != nil {
		return ErrorOutofMemory
	}
	put(start, 0)                                      // alignment padding
	put(start+uintptr(1*Wsize), pack(Dsize, allocbit)) // prologue header
	put(start+uintptr(2*Wsize), pack(Dsize, allocbit)) // prologue footer
	put(start+uintptr(3*Wsize), pack(0, allocbit))     // epilogue header

	if bp := m.extendheap(Initchunksize); bp == 0 {
		return ErrorOutofMemory
	}
	return nil
}

// Malloc allocate a block of `size` bytes. Returned address is
// 8-byte aligned, nil when `size` is zero or when the memory system
// refuses to extend the heap.
func (m *Malloc) Malloc(size int64) unsafe.Pointer {
	if m.heap == nil {
		panicerr("heap already released")
	}
	if size <= 0 {
		return nil
	}
	asize := adjustsize(size)
	bp := m.findfit(asize)
	if bp == 0 {
		if bp = m.extendheap(max64(asize, Chunksize)); bp == 0 {
			return nil
		}
	}
	bp = m.place(bp, asize)
	m.nmalloc++
	m.runcheck()
	return unsafe.Pointer(bp)
}

// Free a block returned by Malloc or Realloc. The block's metadata
// is rewritten as free, the block is indexed and coalesced with any
// free physical neighbour.
func (m *Malloc) Free(ptr unsafe.Pointer) {
	if m.heap == nil {
		panicerr("heap already released")
	} else if ptr == nil {
		panicerr("Free(): nil pointer")
	}
	bp := uintptr(ptr)
	size := sizeof(hdrp(bp))

	put(hdrp(bp), pack(size, 0))
	put(ftrp(bp), pack(size, 0))
	m.allocated -= size
	m.nblocks--

	m.insertnode(bp, size)
	m.coalesce(bp)
	m.nfree++
	m.runcheck()
}

// Realloc resize the block to `size` bytes. The target is padded by
// Reallocbuffer so that subsequent growth of the same block is
// absorbed in place. Growth is satisfied from the current block,
// from a free (or epilogue-adjacent) next block, or by a fresh
// allocation plus copy. Returns nil when `size` is zero, without
// releasing the block.
func (m *Malloc) Realloc(ptr unsafe.Pointer, size int64) unsafe.Pointer {
	if m.heap == nil {
		panicerr("heap already released")
	}
	if size <= 0 {
		return nil
	} else if ptr == nil {
		return m.Malloc(size)
	}

	bp := uintptr(ptr)
	newsize := adjustsize(size) + Reallocbuffer
	blockbuffer := sizeof(hdrp(bp)) - newsize
	newbp := bp

	if blockbuffer < 0 {
		next := nextblkp(bp)
		remainder := sizeof(hdrp(bp)) + sizeof(hdrp(next)) - newsize
		// a heap extension adjoins `next` only when `next` is the
		// epilogue or the last block before it.
		tail := sizeof(hdrp(next)) == 0 || sizeof(hdrp(nextblkp(next))) == 0
		if sizeof(hdrp(next)) == 0 || (!allocof(hdrp(next)) && (remainder >= 0 || tail)) {
			// grow in place over the next block, extending the heap
			// when even that is not enough.
			if remainder < 0 {
				extendsize := max64(lib.AbsInt64(remainder), Chunksize)
				if m.extendheap(extendsize) == 0 {
					return nil
				}
				remainder += extendsize
			}
			m.deletenode(nextblkp(bp))
			m.allocated += newsize + remainder - sizeof(hdrp(bp))
			put(hdrp(bp), pack(newsize+remainder, allocbit))
			put(ftrp(bp), pack(newsize+remainder, allocbit))
		} else {
			newbp = uintptr(m.Malloc(newsize - Dsize))
			if newbp == 0 {
				return nil
			}
			ln := int(min64(size, newsize))
			lib.Memcpy(unsafe.Pointer(newbp), unsafe.Pointer(bp), ln)
			m.Free(unsafe.Pointer(bp))
		}
	}

	m.nrealloc++
	m.runcheck()
	return unsafe.Pointer(newbp)
}

// Chunklen length of the block usable by application.
func (m *Malloc) Chunklen(ptr unsafe.Pointer) int64 {
	return sizeof(hdrp(uintptr(ptr))) - Dsize
}

// Payload usable region of an allocated block, valid until the block
// is freed or reallocated.
func (m *Malloc) Payload(ptr unsafe.Pointer) []byte {
	return byteslice(uintptr(ptr), m.Chunklen(ptr))
}

// Release the heap window back to the memory system.
func (m *Malloc) Release() {
	if m.heap == nil {
		return
	}
	infof(
		"malloc: releasing heap after %v mallocs %v frees %v reallocs\n",
		m.nmalloc, m.nfree, m.nrealloc)
	m.heap.Release()
	m.heap, m.lo = nil, 0
	for i := range m.lists {
		m.lists[i] = 0
	}
}

//---- allocator internals

// findfit best-fit search across the bucket index. Buckets are
// probed from the block's own size class upward, within a bucket the
// ascending chain yields the smallest fitting block.
func (m *Malloc) findfit(asize int64) uintptr {
	searchsize := asize
	for list := 0; list < Listlimit; list++ {
		if list == Listlimit-1 || (searchsize <= 1 && m.lists[list] != 0) {
			bp := m.lists[list]
			for bp != 0 && asize > sizeof(hdrp(bp)) {
				bp = m.pred(bp)
			}
			if bp != 0 {
				return bp
			}
		}
		searchsize >>= 1
	}
	return 0
}

// place carve an allocated block of `asize` bytes out of the free
// block at `bp`. Splits only when the remainder is larger than
// Minblocksize, placing large payloads at the high end and small
// payloads at the low end.
func (m *Malloc) place(bp uintptr, asize int64) uintptr {
	size := sizeof(hdrp(bp))
	remainder := size - asize

	m.deletenode(bp)

	if remainder <= Minblocksize {
		put(hdrp(bp), pack(size, allocbit))
		put(ftrp(bp), pack(size, allocbit))
		m.allocated += size
		m.nblocks++
		return bp

	} else if asize >= splitplace {
		put(hdrp(bp), pack(remainder, 0))
		put(ftrp(bp), pack(remainder, 0))
		put(hdrp(nextblkp(bp)), pack(asize, allocbit))
		put(ftrp(nextblkp(bp)), pack(asize, allocbit))
		m.insertnode(bp, remainder)
		m.allocated += asize
		m.nblocks++
		return nextblkp(bp)
	}

	put(hdrp(bp), pack(asize, allocbit))
	put(ftrp(bp), pack(asize, allocbit))
	put(hdrp(nextblkp(bp)), pack(remainder, 0))
	put(ftrp(nextblkp(bp)), pack(remainder, 0))
	m.insertnode(nextblkp(bp), remainder)
	m.allocated += asize
	m.nblocks++
	return bp
}

// coalesce merge the free block at `bp`, already indexed, with any
// free physical neighbour and re-index the result.
func (m *Malloc) coalesce(bp uintptr) uintptr {
	prevalloc := allocof(hdrp(prevblkp(bp)))
	nextalloc := allocof(hdrp(nextblkp(bp)))
	size := sizeof(hdrp(bp))

	if prevalloc && nextalloc {
		return bp

	} else if prevalloc && !nextalloc {
		m.deletenode(bp)
		m.deletenode(nextblkp(bp))
		size += sizeof(hdrp(nextblkp(bp)))
		put(hdrp(bp), pack(size, 0))
		put(ftrp(bp), pack(size, 0))

	} else if !prevalloc && nextalloc {
		m.deletenode(bp)
		m.deletenode(prevblkp(bp))
		size += sizeof(hdrp(prevblkp(bp)))
		put(ftrp(bp), pack(size, 0))
		put(hdrp(prevblkp(bp)), pack(size, 0))
		bp = prevblkp(bp)

	} else {
		m.deletenode(bp)
		m.deletenode(prevblkp(bp))
		m.deletenode(nextblkp(bp))
		size += sizeof(hdrp(prevblkp(bp))) + sizeof(hdrp(nextblkp(bp)))
		put(hdrp(prevblkp(bp)), pack(size, 0))
		put(ftrp(nextblkp(bp)), pack(size, 0))
		bp = prevblkp(bp)
	}

	m.insertnode(bp, size)
	return bp
}

// extendheap grow the heap by `size` bytes rounded up to alignment.
// The new region replaces the old epilogue as one free block,
// terminated by a fresh epilogue, and is coalesced with a free
// predecessor. Returns 0 when the memory system refuses.
func (m *Malloc) extendheap(size int64) uintptr {
	asize := align(size)
	bp, err := m.heap.Sbrk(asize)
	if err != nil {
		warnf("malloc: extend heap by %v: %v\n", asize, err)
		return 0
	}
	m.nextends++

	put(hdrp(bp), pack(asize, 0))
	put(ftrp(bp), pack(asize, 0))
	put(hdrp(nextblkp(bp)), pack(0, allocbit)) // fresh epilogue
	m.insertnode(bp, asize)
	return m.coalesce(bp)
}

func (m *Malloc) runcheck() {
	if m.debugcheck {
		if err := m.Validate(); err != nil {
			panic(err)
		}
	}
}

//---- local functions

// adjustsize block size for a payload request: room for header and
// footer, rounded up to alignment, never below the minimum block.
func adjustsize(size int64) int64 {
	if size <= Dsize {
		return 2 * Dsize
	}
	return align(size + Dsize)
}

func max64(x, y int64) int64 {
	if x > y {
		return x
	}
	return y
}

func min64(x, y int64) int64 {
	if x < y {
		return x
	}
	return y
}

func panicerr(fmsg string, args ...interface{}) {
	panic(fmt.Errorf(fmsg, args...))
}
