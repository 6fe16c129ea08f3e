package api

import "unsafe"

// Mallocer interface for dynamic memory management over a single
// contiguous heap window.
type Mallocer interface {
	// Malloc allocate a block of `n` bytes from the heap. Returned
	// address is always 8-byte aligned, nil when `n` is zero or when
	// the memory system refuses to extend the heap.
	Malloc(n int64) unsafe.Pointer

	// Free a block obtained via Malloc or Realloc. Freeing a pointer
	// that was not returned by this heap, or freeing it twice, is
	// undefined behaviour.
	Free(ptr unsafe.Pointer)

	// Realloc resize the block to `n` bytes, growing in place when
	// the physically next block permits. Returns nil when `n` is
	// zero, without releasing the block.
	Realloc(ptr unsafe.Pointer, n int64) unsafe.Pointer

	// Chunklen return the length of the block usable by application.
	Chunklen(ptr unsafe.Pointer) int64

	// Payload usable region of an allocated block as a byte slice,
	// valid until the block is freed or reallocated.
	Payload(ptr unsafe.Pointer) []byte

	// Info of memory accounting for this heap: window capacity,
	// bytes acquired from the memory system, bytes held by allocated
	// blocks and book-keeping overhead.
	Info() (capacity, heap, alloc, overhead int64)

	// Utilization of free memory across size-class buckets.
	Utilization() ([]int, []float64)

	// Release the heap window and all its resources.
	Release()
}
