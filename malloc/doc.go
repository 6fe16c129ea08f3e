// Package malloc supplies a dynamic memory allocator over a single
// contiguous, monotonically growing heap window, with a limited
// scope:
//
//  * Types and Functions exported by this package are not thread safe.
//  * Memory acquired from the memory system is never given back until
//    the whole heap is Released.
//  * Pointers handed to Free and Realloc are trusted; double-free,
//    out-of-bound writes and wild pointers are not detected.
//  * Addresses returned by Malloc and Realloc are always 8-byte
//    aligned.
//
// Every block on the heap, allocated or free, carries a one-word
// header and a one-word footer encoding the block size and an
// allocation bit, so that both physical neighbours are reachable in
// constant time. Free blocks are indexed by a segregated free-list:
// an array of size-class buckets where bucket k holds free blocks
// of size [2^k, 2^(k+1)), each bucket chained in ascending size
// order. Allocation is best-fit within the selected bucket, with
// splitting of oversized blocks and eager coalescing of freed
// neighbours. Realloc over-allocates by a fixed buffer so that
// repeated in-place growth is absorbed without copying.
package malloc
