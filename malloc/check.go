// Heap consistency checking, meant for tests and the "debug.check"
// setting. Not part of the allocation hot path.

package malloc

import "fmt"

// Validate walk the physical heap and the segregated index and
// cross-check every structural invariant:
//
//  * prologue and epilogue are in place and allocated,
//  * header and footer of every block agree on size and allocation,
//  * block sizes are aligned and not below the minimum,
//  * no two physically adjacent blocks are both free,
//  * the set of free blocks on the heap equals the set of nodes
//    reachable from the bucket heads,
//  * every free block sits in the bucket its size selects,
//  * bucket chains are doubly linked and ascend in size.
//
// Returns nil when the heap is consistent.
func (m *Malloc) Validate() error {
	if m.heap == nil {
		panicerr("heap already released")
	}
	lo := m.lo

	// prologue
	if sizeof(lo+uintptr(Wsize)) != Dsize || !allocof(lo+uintptr(Wsize)) {
		return fmt.Errorf("validate: bad prologue header %x", get(lo+uintptr(Wsize)))
	} else if sizeof(lo+uintptr(2*Wsize)) != Dsize || !allocof(lo+uintptr(2*Wsize)) {
		return fmt.Errorf("validate: bad prologue footer %x", get(lo+uintptr(2*Wsize)))
	}

	// physical walk, from the first real block up to the epilogue.
	freeblocks := map[uintptr]int64{}
	prevfree := false
	bp := lo + uintptr(4*Wsize)
	for sizeof(hdrp(bp)) > 0 {
		size := sizeof(hdrp(bp))
		if size < Minblocksize || (size%Alignment) != 0 {
			return fmt.Errorf("validate: block %x with size %v", bp-lo, size)
		} else if (bp % uintptr(Alignment)) != 0 {
			return fmt.Errorf("validate: unaligned block %x", bp-lo)
		} else if size != sizeof(ftrp(bp)) || allocof(hdrp(bp)) != allocof(ftrp(bp)) {
			fmsg := "validate: block %x header %x footer %x"
			return fmt.Errorf(fmsg, bp-lo, get(hdrp(bp)), get(ftrp(bp)))
		}
		if allocof(hdrp(bp)) == false {
			if prevfree {
				return fmt.Errorf("validate: adjacent free blocks at %x", bp-lo)
			}
			freeblocks[bp] = size
			prevfree = true
		} else {
			prevfree = false
		}
		bp = nextblkp(bp)
	}

	// epilogue
	if !allocof(hdrp(bp)) {
		return fmt.Errorf("validate: epilogue not allocated")
	} else if hdrp(bp) != m.heap.Hi()-uintptr(Wsize)+1 {
		return fmt.Errorf("validate: epilogue not at heap end")
	}

	// index walk
	for list := 0; list < Listlimit; list++ {
		prevsize := int64(0)
		for bp := m.lists[list]; bp != 0; bp = m.pred(bp) {
			size := sizeof(hdrp(bp))
			if allocof(hdrp(bp)) {
				return fmt.Errorf("validate: allocated block %x in bucket %v", bp-lo, list)
			} else if sizeclass(size) != list {
				fmsg := "validate: block %x of size %v in bucket %v"
				return fmt.Errorf(fmsg, bp-lo, size, list)
			} else if size < prevsize {
				fmsg := "validate: bucket %v not ascending at %x"
				return fmt.Errorf(fmsg, list, bp-lo)
			} else if pred := m.pred(bp); pred != 0 && m.succ(pred) != bp {
				return fmt.Errorf("validate: broken links at %x", bp-lo)
			}
			if _, ok := freeblocks[bp]; !ok {
				fmsg := "validate: indexed block %x not free on heap"
				return fmt.Errorf(fmsg, bp-lo)
			}
			delete(freeblocks, bp)
			prevsize = size
		}
	}
	if len(freeblocks) > 0 {
		return fmt.Errorf("validate: %v free blocks not indexed", len(freeblocks))
	}
	return nil
}

// countfree number of free blocks and their cumulative size, walking
// the index.
func (m *Malloc) countfree() (n, size int64) {
	for list := 0; list < Listlimit; list++ {
		for bp := m.lists[list]; bp != 0; bp = m.pred(bp) {
			n, size = n+1, size+sizeof(hdrp(bp))
		}
	}
	return n, size
}
