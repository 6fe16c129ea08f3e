// Segregated free-list index: Listlimit doubly-linked buckets where
// bucket k holds free blocks of size [2^k, 2^(k+1)). Within a bucket
// the chain is kept in ascending size order, the head is the
// smallest element, PRED advances toward larger sizes.

package malloc

// sizeclass bucket index for a block of `size` bytes.
func sizeclass(size int64) int {
	list := 0
	for list < Listlimit-1 && size > 1 {
		size >>= 1
		list++
	}
	return list
}

// insertnode splice a free block into its bucket, keeping the chain
// in ascending size order.
func (m *Malloc) insertnode(bp uintptr, size int64) {
	list := sizeclass(size)

	var insert uintptr
	search := m.lists[list]
	for search != 0 && size > sizeof(hdrp(search)) {
		insert = search
		search = m.pred(search)
	}

	if search != 0 {
		if insert != 0 { // between insert (smaller) and search (larger)
			m.storelink(predp(bp), search)
			m.storelink(succp(search), bp)
			m.storelink(succp(bp), insert)
			m.storelink(predp(insert), bp)
		} else { // new smallest, becomes the bucket head
			m.storelink(predp(bp), search)
			m.storelink(succp(search), bp)
			m.storelink(succp(bp), 0)
			m.lists[list] = bp
		}
	} else {
		if insert != 0 { // new largest, becomes the bucket tail
			m.storelink(predp(bp), 0)
			m.storelink(succp(bp), insert)
			m.storelink(predp(insert), bp)
		} else { // bucket was empty
			m.storelink(predp(bp), 0)
			m.storelink(succp(bp), 0)
			m.lists[list] = bp
		}
	}
}

// deletenode unlink a free block from its bucket.
func (m *Malloc) deletenode(bp uintptr) {
	list := sizeclass(sizeof(hdrp(bp)))

	if pred := m.pred(bp); pred != 0 {
		if succ := m.succ(bp); succ != 0 {
			m.storelink(succp(pred), succ)
			m.storelink(predp(succ), pred)
		} else { // bp was the head
			m.storelink(succp(pred), 0)
			m.lists[list] = pred
		}
	} else {
		if succ := m.succ(bp); succ != 0 {
			m.storelink(predp(succ), 0)
		} else { // bp was the only node
			m.lists[list] = 0
		}
	}
}
