package malloc

import s "github.com/bnclabs/gosettings"

import "github.com/bnclabs/gomalloc/mem"

// Wsize word size, also the size of a block header or footer.
const Wsize = int64(4)

// Dsize double word size, per-block overhead of header plus footer.
const Dsize = int64(8)

// Alignment addresses returned by Malloc and Realloc are aligned to
// this boundary, block sizes are multiples of it.
const Alignment = int64(8)

// Minblocksize smallest representable block: header, two free-list
// link words and footer.
const Minblocksize = int64(16)

// Initchunksize size of the seed free block acquired by Init.
const Initchunksize = int64(1 << 6)

// Chunksize growth quantum when the index has no fitting block.
const Chunksize = int64(1 << 12)

// Listlimit number of segregated size-class buckets.
const Listlimit = 20

// Reallocbuffer slack added to every realloc target size so that
// subsequent in-place growth of the same block is absorbed without
// copying.
const Reallocbuffer = int64(1 << 7)

// Maxcapacity largest heap window a Malloc instance can manage,
// block metadata and free-list links are encoded in 32-bit words.
const Maxcapacity = int64(1 << 31)

// splitplace requests of this size or larger are placed at the high
// end of a split block, keeping small fragments together at low
// addresses. Workload-tuned, like the other constants above.
const splitplace = int64(73)

// Defaultsettings for creating a Malloc instance.
//
// "capacity" (int64, default: mem.Maxheapsize)
//		Size of the heap window reserved from the memory system.
//
// "debug.check" (bool, default: false)
//		Validate the full heap after every public operation. Costly,
//		meant for tests and debugging.
func Defaultsettings() s.Settings {
	return s.Settings{
		"capacity":    mem.Maxheapsize,
		"debug.check": false,
	}
}
