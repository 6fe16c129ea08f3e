// Package mem supplies the memory-system collaborator for the
// allocator: a single contiguous window of address space with a
// break pointer growing monotonically from the low address. The
// window is reserved upfront with an anonymous memory mapping and
// handed out in increments via Sbrk. Memory given out is never
// taken back until the whole window is Released.
//
// This package owns the raw region; inside the allocator, words on
// the heap are read and written only through malloc/heap.go.
package mem

import "errors"
import "fmt"
import "unsafe"

import "github.com/bnclabs/golog"
import sigar "github.com/cloudfoundry/gosigar"
import "golang.org/x/sys/unix"

// Maxheapsize default capacity of the heap window.
const Maxheapsize = int64(20 * 1024 * 1024)

// ErrorSbrkFailed returned by Sbrk when the window cannot grow any
// further.
var ErrorSbrkFailed = errors.New("mem.sbrkfailed")

// Memory is a contiguous heap window. Not thread safe.
type Memory struct {
	region   []byte
	lo       uintptr
	brk      int64
	capacity int64
}

// New reserve a heap window of `capacity` bytes. Capacity defaults
// to Maxheapsize and is clamped to the system's free memory.
func New(capacity int64) (*Memory, error) {
	if capacity <= 0 {
		capacity = Maxheapsize
	}
	if total, _, free := Systemmemory(); free > 0 && capacity > int64(free) {
		fmsg := "mem: capacity %v exceeds free system memory %v/%v\n"
		log.Warnf(fmsg, capacity, free, total)
		capacity = int64(free)
	}
	region, err := unix.Mmap(
		-1, 0, int(capacity),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mem: mmap %v bytes: %v", capacity, err)
	}
	m := &Memory{
		region:   region,
		lo:       uintptr(unsafe.Pointer(&region[0])),
		capacity: capacity,
	}
	return m, nil
}

// Sbrk extend the used window by `incr` bytes and return the address
// of the first new byte. The window stays contiguous across calls.
func (m *Memory) Sbrk(incr int64) (uintptr, error) {
	if m.region == nil {
		panicerr("mem: window released")
	}
	if incr < 0 || m.brk+incr > m.capacity {
		return 0, ErrorSbrkFailed
	}
	old := m.lo + uintptr(m.brk)
	m.brk += incr
	return old, nil
}

// Lo lowest address of the window.
func (m *Memory) Lo() uintptr {
	return m.lo
}

// Hi address of the last used byte in the window.
func (m *Memory) Hi() uintptr {
	return m.lo + uintptr(m.brk) - 1
}

// Size number of bytes handed out via Sbrk.
func (m *Memory) Size() int64 {
	return m.brk
}

// Capacity of the window.
func (m *Memory) Capacity() int64 {
	return m.capacity
}

// Reset rewind the break to the low address. Window content is
// retained.
func (m *Memory) Reset() {
	m.brk = 0
}

// Release the window back to the OS. Addresses handed out by Sbrk
// are invalid hereafter.
func (m *Memory) Release() {
	if m.region == nil {
		return
	}
	if err := unix.Munmap(m.region); err != nil {
		log.Errorf("mem: munmap: %v\n", err)
	}
	m.region, m.lo, m.brk, m.capacity = nil, 0, 0, 0
}

// Systemmemory total, used and free memory on this system.
func Systemmemory() (total, used, free uint64) {
	msys := sigar.Mem{}
	if err := msys.Get(); err != nil {
		log.Errorf("mem: sigar get: %v\n", err)
		return 0, 0, 0
	}
	return msys.Total, msys.Used, msys.Free
}

func panicerr(fmsg string, args ...interface{}) {
	panic(fmt.Errorf(fmsg, args...))
}
