package malloc

import "fmt"
import "math/rand"
import "testing"
import "unsafe"

import s "github.com/bnclabs/gosettings"

var _ = fmt.Sprintf("dummy")

func testsettings() s.Settings {
	return s.Settings{"capacity": int64(4 * 1024 * 1024), "debug.check": true}
}

func TestNewmalloc(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	capacity, heap, alloc, _ := m.Info()
	if capacity != 4*1024*1024 {
		t.Errorf("expected %v, got %v", 4*1024*1024, capacity)
	} else if heap != 4*Wsize+Initchunksize {
		t.Errorf("expected %v, got %v", 4*Wsize+Initchunksize, heap)
	} else if alloc != 0 {
		t.Errorf("expected %v, got %v", 0, alloc)
	}
	if n, size := m.countfree(); n != 1 {
		t.Errorf("expected %v, got %v", 1, n)
	} else if size != Initchunksize {
		t.Errorf("expected %v, got %v", Initchunksize, size)
	}
	if bp := m.lists[sizeclass(Initchunksize)]; bp == 0 {
		t.Errorf("seed block not indexed")
	}
	if err := m.Validate(); err != nil {
		t.Errorf("unexpected %v", err)
	}
	m.Release()

	// panic cases
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic")
			}
		}()
		m.Malloc(10)
	}()
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic")
			}
		}()
		New(s.Settings{"capacity": Maxcapacity + 1, "debug.check": false})
	}()
}

func TestSizeclass(t *testing.T) {
	ref := map[int64]int{
		1: 0, 2: 1, 16: 4, 24: 4, 40: 5, 48: 5, 64: 6, 127: 6, 128: 7,
		4096: 12, 1 << 25: Listlimit - 1,
	}
	for size, list := range ref {
		if x := sizeclass(size); x != list {
			t.Errorf("sizeclass(%v) expected %v, got %v", size, list, x)
		}
	}
}

func TestMallocBasic(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	if ptr := m.Malloc(0); ptr != nil {
		t.Errorf("expected %v, got %v", nil, ptr)
	}

	ptr := m.Malloc(1)
	if ptr == nil {
		t.Fatalf("unexpected allocation failure")
	} else if (uintptr(ptr) % uintptr(Alignment)) != 0 {
		t.Errorf("pointer %p not %v-byte aligned", ptr, Alignment)
	} else if x := sizeof(hdrp(uintptr(ptr))); x != Minblocksize {
		t.Errorf("expected %v, got %v", Minblocksize, x)
	} else if x := m.Chunklen(ptr); x != Minblocksize-Dsize {
		t.Errorf("expected %v, got %v", Minblocksize-Dsize, x)
	}

	m.Free(ptr)
	if again := m.Malloc(1); again != ptr {
		t.Errorf("expected %p, got %p", ptr, again)
	}
}

func TestMallocAdjust(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	for _, size := range []int64{1, 8, 9, 24, 100, 1000, 4095, 10000} {
		ptr := m.Malloc(size)
		if ptr == nil {
			t.Fatalf("unexpected allocation failure for %v", size)
		}
		asize := adjustsize(size)
		if x := sizeof(hdrp(uintptr(ptr))); x < asize {
			t.Errorf("size %v expected at least %v, got %v", size, asize, x)
		} else if (uintptr(ptr) % uintptr(Alignment)) != 0 {
			t.Errorf("pointer %p not aligned", ptr)
		}
	}
}

func TestCoalesceNeighbours(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	a, b := m.Malloc(64), m.Malloc(64)
	m.Free(a)
	m.Free(b)

	// a and b merge with each other and with the trailing remainder.
	n, size := m.countfree()
	if n != 1 {
		t.Errorf("expected %v, got %v", 1, n)
	} else if size < 128 {
		t.Errorf("expected at least %v, got %v", 128, size)
	}
	if bp := m.lists[sizeclass(size)]; bp == 0 {
		t.Errorf("coalesced block not in its bucket")
	} else if x := sizeof(hdrp(bp)); x != size {
		t.Errorf("expected %v, got %v", size, x)
	}
}

func TestNoCoalesceAcross(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	a, b, c := m.Malloc(32), m.Malloc(32), m.Malloc(32)
	m.Free(a)
	m.Free(c)

	if allocof(hdrp(uintptr(b))) == false {
		t.Errorf("block b should stay allocated")
	}
	if x := sizeof(hdrp(uintptr(a))); x != 40 {
		t.Errorf("expected %v, got %v", 40, x)
	}
	if bp := m.lists[sizeclass(40)]; bp != uintptr(a) {
		t.Errorf("expected %v, got %v", uintptr(a)-m.lo, bp-m.lo)
	}
	if n, _ := m.countfree(); n != 2 {
		t.Errorf("expected %v, got %v", 2, n)
	}
}

func TestPlaceHighEnd(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	// 100 bytes adjusts to 112, above the split threshold, so the
	// payload goes to the high end of the carved block.
	ptr := m.Malloc(100)
	bp := uintptr(ptr)
	if sizeof(hdrp(bp)) != 112 {
		t.Errorf("expected %v, got %v", 112, sizeof(hdrp(bp)))
	}
	low := prevblkp(bp)
	if allocof(hdrp(low)) {
		t.Errorf("expected free remainder below the payload")
	} else if low >= bp {
		t.Errorf("remainder %v should sit below payload %v", low-m.lo, bp-m.lo)
	}

	// 32 bytes adjusts to 40, below the threshold, payload at the
	// low end of the remainder.
	ptr2 := m.Malloc(32)
	if uintptr(ptr2) != low {
		t.Errorf("expected %v, got %v", low-m.lo, uintptr(ptr2)-m.lo)
	}
}

func TestMallocTillFailure(t *testing.T) {
	setts := s.Settings{"capacity": int64(64 * 1024), "debug.check": false}
	m, err := New(setts)
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	ptrs := make([]unsafe.Pointer, 0)
	for {
		ptr := m.Malloc(80)
		if ptr == nil {
			break
		}
		ptrs = append(ptrs, ptr)
	}
	if len(ptrs) < 100 {
		t.Errorf("expected several hundred allocations, got %v", len(ptrs))
	}
	if err := m.Validate(); err != nil {
		t.Errorf("unexpected %v", err)
	}
	// frees still work after the memory system refused to extend.
	for _, ptr := range ptrs {
		m.Free(ptr)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("unexpected %v", err)
	}
	if x := m.Allocated(); x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	}
	if ptr := m.Malloc(80); ptr == nil {
		t.Errorf("heap should be usable again after freeing")
	}
}

func TestPayloadIntegrity(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	ptr := m.Malloc(200)
	payload := m.Payload(ptr)
	if int64(len(payload)) != m.Chunklen(ptr) {
		t.Errorf("expected %v, got %v", m.Chunklen(ptr), len(payload))
	}
	for i := range payload {
		payload[i] = 0xA5
	}
	// unrelated churn should not touch the payload.
	for i := 0; i < 100; i++ {
		p := m.Malloc(int64(1 + i*7))
		if i%2 == 0 {
			m.Free(p)
		}
	}
	for i, b := range m.Payload(ptr) {
		if b != 0xA5 {
			t.Fatalf("payload corrupted at %v: %x", i, b)
		}
	}
}

func TestReallocInPlace(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	// payload placed at the high end, next block is the epilogue.
	ptr := m.Malloc(100)
	payload := m.Payload(ptr)[:100]
	for i := range payload {
		payload[i] = byte(i)
	}

	qtr := m.Realloc(ptr, 200)
	if qtr != ptr {
		t.Errorf("expected in-place growth, got %p != %p", qtr, ptr)
	}
	if x, y := sizeof(hdrp(uintptr(qtr))), adjustsize(200)+Reallocbuffer; x < y {
		t.Errorf("expected at least %v, got %v", y, x)
	}
	for i, b := range m.Payload(qtr)[:100] {
		if b != byte(i) {
			t.Fatalf("payload corrupted at %v: %x", i, b)
		}
	}
}

func TestReallocBuffered(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	// 400 bytes leaves enough slack for a 100 byte target plus the
	// realloc buffer, the block is returned unchanged.
	ptr := m.Malloc(400)
	size := sizeof(hdrp(uintptr(ptr)))
	qtr := m.Realloc(ptr, 100)
	if qtr != ptr {
		t.Errorf("expected %p, got %p", ptr, qtr)
	} else if x := sizeof(hdrp(uintptr(qtr))); x != size {
		t.Errorf("expected %v, got %v", size, x)
	}
	m.Free(qtr)
}

func TestReallocOutOfPlace(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	a := m.Malloc(200) // high end of the heap
	b := m.Malloc(200) // high end of the remainder, next block is a
	if nextblkp(uintptr(b)) != uintptr(a) {
		t.Fatalf("expected a to fence b")
	}
	payload := m.Payload(b)[:200]
	for i := range payload {
		payload[i] = byte(i * 3)
	}

	qtr := m.Realloc(b, 2000)
	if qtr == b {
		t.Errorf("expected out-of-place reallocation")
	}
	for i, x := range m.Payload(qtr)[:200] {
		if x != byte(i*3) {
			t.Fatalf("payload corrupted at %v: %x", i, x)
		}
	}
	// b is released and reusable.
	if allocof(hdrp(uintptr(b))) {
		t.Errorf("expected b to be free")
	}
	m.Free(qtr)
	if n, _ := m.countfree(); n != 1 {
		t.Errorf("expected %v, got %v", 1, n)
	}
}

func TestReallocZero(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	ptr := m.Malloc(100)
	if qtr := m.Realloc(ptr, 0); qtr != nil {
		t.Errorf("expected %v, got %v", nil, qtr)
	}
	// the block is not released.
	if allocof(hdrp(uintptr(ptr))) == false {
		t.Errorf("expected block to stay allocated")
	}
	m.Free(ptr)
}

func TestReallocNil(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	ptr := m.Realloc(nil, 64)
	if ptr == nil {
		t.Errorf("expected an allocation")
	} else if x := sizeof(hdrp(uintptr(ptr))); x < adjustsize(64) {
		t.Errorf("expected at least %v, got %v", adjustsize(64), x)
	}
	m.Free(ptr)
}

func TestFindfit(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	ptr := m.Malloc(100)
	m.Free(ptr)
	n, size := m.countfree()
	if n != 1 {
		t.Fatalf("expected %v, got %v", 1, n)
	}
	bp := m.lists[sizeclass(size)]

	if x := m.findfit(adjustsize(100)); x != bp {
		t.Errorf("expected %v, got %v", bp-m.lo, x-m.lo)
	}
	// nothing large enough on the index.
	if x := m.findfit(size + Alignment); x != 0 {
		t.Errorf("expected %v, got %v", 0, x-m.lo)
	}
}

func TestInitReuse(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	for i := 0; i < 1000; i++ {
		if m.Malloc(int64(1+i)) == nil {
			t.Fatalf("unexpected allocation failure")
		}
	}
	if err := m.Init(); err != nil {
		t.Fatalf("unexpected %v", err)
	}
	_, heap, alloc, _ := m.Info()
	if heap != 4*Wsize+Initchunksize {
		t.Errorf("expected %v, got %v", 4*Wsize+Initchunksize, heap)
	} else if alloc != 0 {
		t.Errorf("expected %v, got %v", 0, alloc)
	}
	if m.Malloc(1) == nil {
		t.Errorf("unexpected allocation failure")
	}
}

func TestChurn(t *testing.T) {
	m, err := New(s.Settings{
		"capacity": int64(32 * 1024 * 1024), "debug.check": true,
	})
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	type chunk struct {
		ptr     unsafe.Pointer
		size    int64
		pattern byte
	}

	rnd := rand.New(rand.NewSource(42))
	live := make([]*chunk, 0, 1024)

	fill := func(ck *chunk) {
		payload := m.Payload(ck.ptr)[:ck.size]
		for i := range payload {
			payload[i] = ck.pattern
		}
	}
	verify := func(ck *chunk, upto int64) {
		for i, b := range m.Payload(ck.ptr)[:upto] {
			if b != ck.pattern {
				t.Fatalf("chunk %p corrupted at %v: %x", ck.ptr, i, b)
			}
		}
	}

	for i := 0; i < 5000; i++ {
		switch x := rnd.Intn(10); {
		case x < 5 || len(live) == 0: // malloc
			size := int64(1 + rnd.Intn(2048))
			ptr := m.Malloc(size)
			if ptr == nil {
				t.Fatalf("unexpected allocation failure at op %v", i)
			} else if (uintptr(ptr) % uintptr(Alignment)) != 0 {
				t.Fatalf("pointer %p not aligned", ptr)
			}
			ck := &chunk{ptr: ptr, size: size, pattern: byte(rnd.Intn(256))}
			fill(ck)
			live = append(live, ck)

		case x < 8: // free
			off := rnd.Intn(len(live))
			ck := live[off]
			verify(ck, ck.size)
			m.Free(ck.ptr)
			live = append(live[:off], live[off+1:]...)

		default: // realloc
			off := rnd.Intn(len(live))
			ck := live[off]
			size := int64(1 + rnd.Intn(4096))
			ptr := m.Realloc(ck.ptr, size)
			if ptr == nil {
				t.Fatalf("unexpected realloc failure at op %v", i)
			}
			ck.ptr = ptr
			verify(ck, min64(ck.size, size))
			ck.size = size
			fill(ck)
		}
	}

	for _, ck := range live {
		verify(ck, ck.size)
		m.Free(ck.ptr)
	}
	if x := m.Allocated(); x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	}
	// coalescing completeness: one free block spanning the heap.
	_, heap, _, _ := m.Info()
	if n, size := m.countfree(); n != 1 {
		t.Errorf("expected %v, got %v", 1, n)
	} else if size != heap-4*Wsize {
		t.Errorf("expected %v, got %v", heap-4*Wsize, size)
	}
}

func TestUtilization(t *testing.T) {
	m, err := New(testsettings())
	if err != nil {
		t.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	for i := 0; i < 10; i++ {
		m.Malloc(1024)
	}
	sizes, zs := m.Utilization()
	if len(sizes) != len(zs) {
		t.Errorf("expected %v, got %v", len(sizes), len(zs))
	}
	total := float64(0)
	for _, z := range zs {
		total += z
	}
	if total < 99.99 || total > 100.01 {
		t.Errorf("expected ~100, got %v", total)
	}
}

func BenchmarkMalloc(b *testing.B) {
	m, err := New(s.Settings{
		"capacity": int64(1024 * 1024 * 1024), "debug.check": false,
	})
	if err != nil {
		b.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if m.Malloc(96) == nil {
			m.Init() // heap exhausted, start over
		}
	}
}

func BenchmarkMallocFree(b *testing.B) {
	m, err := New(s.Settings{
		"capacity": int64(64 * 1024 * 1024), "debug.check": false,
	})
	if err != nil {
		b.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ptr := m.Malloc(96)
		m.Free(ptr)
	}
}

func BenchmarkRealloc(b *testing.B) {
	m, err := New(s.Settings{
		"capacity": int64(64 * 1024 * 1024), "debug.check": false,
	})
	if err != nil {
		b.Fatalf("unexpected %v", err)
	}
	defer m.Release()

	ptr := m.Malloc(8)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ptr = m.Realloc(ptr, int64(8+(i%64)))
	}
}
