// Driver to replay allocation traces, or a synthetic workload,
// against the allocator and report throughput and utilization.
package main

import "flag"
import "fmt"
import "math/rand"
import "os"
import "strings"
import "time"
import "unsafe"

import hm "github.com/dustin/go-humanize"
import mapset "github.com/deckarep/golang-set"
import "github.com/pkg/profile"
import s "github.com/bnclabs/gosettings"

import "github.com/bnclabs/gomalloc/api"
import "github.com/bnclabs/gomalloc/lib"
import "github.com/bnclabs/gomalloc/malloc"
import "github.com/bnclabs/gomalloc/trace"

// Team identity record published with every run report.
type Team struct {
	Name    string
	Members []string
	Emails  []string
}

var team = Team{
	Name:    "one team",
	Members: []string{"Harry Bovik"},
	Emails:  []string{"bovik@cs.cmu.edu"},
}

var options struct {
	capacity int64
	traces   string
	n        int
	seed     int
	check    bool
	verbose  bool
	cpuprof  bool
	memprof  bool
}

func argParse() []string {
	flag.Int64Var(&options.capacity, "capacity", 0,
		"heap window capacity in bytes, 0 for the default")
	flag.StringVar(&options.traces, "traces", "",
		"comma separated list of .rep trace files to replay")
	flag.IntVar(&options.n, "n", 100000,
		"number of operations for the synthetic workload")
	flag.IntVar(&options.seed, "seed", 42,
		"random seed for the synthetic workload")
	flag.BoolVar(&options.check, "check", false,
		"validate the full heap after every operation")
	flag.BoolVar(&options.verbose, "v", false,
		"log allocator internals")
	flag.BoolVar(&options.cpuprof, "cpuprof", false,
		"dump cpu-profile to current directory")
	flag.BoolVar(&options.memprof, "memprof", false,
		"dump mem-profile to current directory")
	flag.Parse()
	return lib.Parsecsv(options.traces)
}

func main() {
	files := argParse()
	if options.cpuprof {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	} else if options.memprof {
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	}
	if options.verbose {
		malloc.LogComponents("all")
	}

	fmt.Printf("team %q: %v <%v>\n\n",
		team.Name,
		strings.Join(team.Members, ", "), strings.Join(team.Emails, ", "))

	if len(files) == 0 {
		runsynthetic()
		return
	}
	for _, file := range files {
		runtrace(file)
	}
}

func newmallocer() *malloc.Malloc {
	setts := s.Settings{"debug.check": options.check}
	if options.capacity > 0 {
		setts["capacity"] = options.capacity
	}
	m, err := malloc.New(setts)
	if err != nil {
		fatalf("creating heap: %v", err)
	}
	return m
}

func runtrace(file string) {
	tr, err := trace.Open(file)
	if err != nil {
		fatalf("%v", err)
	}

	m := newmallocer()
	defer m.Release()

	ptrs := make([]unsafe.Pointer, tr.Nids)
	sizes := make([]int64, tr.Nids)
	live := mapset.NewThreadUnsafeSet()
	payload, peak := int64(0), int64(0)

	start := time.Now()
	for i, op := range tr.Ops {
		switch op.Cmd {
		case trace.OpAlloc:
			if live.Contains(op.ID) {
				fatalf("%v: op %v allocates live id %v", file, i, op.ID)
			}
			ptr := m.Malloc(op.Size)
			if ptr == nil {
				fatalf("%v: op %v out of memory", file, i)
			}
			fillblock(m, ptr, op.ID, op.Size)
			ptrs[op.ID], sizes[op.ID] = ptr, op.Size
			live.Add(op.ID)
			payload += op.Size

		case trace.OpRealloc:
			if live.Contains(op.ID) == false {
				fatalf("%v: op %v reallocates dead id %v", file, i, op.ID)
			}
			ptr := m.Realloc(ptrs[op.ID], op.Size)
			if ptr == nil {
				fatalf("%v: op %v out of memory", file, i)
			}
			verifyblock(m, ptr, op.ID, minint64(sizes[op.ID], op.Size))
			fillblock(m, ptr, op.ID, op.Size)
			payload += op.Size - sizes[op.ID]
			ptrs[op.ID], sizes[op.ID] = ptr, op.Size

		case trace.OpFree:
			if live.Contains(op.ID) == false {
				fatalf("%v: op %v frees dead id %v", file, i, op.ID)
			}
			verifyblock(m, ptrs[op.ID], op.ID, sizes[op.ID])
			m.Free(ptrs[op.ID])
			live.Remove(op.ID)
			payload -= sizes[op.ID]
		}
		if payload > peak {
			peak = payload
		}
	}
	elapsed := time.Since(start)

	report(file, len(tr.Ops), elapsed, peak, m)
	if options.verbose {
		m.Log()
	}
}

func runsynthetic() {
	m := newmallocer()
	defer m.Release()

	type block struct {
		ptr  unsafe.Pointer
		size int64
		id   int
	}

	rnd := rand.New(rand.NewSource(int64(options.seed)))
	live := make([]*block, 0, 1024)
	nextid := 0
	payload, peak := int64(0), int64(0)

	start := time.Now()
	for i := 0; i < options.n; i++ {
		switch x := rnd.Intn(10); {
		case x < 5 || len(live) == 0:
			size := int64(1 + rnd.Intn(4096))
			ptr := m.Malloc(size)
			if ptr == nil {
				fatalf("op %v out of memory", i)
			}
			fillblock(m, ptr, nextid, size)
			live = append(live, &block{ptr: ptr, size: size, id: nextid})
			nextid++
			payload += size

		case x < 8:
			off := rnd.Intn(len(live))
			blk := live[off]
			verifyblock(m, blk.ptr, blk.id, blk.size)
			m.Free(blk.ptr)
			live = append(live[:off], live[off+1:]...)
			payload -= blk.size

		default:
			off := rnd.Intn(len(live))
			blk := live[off]
			size := int64(1 + rnd.Intn(8192))
			ptr := m.Realloc(blk.ptr, size)
			if ptr == nil {
				fatalf("op %v out of memory", i)
			}
			verifyblock(m, ptr, blk.id, minint64(blk.size, size))
			fillblock(m, ptr, blk.id, size)
			payload += size - blk.size
			blk.ptr, blk.size = ptr, size
		}
		if payload > peak {
			peak = payload
		}
	}
	elapsed := time.Since(start)

	name := fmt.Sprintf("synthetic(seed=%v)", options.seed)
	report(name, options.n, elapsed, peak, m)
	if options.verbose {
		m.Log()
	}
}

var scratch []byte

func fillblock(m api.Mallocer, ptr unsafe.Pointer, id int, size int64) {
	scratch = lib.Fixbuffer(scratch, size)
	for i := range scratch {
		scratch[i] = byte(id)
	}
	copy(m.Payload(ptr)[:size], scratch)
}

func verifyblock(m api.Mallocer, ptr unsafe.Pointer, id int, size int64) {
	for i, b := range m.Payload(ptr)[:size] {
		if b != byte(id) {
			fatalf("payload for id %v corrupted at %v", id, i)
		}
	}
}

func report(
	name string, nops int, elapsed time.Duration, peak int64,
	m api.Mallocer) {

	_, heap, _, overhead := m.Info()
	kops := (float64(nops) / elapsed.Seconds()) / 1000.0
	util := float64(0)
	if heap > 0 {
		util = (float64(peak) / float64(heap)) * 100
	}
	fmt.Printf("%v: %v ops in %v, %.0f Kops/s\n",
		name, hm.Comma(int64(nops)), elapsed.Round(time.Microsecond), kops)
	fmt.Printf("%v: peak payload %v over %v heap, %.1f%% utilization "+
		"(overhead %v)\n\n",
		name, hm.Bytes(uint64(peak)), hm.Bytes(uint64(heap)), util,
		hm.Bytes(uint64(overhead)))
}

func minint64(x, y int64) int64 {
	if x < y {
		return x
	}
	return y
}

func fatalf(fmsg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "mdriver: "+fmsg+"\n", args...)
	os.Exit(1)
}
