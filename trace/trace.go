// Package trace models allocation traces: a header naming the
// suggested heap size, the number of block ids, the operation count
// and a weight, followed by one line per allocator request,
//
//	a <id> <size>
//	r <id> <size>
//	f <id>
//
// the format used by malloc driver trace files (.rep).
package trace

import "fmt"
import "io"
import "strconv"

import parsec "github.com/prataprc/goparsec"
import "golang.org/x/exp/mmap"

import "github.com/bnclabs/gomalloc/lib"

// Trace commands.
const (
	OpAlloc   = byte('a')
	OpRealloc = byte('r')
	OpFree    = byte('f')
)

// Op is one allocator request in a trace.
type Op struct {
	Cmd  byte
	ID   int
	Size int64
}

// Trace is a parsed allocation trace.
type Trace struct {
	Heapsize int64 // suggested heap size in bytes
	Nids     int   // number of distinct block ids
	Nops     int   // number of requests
	Weight   int
	Ops      []Op
}

// Open read and parse a trace file through a read-only memory map.
func Open(file string) (*Trace, error) {
	r, err := mmap.Open(file)
	if err != nil {
		return nil, fmt.Errorf("trace: open %q: %v", file, err)
	}
	defer r.Close()

	data := lib.Fixbuffer(nil, int64(r.Len()))
	if _, err := r.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("trace: read %q: %v", file, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%v in %q", err, file)
	}
	return t, nil
}

// Parse a trace text.
func Parse(data []byte) (*Trace, error) {
	toint := func(node parsec.ParsecNode) int64 {
		value := node.(*parsec.Terminal).Value
		x, _ := strconv.ParseInt(value, 10, 64)
		return x
	}
	nodifyalloc := func(ns []parsec.ParsecNode) parsec.ParsecNode {
		return Op{Cmd: OpAlloc, ID: int(toint(ns[1])), Size: toint(ns[2])}
	}
	nodifyrealloc := func(ns []parsec.ParsecNode) parsec.ParsecNode {
		return Op{Cmd: OpRealloc, ID: int(toint(ns[1])), Size: toint(ns[2])}
	}
	nodifyfree := func(ns []parsec.ParsecNode) parsec.ParsecNode {
		return Op{Cmd: OpFree, ID: int(toint(ns[1]))}
	}
	nodifyone := func(ns []parsec.ParsecNode) parsec.ParsecNode {
		return ns[0]
	}

	yalloc := parsec.And(
		nodifyalloc, parsec.Token(`a`, "ALLOC"), parsec.Int(), parsec.Int())
	yrealloc := parsec.And(
		nodifyrealloc, parsec.Token(`r`, "REALLOC"), parsec.Int(), parsec.Int())
	yfree := parsec.And(
		nodifyfree, parsec.Token(`f`, "FREE"), parsec.Int())
	yop := parsec.OrdChoice(nodifyone, yalloc, yrealloc, yfree)
	yops := parsec.Kleene(nil, yop)
	yheader := parsec.And(
		nil, parsec.Int(), parsec.Int(), parsec.Int(), parsec.Int())
	ytrace := parsec.And(nil, yheader, yops)

	node, scanner := ytrace(parsec.NewScanner(data))
	if node == nil {
		return nil, fmt.Errorf("trace: invalid trace text")
	}
	if _, s := scanner.SkipWS(); !s.Endof() {
		return nil, fmt.Errorf("trace: trailing garbage at %v", s.GetCursor())
	}

	nodes := node.([]parsec.ParsecNode)
	header := nodes[0].([]parsec.ParsecNode)
	t := &Trace{
		Heapsize: toint(header[0]),
		Nids:     int(toint(header[1])),
		Nops:     int(toint(header[2])),
		Weight:   int(toint(header[3])),
	}
	for _, opnode := range nodes[1].([]parsec.ParsecNode) {
		t.Ops = append(t.Ops, opnode.(Op))
	}
	return t, t.validate()
}

func (t *Trace) validate() error {
	if t.Nops != len(t.Ops) {
		fmsg := "trace: header names %v ops, found %v"
		return fmt.Errorf(fmsg, t.Nops, len(t.Ops))
	}
	for i, op := range t.Ops {
		if op.ID < 0 || op.ID >= t.Nids {
			return fmt.Errorf("trace: op %v id %v out of range", i, op.ID)
		} else if op.Cmd != OpFree && op.Size <= 0 {
			return fmt.Errorf("trace: op %v size %v", i, op.Size)
		}
	}
	return nil
}
