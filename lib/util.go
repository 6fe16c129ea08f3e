package lib

import "strings"
import "unsafe"

// Parsecsv convert a string of comma seperated values into list of
// string of values.
func Parsecsv(input string) []string {
	if input == "" {
		return nil
	}
	ss := strings.Split(input, ",")
	outs := make([]string, 0)
	for _, s := range ss {
		s = strings.Trim(s, " \t\r\n")
		if s == "" {
			continue
		}
		outs = append(outs, s)
	}
	return outs
}

// Memcpy copy memory block of length `ln` from `src` to `dst`. This
// function is useful if memory block is obtained outside golang runtime.
func Memcpy(dst, src unsafe.Pointer, ln int) int {
	dstsl := unsafe.Slice((*byte)(dst), ln)
	srcsl := unsafe.Slice((*byte)(src), ln)
	return copy(dstsl, srcsl)
}

// Fixbuffer will expand the buffer if its capacity is less than size and
// return the buffer of size length.
func Fixbuffer(buffer []byte, size int64) []byte {
	if buffer == nil || int64(cap(buffer)) < size {
		buffer = make([]byte, size)
	}
	return buffer[:size]
}

// AbsInt64 absolute value of int64 number. Except for -2^63, where
// returned value will be same as input.
func AbsInt64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
