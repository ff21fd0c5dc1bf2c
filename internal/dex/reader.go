package dex

import "fmt"

// reader decodes LEB128 values. The first failure sticks in err and later
// reads return zero.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) uleb128() uint32 {
	if r.err != nil {
		return 0
	}
	var v uint32
	for shift := 0; shift < 35; shift += 7 {
		if r.off >= len(r.data) || r.off < 0 {
			r.err = fmt.Errorf("uleb128 at %#x: %w", r.off, ErrTruncated)
			return 0
		}
		b := r.data[r.off]
		r.off++
		v |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return v
		}
	}
	r.err = fmt.Errorf("uleb128 at %#x: too long", r.off)
	return 0
}
