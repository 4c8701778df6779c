package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// writer accumulates a length-prefixed binary encoding with little-endian
// integers, generalizing network/peer.go's single big-endian length prefix
// to the richer field set a MessagePacket carries (spec.md §6).
type writer struct {
	buf bytes.Buffer
}

func (w *writer) byte(b byte) { w.buf.WriteByte(b) }

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) bytes32(b [32]byte) { w.buf.Write(b[:]) }

func (w *writer) bytesLP(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *writer) stringLP(s string) { w.bytesLP([]byte(s)) }

func (w *writer) bytesOut() []byte { return w.buf.Bytes() }

// reader consumes a buffer written by writer, returning an error instead of
// panicking on truncated input.
type reader struct {
	buf []byte
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) need(n int) error {
	if len(r.buf) < n {
		return fmt.Errorf("message: truncated encoding, need %d bytes, have %d", n, len(r.buf))
	}
	return nil
}

func (r *reader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[:4])
	r.buf = r.buf[4:]
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[:8])
	r.buf = r.buf[8:]
	return v, nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) bytes32() ([32]byte, error) {
	var out [32]byte
	if err := r.need(32); err != nil {
		return out, err
	}
	copy(out[:], r.buf[:32])
	r.buf = r.buf[32:]
	return out, nil
}

func (r *reader) bytesLP() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[:n])
	r.buf = r.buf[n:]
	return out, nil
}

func (r *reader) stringLP() (string, error) {
	b, err := r.bytesLP()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) remaining() int { return len(r.buf) }
