package discovery

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

const (
	streamVersion uint16 = 1

	// maxURLLen bounds every stored url. The reader refuses longer strings,
	// so the writer and Normalize refuse them too.
	maxURLLen = 4096

	// maxPrealloc caps the slice capacity derived from the record count.
	maxPrealloc = 1024
)

// ─────────────────────────────
// Primitive readers and writers
// ─────────────────────────────

// binWriter keeps the first error and ignores every later write.
type binWriter struct {
	w   *bufio.Writer
	err error
	buf [8]byte
}

func newBinWriter(w io.Writer) *binWriter { return &binWriter{w: bufio.NewWriter(w)} }

func (b *binWriter) write(p []byte) {
	if b.err != nil {
		return
	}
	_, b.err = b.w.Write(p)
}

func (b *binWriter) u8(v uint8) {
	b.buf[0] = v
	b.write(b.buf[:1])
}

func (b *binWriter) u16(v uint16) {
	binary.BigEndian.PutUint16(b.buf[:2], v)
	b.write(b.buf[:2])
}

func (b *binWriter) u32(v uint32) {
	binary.BigEndian.PutUint32(b.buf[:4], v)
	b.write(b.buf[:4])
}

func (b *binWriter) i64(v int64) {
	binary.BigEndian.PutUint64(b.buf[:8], uint64(v))
	b.write(b.buf[:8])
}

func (b *binWriter) boolean(v bool) {
	if v {
		b.u8(1)
		return
	}
	b.u8(0)
}

func (b *binWriter) str(s string) {
	if b.err == nil && len(s) > maxURLLen {
		b.err = fmt.Errorf("string length %d exceeds %d", len(s), maxURLLen)
		return
	}
	b.u32(uint32(len(s)))
	b.write([]byte(s))
}

// unix writes t in whole seconds, 0 for the zero time.
func (b *binWriter) unix(t time.Time) {
	if t.IsZero() {
		b.i64(0)
		return
	}
	b.i64(t.Unix())
}

func (b *binWriter) flush() error {
	if b.err != nil {
		return b.err
	}
	return b.w.Flush()
}

type binReader struct {
	r   *bufio.Reader
	err error
	buf [8]byte
}

func newBinReader(r io.Reader) *binReader { return &binReader{r: bufio.NewReader(r)} }

func (b *binReader) read(n int) []byte {
	if b.err != nil {
		return nil
	}
	if _, err := io.ReadFull(b.r, b.buf[:n]); err != nil {
		b.err = err
		return nil
	}
	return b.buf[:n]
}

func (b *binReader) u8() uint8 {
	if p := b.read(1); p != nil {
		return p[0]
	}
	return 0
}

func (b *binReader) u16() uint16 {
	if p := b.read(2); p != nil {
		return binary.BigEndian.Uint16(p)
	}
	return 0
}

func (b *binReader) u32() uint32 {
	if p := b.read(4); p != nil {
		return binary.BigEndian.Uint32(p)
	}
	return 0
}

func (b *binReader) i64() int64 {
	if p := b.read(8); p != nil {
		return int64(binary.BigEndian.Uint64(p))
	}
	return 0
}

func (b *binReader) boolean() bool { return b.u8() != 0 }

func (b *binReader) str() string {
	n := b.u32()
	if b.err != nil {
		return ""
	}
	if n > maxURLLen {
		b.err = fmt.Errorf("string length %d exceeds %d", n, maxURLLen)
		return ""
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(b.r, p); err != nil {
		b.err = err
		return ""
	}
	return string(p)
}

func (b *binReader) unix() time.Time {
	v := b.i64()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

// ─────────────────────────────
// Record codecs
// ─────────────────────────────

// recordCodec serializes the type-specific tail of a record. The common
// fields are handled by encodeRecord/decodeRecord.
type recordCodec struct {
	version uint16
	encode  func(w *binWriter, s *domain.Service)
	decode  func(r *binReader, version uint16, s *domain.Service)
}

func noExtra(*binWriter, *domain.Service) {}
func noExtraDecode(*binReader, uint16, *domain.Service) {}

var codecs = map[domain.ServiceType]recordCodec{
	domain.ServiceTypeNull:      {version: 1, encode: noExtra, decode: noExtraDecode},
	domain.ServiceTypeBootstrap: {version: 1, encode: noExtra, decode: noExtraDecode},
	domain.ServiceTypeGWC: {
		version: 1,
		encode:  func(w *binWriter, s *domain.Service) { w.unix(s.LastUpdated) },
		decode:  func(r *binReader, _ uint16, s *domain.Service) { s.LastUpdated = r.unix() },
	},
}

func encodeRecord(w *binWriter, s *domain.Service) error {
	c, ok := codecs[s.Type]
	if !ok {
		return fmt.Errorf("no codec for service type %v", s.Type)
	}
	w.u8(uint8(s.Type))
	w.u16(c.version)
	w.u32(uint32(s.ID))
	w.str(s.URL)
	w.u16(uint16(s.Network))
	w.u8(s.Rating)
	w.boolean(s.Banned)
	w.unix(s.LastQueried)
	w.u32(s.ZeroRevivals)
	w.unix(s.LastSuccess)
	w.u32(s.Failures)
	w.u32(s.Hosts)
	c.encode(w, s)
	return w.err
}

func decodeRecord(r *binReader) (domain.Service, error) {
	var s domain.Service
	s.Type = domain.ServiceType(r.u8())
	version := r.u16()
	if r.err != nil {
		return s, r.err
	}
	c, ok := codecs[s.Type]
	if !ok {
		return s, fmt.Errorf("unknown service type tag %d", uint8(s.Type))
	}
	if version == 0 || version > c.version {
		return s, fmt.Errorf("unsupported %v record version %d", s.Type, version)
	}

	s.ID = domain.ServiceID(r.u32())
	s.URL = r.str()
	s.Network = domain.NetworkType(r.u16())
	s.Rating = r.u8()
	s.Banned = r.boolean()
	s.LastQueried = r.unix()
	s.ZeroRevivals = r.u32()
	s.LastSuccess = r.unix()
	s.Failures = r.u32()
	s.Hosts = r.u32()
	c.decode(r, version, &s)
	return s, r.err
}

// ─────────────────────────────
// Stream
// ─────────────────────────────

// EncodeStream writes the versioned stream: version, count, records.
func EncodeStream(w io.Writer, services []domain.Service) error {
	bw := newBinWriter(w)
	bw.u16(streamVersion)
	bw.u32(uint32(len(services)))
	for i := range services {
		if err := encodeRecord(bw, &services[i]); err != nil {
			return fmt.Errorf("encode service %d: %w", services[i].ID, err)
		}
	}
	return bw.flush()
}

// DecodeStream reads a whole stream. It never returns a partial result:
// any error yields nil services and an error wrapping ErrCorrupt.
func DecodeStream(r io.Reader) ([]domain.Service, error) {
	br := newBinReader(r)
	version := br.u16()
	count := br.u32()
	if br.err != nil {
		return nil, corrupt("header", br.err)
	}
	if version == 0 || version > streamVersion {
		return nil, fmt.Errorf("%w: unsupported stream version %d", ErrCorrupt, version)
	}

	out := make([]domain.Service, 0, min(int(count), maxPrealloc))
	for i := uint32(0); i < count; i++ {
		s, err := decodeRecord(br)
		if err != nil {
			return nil, corrupt(fmt.Sprintf("record %d", i), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func corrupt(where string, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %s: %v", ErrCorrupt, where, err)
}
