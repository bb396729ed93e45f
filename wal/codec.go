package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/hupe1980/flatvec/internal/compress"
	"github.com/hupe1980/flatvec/metadata"
)

// Entry frame:
//
//	[0:4]   CRC32 of bytes [4:] including payload
//	[4:12]  sequence number
//	[12]    op
//	[13]    payload codec
//	[14:22] record id
//	[22:26] payload length
//	[26:]   payload
//
// Insert payloads hold the record (text, vector, metadata). Compressed
// payloads are prefixed with the uvarint raw length.
const frameSize = 26

func appendEntry(buf []byte, seq uint64, e *Entry, dim int, codec Compression, maxSize int) ([]byte, error) {
	var (
		payload []byte
		used    = compress.None
	)
	switch e.Op {
	case OpInsert:
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("%w: vector has %d dimensions, log has %d", ErrInvalidEntry, len(e.Vector), dim)
		}
		raw, err := appendRecord(nil, e)
		if err != nil {
			return nil, err
		}
		// Replay bounds the decoded size too, so the raw record must fit.
		if len(raw) > maxSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(raw))
		}
		enc, c, err := compress.Encode(codec, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: compress: %w", ErrInvalidEntry, err)
		}
		payload = raw
		if c != compress.None {
			framed := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen64+len(enc)), uint64(len(raw)))
			framed = append(framed, enc...)
			if len(framed) < len(raw) {
				payload, used = framed, c
			}
		}
	case OpDelete:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEntry, e.Op)
	}
	if len(payload) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(payload))
	}

	start := len(buf)
	buf = append(buf, make([]byte, frameSize)...)
	frame := buf[start:]
	binary.LittleEndian.PutUint64(frame[4:12], seq)
	frame[12] = byte(e.Op)
	frame[13] = byte(used)
	binary.LittleEndian.PutUint64(frame[14:22], uint64(e.ID)) //nolint:gosec // two's complement round trip
	binary.LittleEndian.PutUint32(frame[22:26], uint32(len(payload)))
	buf = append(buf, payload...)
	binary.LittleEndian.PutUint32(buf[start:start+4], crc32.ChecksumIEEE(buf[start+4:]))
	return buf, nil
}

func appendRecord(buf []byte, e *Entry) ([]byte, error) {
	buf = binary.AppendUvarint(buf, uint64(len(e.Text)))
	buf = append(buf, e.Text...)
	buf = binary.AppendUvarint(buf, uint64(len(e.Vector)))
	for _, v := range e.Vector {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	buf, err := e.Metadata.AppendBinary(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %w", ErrInvalidEntry, err)
	}
	return buf, nil
}

func parseRecord(data []byte, dim int, e *Entry) error {
	textLen, n := binary.Uvarint(data)
	if n <= 0 || textLen > uint64(len(data)-n) {
		return errors.New("bad text length")
	}
	data = data[n:]
	e.Text = string(data[:textLen])
	data = data[textLen:]

	vecLen, n := binary.Uvarint(data)
	if n <= 0 {
		return errors.New("bad vector length")
	}
	if vecLen != uint64(dim) {
		return fmt.Errorf("vector has %d dimensions, log has %d", vecLen, dim)
	}
	data = data[n:]
	if len(data) < 8*dim {
		return errors.New("short vector")
	}
	e.Vector = make([]float64, dim)
	for i := range e.Vector {
		e.Vector[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	data = data[8*dim:]

	var doc metadata.Document
	if err := doc.UnmarshalBinary(data); err != nil {
		return err
	}
	e.Metadata = doc
	return nil
}

// decoder reads entries from a log stream positioned after the header.
type decoder struct {
	r       *bufio.Reader
	hdr     Header
	maxSize int

	// offset is the stream offset of the next entry, relative to the header end.
	offset  int64
	lastSeq uint64
	frame   [frameSize]byte
}

func newDecoder(r io.Reader, hdr Header, maxSize int) *decoder {
	return &decoder{
		r:       bufio.NewReaderSize(r, 64<<10),
		hdr:     hdr,
		maxSize: maxSize,
		lastSeq: hdr.BaseSeq,
	}
}

// next returns io.EOF at a clean end, an error wrapping ErrCorruptEntry for
// an invalid or torn entry, and any other error for read failures. After a
// non-EOF error offset still points at the start of the offending entry.
func (d *decoder) next() (*Entry, error) {
	if _, err := io.ReadFull(d.r, d.frame[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: torn entry header", ErrCorruptEntry)
		}
		return nil, err
	}

	f := d.frame[:]
	size := binary.LittleEndian.Uint32(f[22:26])
	if int64(size) > int64(d.maxSize) {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrCorruptEntry, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: torn payload", ErrCorruptEntry)
		}
		return nil, err
	}

	crc := crc32.NewIEEE()
	_, _ = crc.Write(f[4:])
	_, _ = crc.Write(payload)
	if crc.Sum32() != binary.LittleEndian.Uint32(f[0:4]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptEntry)
	}

	e := &Entry{
		Seq: binary.LittleEndian.Uint64(f[4:12]),
		Op:  Op(f[12]),
		ID:  int64(binary.LittleEndian.Uint64(f[14:22])), //nolint:gosec // two's complement round trip
	}
	if e.Seq != d.lastSeq+1 {
		return nil, fmt.Errorf("%w: sequence %d after %d", ErrCorruptEntry, e.Seq, d.lastSeq)
	}
	codec := compress.Codec(f[13])

	switch e.Op {
	case OpInsert:
		raw := payload
		if codec != compress.None {
			rawLen, n := binary.Uvarint(payload)
			if n <= 0 || rawLen > uint64(d.maxSize) {
				return nil, fmt.Errorf("%w: bad raw length", ErrCorruptEntry)
			}
			var err error
			if raw, err = compress.Decode(codec, payload[n:], int(rawLen)); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
			}
		}
		if err := parseRecord(raw, d.hdr.Dimension, e); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrCorruptEntry, e.ID, err)
		}
	case OpDelete:
		if size != 0 {
			return nil, fmt.Errorf("%w: delete with payload", ErrCorruptEntry)
		}
	default:
		return nil, fmt.Errorf("%w: unknown op %d", ErrCorruptEntry, f[12])
	}

	d.offset += frameSize + int64(size)
	d.lastSeq = e.Seq
	return e, nil
}
