package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/hupe1980/flatvec/distance"
)

const (
	headerSize    = 32
	formatVersion = uint32(1)
)

var magic = [8]byte{'F', 'L', 'A', 'T', 'V', 'W', 'A', 'L'}

// Header describes a log file. Dimension and Metric are fixed when the log
// is created. BaseSeq is the sequence number preceding the first entry.
type Header struct {
	Version   uint32
	Dimension int
	Metric    distance.Metric
	BaseSeq   uint64
}

// Layout:
//
//	[0:8]   magic "FLATVWAL"
//	[8:12]  version
//	[12:16] dimension
//	[16]    metric
//	[17:20] reserved
//	[20:28] base sequence
//	[28:32] CRC32 of bytes [0:28]
func (h Header) marshal() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], formatVersion)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Dimension)) //nolint:gosec // validated positive
	buf[16] = byte(h.Metric)
	binary.LittleEndian.PutUint64(buf[20:28], h.BaseSeq)
	binary.LittleEndian.PutUint32(buf[28:32], crc32.ChecksumIEEE(buf[:28]))
	return buf
}

func readHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Header{}, fmt.Errorf("%w: short header", ErrCorruptHeader)
		}
		return Header{}, fmt.Errorf("%w: read header: %w", ErrStorageIO, err)
	}
	return parseHeader(buf)
}

func parseHeader(buf []byte) (Header, error) {
	if [8]byte(buf[0:8]) != magic {
		return Header{}, fmt.Errorf("%w: bad magic", ErrCorruptHeader)
	}
	if crc32.ChecksumIEEE(buf[:28]) != binary.LittleEndian.Uint32(buf[28:32]) {
		return Header{}, fmt.Errorf("%w: checksum mismatch", ErrCorruptHeader)
	}
	h := Header{
		Version:   binary.LittleEndian.Uint32(buf[8:12]),
		Dimension: int(binary.LittleEndian.Uint32(buf[12:16])),
		Metric:    distance.Metric(buf[16]),
		BaseSeq:   binary.LittleEndian.Uint64(buf[20:28]),
	}
	if h.Version != formatVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Dimension <= 0 {
		return Header{}, fmt.Errorf("%w: dimension %d", ErrCorruptHeader, h.Dimension)
	}
	if !h.Metric.Valid() {
		return Header{}, fmt.Errorf("%w: metric %d", ErrCorruptHeader, h.Metric)
	}
	return h, nil
}
