// Package compress implements the optional payload codecs of WAL entries.
package compress

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression algorithm applied to a payload.
// The value is persisted in every WAL entry; keep it stable.
type Codec uint8

const (
	// None stores payloads as-is.
	None Codec = 0
	// LZ4 uses LZ4 block compression (fast).
	LZ4 Codec = 1
	// Zstd uses zstd (better ratio).
	Zstd Codec = 2
)

// ErrUnknownCodec is returned when decoding a payload with an unknown codec.
var ErrUnknownCodec = errors.New("unknown compression codec")

// ErrCorrupt is returned when a compressed payload cannot be decoded.
var ErrCorrupt = errors.New("corrupt compressed payload")

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", c)
	}
}

// Parse maps a configuration name to a Codec.
func Parse(name string) (Codec, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// minSize is the payload size below which compression is skipped.
const minSize = 64

// Encode compresses data with the requested codec.
//
// It returns the codec actually used: payloads that are tiny or that do not
// shrink are stored with None.
func Encode(c Codec, data []byte) ([]byte, Codec, error) {
	if c == None || len(data) < minSize {
		return data, None, nil
	}

	var out []byte
	switch c {
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, None, err
		}
		if n == 0 {
			return data, None, nil
		}
		out = buf[:n]
	case Zstd:
		enc := getZstdEncoder()
		out = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, None, fmt.Errorf("%w: %d", ErrUnknownCodec, c)
	}

	if len(out) >= len(data) {
		return data, None, nil
	}
	return out, c, nil
}

// Decode reverses Encode. rawSize is the uncompressed length.
func Decode(c Codec, data []byte, rawSize int) ([]byte, error) {
	switch c {
	case None:
		if len(data) != rawSize {
			return nil, ErrCorrupt
		}
		return data, nil
	case LZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if n != rawSize {
			return nil, ErrCorrupt
		}
		return out, nil
	case Zstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if len(out) != rawSize {
			return nil, ErrCorrupt
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, c)
	}
}
