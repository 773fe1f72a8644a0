// Package msgcodec provides message content compression and decompression
// for bodies stored in the inbox list, so a 50KB message costs far less
// than 50KB of SQLite page space.
package msgcodec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compression identifies the algorithm, if any, applied to a stored body.
type Compression string

const (
	None Compression = "none"
	Zstd Compression = "zstd"
)

// Package-level encoder/decoder, safe for concurrent use.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("msgcodec: init zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("msgcodec: init zstd decoder: %v", err))
	}
}

// Compress compresses the given data using zstd and returns the compressed
// bytes along with the Compression tag to store alongside them.
func Compress(data []byte) ([]byte, Compression) {
	compressed := encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	return compressed, Zstd
}

// Decompress decompresses data according to the given compression tag.
// Returns an error for an unrecognized tag.
func Decompress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case Zstd:
		return decoder.DecodeAll(data, nil)
	case None:
		return data, nil
	default:
		return nil, fmt.Errorf("msgcodec: unsupported compression: %q", compression)
	}
}
