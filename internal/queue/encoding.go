package queue

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Content encodings producers may set on a message.
const (
	EncodingIdentity = ""
	EncodingGzip     = "gzip"
	EncodingZstd     = "zstd"
)

// maxDecodedBody caps decompressed payloads so a hostile message cannot
// exhaust memory.
const maxDecodedBody = 8 << 20

var zstdDecoders = sync.Pool{
	New: func() any {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxDecodedBody))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
		}
		return d
	},
}

// DecodeBody undoes the producer's content encoding.
func DecodeBody(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case EncodingIdentity, "identity":
		return body, nil
	case EncodingGzip:
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip header: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, maxDecodedBody+1))
		if err != nil {
			return nil, fmt.Errorf("gzip decompression failed: %w", err)
		}
		if len(out) > maxDecodedBody {
			return nil, fmt.Errorf("gzip body exceeds %d bytes", maxDecodedBody)
		}
		return out, nil
	case EncodingZstd:
		decoder := zstdDecoders.Get().(*zstd.Decoder)
		defer zstdDecoders.Put(decoder)
		out, err := decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompression failed: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
