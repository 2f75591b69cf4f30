package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Stored payload blobs carry a 5-byte magic, then a 4-byte LE uint32
// uncompressed size, then the body. "pdlz4" marks an lz4 block body and
// "pdraw" a body lz4 could not shrink.
var (
	lz4Magic = []byte("pdlz4")
	rawMagic = []byte("pdraw")
)

const blobHeaderSize = 9 // 5 magic + 4 size

func compressPayload(src []byte) ([]byte, error) {
	dst := make([]byte, blobHeaderSize+lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst[blobHeaderSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	magic := lz4Magic
	if n == 0 || n >= len(src) {
		// Incompressible input.
		magic = rawMagic
		n = copy(dst[blobHeaderSize:], src)
	}
	copy(dst, magic)
	binary.LittleEndian.PutUint32(dst[5:blobHeaderSize], uint32(len(src)))
	return dst[:blobHeaderSize+n], nil
}

func decompressPayload(data []byte) ([]byte, error) {
	if len(data) < blobHeaderSize {
		return nil, fmt.Errorf("payload blob too short (%d bytes)", len(data))
	}
	size := binary.LittleEndian.Uint32(data[5:blobHeaderSize])
	body := data[blobHeaderSize:]

	switch string(data[:5]) {
	case string(rawMagic):
		if int(size) != len(body) {
			return nil, fmt.Errorf("raw payload size mismatch: header %d, body %d", size, len(body))
		}
		return append([]byte(nil), body...), nil
	case string(lz4Magic):
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("payload blob: invalid header magic")
	}
}
