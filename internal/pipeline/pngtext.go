package pipeline

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"sort"
)

// ihdrEnd is the offset just past the signature and the IHDR chunk, which the encoder always writes first
const ihdrEnd = 8 + 4 + 4 + 13 + 4

// EncodePNG encodes img and stores meta as tEXt chunks right after the header.
// Keys are written in sorted order so equal inputs give equal bytes.
func EncodePNG(img image.Image, meta map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return buf.Bytes(), nil
	}

	encoded := buf.Bytes()
	if len(encoded) < ihdrEnd {
		return nil, fmt.Errorf("png encoder produced %d bytes", len(encoded))
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		if len(k) == 0 || len(k) > 79 {
			return nil, fmt.Errorf("invalid png text keyword %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out bytes.Buffer
	out.Write(encoded[:ihdrEnd])
	for _, k := range keys {
		writeTextChunk(&out, k, meta[k])
	}
	out.Write(encoded[ihdrEnd:])
	return out.Bytes(), nil
}

func writeTextChunk(w *bytes.Buffer, keyword, text string) {
	data := make([]byte, 0, len(keyword)+1+len(text))
	data = append(data, keyword...)
	data = append(data, 0)
	data = append(data, text...)

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	w.Write(length[:])

	crc := crc32.NewIEEE()
	crc.Write([]byte("tEXt"))
	crc.Write(data)
	w.WriteString("tEXt")
	w.Write(data)

	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	w.Write(sum[:])
}
