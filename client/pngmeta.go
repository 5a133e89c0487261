package client

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// maxTextChunkBytes bounds a single tEXt chunk; no PNG the client reads is larger than a response body
const maxTextChunkBytes = maxResponseBytes

// GetPngMetadata collects the tEXt chunks of a PNG stream as keyword -> text.
// The service stores the generation parameters this way.
func GetPngMetadata(r io.Reader) (map[string]string, error) {
	header := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, pngSignature) {
		return nil, errors.New("not a valid PNG file")
	}

	txtChunks := make(map[string]string)
	for {
		var length uint32
		err := binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		chunkType := make([]byte, 4)
		if _, err = io.ReadFull(r, chunkType); err != nil {
			return nil, err
		}

		switch string(chunkType) {
		case "tEXt":
			if length > maxTextChunkBytes {
				return nil, fmt.Errorf("tEXt chunk of %d bytes exceeds %d", length, maxTextChunkBytes)
			}
			chunkData := make([]byte, length)
			if _, err = io.ReadFull(r, chunkData); err != nil {
				return nil, err
			}
			keywordEnd := bytes.IndexByte(chunkData, 0)
			if keywordEnd == -1 {
				return nil, errors.New("malformed tEXt chunk")
			}
			txtChunks[string(chunkData[:keywordEnd])] = string(chunkData[keywordEnd+1:])
		case "IEND":
			return txtChunks, nil
		default:
			if _, err = io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, err
			}
		}

		// Skip the CRC
		if _, err = io.CopyN(io.Discard, r, 4); err != nil {
			return nil, err
		}
	}

	return txtChunks, nil
}

// Metadata returns the text metadata embedded in the generated PNG
func (r *GenerateResponse) Metadata() (map[string]string, error) {
	return GetPngMetadata(bytes.NewReader(r.ImageData))
}
