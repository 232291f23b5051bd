package transform

import (
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressionThreshold gates zstd use: small control frames (typical
// get_script/send_script traffic) aren't worth the CPU, so only
// payloads above this size are compressed.
const compressionThreshold = 4096

// Package-level encoder/decoder, safe for concurrent use, mirroring
// the teacher's hub/msgcodec pattern.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("transform: init zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("transform: init zstd decoder: %v", err))
	}
}

// encodeFrameData prepares body for the frame.Data string field.
// Payloads over compressionThreshold are zstd-compressed and
// base64-encoded, since raw zstd output isn't valid UTF-8 and frame.Data
// is a JSON string; smaller payloads pass through unchanged.
func encodeFrameData(body []byte) (data string, compressed bool) {
	if len(body) <= compressionThreshold {
		return string(body), false
	}
	packed := zstdEncoder.EncodeAll(body, make([]byte, 0, len(body)/2))
	return base64.StdEncoding.EncodeToString(packed), true
}

// decodeFrameData reverses encodeFrameData.
func decodeFrameData(data string, compressed bool) ([]byte, error) {
	if !compressed {
		return []byte(data), nil
	}
	packed, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode compressed frame: %w", err)
	}
	return zstdDecoder.DecodeAll(packed, nil)
}
