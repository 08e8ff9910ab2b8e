package audio

import (
	"encoding/binary"
	"math"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BytesPerFrame = 2
)

type Encoding string

const (
	EncodingPCMS16LE Encoding = "pcm_s16le"
	EncodingPCMF32LE Encoding = "pcm_f32le"
)

func (e Encoding) Valid() bool {
	return e == EncodingPCMS16LE || e == EncodingPCMF32LE
}

// FloatToPCM16 converts normalized float samples to 16-bit signed
// little-endian PCM. Values outside [-1, 1] saturate rather than wrap.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerFrame)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// F32LEToPCM16 decodes a little-endian float32 byte stream and converts it
// with FloatToPCM16. A trailing partial sample is ignored.
func F32LEToPCM16(raw []byte) []byte {
	n := len(raw) / 4
	out := make([]byte, n*BytesPerFrame)
	for i := 0; i < n; i++ {
		f := math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(f)))
	}
	return out
}

func floatToInt16(f float32) int16 {
	if math.IsNaN(float64(f)) {
		return 0
	}
	return clampPCM(int32(math.Round(float64(f) * 32767)))
}

func clampPCM(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
