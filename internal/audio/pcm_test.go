package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestFloatToPCM16_ClampsOutOfRange(t *testing.T) {
	out := FloatToPCM16([]float32{0, 1, -1, 2.5, -7, float32(math.NaN())})
	want := []int16{0, 32767, -32767, 32767, -32768, 0}
	if len(out) != len(want)*2 {
		t.Fatalf("expected %d bytes, got %d", len(want)*2, len(out))
	}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(out[i*2:]))
		if got != w {
			t.Fatalf("sample %d: expected %d, got %d", i, w, got)
		}
	}
}

func TestF32LEToPCM16_IgnoresPartialSample(t *testing.T) {
	raw := make([]byte, 4*2+3)
	binary.LittleEndian.PutUint32(raw[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(-3))
	out := F32LEToPCM16(raw)
	if len(out) != 4 {
		t.Fatalf("expected 2 samples, got %d bytes", len(out))
	}
	if got := int16(binary.LittleEndian.Uint16(out[0:])); got != 16384 {
		t.Fatalf("expected 16384, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(out[2:])); got != -32768 {
		t.Fatalf("expected clamp to -32768, got %d", got)
	}
}
