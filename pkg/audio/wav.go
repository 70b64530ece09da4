package audio

import "encoding/binary"

// EncodeWAV serialises float32 PCM as a 16-bit mono RIFF/WAVE payload suitable
// for inline upload to an analysis endpoint. Samples outside [-1, 1] are
// clamped.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	n := len(samples)
	dataSize := uint32(n * 2)
	buf := make([]byte, 0, 44+n*2)

	le := binary.LittleEndian
	u32 := func(v uint32) []byte {
		var b [4]byte
		le.PutUint32(b[:], v)
		return b[:]
	}
	u16 := func(v uint16) []byte {
		var b [2]byte
		le.PutUint16(b[:], v)
		return b[:]
	}

	buf = append(buf, "RIFF"...)
	buf = append(buf, u32(36+dataSize)...)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = append(buf, u32(16)...)                   // fmt chunk size
	buf = append(buf, u16(1)...)                    // PCM
	buf = append(buf, u16(1)...)                    // mono
	buf = append(buf, u32(uint32(sampleRate))...)   // sample rate
	buf = append(buf, u32(uint32(sampleRate*2))...) // byte rate
	buf = append(buf, u16(2)...)                    // block align
	buf = append(buf, u16(16)...)                   // bits per sample
	buf = append(buf, "data"...)
	buf = append(buf, u32(dataSize)...)

	for _, s := range samples {
		v := s * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		buf = append(buf, u16(uint16(int16(v)))...)
	}
	return buf
}
