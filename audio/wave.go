package audio

import "encoding/binary"

// DecodeWAV converts the PCM payload of a mono 16-bit WAV file into samples
// in [-1, 1]. The header is assumed to be exactly WAVHeaderSize bytes and is
// not validated; a file in any other layout decodes to noise.
func DecodeWAV(buf []byte) []float32 {
	if len(buf) <= WAVHeaderSize {
		return []float32{}
	}
	pcm := buf[WAVHeaderSize:]
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float32(s) / 32767
		if v < -1 {
			v = -1
		}
		samples[i] = v
	}
	return samples
}
