package sound

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
)

// fallbackClip returns a short pre-encoded WAV chime used when tone
// synthesis or raw PCM output is unavailable. Rendered once per process.
var fallbackClip = sync.OnceValue(func() []byte {
	const (
		rate     = 22050
		freq     = 700.0
		duration = 0.2 // seconds
	)

	n := int(rate * duration)
	pcm := make([]int16, n)
	for i := range pcm {
		envelope := 1.0 - float64(i)/float64(n)
		v := math.Sin(2*math.Pi*freq*float64(i)/rate) * 0.5 * envelope
		pcm[i] = int16(v * math.MaxInt16)
	}

	return encodeWAV(pcm, rate)
})

// encodeWAV wraps 16-bit mono PCM in a RIFF/WAVE container
func encodeWAV(pcm []int16, rate int) []byte {
	var data bytes.Buffer
	for _, s := range pcm {
		binary.Write(&data, binary.LittleEndian, s)
	}

	var buf bytes.Buffer
	dataLen := uint32(data.Len())

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))      // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))     // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(data.Bytes())

	return buf.Bytes()
}
