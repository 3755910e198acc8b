// Package audio encodes synthesized waveforms as WAV and persists them as
// uniquely named artifacts.
package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const (
	numChannels   = 1
	bitsPerSample = 16
	formatPCM     = 1
	headerSize    = 44
)

var errSampleRate = errors.New("audio: sample rate must be positive")

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// PCM16 converts float samples to little-endian signed 16-bit PCM. Values
// outside [-1, 1] are clamped and NaN becomes silence.
func PCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := float64(s)
		switch {
		case math.IsNaN(v):
			v = 0
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
	return out
}

// WriteWAV writes samples as a mono PCM16 WAV stream.
func WriteWAV(out io.Writer, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return errSampleRate
	}
	pcm := PCM16(samples)
	blockAlign := numChannels * bitsPerSample / 8

	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(headerSize - 8 + len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   formatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}

	w := bufio.NewWriter(out)
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}
