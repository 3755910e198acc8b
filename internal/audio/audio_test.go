package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
)

func TestPCM16ClampsAndScales(t *testing.T) {
	pcm := PCM16([]float32{0, 1, -1, 2, -3, 0.5})
	want := []int16{0, 32767, -32767, 32767, -32767, 16384}
	if len(pcm) != 2*len(want) {
		t.Fatalf("len = %d", len(pcm))
	}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if got != w {
			t.Fatalf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestWriteWAVHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, []float32{0, 0.25, -0.25}, 24000); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}
	b := buf.Bytes()
	if len(b) != headerSize+6 {
		t.Fatalf("len = %d, want %d", len(b), headerSize+6)
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q", b[:40])
	}
	if got := binary.LittleEndian.Uint32(b[4:8]); got != 36+6 {
		t.Fatalf("chunk size = %d", got)
	}
	if got := binary.LittleEndian.Uint32(b[24:28]); got != 24000 {
		t.Fatalf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(b[28:32]); got != 48000 {
		t.Fatalf("byte rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(b[40:44]); got != 6 {
		t.Fatalf("data size = %d", got)
	}
}

func TestWriteWAVRejectsBadRate(t *testing.T) {
	if err := WriteWAV(io.Discard, nil, 0); err == nil {
		t.Fatalf("WriteWAV() expected error for zero sample rate")
	}
}

var namePattern = regexp.MustCompile(`^output_[0-9a-f]{32}\.wav$`)

func TestStoreSaveAndOpen(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "outputs"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	art, err := s.Save([]float32{0.1, 0.2}, 16000)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !namePattern.MatchString(art.Filename) {
		t.Fatalf("Filename = %q", art.Filename)
	}
	if art.Path != filepath.Join(s.Dir(), art.Filename) {
		t.Fatalf("Path = %q", art.Path)
	}

	f, err := s.Open(art.Filename)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	b, _ := io.ReadAll(f)
	if len(b) != headerSize+4 || string(b[:4]) != "RIFF" {
		t.Fatalf("stored file = %d bytes", len(b))
	}

	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, temp file left behind?", len(entries))
	}
}

func TestStoreOpenRejectsUnknownNames(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	for _, name := range []string{
		"output_00000000000000000000000000000000.wav",
		"../etc/passwd",
		"output_ABC.wav",
		"",
	} {
		if _, err := s.Open(name); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Open(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestStoreConcurrentSavesAreDistinct(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	const n = 32
	names := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			art, err := s.Save([]float32{0}, 24000)
			if err != nil {
				t.Errorf("Save() error = %v", err)
				return
			}
			names <- art.Filename
		}()
	}
	wg.Wait()
	close(names)

	seen := map[string]bool{}
	for name := range names {
		if seen[name] {
			t.Fatalf("duplicate filename %s", name)
		}
		seen[name] = true
	}
	if len(seen) != n {
		t.Fatalf("saved %d files, want %d", len(seen), n)
	}
}

func TestNewStoreRequiresDir(t *testing.T) {
	if _, err := NewStore("  "); err == nil {
		t.Fatalf("NewStore() expected error for empty dir")
	}
}
