package form

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestFileFromPath_Audio(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voice.mp3")
	data := []byte("ID3\x03\x00\x00\x00\x00\x00\x00fake")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	f, err := FileFromPath(path, DefaultMaxFileBytes)
	if err != nil {
		t.Fatalf("FileFromPath failed: %v", err)
	}
	if f.Name != "voice.mp3" {
		t.Errorf("Name: got %q", f.Name)
	}
	if f.MimeType != "audio/mpeg" {
		t.Errorf("MimeType: got %q", f.MimeType)
	}
	if f.Size != int64(len(data)) || !bytes.Equal(f.Data, data) {
		t.Errorf("content mismatch: size=%d", f.Size)
	}
	if !f.IsAudio() {
		t.Error("expected audio file")
	}
}

func TestFileFromPath_TooLargeNotRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.wav")
	if err := os.WriteFile(path, make([]byte, 64), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	f, err := FileFromPath(path, 32)
	if err != nil {
		t.Fatalf("FileFromPath failed: %v", err)
	}
	if f.Size != 64 {
		t.Errorf("Size: got %d, want 64", f.Size)
	}
	if f.Data != nil {
		t.Error("oversized file content should not be read")
	}
	if f.MimeType != "audio/wav" {
		t.Errorf("MimeType: got %q", f.MimeType)
	}
}

func TestFileFromPath_SniffsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes")
	if err := os.WriteFile(path, []byte("just some text"), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	f, err := FileFromPath(path, DefaultMaxFileBytes)
	if err != nil {
		t.Fatalf("FileFromPath failed: %v", err)
	}
	if f.MimeType != "text/plain" {
		t.Errorf("MimeType: got %q, want text/plain", f.MimeType)
	}
	if f.IsAudio() {
		t.Error("text file should not be audio")
	}
}

func TestFileFromPath_Errors(t *testing.T) {
	if _, err := FileFromPath("/nonexistent/voice.mp3", DefaultMaxFileBytes); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := FileFromPath(t.TempDir(), DefaultMaxFileBytes); err == nil {
		t.Error("expected error for directory")
	}
}

func TestFileFromReader(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		declared string
		body     []byte
		max      int64
		wantType string
		wantSize int64
		wantData bool
	}{
		{"declared type kept", "a.bin", "audio/ogg", []byte("OggS"), 100, "audio/ogg", 4, true},
		{"params stripped", "a.wav", "audio/wav; codecs=1", []byte("RIFF"), 100, "audio/wav", 4, true},
		{"octet-stream uses ext", "a.m4a", "application/octet-stream", []byte("xx"), 100, "audio/mp4", 2, true},
		{"empty type sniffed", "blob", "", []byte("plain words"), 100, "text/plain", 11, true},
		{"oversized drops data", "a.mp3", "audio/mpeg", make([]byte, 20), 10, "audio/mpeg", 11, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := FileFromReader(tt.fileName, tt.declared, bytes.NewReader(tt.body), tt.max)
			if err != nil {
				t.Fatalf("FileFromReader failed: %v", err)
			}
			if f.MimeType != tt.wantType {
				t.Errorf("MimeType: got %q, want %q", f.MimeType, tt.wantType)
			}
			if f.Size != tt.wantSize {
				t.Errorf("Size: got %d, want %d", f.Size, tt.wantSize)
			}
			if (f.Data != nil) != tt.wantData {
				t.Errorf("Data present: got %v, want %v", f.Data != nil, tt.wantData)
			}
		})
	}
}

func TestTextLength_CountsRunes(t *testing.T) {
	if TextLength("héllo") != 5 {
		t.Errorf("got %d, want 5", TextLength("héllo"))
	}
	if TextLength("你好") != 2 {
		t.Errorf("got %d, want 2", TextLength("你好"))
	}
}
