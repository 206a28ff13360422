package imageinfo

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestProbePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 64, 32))); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	d, err := Probe(path)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if d.Width != 64 || d.Height != 32 {
		t.Errorf("dims = %dx%d, want 64x32", d.Width, d.Height)
	}
	if d.Channels != 1 {
		t.Errorf("channels = %d, want 1", d.Channels)
	}
}

func TestProbeGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	_ = os.WriteFile(path, []byte("not an image"), 0o644)
	if _, err := Probe(path); err == nil {
		t.Error("expected error for garbage bytes")
	}
}

func TestIsImage(t *testing.T) {
	for _, ext := range []string{".jpg", ".JPEG", ".png", ".bmp", ".tiff"} {
		if !IsImage(ext) {
			t.Errorf("IsImage(%q) = false", ext)
		}
	}
	for _, ext := range []string{".xml", ".txt", ".gif", ""} {
		if IsImage(ext) {
			t.Errorf("IsImage(%q) = true", ext)
		}
	}
}
