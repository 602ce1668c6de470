package renderer

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

func encodeTestImage(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			img.Set(x, y, color.RGBA{r, g, 128, 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestRenderer_Render_TwoWidths(t *testing.T) {
	root := t.TempDir()
	r := New(root, zaptest.NewLogger(t))

	src := encodeTestImage(t, 1200, 900)

	variants, err := r.Render(src, "summer photo.jpg", []int{1024, 800})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if len(variants) != 2 {
		t.Fatalf("Expected 2 variants, got %d", len(variants))
	}

	expected := map[string][2]int{
		"1024": {1024, 768},
		"800":  {800, 600},
	}
	for _, v := range variants {
		dims, ok := expected[v.Resolution]
		if !ok {
			t.Fatalf("Unexpected resolution label %q", v.Resolution)
		}
		if v.Width != dims[0] || v.Height != dims[1] {
			t.Errorf("Resolution %s: expected %dx%d, got %dx%d", v.Resolution, dims[0], dims[1], v.Width, v.Height)
		}
		if len(v.ContentHash) != 32 {
			t.Errorf("Expected 32-char content hash, got %q", v.ContentHash)
		}
		wantPath := filepath.Join("summer-photo-jpg", v.Resolution, v.ContentHash+".jpg")
		if v.Path != wantPath {
			t.Errorf("Expected path %q, got %q", wantPath, v.Path)
		}

		data, err := os.ReadFile(filepath.Join(root, v.Path))
		if err != nil {
			t.Fatalf("Variant file missing: %v", err)
		}
		if int64(len(data)) != v.Size {
			t.Errorf("Expected size %d, got %d", v.Size, len(data))
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Failed to decode variant: %v", err)
		}
		if img.Bounds().Dx() != v.Width || img.Bounds().Dy() != v.Height {
			t.Errorf("File dimensions %dx%d do not match record %dx%d",
				img.Bounds().Dx(), img.Bounds().Dy(), v.Width, v.Height)
		}
	}
}

func TestRenderer_Render_NoUpscale(t *testing.T) {
	root := t.TempDir()
	r := New(root, zaptest.NewLogger(t))

	src := encodeTestImage(t, 500, 400)

	variants, err := r.Render(src, "small", []int{1024})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	v := variants[0]
	if v.Resolution != "1024" {
		t.Errorf("Expected label 1024, got %q", v.Resolution)
	}
	if v.Width != 500 || v.Height != 400 {
		t.Errorf("Expected original 500x400 kept, got %dx%d", v.Width, v.Height)
	}
}

func TestRenderer_Render_ContentHashIdempotent(t *testing.T) {
	root := t.TempDir()
	r := New(root, zaptest.NewLogger(t))

	src := encodeTestImage(t, 1000, 750)

	first, err := r.Render(src, "photo", []int{800})
	if err != nil {
		t.Fatalf("First render failed: %v", err)
	}
	second, err := r.Render(src, "photo", []int{800})
	if err != nil {
		t.Fatalf("Second render failed: %v", err)
	}

	if first[0].ContentHash != second[0].ContentHash {
		t.Errorf("Hashes differ: %s vs %s", first[0].ContentHash, second[0].ContentHash)
	}
	if first[0].Path != second[0].Path {
		t.Errorf("Paths differ: %s vs %s", first[0].Path, second[0].Path)
	}
}

func TestRenderer_Render_CorruptSource(t *testing.T) {
	root := t.TempDir()
	r := New(root, zaptest.NewLogger(t))

	_, err := r.Render([]byte("definitely not an image"), "broken", []int{1024, 800})
	if err == nil {
		t.Fatal("Expected error for corrupt source, got nil")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("Failed to read output root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no output files for corrupt source, found %d entries", len(entries))
	}
}

func TestSanitizeBaseName(t *testing.T) {
	cases := map[string]string{
		"summer photo.jpg":  "summer-photo-jpg",
		"--already--clean--": "already-clean",
		"___":               "image",
		"":                  "image",
		"Cat2024":           "Cat2024",
		"a b   c":           "a-b-c",
	}
	for in, want := range cases {
		if got := SanitizeBaseName(in); got != want {
			t.Errorf("SanitizeBaseName(%q) = %q, want %q", in, got, want)
		}
	}
}
