package renderer

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const jpegQuality = 85

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Variant is one rendered output. Path is relative to the output root so it
// can be handed to external consumers as-is.
type Variant struct {
	Resolution  string
	Path        string
	ContentHash string
	Size        int64
	Width       int
	Height      int
}

type Renderer struct {
	outputRoot string
	logger     *zap.Logger
}

func New(outputRoot string, logger *zap.Logger) *Renderer {
	return &Renderer{outputRoot: outputRoot, logger: logger}
}

// Render decodes src once and produces one JPEG per target width, each
// written under <root>/<base>/<width>/<md5>.jpg. A decode failure aborts
// before any file is written. If a later width fails the earlier files stay
// on disk; content addressing keeps them harmless and reusable.
func (r *Renderer) Render(src []byte, baseName string, widths []int) ([]Variant, error) {
	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	origWidth := img.Bounds().Dx()
	origHeight := img.Bounds().Dy()
	base := SanitizeBaseName(baseName)

	variants := make([]Variant, 0, len(widths))
	for _, target := range widths {
		width := target
		if width > origWidth {
			width = origWidth
		}
		height := int(math.Round(float64(origHeight) * float64(width) / float64(origWidth)))
		if height < 1 {
			height = 1
		}

		resized := imaging.Resize(img, width, height, imaging.Lanczos)

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
			return nil, fmt.Errorf("encode %dpx variant: %w", target, err)
		}

		sum := md5.Sum(buf.Bytes())
		hash := hex.EncodeToString(sum[:])

		label := strconv.Itoa(target)
		relPath := filepath.Join(base, label, hash+".jpg")
		absPath := filepath.Join(r.outputRoot, relPath)

		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create variant dir: %w", err)
		}
		if err := os.WriteFile(absPath, buf.Bytes(), 0o644); err != nil {
			return nil, fmt.Errorf("write %dpx variant: %w", target, err)
		}

		r.logger.Info("Variant rendered",
			zap.String("path", relPath),
			zap.String("hash", hash),
			zap.Int("width", width),
			zap.Int("height", height),
		)

		variants = append(variants, Variant{
			Resolution:  label,
			Path:        relPath,
			ContentHash: hash,
			Size:        int64(buf.Len()),
			Width:       width,
			Height:      height,
		})
	}

	return variants, nil
}

// SanitizeBaseName collapses every run of non-alphanumeric characters into a
// single dash and strips leading and trailing dashes.
func SanitizeBaseName(name string) string {
	s := nonAlphanumeric.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "image"
	}
	return s
}
