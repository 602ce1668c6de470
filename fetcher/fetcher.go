package fetcher

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Source is a fetched original persisted to a scratch file so later stages
// can work from a path. Data holds the same bytes in memory.
type Source struct {
	Path        string
	ContentType string
	Size        int64
	BaseName    string
	Data        []byte
}

type Fetcher struct {
	client     *http.Client
	scratchDir string
	maxBytes   int64
	allowed    map[string]bool
	logger     *zap.Logger
}

func New(scratchDir string, maxDownloadMB int64, allowedTypes []string, timeout time.Duration, logger *zap.Logger) *Fetcher {
	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &Fetcher{
		client:     &http.Client{Timeout: timeout},
		scratchDir: scratchDir,
		maxBytes:   maxDownloadMB << 20,
		allowed:    allowed,
		logger:     logger,
	}
}

func (f *Fetcher) FetchURL(ctx context.Context, imageURL string) (*Source, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid image url %q: %w", imageURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %q: %w", imageURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download image: unexpected status %d from %s", resp.StatusCode, parsed.Host)
	}

	contentType := normalizeContentType(resp.Header.Get("Content-Type"))
	if !f.allowed[contentType] {
		return nil, fmt.Errorf("content type %q is not allowed", contentType)
	}

	// Declared length fast-fails before reading the body; the limited read
	// below guards against a missing or lying header.
	if resp.ContentLength > f.maxBytes {
		return nil, f.sizeError()
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, f.sizeError()
	}

	return f.persist(data, contentType, urlBaseName(parsed))
}

func (f *Fetcher) FetchInline(_ context.Context, payload string) (*Source, error) {
	rest, found := strings.CutPrefix(payload, "data:")
	if !found {
		return nil, fmt.Errorf("invalid inline image: missing data: scheme")
	}
	meta, encoded, found := strings.Cut(rest, ",")
	if !found {
		return nil, fmt.Errorf("invalid inline image: missing base64 data")
	}
	contentType, found := strings.CutSuffix(meta, ";base64")
	if !found {
		return nil, fmt.Errorf("invalid inline image: missing base64 marker")
	}
	if contentType == "" {
		return nil, fmt.Errorf("invalid inline image: missing content type")
	}
	if encoded == "" {
		return nil, fmt.Errorf("invalid inline image: empty data")
	}

	contentType = normalizeContentType(contentType)
	if !f.allowed[contentType] {
		return nil, fmt.Errorf("content type %q is not allowed", contentType)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode inline image: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, f.sizeError()
	}

	return f.persist(data, contentType, "inline")
}

// Cleanup removes the scratch file. Failures are logged and swallowed; a
// leftover scratch file never fails the task that produced it.
func (f *Fetcher) Cleanup(src *Source) {
	if src == nil || src.Path == "" {
		return
	}
	if err := os.Remove(src.Path); err != nil && !os.IsNotExist(err) {
		f.logger.Warn("Failed to remove scratch file",
			zap.String("path", src.Path),
			zap.Error(err),
		)
	}
}

func (f *Fetcher) persist(data []byte, contentType, baseName string) (*Source, error) {
	if err := os.MkdirAll(f.scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	name := fmt.Sprintf("%s_%d_%s%s", baseName, time.Now().UnixNano(), randomSuffix(), extensionFor(contentType))
	scratchPath := filepath.Join(f.scratchDir, name)

	if err := os.WriteFile(scratchPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write scratch file: %w", err)
	}

	f.logger.Debug("Source persisted to scratch",
		zap.String("path", scratchPath),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(data)),
	)

	return &Source{
		Path:        scratchPath,
		ContentType: contentType,
		Size:        int64(len(data)),
		BaseName:    baseName,
		Data:        data,
	}, nil
}

func (f *Fetcher) sizeError() error {
	return fmt.Errorf("image exceeds maximum download size of %dMB", f.maxBytes>>20)
}

func normalizeContentType(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func urlBaseName(u *url.URL) string {
	name := path.Base(u.Path)
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	return name
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
