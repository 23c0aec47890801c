package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// BlobStorage stores an uploaded blob and yields a retrievable reference.
// The message core persists only the reference, never the bytes.
type BlobStorage interface {
	Store(ctx context.Context, filename, contentType string, r io.Reader) (url, mediaType string, err error)
}

// DiskStorage writes blobs under a local directory served at baseURL.
type DiskStorage struct {
	Dir     string
	BaseURL string // e.g. "/uploads"
}

// NewDiskStorage ensures the directory exists.
func NewDiskStorage(dir, baseURL string) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("media dir: %w", err)
	}
	return &DiskStorage{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Store writes the blob under a random name, keeping only a safe extension
// from the client-supplied filename.
func (d *DiskStorage) Store(ctx context.Context, filename, contentType string, r io.Reader) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	name := hex.EncodeToString(buf) + safeExt(filename)

	f, err := os.OpenFile(filepath.Join(d.Dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", "", fmt.Errorf("media create: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", "", fmt.Errorf("media write: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return d.BaseURL + "/" + name, contentType, nil
}

func safeExt(filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(filename)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
