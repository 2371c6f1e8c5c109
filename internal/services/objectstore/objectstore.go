// Package objectstore persists uploaded generation inputs on the local
// filesystem, laid out like a single object-storage bucket.
package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"multitalk/internal/services"
)

// Bucket is the namespace every ref is rooted in.
const Bucket = "user-uploads"

// Object is a single upload.
type Object struct {
	Kind        string // "audio" or "image"
	Filename    string
	ContentType string
	Size        int64 // expected size; zero skips the check
	Body        io.Reader
}

// FS stores objects under <root>/<Bucket>.
type FS struct {
	root string
	now  func() time.Time
}

// NewFS prepares the bucket directory under root.
func NewFS(root string) (*FS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("objectstore: root directory required")
	}
	if err := os.MkdirAll(filepath.Join(root, Bucket), 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create bucket: %w", err)
	}
	return &FS{root: root, now: time.Now}, nil
}

// Put writes obj under <accountID>/<unixms>_<kind>.<ext> and returns its ref.
// Existing objects are never overwritten.
func (s *FS) Put(ctx context.Context, accountID string, obj Object) (string, error) {
	if err := validateSegment(accountID); err != nil {
		return "", services.Invalid("account_id", "%v", err)
	}
	if obj.Kind == "" {
		return "", services.Invalid("kind", "required")
	}
	if obj.Body == nil {
		return "", services.Invalid(obj.Kind, "empty upload")
	}
	if err := ctx.Err(); err != nil {
		return "", services.Wrap(services.ErrTransient, "objectstore", "put", "context done before write", err)
	}

	dir := filepath.Join(s.root, Bucket, accountID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "objectstore", "put", "create account directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "objectstore", "put", "create temp file", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := copyVerified(ctx, tmp, obj); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", services.Wrap(services.ErrTransient, "objectstore", "put", "close temp file", err)
	}

	ext := Extension(obj.Filename, obj.ContentType)
	stamp := s.now().UnixMilli()
	for attempt := 0; attempt < 100; attempt++ {
		name := fmt.Sprintf("%d_%s%s", stamp+int64(attempt), obj.Kind, ext)
		err := os.Link(tmpPath, filepath.Join(dir, name))
		if err == nil {
			return Bucket + "/" + accountID + "/" + name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", services.Wrap(services.ErrTransient, "objectstore", "put", "publish object", err)
		}
	}
	return "", services.Wrap(services.ErrTransient, "objectstore", "put", "no free object key", nil)
}

// Open returns a reader for a ref produced by Put.
func (s *FS) Open(ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "objectstore", "open", ref, nil)
	}
	return file, err
}

// Delete removes a ref. Missing objects are ignored.
func (s *FS) Delete(ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("objectstore: delete %s: %w", ref, err)
	}
	return nil
}

func (s *FS) resolve(ref string) (string, error) {
	rest, ok := strings.CutPrefix(ref, Bucket+"/")
	if !ok {
		return "", services.Invalid("ref", "must start with %s/", Bucket)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return "", services.Invalid("ref", "malformed object ref %q", ref)
	}
	for _, part := range parts {
		if err := validateSegment(part); err != nil {
			return "", services.Invalid("ref", "%v", err)
		}
	}
	return filepath.Join(s.root, Bucket, parts[0], parts[1]), nil
}

// copyVerified streams obj into dst, checking the declared size and that the
// bytes on disk hash the same as the bytes read.
func copyVerified(ctx context.Context, dst *os.File, obj Object) error {
	srcHasher := sha256.New()
	reader := io.TeeReader(&contextReader{ctx: ctx, r: obj.Body}, srcHasher)
	written, err := io.Copy(dst, reader)
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrTransient, "objectstore", "put", "write interrupted", ctx.Err())
		}
		return services.Wrap(services.ErrTransient, "objectstore", "put", "write object", err)
	}
	if written == 0 {
		return services.Invalid(obj.Kind, "empty upload")
	}
	if obj.Size > 0 && written != obj.Size {
		return services.Invalid(obj.Kind, "size mismatch: declared %d bytes, received %d", obj.Size, written)
	}
	if err := dst.Sync(); err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "put", "sync object", err)
	}

	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "put", "rewind object", err)
	}
	dstHasher := sha256.New()
	if _, err := io.Copy(dstHasher, dst); err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "put", "verify object", err)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		return services.Wrap(services.ErrTransient, "objectstore", "put", "hash mismatch after write", nil)
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var preferredExtensions = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/wave":  ".wav",
	"audio/ogg":   ".ogg",
	"audio/flac":  ".flac",
	"audio/mp4":   ".m4a",
	"image/jpeg":  ".jpg",
	"image/png":   ".png",
	"image/webp":  ".webp",
	"image/gif":   ".gif",
}

// Extension picks the stored extension from the filename, falling back to the
// content type and finally to ".bin".
func Extension(filename, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(filepath.Base(filename))); ext != "" && ext != "." && validateSegment(ext[1:]) == nil {
		return ext
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func validateSegment(value string) error {
	switch {
	case strings.TrimSpace(value) == "":
		return errors.New("empty path segment")
	case value == "." || value == "..":
		return fmt.Errorf("invalid path segment %q", value)
	case strings.ContainsAny(value, `/\`) || strings.ContainsRune(value, 0):
		return fmt.Errorf("path segment %q contains a separator", value)
	}
	return nil
}
