// Package storage is the object store holding uploaded media. Objects are
// addressed by slash-separated paths and exposed under a public URL prefix.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const metaSuffix = ".meta"

var (
	ErrInvalidPath = errors.New("invalid object path")
	ErrNotFound    = errors.New("object not found")
)

type FileStore struct {
	root      string
	publicURL string
}

func NewFileStore(root, publicURL string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &FileStore{
		root:      root,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Upload writes data at objectPath and returns its public URL. The content
// type is kept next to the object so it is served back unchanged.
func (s *FileStore) Upload(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full, err := s.resolve(objectPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}

	if err := writeAtomic(full, data); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if err := writeAtomic(full+metaSuffix, []byte(contentType)); err != nil {
		return "", fmt.Errorf("write object metadata: %w", err)
	}

	return s.PublicURL(objectPath), nil
}

func (s *FileStore) PublicURL(objectPath string) string {
	segments := strings.Split(strings.Trim(objectPath, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicURL + "/" + strings.Join(segments, "/")
}

// Object is an opened stored object.
type Object struct {
	*os.File
	ContentType string
	ModTime     time.Time
}

func (s *FileStore) Open(objectPath string) (*Object, error) {
	full, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}

	ct := "application/octet-stream"
	if b, err := os.ReadFile(full + metaSuffix); err == nil && len(b) > 0 {
		ct = string(b)
	}
	return &Object{File: f, ContentType: ct, ModTime: st.ModTime()}, nil
}

// Handler serves objects at the request path, which must already have the
// public prefix stripped.
func (s *FileStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimPrefix(r.URL.Path, "/")
		if strings.HasSuffix(p, metaSuffix) {
			http.NotFound(w, r)
			return
		}

		obj, err := s.Open(p)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidPath) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer obj.Close()

		w.Header().Set("Content-Type", obj.ContentType)
		http.ServeContent(w, r, path.Base(p), obj.ModTime, obj)
	})
}

// CleanPath validates an object path and returns it without surrounding
// slashes. Every segment must be a plain name: empty, "." and ".." segments
// are rejected rather than resolved, so the returned path is the one stored.
func CleanPath(objectPath string) (string, error) {
	p := strings.Trim(objectPath, "/")
	if p == "" || strings.HasSuffix(p, metaSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsRune(seg, '\\') {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
		}
	}
	if path.Clean(p) != p {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	return p, nil
}

func (s *FileStore) resolve(objectPath string) (string, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	local := filepath.FromSlash(p)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	return filepath.Join(s.root, local), nil
}

func writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}
