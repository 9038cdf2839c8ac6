// Package storage persists generated artifacts under a local storage root and
// resolves the references it hands out.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"multimodal/internal/config"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind is the category of an artifact.
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

func (k Kind) dir() string {
	if k == KindAudio {
		return "audio"
	}
	return "images"
}

// ErrInvalidRef is returned for references this store did not produce.
var ErrInvalidRef = errors.New("invalid storage reference")

// Config holds storage configuration.
type Config struct {
	Root      string // Filesystem root (default: /data)
	URLPrefix string // Public path prefix of references (default: /storage)
}

// LoadConfigFromEnv loads storage configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Root:      config.GetEnv("STORAGE_PATH", "/data"),
		URLPrefix: config.GetEnv("STORAGE_URL_PREFIX", "/storage"),
	}
}

func (c Config) withDefaults() Config {
	if c.Root == "" {
		c.Root = "/data"
	}
	if c.URLPrefix == "" {
		c.URLPrefix = "/storage"
	}
	c.URLPrefix = "/" + strings.Trim(c.URLPrefix, "/")
	return c
}

// Local stores artifacts on the local filesystem.
type Local struct {
	root   string
	prefix string
	logger *slog.Logger
}

// NewLocal creates the storage root and its kind directories.
func NewLocal(cfg Config) (*Local, error) {
	cfg = cfg.withDefaults()
	for _, k := range []Kind{KindImage, KindAudio} {
		if err := os.MkdirAll(filepath.Join(cfg.Root, k.dir()), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &Local{
		root:   cfg.Root,
		prefix: cfg.URLPrefix,
		logger: slog.With("component", "storage"),
	}, nil
}

// Prefix returns the public path prefix of references.
func (l *Local) Prefix() string { return l.prefix }

// Put writes data under a fresh random name and returns its reference.
// The file appears atomically; a failed write leaves nothing behind.
func (l *Local) Put(ctx context.Context, data []byte, kind Kind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.New().String() + Extension(data, kind)
	dir := filepath.Join(l.root, kind.dir())

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("commit artifact: %w", err)
	}

	ref := l.prefix + "/" + kind.dir() + "/" + name
	l.logger.Debug("Artifact stored", "ref", ref, "bytes", len(data))
	return ref, nil
}

// Owns reports whether ref points into this store.
func (l *Local) Owns(ref string) bool {
	return strings.HasPrefix(ref, l.prefix+"/")
}

// ReadFile returns the artifact behind ref.
func (l *Local) ReadFile(ref string) ([]byte, error) {
	p, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (l *Local) resolve(ref string) (string, error) {
	if !l.Owns(ref) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	rel := path.Clean("/" + strings.TrimPrefix(ref, l.prefix+"/"))
	if rel == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(l.root, filepath.FromSlash(rel)), nil
}

// Handler serves stored artifacts under the reference prefix.
// Directory listings are not served.
func (l *Local) Handler() http.Handler {
	files := http.StripPrefix(l.prefix, http.FileServer(http.Dir(l.root)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
