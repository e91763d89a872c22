// Package archive keeps a copy of training images in S3-compatible object
// storage. Archiving is optional; Noop is used when it is disabled.
package archive

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// maxParallelUploads bounds concurrent PutObject calls for one request
const maxParallelUploads = 4

// Object is one file to archive
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// Archive stores training images
type Archive interface {
	// Enabled reports whether objects are actually stored
	Enabled() bool
	// Key returns the object key for a file uploaded under label
	Key(label, filename string) string
	// Put stores one object
	Put(ctx context.Context, obj Object) error
}

var unsafeSegment = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// TrainingKey builds training/<label>/<uuid><ext>. The label is reduced to a
// safe path segment; the extension defaults to .jpg.
func TrainingKey(label, filename string) string {
	segment := strings.Trim(unsafeSegment.ReplaceAllString(strings.TrimSpace(label), "_"), "._")
	if segment == "" {
		segment = "unlabelled"
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || unsafeSegment.MatchString(ext) {
		ext = ".jpg"
	}
	return path.Join("training", segment, uuid.NewString()+ext)
}

// PutAll stores objects concurrently. It returns the keys that were stored,
// in input order, and the first error.
func PutAll(ctx context.Context, a Archive, objects []Object) ([]string, error) {
	if !a.Enabled() || len(objects) == 0 {
		return nil, nil
	}

	stored := make([]bool, len(objects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for i, obj := range objects {
		g.Go(func() error {
			if err := a.Put(gctx, obj); err != nil {
				return fmt.Errorf("archive %s: %w", obj.Key, err)
			}
			stored[i] = true
			return nil
		})
	}
	err := g.Wait()

	var keys []string
	for i, ok := range stored {
		if ok {
			keys = append(keys, objects[i].Key)
		}
	}
	return keys, err
}

// Noop discards everything
type Noop struct{}

// Enabled always returns false
func (Noop) Enabled() bool { return false }

// Key always returns an empty key
func (Noop) Key(label, filename string) string { return "" }

// Put does nothing
func (Noop) Put(ctx context.Context, obj Object) error { return nil }
