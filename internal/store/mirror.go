package store

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ObjectWriter is the subset of Client used by Mirror.
type ObjectWriter interface {
	Head(ctx context.Context, key string) (*ObjectInfo, bool, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, digest, contentType string) error
}

// MirrorResult reports what Mirror did.
type MirrorResult struct {
	Key      string
	Uploaded bool
}

// Mirror uploads the file at localPath to key unless an object with the same
// digest is already there. A present object with a different or missing
// digest is overwritten.
func Mirror(ctx context.Context, w ObjectWriter, key, localPath, digest string) (*MirrorResult, error) {
	info, exists, err := w.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists && info.SHA256 == digest {
		return &MirrorResult{Key: key}, nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s for mirror: %w", localPath, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}
	if err := w.Put(ctx, key, f, st.Size(), digest, ""); err != nil {
		return nil, err
	}
	return &MirrorResult{Key: key, Uploaded: true}, nil
}
