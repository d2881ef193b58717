// Package blob stores uploaded documents and hands them back by reference.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrNotFound = errors.New("blob not found")

// Store persists one object per name and returns a reference that Open
// accepts later, possibly in another process.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Opener resolves references produced by any configured store. minio://
// references go to the object store; everything else is a local path.
type Opener struct {
	FS    *FSStore
	Minio *MinioStore
}

func (o Opener) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if strings.HasPrefix(ref, minioScheme) {
		if o.Minio == nil {
			return nil, fmt.Errorf("open %s: object storage not configured", ref)
		}
		return o.Minio.Open(ctx, ref)
	}
	fs := o.FS
	if fs == nil {
		fs = &FSStore{}
	}
	return fs.Open(ctx, ref)
}
