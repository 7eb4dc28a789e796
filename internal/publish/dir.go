package publish

import (
	"context"
	"path/filepath"

	"sitepack/internal/outdir"
)

// DirBucket publishes into a local directory, for example a mounted web
// root. Metadata is discarded.
type DirBucket struct {
	root string
}

// NewDirBucket returns a bucket writing below root.
func NewDirBucket(root string) *DirBucket {
	return &DirBucket{root: root}
}

func (b *DirBucket) Put(ctx context.Context, key string, body []byte, _ Meta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return outdir.WriteFile(filepath.Join(b.root, filepath.FromSlash(key)), body)
}

func (b *DirBucket) Close() error { return nil }
