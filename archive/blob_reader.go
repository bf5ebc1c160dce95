package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"gocloud.dev/blob"
)

// BlobReader exposes an archive stored in a cloud bucket as an io.ReaderAt,
// using ranged reads through the portable gocloud blob API. It lets
// embedders point the service at S3, GCS or Azure without adding a
// provider-specific code path here.
type BlobReader struct {
	ctx    context.Context
	bucket *blob.Bucket
	key    string
	size   int64

	mu     sync.Mutex
	offset int64
}

// NewBlobReader looks up the object's attributes to learn its size. The
// context is carried into every later read.
func NewBlobReader(ctx context.Context, bucket *blob.Bucket, key string) (*BlobReader, error) {
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("blob attributes %s: %w", key, err)
	}
	return &BlobReader{ctx: ctx, bucket: bucket, key: key, size: attrs.Size}, nil
}

// Size returns the object length.
func (b *BlobReader) Size() int64 { return b.size }

// ReadAt fetches one byte range with a stateless ranged read.
func (b *BlobReader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off >= b.size {
		return 0, io.EOF
	}
	length := int64(len(p))
	if off+length > b.size {
		length = b.size - off
	}

	r, err := b.bucket.NewRangeReader(b.ctx, b.key, off, length, nil)
	if err != nil {
		return 0, fmt.Errorf("blob range read %s: %w", b.key, err)
	}
	defer r.Close()

	n, err := io.ReadFull(r, p[:length])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *BlobReader) Read(p []byte) (int, error) {
	b.mu.Lock()
	off := b.offset
	b.mu.Unlock()

	n, err := b.ReadAt(p, off)

	b.mu.Lock()
	b.offset = off + int64(n)
	b.mu.Unlock()
	return n, err
}

func (b *BlobReader) Seek(offset int64, whence int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = b.offset + offset
	case io.SeekEnd:
		next = b.size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	b.offset = next
	return next, nil
}
