package storage

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSSource implements Source by reading .mp4 objects out of a Google
// Cloud Storage bucket. Adapted from the teacher's GCSStorage (which
// also wrote HLS segments); this version is read-only.
type GCSSource struct {
	client     *storage.Client
	bucketName string
	baseDir    string
	ctx        context.Context
}

// NewGCSSource creates a GCSSource bound to bucketName, verifying the
// bucket is reachable before returning.
func NewGCSSource(ctx context.Context, bucketName, baseDir string) (*GCSSource, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create GCS client: %w", err)
	}

	bucket := client.Bucket(bucketName)
	if _, err := bucket.Attrs(ctx); err != nil {
		return nil, fmt.Errorf("storage: failed to access bucket %s: %w", bucketName, err)
	}

	return &GCSSource{client: client, bucketName: bucketName, baseDir: baseDir, ctx: ctx}, nil
}

func (s *GCSSource) fullPath(name string) string {
	if s.baseDir == "" {
		return name
	}
	return s.baseDir + "/" + name
}

// Open reads the entire object into memory and wraps it in a seekable
// handle. GCS objects are not natively seekable; this in-memory
// buffering is a documented limitation carried over unchanged from the
// teacher's bytesReadSeeker — for very large inputs a production
// deployment should instead issue byte-range requests per seek.
func (s *GCSSource) Open(name string) (ReadSeekCloser, int64, error) {
	objectPath := s.fullPath(name)
	obj := s.client.Bucket(s.bucketName).Object(objectPath)

	r, err := obj.NewReader(s.ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: failed to open GCS object %s: %w", name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: failed to read GCS object %s: %w", name, err)
	}

	return &bytesReadSeeker{data: data}, int64(len(data)), nil
}

// Exists checks whether an object is present in the bucket.
func (s *GCSSource) Exists(name string) (bool, error) {
	objectPath := s.fullPath(name)
	obj := s.client.Bucket(s.bucketName).Object(objectPath)
	_, err := obj.Attrs(s.ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: failed to check GCS object %s: %w", name, err)
	}
	return true, nil
}

// List lists object names under prefix.
func (s *GCSSource) List(prefix string) ([]string, error) {
	fullPrefix := s.fullPath(prefix)
	if fullPrefix != "" && fullPrefix[len(fullPrefix)-1] != '/' {
		fullPrefix += "/"
	}

	query := &storage.Query{Prefix: fullPrefix}
	it := s.client.Bucket(s.bucketName).Objects(s.ctx, query)

	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("storage: failed to list GCS objects under %s: %w", prefix, err)
		}
		name := attrs.Name
		if len(name) > len(fullPrefix) {
			name = name[len(fullPrefix):]
		}
		if name != "" && name[len(name)-1] != '/' {
			names = append(names, name)
		}
	}
	return names, nil
}

// Close closes the underlying GCS client.
func (s *GCSSource) Close() error {
	return s.client.Close()
}

// bytesReadSeeker implements ReadSeekCloser over in-memory data,
// carried over from the teacher's GCS backend unchanged.
type bytesReadSeeker struct {
	data []byte
	pos  int64
}

func (b *bytesReadSeeker) Read(p []byte) (n int, err error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n = copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *bytesReadSeeker) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n = copy(p, b.data[off:])
	if n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (b *bytesReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = b.pos + offset
	case io.SeekEnd:
		newPos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("storage: invalid whence")
	}
	if newPos < 0 {
		return 0, fmt.Errorf("storage: negative seek position")
	}
	b.pos = newPos
	return newPos, nil
}

func (b *bytesReadSeeker) Close() error {
	return nil
}
