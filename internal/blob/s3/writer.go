package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// minPartSize is the S3 minimum part size for multipart uploads.
const minPartSize int64 = 5 * 1024 * 1024

const jsonlContentType = "application/x-ndjson"

// Writer implements domain.BlobWriter on the archive bucket. Every object is
// written with server-side encryption and a SHA-256 checksum.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{client: c.S3(), bucket: c.Bucket()}
}

func (w *Writer) input(path string, data io.Reader, contentType string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:               aws.String(w.bucket),
		Key:                  aws.String(path),
		Body:                 data,
		ContentType:          aws.String(contentType),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
		ChecksumAlgorithm:    types.ChecksumAlgorithmSha256,
	}
}

// Put uploads data in a single PutObject request, replacing any object at
// path.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := w.client.PutObject(ctx, w.input(path, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams a JSONL object through the multipart manager.
// partSize is raised to the S3 minimum when smaller.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := uploader.Upload(ctx, w.input(path, data, jsonlContentType)); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}
