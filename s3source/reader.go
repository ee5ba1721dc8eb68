// Package s3source adapts an S3 object to the io.ReaderAt contract
// zipkit.NewIndexedReader needs, via ranged GetObject calls, so archives
// can be indexed and read without downloading them first.
package s3source

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client abstracts the S3 API surface this package needs.
type Client interface {
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Object is an io.ReaderAt backed by ranged reads of a single S3 object.
// Every ReadAt call is an independent GetObject request, so concurrent
// reads across distinct offsets (as IndexedReader.Open does per entry) are
// safe.
type Object struct {
	client Client
	bucket string
	key    string
	ctx    context.Context
	size   int64
}

// Open issues a HeadObject to learn the object's size and returns an
// Object ready for use with zipkit.NewIndexedReader.
func Open(ctx context.Context, client Client, bucket, key string) (*Object, error) {
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3source: head %s/%s: %w", bucket, key, err)
	}
	if out.ContentLength == nil {
		return nil, fmt.Errorf("s3source: %s/%s has no content length", bucket, key)
	}
	return &Object{client: client, bucket: bucket, key: key, ctx: ctx, size: *out.ContentLength}, nil
}

// Size returns the object's length, as reported at Open time.
func (o *Object) Size() int64 {
	return o.size
}

// ReadAt fetches exactly len(p) bytes starting at off via a single ranged
// GetObject call.
func (o *Object) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	rangeEnd := off + int64(len(p)) - 1
	out, err := o.client.GetObject(o.ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, rangeEnd)),
	})
	if err != nil {
		return 0, fmt.Errorf("s3source: get %s/%s [%d-%d]: %w", o.bucket, o.key, off, rangeEnd, err)
	}
	defer out.Body.Close()

	return io.ReadFull(out.Body, p)
}
