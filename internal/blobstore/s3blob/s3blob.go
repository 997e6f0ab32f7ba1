// Package s3blob backs blobstore.Backend with an upstream S3-compatible
// bucket via aws-sdk-go-v2. This is the gateway's primary production
// backend: the gateway itself speaks the S3-compatible protocol to its
// own clients (internal/s3router), and separately speaks it again,
// outbound, to whatever bucket actually holds the bytes.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/blobstore"
)

func init() {
	blobstore.Register("s3", open)
}

type backend struct {
	client *s3.Client
	bucket string
}

// open builds a Backend from a DSN of the form
// s3://bucket?region=us-east-1&endpoint=https://host:port&accessKey=...&secretKey=...&pathStyle=true
func open(ctx context.Context, dsn *url.URL) (blobstore.Backend, error) {
	bucket := dsn.Host
	if bucket == "" {
		return nil, fmt.Errorf("s3blob: dsn missing bucket host, got %q", dsn.String())
	}
	q := dsn.Query()

	var optFns []func(*config.LoadOptions) error
	if region := q.Get("region"); region != "" {
		optFns = append(optFns, config.WithRegion(region))
	}
	if ak, sk := q.Get("accessKey"), q.Get("secretKey"); ak != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := q.Get("endpoint"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		if q.Get("pathStyle") == "true" {
			o.UsePathStyle = true
		}
	})

	return &backend{client: client, bucket: bucket}, nil
}

func (b *backend) UploadObject(ctx context.Context, key string, body io.Reader, size int64, contentType, cacheControl string) (*blobstore.ObjectInfo, error) {
	out, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		CacheControl:  nonEmptyPtr(cacheControl),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &blobstore.ObjectInfo{
		Size:        size,
		ETag:        trimQuotes(aws.ToString(out.ETag)),
		ContentType: contentType,
	}, nil
}

func (b *backend) GetObject(ctx context.Context, key string, opts blobstore.ReadOptions) (io.ReadCloser, *blobstore.ObjectInfo, error) {
	in := &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)}
	if opts.Offset > 0 || opts.Length > 0 {
		in.Range = aws.String(rangeHeader(opts))
	}
	out, err := b.client.GetObject(ctx, in)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	info := &blobstore.ObjectInfo{
		Size:        aws.ToInt64(out.ContentLength),
		ETag:        trimQuotes(aws.ToString(out.ETag)),
		ContentType: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return out.Body, info, nil
}

func rangeHeader(opts blobstore.ReadOptions) string {
	if opts.Length > 0 {
		return "bytes=" + strconv.FormatInt(opts.Offset, 10) + "-" + strconv.FormatInt(opts.Offset+opts.Length-1, 10)
	}
	return "bytes=" + strconv.FormatInt(opts.Offset, 10) + "-"
}

func (b *backend) HeadObject(ctx context.Context, key string) (*blobstore.ObjectInfo, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, mapErr(err)
	}
	info := &blobstore.ObjectInfo{
		Size:        aws.ToInt64(out.ContentLength),
		ETag:        trimQuotes(aws.ToString(out.ETag)),
		ContentType: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return info, nil
}

func (b *backend) CopyObject(ctx context.Context, srcKey, dstKey string, metadata map[string]string, cond blobstore.CopyCondition) (*blobstore.ObjectInfo, error) {
	in := &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(url.PathEscape(b.bucket + "/" + srcKey)),
	}
	if len(metadata) > 0 {
		in.Metadata = metadata
		in.MetadataDirective = types.MetadataDirectiveReplace
	}
	if cond.IfMatchETag != "" {
		in.CopySourceIfMatch = aws.String(cond.IfMatchETag)
	}
	out, err := b.client.CopyObject(ctx, in)
	if err != nil {
		return nil, mapErr(err)
	}
	info := &blobstore.ObjectInfo{}
	if out.CopyObjectResult != nil {
		info.ETag = trimQuotes(aws.ToString(out.CopyObjectResult.ETag))
		if out.CopyObjectResult.LastModified != nil {
			info.LastModified = *out.CopyObjectResult.LastModified
		}
	}
	return info, nil
}

func (b *backend) DeleteObject(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	return mapErr(err)
}

func (b *backend) DeleteObjects(ctx context.Context, keys []string) error {
	objs := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objs[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}
	_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(b.bucket),
		Delete: &types.Delete{Objects: objs},
	})
	return mapErr(err)
}

func (b *backend) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	out, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", mapErr(err)
	}
	return aws.ToString(out.UploadId), nil
}

func (b *backend) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64) (*blobstore.Part, error) {
	out, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(partNumber)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &blobstore.Part{PartNumber: partNumber, ETag: trimQuotes(aws.ToString(out.ETag)), Size: size}, nil
}

func (b *backend) UploadPartCopy(ctx context.Context, dstKey, uploadID string, partNumber int, srcKey string, byteRange [2]int64) (*blobstore.Part, error) {
	in := &s3.UploadPartCopyInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dstKey),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
		CopySource: aws.String(url.PathEscape(b.bucket + "/" + srcKey)),
	}
	if byteRange[1] > 0 {
		in.CopySourceRange = aws.String("bytes=" + strconv.FormatInt(byteRange[0], 10) + "-" + strconv.FormatInt(byteRange[1], 10))
	}
	out, err := b.client.UploadPartCopy(ctx, in)
	if err != nil {
		return nil, mapErr(err)
	}
	p := &blobstore.Part{PartNumber: partNumber}
	if out.CopyPartResult != nil {
		p.ETag = trimQuotes(aws.ToString(out.CopyPartResult.ETag))
	}
	return p, nil
}

func (b *backend) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []blobstore.Part) (*blobstore.ObjectInfo, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{ETag: aws.String(p.ETag), PartNumber: aws.Int32(int32(p.PartNumber))}
	}
	out, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &blobstore.ObjectInfo{ETag: trimQuotes(aws.ToString(out.ETag))}, nil
}

func (b *backend) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket: aws.String(b.bucket), Key: aws.String(key), UploadId: aws.String(uploadID),
	})
	return mapErr(err)
}

func (b *backend) Close() error { return nil }

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func trimQuotes(s string) string {
	return strings.Trim(s, `"`)
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return blobstore.ErrNotExist
	}
	return err
}
