package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/logflow/dfgflow/pkg/errors"
)

// S3Config holds S3 client configuration.
type S3Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Endpoint overrides the default S3 endpoint (MinIO, LocalStack)
	Endpoint string

	// UsePathStyle forces path-style addressing
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string

	// Timeout bounds each upload and download.
	Timeout time.Duration

	// PartSize is the multipart chunk size (minimum 5MB).
	PartSize int64
}

func (c S3Config) withDefaults() S3Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.PartSize < 5*1024*1024 {
		c.PartSize = 5 * 1024 * 1024
	}
	return c
}

// S3Client reads and writes objects.
type S3Client struct {
	cfg    S3Config
	client *s3.Client
}

// NewS3Client creates a client from the default AWS credential chain,
// overridden by explicit keys when set.
func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	cfg = cfg.withDefaults()

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "failed to load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Client{cfg: cfg, client: client}, nil
}

// Reader returns the object body and its size.
func (c *S3Client) Reader(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)

	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		return nil, 0, errors.Wrap(err, errors.CodeFileNotFound, "failed to get object").
			WithContext("bucket", bucket).
			WithContext("key", key)
	}

	return &cancelOnCloseReader{ReadCloser: out.Body, cancel: cancel}, aws.ToInt64(out.ContentLength), nil
}

type cancelOnCloseReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnCloseReader) Close() error {
	r.cancel()
	return r.ReadCloser.Close()
}

// Writer buffers writes and uploads them on Close, switching to a multipart
// upload once PartSize bytes have accumulated.
func (c *S3Client) Writer(bucket, key, contentType string) io.WriteCloser {
	return &s3Writer{
		client:      c.client,
		cfg:         c.cfg,
		bucket:      bucket,
		key:         key,
		contentType: contentType,
	}
}

type s3Writer struct {
	client      *s3.Client
	cfg         S3Config
	bucket      string
	key         string
	contentType string

	mu       sync.Mutex
	buf      []byte
	parts    []types.CompletedPart
	uploadID string
	partNum  int32
	closed   bool
	err      error
}

func (w *s3Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.New(errors.CodeWriteFailed, "writer is closed")
	}
	if w.err != nil {
		return 0, w.err
	}

	w.buf = append(w.buf, p...)
	for int64(len(w.buf)) >= w.cfg.PartSize {
		if err := w.uploadPart(w.buf[:w.cfg.PartSize]); err != nil {
			w.err = err
			return len(p), err
		}
		w.buf = w.buf[w.cfg.PartSize:]
	}
	return len(p), nil
}

func (w *s3Writer) uploadPart(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	if w.uploadID == "" {
		out, err := w.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(w.bucket),
			Key:         aws.String(w.key),
			ContentType: aws.String(w.contentType),
		})
		if err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "failed to create multipart upload")
		}
		w.uploadID = aws.ToString(out.UploadId)
	}

	w.partNum++
	out, err := w.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(w.partNum),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return errors.Wrapf(err, errors.CodeWriteFailed, "failed to upload part %d", w.partNum)
	}

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(w.partNum),
	})
	return nil
}

func (w *s3Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	// Small artifacts never start a multipart upload.
	if w.uploadID == "" {
		_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(w.bucket),
			Key:         aws.String(w.key),
			Body:        bytes.NewReader(w.buf),
			ContentType: aws.String(w.contentType),
		})
		if err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "failed to put object").WithContext("key", w.key)
		}
		return nil
	}

	if len(w.buf) > 0 {
		if err := w.uploadPart(w.buf); err != nil {
			return err
		}
	}

	_, err := w.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to complete multipart upload").WithContext("key", w.key)
	}
	return nil
}
