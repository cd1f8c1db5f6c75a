package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	// defaultPartSize is the multipart chunk size. Objects that fit in one
	// part are sent with a single PutObject.
	defaultPartSize = 64 << 20
	// maxParts is the S3 limit on parts per upload.
	maxParts = 10000
)

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string // Optional: key prefix for published artifacts
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Storage wraps LocalStorage and publishes finished artifacts to S3.
// Temp files stay on local disk.
type S3Storage struct {
	*LocalStorage
	client   *s3.Client
	bucket   string
	region   string
	prefix   string
	endpoint string
	partSize int
}

// NewS3Storage creates a new S3Storage instance.
// The tempDir parameter specifies where temporary files are stored.
func NewS3Storage(tempDir string, cfg S3Config) (*S3Storage, error) {
	local, err := NewLocalStorage(tempDir)
	if err != nil {
		return nil, err
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Storage{
		LocalStorage: local,
		client:       s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:       cfg.Bucket,
		region:       cfg.Region,
		prefix:       strings.Trim(cfg.Prefix, "/"),
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		partSize:     defaultPartSize,
	}, nil
}

// ObjectKey returns the full key used for name, including the prefix.
func (s *S3Storage) ObjectKey(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Publish uploads data to S3 and returns the object URL. Data larger than
// one part is sent as a multipart upload, so outputs above the 5 GiB
// single-request limit can be published.
func (s *S3Storage) Publish(ctx context.Context, key string, data io.Reader) (string, error) {
	fullKey := s.ObjectKey(key)

	buf := make([]byte, s.partSize)
	n, err := io.ReadFull(data, buf)
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		err = s.putObject(ctx, fullKey, buf[:n])
	case err != nil:
		return "", fmt.Errorf("read upload data: %w", err)
	default:
		err = s.multipartUpload(ctx, fullKey, buf, data)
	}
	if err != nil {
		return "", err
	}

	return s.objectURL(fullKey), nil
}

func (s *S3Storage) putObject(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return fmt.Errorf("upload to S3: %w", err)
	}
	return nil
}

// multipartUpload sends first followed by the rest of data in parts of
// len(first) bytes. A failed upload is aborted so no parts are billed.
func (s *S3Storage) multipartUpload(ctx context.Context, key string, first []byte, data io.Reader) error {
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return fmt.Errorf("start multipart upload: %w", err)
	}
	uploadID := created.UploadId

	var parts []types.CompletedPart
	uploadErr := func() error {
		buf := first
		n := len(first)
		for partNumber := int32(1); ; partNumber++ {
			if partNumber > maxParts {
				return fmt.Errorf("upload exceeds %d parts", maxParts)
			}
			out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(s.bucket),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: aws.Int32(partNumber),
				Body:       bytes.NewReader(buf[:n]),
			})
			if err != nil {
				return fmt.Errorf("upload part %d: %w", partNumber, err)
			}
			// Part checksums computed by the client must be echoed on completion.
			parts = append(parts, types.CompletedPart{
				ETag:           out.ETag,
				PartNumber:     aws.Int32(partNumber),
				ChecksumCRC32:  out.ChecksumCRC32,
				ChecksumCRC32C: out.ChecksumCRC32C,
				ChecksumSHA1:   out.ChecksumSHA1,
				ChecksumSHA256: out.ChecksumSHA256,
			})

			n, err = io.ReadFull(data, buf)
			if n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				return nil
			}
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("read upload data: %w", err)
			}
		}
	}()

	if uploadErr == nil {
		_, uploadErr = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(key),
			UploadId:        uploadID,
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		if uploadErr == nil {
			return nil
		}
		uploadErr = fmt.Errorf("complete multipart upload: %w", uploadErr)
	}

	_, abortErr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
	return errors.Join(uploadErr, abortErr)
}

func (s *S3Storage) objectURL(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// CanPublish reports true: artifacts go to the configured bucket.
func (s *S3Storage) CanPublish() bool {
	return true
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}

// Verify interface implementation at compile time.
var _ Storage = (*S3Storage)(nil)
