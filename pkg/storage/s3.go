package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MaxAttachmentSize is the largest upload a presigned URL is issued for (25MB).
	MaxAttachmentSize = 25 * 1024 * 1024
	// FolderAttachments is the S3 prefix for ticket attachments.
	FolderAttachments = "attachments"
)

// AllowedAttachmentTypes maps accepted MIME types to their canonical extension.
var AllowedAttachmentTypes = map[string]string{
	"image/jpeg":       ".jpg",
	"image/png":        ".png",
	"image/gif":        ".gif",
	"image/webp":       ".webp",
	"application/pdf":  ".pdf",
	"text/plain":       ".txt",
	"text/csv":         ".csv",
	"application/json": ".json",
	"application/zip":  ".zip",
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	AttachmentsBucket    string
	PresignExpireMinutes int
}

// S3 issues pre-signed URLs for ticket attachments.
type S3 struct {
	client *s3.Client
	cfg    S3Config
	logger *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or the environment (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AttachmentsBucket == "" {
		return nil, fmt.Errorf("attachments bucket not configured")
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("bucket", cfg.AttachmentsBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3{
		client: s3.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// ValidateAttachmentType reports whether contentType is accepted.
func ValidateAttachmentType(contentType string) bool {
	ct, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), ";")
	_, ok := AllowedAttachmentTypes[strings.TrimSpace(ct)]
	return ok
}

// AttachmentKey returns the object key: attachments/{ticket_id}/{id}-{filename}.
func AttachmentKey(ticketID string, id uuid.UUID, filename string) string {
	base := unsafeKeyChars.ReplaceAllString(path.Base(strings.ReplaceAll(filename, "\\", "/")), "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "file"
	}
	return path.Join(FolderAttachments, ticketID, id.String()+"-"+base)
}

// PresignUpload returns a pre-signed PUT URL for a direct browser upload and its expiry.
func (s *S3) PresignUpload(ctx context.Context, key, contentType string) (string, time.Time, error) {
	expires := s.PresignExpire()
	req, err := s3.NewPresignClient(s.client).PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AttachmentsBucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign put: %w", err)
	}
	return req.URL, time.Now().Add(expires), nil
}

// PresignDownload returns a pre-signed GET URL for an attachment.
func (s *S3) PresignDownload(ctx context.Context, key string) (string, error) {
	req, err := s3.NewPresignClient(s.client).PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.AttachmentsBucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.PresignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}
