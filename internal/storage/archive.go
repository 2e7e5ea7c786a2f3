// Package storage archives generated images to an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

var ErrNoData = errors.New("no data to archive")

type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
	Prefix        string
}

// ObjectPutter is the subset of *s3.Client used by Archive.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Archive struct {
	cfg    Config
	client ObjectPutter
	now    func() time.Time
}

func NewArchive(cfg Config) (*Archive, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return newArchive(cfg, s3.New(options)), nil
}

func newArchive(cfg Config, client ObjectPutter) *Archive {
	if cfg.Prefix == "" {
		cfg.Prefix = "generations"
	}
	return &Archive{cfg: cfg, client: client, now: time.Now}
}

func (c Config) validate() error {
	switch {
	case c.Bucket == "":
		return fmt.Errorf("s3 bucket is required")
	case c.Region == "":
		return fmt.Errorf("s3 region is required")
	case c.AccessKey == "" || c.SecretKey == "":
		return fmt.Errorf("s3 credentials are required")
	case c.PublicBaseURL == "":
		return fmt.Errorf("s3 public base url is required")
	}
	return nil
}

// Store uploads one generated image under the owner's daily folder and
// returns its public URL.
func (a *Archive) Store(ctx context.Context, ownerID string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrNoData
	}
	if contentType == "" {
		contentType = "image/png"
	}

	key := a.objectKey(ownerID, contentType)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return strings.TrimRight(a.cfg.PublicBaseURL, "/") + "/" + key, nil
}

func (a *Archive) objectKey(ownerID, contentType string) string {
	now := a.now().UTC()
	prefix := strings.Trim(a.cfg.Prefix, "/")
	name := uuid.NewString() + extensionFromContentType(contentType)
	if ownerID != "" {
		name = ownerID + "-" + name
	}
	return path.Join(prefix, fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()), name)
}

func extensionFromContentType(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
