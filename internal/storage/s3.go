package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
	Prefix        string
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads generated images to an S3-compatible bucket with a public-read ACL.
type S3Store struct {
	cfg    S3Config
	client objectPutter
	now    func() time.Time
}

// missing lists the settings an S3 store cannot run without.
func (c S3Config) missing() []string {
	var out []string
	if c.Bucket == "" {
		out = append(out, "bucket")
	}
	if c.Region == "" {
		out = append(out, "region")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		out = append(out, "credentials")
	}
	if c.PublicBaseURL == "" {
		out = append(out, "public base url")
	}
	return out
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if m := cfg.missing(); len(m) > 0 {
		return nil, fmt.Errorf("s3 store: missing %s", strings.Join(m, ", "))
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "generated"
	}

	client := s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Store{cfg: cfg, client: client, now: time.Now}, nil
}

// Save uploads data under a dated key. Generated media never changes once
// written, so objects are marked immutable for CDN caching.
func (s *S3Store) Save(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("s3 save: empty object")
	}
	if contentType == "" {
		contentType = "image/png"
	}

	key := objectName(s.cfg.Prefix, contentType, s.now())
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
		ACL:           types.ObjectCannedACLPublicRead,
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("put s3 object %s: %w", key, err)
	}
	u, err := url.JoinPath(s.cfg.PublicBaseURL, key)
	if err != nil {
		return "", fmt.Errorf("build object url: %w", err)
	}
	return u, nil
}
