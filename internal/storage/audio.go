// Package storage resolves audio object references to URLs the chat
// platform can fetch.
//
// Synthesized audio is written to a MinIO (or S3) bucket by the AI workers.
// Messages may name the object directly ("reply-123.m4a"), with a scheme
// ("obj://reply-123.m4a", "s3://audio/reply-123.m4a"), or carry an absolute
// http(s) URL which is passed through untouched.
package storage

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"notifyrelay/internal/types"
)

// DefaultURLTTL bounds how long a presigned audio URL remains valid.
const DefaultURLTTL = time.Hour

// PresignAPI abstracts the S3 presign operation for testability.
type PresignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Options configures NewS3Resolver.
type Options struct {
	// Endpoint is a full URL for MinIO or another S3-compatible store. Empty
	// means AWS S3 proper.
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	TTL       time.Duration
}

// Resolver turns object references into presigned GET URLs.
type Resolver struct {
	presigner PresignAPI
	bucket    string
	ttl       time.Duration
}

// NewResolver creates a Resolver over an existing presigner.
func NewResolver(presigner PresignAPI, bucket string, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &Resolver{presigner: presigner, bucket: bucket, ttl: ttl}
}

// NewS3Resolver builds an S3 presign client from awsCfg. A custom endpoint
// switches to path-style addressing, which MinIO requires. Static keys, when
// given, override the default credential chain.
func NewS3Resolver(awsCfg aws.Config, opts Options) *Resolver {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Region != "" {
			o.Region = opts.Region
		}
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		if opts.AccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
		}
	})
	return NewResolver(s3.NewPresignClient(client), opts.Bucket, opts.TTL)
}

// ResolveAudioURL returns a URL for ref. Absolute http(s) URLs are returned
// as-is; anything else is treated as an object in the audio bucket.
func (r *Resolver) ResolveAudioURL(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if IsHTTPURL(ref) {
		return ref, nil
	}

	bucket, key, err := ParseObjectRef(ref, r.bucket)
	if err != nil {
		return "", err
	}

	out, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalStorage, "failed to presign audio object", err).
			WithDetails(map[string]any{"bucket": bucket, "key": key})
	}
	return out.URL, nil
}

// IsHTTPURL reports whether ref is an absolute http or https URL.
func IsHTTPURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// ParseObjectRef splits ref into bucket and key.
//
//	"clip.m4a"             -> (defaultBucket, "clip.m4a")
//	"obj://clip.m4a"       -> (defaultBucket, "clip.m4a")
//	"s3://other/dir/a.m4a" -> ("other", "dir/a.m4a")
func ParseObjectRef(ref, defaultBucket string) (bucket, key string, err error) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		rest := strings.TrimPrefix(ref, "s3://")
		bucket, key, _ = strings.Cut(rest, "/")
	case strings.HasPrefix(ref, "obj://"):
		bucket, key = defaultBucket, strings.TrimPrefix(ref, "obj://")
	case strings.Contains(ref, "://"):
		return "", "", types.NewAppError(types.ErrCodeValidationInvalidField,
			"unsupported audio reference scheme", nil).
			WithDetails(map[string]any{"ref": ref})
	default:
		bucket, key = defaultBucket, ref
	}

	key = strings.TrimPrefix(key, "/")
	if bucket == "" || key == "" {
		return "", "", types.NewAppError(types.ErrCodeNotFoundAudioObject,
			"audio reference does not name an object", nil).
			WithDetails(map[string]any{"ref": ref})
	}
	return bucket, key, nil
}
