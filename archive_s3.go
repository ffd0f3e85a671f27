package woolfarm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang/snappy"
)

// ArchiveBackend abstracts the object storage behind the snapshot archive.
type ArchiveBackend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// S3ArchiveConfig configures the S3 archive backend.
type S3ArchiveConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // For S3-compatible services (MinIO, etc.)
	// AccessKeyID for authentication. Prefer IAM roles, instance profiles,
	// or environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
	// instead of setting these directly.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
	UsePathStyle    bool   `yaml:"use_path_style"`

	// MaxRetries is the max retry attempts for S3 operations (default: 3)
	MaxRetries int `yaml:"max_retries"`
}

// S3ArchiveBackend stores archived snapshot blobs in S3 or an S3-compatible
// service.
type S3ArchiveBackend struct {
	client  *s3.Client
	config  S3ArchiveConfig
	retryer *Retryer
}

// NewS3ArchiveBackend creates the S3 archive backend.
func NewS3ArchiveBackend(cfg S3ArchiveConfig) (*S3ArchiveBackend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &S3ArchiveBackend{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
		retryer: NewRetryer(RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			RetryIf:     IsRetryable,
		}),
	}, nil
}

// Put uploads an archive object.
func (b *S3ArchiveBackend) Put(ctx context.Context, key string, data []byte) error {
	fullKey := b.config.Prefix + key
	return b.retryer.Do(ctx, func() error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.config.Bucket),
			Key:    aws.String(fullKey),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return fmt.Errorf("S3 put object failed: %w", err)
		}
		return nil
	})
}

// Get downloads an archive object.
func (b *S3ArchiveBackend) Get(ctx context.Context, key string) ([]byte, error) {
	fullKey := b.config.Prefix + key
	var data []byte
	err := b.retryer.Do(ctx, func() error {
		resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.config.Bucket),
			Key:    aws.String(fullKey),
		})
		if err != nil {
			return fmt.Errorf("S3 get object failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("S3 read body failed: %w", err)
		}
		return nil
	})
	return data, err
}

// List returns archive keys under a prefix.
func (b *S3ArchiveBackend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := b.config.Prefix + prefix
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.config.Bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 list objects failed: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, (*obj.Key)[len(b.config.Prefix):])
			}
		}
	}
	return keys, nil
}

// Delete removes an archive object.
func (b *S3ArchiveBackend) Delete(ctx context.Context, key string) error {
	fullKey := b.config.Prefix + key
	return b.retryer.Do(ctx, func() error {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.config.Bucket),
			Key:    aws.String(fullKey),
		})
		if err != nil {
			return fmt.Errorf("S3 delete object failed: %w", err)
		}
		return nil
	})
}

// Close releases resources. The S3 client holds none.
func (b *S3ArchiveBackend) Close() error { return nil }

// MemoryArchiveBackend is an in-memory ArchiveBackend for tests.
type MemoryArchiveBackend struct {
	objects map[string][]byte
}

// NewMemoryArchiveBackend creates an empty in-memory archive backend.
func NewMemoryArchiveBackend() *MemoryArchiveBackend {
	return &MemoryArchiveBackend{objects: make(map[string][]byte)}
}

func (b *MemoryArchiveBackend) Put(_ context.Context, key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[key] = cp
	return nil
}

func (b *MemoryArchiveBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("archive object not found: %s", key)
	}
	return data, nil
}

func (b *MemoryArchiveBackend) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range b.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (b *MemoryArchiveBackend) Delete(_ context.Context, key string) error {
	delete(b.objects, key)
	return nil
}

func (b *MemoryArchiveBackend) Close() error { return nil }

// SnapshotArchive offloads superseded authoritative snapshots to long-term
// object storage: the storage half of the bounded-history retention policy.
// Blobs are snappy-compressed JSON, optionally encrypted at rest.
type SnapshotArchive struct {
	backend   ArchiveBackend
	encryptor *Encryptor
}

// NewSnapshotArchive wraps a backend, optionally encrypting blobs.
func NewSnapshotArchive(backend ArchiveBackend, encryptor *Encryptor) *SnapshotArchive {
	return &SnapshotArchive{backend: backend, encryptor: encryptor}
}

func archiveKey(userID string, version int64, takenAt time.Time) string {
	return fmt.Sprintf("%s/%012d-%d.snap", userID, version, takenAt.UnixMilli())
}

// Store archives a snapshot.
func (a *SnapshotArchive) Store(ctx context.Context, userID string, snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode archive snapshot: %w", err)
	}
	blob := snappy.Encode(nil, raw)
	if a.encryptor != nil {
		if blob, err = a.encryptor.Encrypt(blob); err != nil {
			return fmt.Errorf("encrypt archive snapshot: %w", err)
		}
	}
	return a.backend.Put(ctx, archiveKey(userID, snap.Version, snap.Timestamp), blob)
}

// Fetch retrieves an archived snapshot by key (as returned by List).
func (a *SnapshotArchive) Fetch(ctx context.Context, key string) (*Snapshot, error) {
	blob, err := a.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if a.encryptor != nil {
		if blob, err = a.encryptor.Decrypt(blob); err != nil {
			return nil, fmt.Errorf("decrypt archive snapshot: %w", err)
		}
	}
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("decompress archive snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode archive snapshot: %w", err)
	}
	return &snap, nil
}

// List returns the archive keys for a user, usable with Fetch.
func (a *SnapshotArchive) List(ctx context.Context, userID string) ([]string, error) {
	return a.backend.List(ctx, userID+"/")
}

// Close releases the backend.
func (a *SnapshotArchive) Close() error {
	return a.backend.Close()
}
