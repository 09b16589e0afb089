package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Source fetches a named database artifact to a local path this process can
// memory-map, mirroring the split the teacher's pkg/archive draws between
// FsArchive and an object-store-backed archive: the registry never cares
// which one produced the path it registers.
type Source interface {
	// Fetch resolves name (a workspace/acdb/writable-dir identifier) to a
	// local filesystem path, downloading it first if necessary.
	Fetch(ctx context.Context, name string) (string, error)
}

// FsSource resolves names directly under root; it never downloads anything.
type FsSource struct {
	root string
}

func NewFsSource(root string) *FsSource {
	return &FsSource{root: root}
}

func (s *FsSource) Fetch(ctx context.Context, name string) (string, error) {
	path := filepath.Join(s.root, name)
	if _, err := os.Stat(path); err != nil {
		return "", acdberr.Wrap(component, acdberr.ENOTEXIST, err)
	}
	return path, nil
}

// S3Source fetches objects from an S3 bucket into a local cache directory
// before the caller memory-maps them, used for artifact-bucket-distributed
// ACDB builds.
type S3Source struct {
	client    *s3.Client
	bucket    string
	cacheDir  string
	keyPrefix string
}

type S3SourceConfig struct {
	Bucket    string
	CacheDir  string
	KeyPrefix string

	// AccessKeyID/SecretAccessKey override the default AWS credential chain,
	// used in deployments where the artifact bucket lives in a different
	// account than the satellite host's instance role.
	AccessKeyID     string
	SecretAccessKey string
}

func NewS3Source(ctx context.Context, cfg S3SourceConfig) (*S3Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	return &S3Source{
		client:    s3.NewFromConfig(awsCfg),
		bucket:    cfg.Bucket,
		cacheDir:  cfg.CacheDir,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (s *S3Source) Fetch(ctx context.Context, name string) (string, error) {
	local := filepath.Join(s.cacheDir, filepath.FromSlash(name))
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	key := name
	if s.keyPrefix != "" {
		key = strings.TrimSuffix(s.keyPrefix, "/") + "/" + name
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return "", acdberr.Wrap(component, acdberr.EFAILED, fmt.Errorf("s3 get %s/%s: %w", s.bucket, key, err))
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	f, err := os.Create(local)
	if err != nil {
		return "", acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	defer f.Close()

	if _, err := f.ReadFrom(out.Body); err != nil {
		return "", acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	return local, nil
}
