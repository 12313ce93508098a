package s3

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/log"
)

const (
	dataExt = ".dat"
	tagsExt = ".tag"
)

// S3Backend stores files as objects in an S3 compatible bucket, using the same
// naming as the directory backend: <prefix><ID>.dat, <prefix><ID>.tag and the
// counter object <prefix>tbf.dat.
//
// Allocation is serialized by the instance lock only; a single writing process
// per prefix is assumed.
type S3Backend struct {
	mu sync.RWMutex

	client *minio.Client
	config *S3BackendConfig
	opts   *tbf.BackendOptions
	log    *log.Logger

	next     uint64
	open     bool
	poisoned error
}

// S3BackendConfig contains configuration options for the S3 backend
type S3BackendConfig struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func NewS3Backend(config *S3BackendConfig, opts ...tbf.BackendOption) (*S3Backend, error) {
	if config == nil || config.Endpoint == "" || config.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 backend requires an endpoint and a bucket", tbf.ErrInvalidArgument)
	}

	config.Prefix = strings.TrimPrefix(config.Prefix, "/")
	if config.Prefix != "" && !strings.HasSuffix(config.Prefix, "/") {
		config.Prefix += "/"
	}

	options, err := tbf.NewBackendOptions(opts...)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tbf.ErrInvalidArgument, err)
	}

	return &S3Backend{
		client: client,
		config: config,
		opts:   options,
		log:    options.Logger.Named("s3"),
	}, nil
}

// Returns the identifier name defined for this backend
func (*S3Backend) Name() string {
	return "s3"
}

// Open checks the bucket and loads the persisted counter.
func (sb *S3Backend) Open(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	exists, err := sb.client.BucketExists(ctx, sb.config.Bucket)
	if err != nil {
		return tbf.Source("open", err)
	}

	if !exists {
		return fmt.Errorf("%w: %w: bucket '%s'", tbf.ErrState, tbf.ErrBackendNotExists, sb.config.Bucket)
	}

	next, err := sb.loadCounter(ctx)
	if err != nil {
		return err
	}

	next, err = sb.recoverCounter(ctx, next)
	if err != nil {
		return err
	}

	sb.next = next
	sb.open = true
	sb.poisoned = nil
	sb.log.Info("Opened bucket '%s' with prefix '%s' and next id %s", sb.config.Bucket, sb.config.Prefix, tbf.FileId(next))

	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (sb *S3Backend) Close(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.open = false
	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (sb *S3Backend) GetCapabilities() *tbf.Capabilities {
	return &tbf.Capabilities{
		Capabilities: []tbf.Capability{
			tbf.CapabilityPersistent,
			tbf.CapabilityIdempotentRemove,
		},
		MaxObjectSize: sb.opts.MaxObjectSize,
	}
}

func (sb *S3Backend) usable() error {
	if sb.poisoned != nil {
		return sb.poisoned
	}
	if !sb.open {
		return tbf.ErrNotOpen
	}

	return nil
}

func (sb *S3Backend) counterKey() string {
	return sb.config.Prefix + sb.opts.CounterFile
}

func (sb *S3Backend) dataKey(id tbf.FileId) string {
	return sb.config.Prefix + id.String() + dataExt
}

func (sb *S3Backend) tagsKey(id tbf.FileId) string {
	return sb.config.Prefix + id.String() + tagsExt
}

// parseKey extracts the ID from an artifact key directly below the prefix.
func (sb *S3Backend) parseKey(key, ext string) (tbf.FileId, bool) {
	name, found := strings.CutPrefix(key, sb.config.Prefix)
	if !found || strings.Contains(name, "/") || path.Ext(name) != ext {
		return 0, false
	}

	id, err := tbf.ParseFileId(strings.TrimSuffix(name, ext))
	if err != nil || id.IsSpecial() {
		return 0, false
	}

	return id, true
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
