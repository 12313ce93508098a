// Package backend resolves backend addresses into file store implementations.
package backend

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/backend/consul"
	"github.com/mwantia/tbf/backend/directory"
	"github.com/mwantia/tbf/backend/memory"
	"github.com/mwantia/tbf/backend/postgres"
	"github.com/mwantia/tbf/backend/s3"
	"github.com/mwantia/tbf/backend/sqlite"
)

// ParseBackendAddress creates an unopened backend for the address. Supported forms:
//
//	:memory:, memory://
//	dir://<path>, directory://<path>
//	sqlite://<path>, sqlite://:memory:
//	postgres://..., postgresql://..., psql://...
//	consul://<host:port>?prefix=&token=&datacenter=&namespace=
//	s3://<endpoint>/<bucket>[/<prefix>]?access_key=&secret_key=&ssl=
func ParseBackendAddress(address string, opts ...tbf.BackendOption) (tbf.FileSystem, error) {
	// Format address
	address = strings.TrimSpace(address)
	// Quick check to identify if we work with a possibly valid address
	if !strings.Contains(address, ":") {
		return nil, fmt.Errorf("failed to parse address '%s': %w", address, tbf.ErrMalformedBackendAddress)
	}
	// Special 'direct no address declarations'
	switch address {
	case ":memory:", "memory://":
		return memory.NewMemoryBackend(opts...)
	}
	// Protocol-based parsing
	switch {
	case strings.HasPrefix(address, "dir://"):
		return parseDirectoryAddress(strings.TrimPrefix(address, "dir://"), opts)
	case strings.HasPrefix(address, "directory://"):
		return parseDirectoryAddress(strings.TrimPrefix(address, "directory://"), opts)
	case strings.HasPrefix(address, "sqlite://"):
		return parseSqliteAddress(strings.TrimPrefix(address, "sqlite://"), opts)
	case strings.HasPrefix(address, "postgres://"), strings.HasPrefix(address, "postgresql://"):
		return postgres.NewPostgresBackend(address, opts...)
	case strings.HasPrefix(address, "psql://"):
		return postgres.NewPostgresBackend("postgres://"+strings.TrimPrefix(address, "psql://"), opts...)
	case strings.HasPrefix(address, "consul://"):
		return parseConsulAddress(address, opts)
	case strings.HasPrefix(address, "s3://"):
		return parseS3Address(address, opts)
	case strings.HasPrefix(address, "minio://"):
		return parseS3Address("s3://"+strings.TrimPrefix(address, "minio://"), opts)
	}

	return nil, fmt.Errorf("failed to parse address '%s': %w", address, tbf.ErrUnknownBackendAddress)
}

func parseDirectoryAddress(path string, opts []tbf.BackendOption) (tbf.FileSystem, error) {
	if path == "" {
		return nil, fmt.Errorf("directory address without path: %w", tbf.ErrMalformedBackendAddress)
	}

	return directory.NewDirectoryBackend(path, opts...)
}

func parseSqliteAddress(path string, opts []tbf.BackendOption) (tbf.FileSystem, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite address without path: %w", tbf.ErrMalformedBackendAddress)
	}

	return sqlite.NewSQLiteBackend(path, opts...)
}

// consul://<host:port>?prefix=&token=&datacenter=&namespace=
func parseConsulAddress(address string, opts []tbf.BackendOption) (tbf.FileSystem, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse address '%s': %w: %w", address, tbf.ErrMalformedBackendAddress, err)
	}

	query := u.Query()
	return consul.NewConsulBackend(&consul.ConsulBackendConfig{
		Address:    u.Host,
		Token:      query.Get("token"),
		Datacenter: query.Get("datacenter"),
		Namespace:  query.Get("namespace"),
		Prefix:     query.Get("prefix"),
	}, opts...)
}

// s3://<endpoint>/<bucket>[/<prefix>]?access_key=&secret_key=&ssl=
func parseS3Address(address string, opts []tbf.BackendOption) (tbf.FileSystem, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse address '%s': %w: %w", address, tbf.ErrMalformedBackendAddress, err)
	}

	bucket, prefix, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if u.Host == "" || bucket == "" {
		return nil, fmt.Errorf("s3 address '%s' requires endpoint and bucket: %w", address, tbf.ErrMalformedBackendAddress)
	}

	query := u.Query()
	useSSL := false
	if raw := query.Get("ssl"); raw != "" {
		useSSL, err = strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ssl flag '%s': %w", raw, tbf.ErrMalformedBackendAddress)
		}
	}

	return s3.NewS3Backend(&s3.S3BackendConfig{
		Endpoint:  u.Host,
		Bucket:    bucket,
		Prefix:    prefix,
		AccessKey: query.Get("access_key"),
		SecretKey: query.Get("secret_key"),
		UseSSL:    useSSL,
	}, opts...)
}
