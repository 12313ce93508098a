package consul

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/log"
)

// Consul KV has a default limit of 512KB per value
const defaultMaxObjectSize = 500 * 1024

// ConsulBackend stores files in the HashiCorp Consul KV store.
//
// Layout below the configured prefix:
//
//	state/next_id   next ID to allocate, 8 bytes little-endian
//	data/<ID>       raw file data
//	tags/<ID>       encoded tag stream
//
// Every write is a KV transaction, so IDs are unique across all processes
// sharing the prefix and data and tags of a new file appear together.
type ConsulBackend struct {
	mu     sync.RWMutex
	client *api.Client
	kv     *api.KV
	open   bool

	opts *tbf.BackendOptions
	log  *log.Logger

	// Configuration
	config *ConsulBackendConfig
}

// ConsulBackendConfig contains configuration options for the Consul backend
type ConsulBackendConfig struct {
	// Address of the Consul server (default: "127.0.0.1:8500")
	Address string

	// Token for Consul ACL authentication (optional)
	Token string

	// Datacenter to use (optional)
	Datacenter string

	// Namespace for Consul Enterprise (optional)
	Namespace string

	// Prefix for all keys in Consul KV (default: "tbf/")
	Prefix string
}

// NewConsulBackend creates a new Consul-backed file store
func NewConsulBackend(config *ConsulBackendConfig, opts ...tbf.BackendOption) (*ConsulBackend, error) {
	if config == nil {
		config = &ConsulBackendConfig{}
	}

	// Set defaults
	if config.Address == "" {
		config.Address = "127.0.0.1:8500"
	}

	config.Prefix = strings.TrimPrefix(config.Prefix, "/")
	if config.Prefix == "" {
		config.Prefix = "tbf/"
	}
	if !strings.HasSuffix(config.Prefix, "/") {
		config.Prefix += "/"
	}

	options, err := tbf.NewBackendOptions(append([]tbf.BackendOption{
		tbf.WithMaxObjectSize(defaultMaxObjectSize),
	}, opts...)...)
	if err != nil {
		return nil, err
	}

	// Create Consul client
	clientConfig := api.DefaultConfig()
	clientConfig.Address = config.Address
	if config.Token != "" {
		clientConfig.Token = config.Token
	}
	if config.Datacenter != "" {
		clientConfig.Datacenter = config.Datacenter
	}
	if config.Namespace != "" {
		clientConfig.Namespace = config.Namespace
	}

	client, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tbf.ErrInvalidArgument, err)
	}

	return &ConsulBackend{
		client: client,
		kv:     client.KV(),
		opts:   options,
		log:    options.Logger.Named("consul"),
		config: config,
	}, nil
}

// Name returns the identifier name defined for this backend
func (*ConsulBackend) Name() string {
	return "consul"
}

// Open verifies that the cluster has a leader and is able to serve writes.
func (cb *ConsulBackend) Open(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	leader, err := cb.client.Status().Leader()
	if err != nil {
		return tbf.Source("open", err)
	}
	if leader == "" {
		return tbf.Source("open", fmt.Errorf("consul cluster at %s has no leader", cb.config.Address))
	}

	cb.open = true
	cb.log.Info("Opened consul kv at '%s' with prefix '%s'", cb.config.Address, cb.config.Prefix)

	return nil
}

// Close is part of the lifecycle behaviour; the consul client is stateless.
func (cb *ConsulBackend) Close(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.open = false
	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend
func (cb *ConsulBackend) GetCapabilities() *tbf.Capabilities {
	return &tbf.Capabilities{
		Capabilities: []tbf.Capability{
			tbf.CapabilityPersistent,
			tbf.CapabilityIdempotentRemove,
			tbf.CapabilityAtomicAdd,
			tbf.CapabilitySharedCounter,
		},
		MaxObjectSize: cb.opts.MaxObjectSize,
	}
}

func (cb *ConsulBackend) usable() error {
	if !cb.open {
		return tbf.ErrNotOpen
	}

	return nil
}

func (cb *ConsulBackend) counterKey() string {
	return cb.config.Prefix + "state/next_id"
}

func (cb *ConsulBackend) dataKey(id tbf.FileId) string {
	return cb.config.Prefix + "data/" + id.String()
}

func (cb *ConsulBackend) tagsPrefix() string {
	return cb.config.Prefix + "tags/"
}

func (cb *ConsulBackend) tagsKey(id tbf.FileId) string {
	return cb.tagsPrefix() + id.String()
}
