package repoman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lsst-sqre/cachemachine/internal/registry"
)

// ErrUnknownType reports a repoman spec whose type has no registered
// constructor. The management API maps it to a client error.
var ErrUnknownType = errors.New("unknown repoman type")

// RegistryFactory builds the registry client a stream repoman uses.
// Injectable so tests can supply a fake registry.
type RegistryFactory func(ctx context.Context, registryHost, repository string) (registry.Client, error)

// DefaultRegistryFactory builds production registry clients with
// in-cluster credential discovery.
func DefaultRegistryFactory(ctx context.Context, registryHost, repository string) (registry.Client, error) {
	return registry.NewClientWithK8sAuth(ctx, registryHost, repository)
}

// typeProbe peels off just the type discriminator of a repoman spec.
type typeProbe struct {
	Type string `json:"type"`
}

// New constructs a repository manager from one entry of a machine
// creation body, dispatching on its "type" field.
func New(ctx context.Context, raw json.RawMessage, newRegistry RegistryFactory) (RepoMan, error) {
	var probe typeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse repoman spec: %w", err)
	}

	switch probe.Type {
	case "simple":
		var cfg SimpleConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse simple repoman spec: %w", err)
		}
		if len(cfg.Images) == 0 {
			return nil, errors.New("simple repoman requires at least one image")
		}
		return NewSimpleRepoMan(cfg), nil
	case "stream":
		var cfg StreamConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse stream repoman spec: %w", err)
		}
		if cfg.Repo == "" {
			return nil, errors.New("stream repoman requires a repo")
		}
		if cfg.RegistryHost == "" {
			cfg.RegistryHost = DefaultRegistryHost
		}
		client, err := newRegistry(ctx, cfg.RegistryHost, cfg.Repo)
		if err != nil {
			return nil, fmt.Errorf("failed to create registry client: %w", err)
		}
		return NewStreamRepoMan(cfg, client), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
}
