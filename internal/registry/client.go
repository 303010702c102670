// Package registry queries a Docker v2 registry for the tags of a
// repository and the content digests they resolve to.
package registry

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/authn/k8schain"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"go.uber.org/zap"

	"github.com/lsst-sqre/cachemachine/pkg/logging"
)

// Client is the registry surface the repository managers consume.
type Client interface {
	// ListTags lists every tag of the repository.
	ListTags(ctx context.Context) ([]string, error)

	// Digest resolves a tag to its sha256 content digest.
	Digest(ctx context.Context, tag string) (string, error)
}

// Error wraps a network or auth failure while talking to the registry.
// Callers treat it as tick-local: log, abort the tick, retry on the
// next poll interval.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type client struct {
	repo name.Repository
	auth remote.Option
}

// NewClient creates a registry client for one repository, e.g.
// ("registry.hub.docker.com", "lsstsqre/sciplat-lab"). Credentials come
// from the default keychain (~/.docker/config.json and credential
// helpers); registries that challenge with Basic or Bearer auth are
// handled by the transport.
func NewClient(registryHost, repository string) (Client, error) {
	repo, err := name.NewRepository(registryHost + "/" + repository)
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository %s/%s: %w",
			registryHost, repository, err)
	}
	return &client{
		repo: repo,
		auth: remote.WithAuthFromKeychain(authn.DefaultKeychain),
	}, nil
}

// NewClientWithBasicAuth creates a registry client with explicit
// credentials, typically loaded from a mounted .dockerconfigjson.
func NewClientWithBasicAuth(registryHost, repository, username, password string) (Client, error) {
	repo, err := name.NewRepository(registryHost + "/" + repository)
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository %s/%s: %w",
			registryHost, repository, err)
	}
	return &client{
		repo: repo,
		auth: remote.WithAuth(&authn.Basic{Username: username, Password: password}),
	}, nil
}

// NewClientWithK8sAuth creates a registry client that discovers
// credentials from the cluster: image pull secrets on the service
// account, node IAM credentials, and credential helpers. Falls back to
// the default keychain if the in-cluster keychain cannot be built.
func NewClientWithK8sAuth(ctx context.Context, registryHost, repository string) (Client, error) {
	repo, err := name.NewRepository(registryHost + "/" + repository)
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository %s/%s: %w",
			registryHost, repository, err)
	}

	keychain, err := k8schain.NewInCluster(ctx, k8schain.Options{})
	if err != nil {
		logging.Logger.Warn("K8s keychain not available, using default keychain",
			zap.Error(err))
		keychain = authn.DefaultKeychain
	}

	return &client{
		repo: repo,
		auth: remote.WithAuthFromKeychain(keychain),
	}, nil
}

func (c *client) ListTags(ctx context.Context) ([]string, error) {
	tags, err := remote.List(c.repo, c.auth, remote.WithContext(ctx))
	if err != nil {
		return nil, &Error{Op: "list tags", Err: err}
	}
	logging.Logger.Debug("Registry returned tags",
		zap.String("repository", c.repo.String()),
		zap.Int("count", len(tags)))
	return tags, nil
}

func (c *client) Digest(ctx context.Context, tag string) (string, error) {
	desc, err := remote.Head(c.repo.Tag(tag), c.auth, remote.WithContext(ctx))
	if err != nil {
		return "", &Error{Op: "resolve digest for " + tag, Err: err}
	}
	return desc.Digest.String(), nil
}
