// Package repoman holds the repository managers: the pluggable
// strategies that decide, from the registry and the current common
// cache, which images a machine should pull.
package repoman

import (
	"context"

	"github.com/lsst-sqre/cachemachine/pkg/nodecache"
)

// Image is one image a repository manager wants pulled or displayed.
type Image struct {
	// URL is the registry/repository:tag reference to pull by.
	URL string `json:"image_url"`

	// Digest pins the image content. Empty means any digest for this
	// URL is acceptable.
	Digest string `json:"image_hash,omitempty"`

	// Name is the friendly name to present to the user.
	Name string `json:"name"`
}

// DesiredImages is the result of one repository manager invocation.
type DesiredImages struct {
	// Pull is the priority-ordered list of images to ensure are
	// cached. Index 0 is pulled first.
	Pull []Image

	// All is the full display list of known images, for introspection
	// only; nothing is pulled from it.
	All []Image
}

// RepoMan decides which images are desirable given the current common
// cache. Implementations may reach out to a registry but must not
// mutate commonCache, and must be deterministic for a given registry
// state and cache.
type RepoMan interface {
	DesiredImages(ctx context.Context, commonCache []nodecache.CachedImage) (DesiredImages, error)
}
