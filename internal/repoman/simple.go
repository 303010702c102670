package repoman

import (
	"context"

	"github.com/lsst-sqre/cachemachine/pkg/nodecache"
)

// SimpleConfig configures a SimpleRepoMan: a static list of images.
type SimpleConfig struct {
	Images []Image `json:"images" validate:"required,min=1,dive"`
}

// SimpleRepoMan always desires the same fixed list of images,
// regardless of registry or cache state.
type SimpleRepoMan struct {
	images []Image
}

// NewSimpleRepoMan creates a repository manager for a static image
// list.
func NewSimpleRepoMan(cfg SimpleConfig) *SimpleRepoMan {
	images := make([]Image, len(cfg.Images))
	copy(images, cfg.Images)
	return &SimpleRepoMan{images: images}
}

func (s *SimpleRepoMan) DesiredImages(ctx context.Context, commonCache []nodecache.CachedImage) (DesiredImages, error) {
	return DesiredImages{Pull: s.images, All: s.images}, nil
}
