// Package nodecache reconstructs, from raw per-node image name lists,
// the set of images resident on every node matching a label selector.
package nodecache

import (
	"strings"

	"go.uber.org/zap"

	"github.com/lsst-sqre/cachemachine/pkg/logging"
)

// Node is the slice of cluster node state the intersection needs: its
// labels and the image name groups reported by the container runtime.
// Each group holds every name one pulled image is known by on that
// node, typically repository@digest entries alongside repository:tag
// entries.
type Node struct {
	Name        string
	Labels      map[string]string
	ImageGroups [][]string

	// Unschedulable is true for cordoned or tainted-NoSchedule nodes.
	// Such nodes cannot receive pull pods, so they neither gate nor
	// contribute to the common cache.
	Unschedulable bool
}

// CachedImage is one image+tag known to be resident, either on a
// single node or (after intersection) on every matching node.
type CachedImage struct {
	// URL is the repository:tag reference for the image.
	URL string `json:"image_url"`

	// Digest is the sha256 content hash of the pulled image.
	Digest string `json:"image_hash"`

	// Tags are the other tags this digest is also known by, not
	// including the tag embedded in URL.
	Tags []string `json:"tags"`
}

// Selector is a node label selector. It matches a node when every
// entry is present in the node's labels.
type Selector map[string]string

// Matches reports whether the selector is a subset of labels.
func (s Selector) Matches(labels map[string]string) bool {
	for k, v := range s {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// imageEntry accumulates what one node knows about one repository: its
// digest and every tag it was pulled by.
type imageEntry struct {
	digest string
	tags   []string
}

// Intersect computes the common cache: every CachedImage whose
// (URL, digest) pair is present on all nodes matched by selector. The
// tag sets of matching images are unioned, since different nodes may
// have pulled the same digest by different names. With zero matching
// nodes the result is empty, signaling "no information yet."
func Intersect(nodes []Node, selector Selector) []CachedImage {
	var common []CachedImage
	first := true

	for _, n := range nodes {
		logging.Logger.Debug("Inspecting node cache",
			zap.String("node", n.Name),
			zap.Any("labels", n.Labels))

		if n.Unschedulable || !selector.Matches(n.Labels) {
			continue
		}

		nodeImages := structureNode(n)

		if first {
			common = nodeImages
			first = false
			continue
		}

		var next []CachedImage
		for _, ci := range common {
			for _, ni := range nodeImages {
				if ci.URL != ni.URL || ci.Digest != ni.Digest {
					continue
				}
				for _, t := range ni.Tags {
					if !containsString(ci.Tags, t) {
						ci.Tags = append(ci.Tags, t)
					}
				}
				next = append(next, ci)
				break
			}
		}
		common = next
	}

	return common
}

// structureNode turns a node's raw name groups into CachedImages, one
// per repository:tag pair. Groups lacking a resolvable digest are
// logged and skipped; they cannot participate in a digest-keyed
// intersection.
func structureNode(n Node) []CachedImage {
	var images []CachedImage

	for _, group := range n.ImageGroups {
		entries := make(map[string]*imageEntry)
		var order []string

		for _, url := range group {
			if url == "<none>@<none>" || url == "<none>:<none>" {
				continue
			}
			if repo, digest, ok := strings.Cut(url, "@"); ok {
				e := entryFor(entries, &order, repo)
				e.digest = digest
				continue
			}
			idx := strings.LastIndex(url, ":")
			if idx < 0 {
				logging.Logger.Warn("Image name has no tag or digest, skipping",
					zap.String("node", n.Name),
					zap.String("name", url))
				continue
			}
			repo, t := url[:idx], url[idx+1:]
			e := entryFor(entries, &order, repo)
			if !containsString(e.tags, t) {
				e.tags = append(e.tags, t)
			}
		}

		for _, repo := range order {
			e := entries[repo]
			if e.digest == "" {
				logging.Logger.Warn("Image group has no digest, skipping",
					zap.String("node", n.Name),
					zap.String("repository", repo),
					zap.Strings("tags", e.tags))
				continue
			}
			for i, t := range e.tags {
				others := make([]string, 0, len(e.tags)-1)
				others = append(others, e.tags[:i]...)
				others = append(others, e.tags[i+1:]...)
				images = append(images, CachedImage{
					URL:    repo + ":" + t,
					Digest: e.digest,
					Tags:   others,
				})
			}
		}
	}

	return images
}

func entryFor(entries map[string]*imageEntry, order *[]string, repo string) *imageEntry {
	if e, ok := entries[repo]; ok {
		return e
	}
	e := &imageEntry{}
	entries[repo] = e
	*order = append(*order, repo)
	return e
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
