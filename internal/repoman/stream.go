package repoman

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lsst-sqre/cachemachine/internal/registry"
	"github.com/lsst-sqre/cachemachine/pkg/logging"
	"github.com/lsst-sqre/cachemachine/pkg/nodecache"
	"github.com/lsst-sqre/cachemachine/pkg/tag"
)

// DefaultRegistryHost is used when a stream config does not name a
// registry.
const DefaultRegistryHost = "registry.hub.docker.com"

// StreamConfig configures a StreamRepoMan.
type StreamConfig struct {
	// RegistryHost is the registry to inspect. Defaults to the
	// official Docker registry.
	RegistryHost string `json:"registry_url"`

	// Repo is the repository to inspect, e.g. lsstsqre/sciplat-lab.
	Repo string `json:"repo" validate:"required"`

	// RecommendedTag, when set, is always desired and always pulled
	// first.
	RecommendedTag string `json:"recommended_tag"`

	NumReleases int `json:"num_releases" validate:"min=0"`
	NumWeeklies int `json:"num_weeklies" validate:"min=0"`
	NumDailies  int `json:"num_dailies" validate:"min=0"`

	// AliasTags are additional tags treated as pointers to other
	// images. The recommended tag is implicitly a member; "latest"
	// participates only when listed here explicitly.
	AliasTags []string `json:"alias_tags"`

	// Cycle, when set, restricts the ranked release/weekly/daily
	// candidates to images built for this XML schema cycle.
	Cycle *int `json:"cycle"`
}

// StreamRepoMan picks images from the release/weekly/daily tag streams
// of one repository: every alias tag (recommended first), then the
// newest N of each stream, ranked by the tag grammar.
type StreamRepoMan struct {
	cfg     StreamConfig
	client  registry.Client
	aliases []string
}

// NewStreamRepoMan creates a stream repository manager talking to the
// given registry client.
func NewStreamRepoMan(cfg StreamConfig, client registry.Client) *StreamRepoMan {
	if cfg.RegistryHost == "" {
		cfg.RegistryHost = DefaultRegistryHost
	}

	var aliases []string
	if cfg.RecommendedTag != "" {
		aliases = append(aliases, cfg.RecommendedTag)
	}
	for _, a := range cfg.AliasTags {
		if a != "" && !containsString(aliases, a) {
			aliases = append(aliases, a)
		}
	}

	return &StreamRepoMan{cfg: cfg, client: client, aliases: aliases}
}

func (s *StreamRepoMan) DesiredImages(ctx context.Context, commonCache []nodecache.CachedImage) (DesiredImages, error) {
	rawTags, err := s.client.ListTags(ctx)
	if err != nil {
		return DesiredImages{}, err
	}

	parsed := make([]tag.Tag, 0, len(rawTags))
	all := make([]Image, 0, len(rawTags))
	for _, t := range rawTags {
		parsed = append(parsed, tag.Parse(t, s.aliases))
		// The display dropdown wants the raw tag, not the friendly
		// name.
		all = append(all, Image{URL: s.imageURL(t), Name: t})
	}

	ranked := s.rank(parsed)

	// Resolve digests for everything we intend to pull. Ranked images
	// first so alias resolution below can reuse their digests.
	digests := make(map[string]string, len(ranked)+len(s.aliases))
	for _, t := range ranked {
		d, err := s.client.Digest(ctx, t.Raw)
		if err != nil {
			return DesiredImages{}, err
		}
		digests[t.Raw] = d
	}

	var pull []Image
	for _, a := range s.aliases {
		if !containsRaw(parsed, a) {
			continue
		}
		d, err := s.client.Digest(ctx, a)
		if err != nil {
			return DesiredImages{}, err
		}
		pull = append(pull, Image{
			URL:    s.imageURL(a),
			Digest: d,
			Name:   s.aliasDisplayName(a, d, ranked, digests, commonCache),
		})
	}

	for _, t := range ranked {
		pull = append(pull, Image{
			URL:    s.imageURL(t.Raw),
			Digest: digests[t.Raw],
			Name:   t.DisplayName,
		})
	}

	logging.Logger.Info("Stream repoman computed desired images",
		zap.String("repo", s.cfg.Repo),
		zap.Int("pull", len(pull)),
		zap.Int("all", len(all)))

	return DesiredImages{Pull: pull, All: all}, nil
}

// rank picks the newest N tags of each stream, releases first, then
// weeklies, then dailies, honoring the cycle restriction.
func (s *StreamRepoMan) rank(parsed []tag.Tag) []tag.Tag {
	eligible := parsed
	if s.cfg.Cycle != nil {
		eligible = nil
		for _, t := range parsed {
			if t.Cycle != nil && *t.Cycle == *s.cfg.Cycle {
				eligible = append(eligible, t)
			}
		}
	}

	var ranked []tag.Tag
	ranked = append(ranked, tag.Newest(eligible, tag.Release, s.cfg.NumReleases)...)
	ranked = append(ranked, tag.Newest(eligible, tag.Weekly, s.cfg.NumWeeklies)...)
	ranked = append(ranked, tag.Newest(eligible, tag.Daily, s.cfg.NumDailies)...)
	return ranked
}

// aliasDisplayName resolves what an alias tag points at by digest and
// builds a combined name such as "Recommended (Weekly 2021_22)". The
// ranked registry tags are consulted first, then the tags other nodes
// pulled the same digest by.
func (s *StreamRepoMan) aliasDisplayName(alias, digest string, ranked []tag.Tag, digests map[string]string, commonCache []nodecache.CachedImage) string {
	base := tag.Parse(alias, s.aliases).DisplayName

	var resolved []string
	for _, t := range ranked {
		if digests[t.Raw] == digest && !containsString(resolved, t.DisplayName) {
			resolved = append(resolved, t.DisplayName)
		}
	}
	if len(resolved) == 0 {
		for _, ci := range commonCache {
			if ci.Digest != digest {
				continue
			}
			for _, other := range ci.Tags {
				if other == alias {
					continue
				}
				pt := tag.Parse(other, s.aliases)
				if pt.Kind == tag.Alias || pt.Kind == tag.Unknown {
					continue
				}
				if !containsString(resolved, pt.DisplayName) {
					resolved = append(resolved, pt.DisplayName)
				}
			}
		}
	}

	if len(resolved) == 0 {
		return base
	}
	return fmt.Sprintf("%s (%s)", base, strings.Join(resolved, ", "))
}

func (s *StreamRepoMan) imageURL(t string) string {
	return fmt.Sprintf("%s/%s:%s", s.cfg.RegistryHost, s.cfg.Repo, t)
}

func containsRaw(tags []tag.Tag, raw string) bool {
	for _, t := range tags {
		if t.Raw == raw {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
