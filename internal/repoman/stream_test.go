package repoman_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lsst-sqre/cachemachine/internal/repoman"
	"github.com/lsst-sqre/cachemachine/pkg/nodecache"
)

var _ = Describe("StreamRepoMan", func() {
	const (
		host = "registry.example.com"
		repo = "sqre/sciplat-lab"
	)

	url := func(tag string) string {
		return host + "/" + repo + ":" + tag
	}

	var reg *fakeRegistry

	BeforeEach(func() {
		reg = &fakeRegistry{
			tags: []string{
				"recommended",
				"r21_0_0",
				"w_2021_03",
				"w_2021_02",
				"d_2021_01_13",
				"d_2021_01_12",
			},
			digests: map[string]string{
				"recommended":  "sha256:rec",
				"r21_0_0":      "sha256:rec",
				"w_2021_03":    "sha256:w3",
				"w_2021_02":    "sha256:w2",
				"d_2021_01_13": "sha256:d13",
				"d_2021_01_12": "sha256:d12",
			},
		}
	})

	It("desires the aliases and the newest of each stream", func() {
		rm := repoman.NewStreamRepoMan(repoman.StreamConfig{
			RegistryHost:   host,
			Repo:           repo,
			RecommendedTag: "recommended",
			NumReleases:    1,
			NumWeeklies:    1,
			NumDailies:     1,
		}, reg)

		di, err := rm.DesiredImages(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(di.Pull).To(Equal([]repoman.Image{
			{URL: url("recommended"), Digest: "sha256:rec", Name: "Recommended (Release r21.0.0)"},
			{URL: url("r21_0_0"), Digest: "sha256:rec", Name: "Release r21.0.0"},
			{URL: url("w_2021_03"), Digest: "sha256:w3", Name: "Weekly 2021_03"},
			{URL: url("d_2021_01_13"), Digest: "sha256:d13", Name: "Daily 2021_01_13"},
		}))

		Expect(di.All).To(HaveLen(len(reg.tags)))
		Expect(di.All[0]).To(Equal(repoman.Image{URL: url("recommended"), Name: "recommended"}))
		Expect(di.All[1]).To(Equal(repoman.Image{URL: url("r21_0_0"), Name: "r21_0_0"}))
	})

	It("resolves the recommended name from the common cache when no ranked tag matches", func() {
		rm := repoman.NewStreamRepoMan(repoman.StreamConfig{
			RegistryHost:   host,
			Repo:           repo,
			RecommendedTag: "recommended",
		}, reg)

		cache := []nodecache.CachedImage{
			{URL: url("recommended"), Digest: "sha256:rec", Tags: []string{"w_2021_22"}},
		}
		di, err := rm.DesiredImages(context.Background(), cache)
		Expect(err).NotTo(HaveOccurred())

		Expect(di.Pull).To(Equal([]repoman.Image{
			{URL: url("recommended"), Digest: "sha256:rec", Name: "Recommended (Weekly 2021_22)"},
		}))
	})

	It("leaves the alias name bare when nothing resolves the digest", func() {
		rm := repoman.NewStreamRepoMan(repoman.StreamConfig{
			RegistryHost:   host,
			Repo:           repo,
			RecommendedTag: "recommended",
		}, reg)

		di, err := rm.DesiredImages(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(di.Pull).To(HaveLen(1))
		Expect(di.Pull[0].Name).To(Equal("Recommended"))
	})

	It("skips alias tags absent from the registry", func() {
		rm := repoman.NewStreamRepoMan(repoman.StreamConfig{
			RegistryHost:   host,
			Repo:           repo,
			RecommendedTag: "recommended",
			AliasTags:      []string{"latest"},
		}, reg)

		di, err := rm.DesiredImages(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(di.Pull).To(HaveLen(1))
		Expect(di.Pull[0].URL).To(Equal(url("recommended")))
	})

	It("restricts ranked streams to the configured cycle", func() {
		cycle := 20
		reg.tags = []string{"w_2021_13_c0020.001", "w_2021_22", "w_2021_12_c0019.001"}
		reg.digests = map[string]string{
			"w_2021_13_c0020.001": "sha256:w13",
			"w_2021_22":           "sha256:w22",
			"w_2021_12_c0019.001": "sha256:w12",
		}

		rm := repoman.NewStreamRepoMan(repoman.StreamConfig{
			RegistryHost: host,
			Repo:         repo,
			NumWeeklies:  2,
			Cycle:        &cycle,
		}, reg)

		di, err := rm.DesiredImages(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(di.Pull).To(Equal([]repoman.Image{
			{URL: url("w_2021_13_c0020.001"), Digest: "sha256:w13", Name: "Weekly 2021_13_c0020.001"},
		}))
	})

	It("propagates registry errors", func() {
		reg.listErr = context.DeadlineExceeded
		rm := repoman.NewStreamRepoMan(repoman.StreamConfig{
			RegistryHost: host,
			Repo:         repo,
			NumWeeklies:  1,
		}, reg)

		_, err := rm.DesiredImages(context.Background(), nil)
		Expect(err).To(MatchError(context.DeadlineExceeded))

		reg.listErr = nil
		delete(reg.digests, "w_2021_03")
		_, err = rm.DesiredImages(context.Background(), nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("SimpleRepoMan", func() {
	It("always desires its static list", func() {
		images := []repoman.Image{
			{URL: "registry.example.com/a:1", Name: "A"},
			{URL: "registry.example.com/b:2", Digest: "sha256:b", Name: "B"},
		}
		rm := repoman.NewSimpleRepoMan(repoman.SimpleConfig{Images: images})

		di, err := rm.DesiredImages(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(di.Pull).To(Equal(images))
		Expect(di.All).To(Equal(images))
	})
})
