package repoman_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lsst-sqre/cachemachine/internal/registry"
	"github.com/lsst-sqre/cachemachine/internal/repoman"
)

var _ = Describe("New", func() {
	var created []string

	fakeFactory := func(ctx context.Context, registryHost, repository string) (registry.Client, error) {
		created = append(created, registryHost+"/"+repository)
		return &fakeRegistry{}, nil
	}

	BeforeEach(func() {
		created = nil
	})

	It("builds a simple repoman", func() {
		raw := json.RawMessage(`{
			"type": "simple",
			"images": [{"image_url": "registry.example.com/a:1", "name": "A"}]
		}`)
		rm, err := repoman.New(context.Background(), raw, fakeFactory)
		Expect(err).NotTo(HaveOccurred())
		Expect(rm).To(BeAssignableToTypeOf(&repoman.SimpleRepoMan{}))
		Expect(created).To(BeEmpty())
	})

	It("builds a stream repoman with a registry client", func() {
		raw := json.RawMessage(`{
			"type": "stream",
			"registry_url": "registry.example.com",
			"repo": "sqre/sciplat-lab",
			"num_weeklies": 2
		}`)
		rm, err := repoman.New(context.Background(), raw, fakeFactory)
		Expect(err).NotTo(HaveOccurred())
		Expect(rm).To(BeAssignableToTypeOf(&repoman.StreamRepoMan{}))
		Expect(created).To(Equal([]string{"registry.example.com/sqre/sciplat-lab"}))
	})

	It("defaults the registry host", func() {
		raw := json.RawMessage(`{"type": "stream", "repo": "sqre/sciplat-lab"}`)
		_, err := repoman.New(context.Background(), raw, fakeFactory)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(Equal([]string{repoman.DefaultRegistryHost + "/sqre/sciplat-lab"}))
	})

	It("rejects an unknown type", func() {
		raw := json.RawMessage(`{"type": "mysterious"}`)
		_, err := repoman.New(context.Background(), raw, fakeFactory)
		Expect(err).To(MatchError(repoman.ErrUnknownType))
	})

	It("rejects incomplete specs", func() {
		_, err := repoman.New(context.Background(), json.RawMessage(`{"type": "stream"}`), fakeFactory)
		Expect(err).To(HaveOccurred())

		_, err = repoman.New(context.Background(), json.RawMessage(`{"type": "simple", "images": []}`), fakeFactory)
		Expect(err).To(HaveOccurred())

		_, err = repoman.New(context.Background(), json.RawMessage(`not json`), fakeFactory)
		Expect(err).To(HaveOccurred())
	})
})
