package machine_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lsst-sqre/cachemachine/internal/machine"
	"github.com/lsst-sqre/cachemachine/internal/repoman"
	"github.com/lsst-sqre/cachemachine/pkg/nodecache"
)

var _ = Describe("Manager", func() {
	var (
		mgr *machine.Manager
		fc  *fakeCluster
	)

	newMachine := func(name string) *machine.Machine {
		return machine.New(machine.Config{
			Name:     name,
			Labels:   nodecache.Selector{"role": "lab"},
			RepoMen:  []repoman.RepoMan{&fakeRepoMan{}},
			Cluster:  fc,
			Interval: time.Millisecond,
		})
	}

	BeforeEach(func() {
		fc = newFakeCluster(labNode("n1", []string{repo + "@sha256:aaaa", repo + ":r21_0_0"}))
		mgr = machine.NewManager()
	})

	AfterEach(func() {
		mgr.Close()
	})

	It("runs a managed machine", func() {
		m := newMachine("lab")
		mgr.Manage(m)

		Eventually(func() []nodecache.CachedImage {
			return m.Snapshot().CommonCache
		}).ShouldNot(BeEmpty())

		got, err := mgr.Get("lab")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeIdenticalTo(m))
	})

	It("lists machine names sorted", func() {
		mgr.Manage(newMachine("weekly"))
		mgr.Manage(newMachine("daily"))
		Expect(mgr.List()).To(Equal([]string{"daily", "weekly"}))
	})

	It("replaces a machine of the same name", func() {
		first := newMachine("lab")
		second := newMachine("lab")
		mgr.Manage(first)
		mgr.Manage(second)

		Expect(mgr.List()).To(Equal([]string{"lab"}))
		got, err := mgr.Get("lab")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeIdenticalTo(second))
	})

	It("returns ErrMachineNotFound for unknown names", func() {
		_, err := mgr.Get("nope")
		Expect(err).To(MatchError(machine.ErrMachineNotFound))
	})

	It("releases machines idempotently", func() {
		m := newMachine("lab")
		mgr.Manage(m)
		mgr.Release("lab")
		mgr.Release("lab")

		Expect(mgr.List()).To(BeEmpty())
		_, err := mgr.Get("lab")
		Expect(err).To(MatchError(machine.ErrMachineNotFound))
	})

	It("stops the loop on release", func() {
		m := newMachine("lab")
		mgr.Manage(m)
		Eventually(func() []nodecache.CachedImage {
			return m.Snapshot().CommonCache
		}).ShouldNot(BeEmpty())
		mgr.Release("lab")

		// A released machine no longer ticks.
		fc.mu.Lock()
		fc.nodes = nil
		fc.mu.Unlock()
		snap := m.Snapshot()
		Consistently(func() machine.Snapshot {
			return m.Snapshot()
		}, 20*time.Millisecond).Should(Equal(snap))
	})
})
