// Package machine contains the per-target control loop that keeps a
// group of nodes' image caches warm, and the manager that supervises
// one loop per named machine.
package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lsst-sqre/cachemachine/internal/cluster"
	"github.com/lsst-sqre/cachemachine/internal/repoman"
	"github.com/lsst-sqre/cachemachine/pkg/logging"
	"github.com/lsst-sqre/cachemachine/pkg/nodecache"
)

// DefaultInterval is the polling interval between ticks.
const DefaultInterval = 60 * time.Second

// ClusterClient is the cluster surface one machine drives. Satisfied
// by *cluster.Client; narrowed to an interface so tests can fake it.
type ClusterClient interface {
	ListNodes(ctx context.Context) ([]nodecache.Node, error)
	CreatePullJob(ctx context.Context, name, imageURL string, selector nodecache.Selector) error
	PullJobFinished(ctx context.Context, name string) (bool, error)
	DeletePullJob(ctx context.Context, name string) error
}

// Snapshot is one machine's observable state, rebuilt on every
// successful tick and read by the management API.
type Snapshot struct {
	Name        string                  `json:"name"`
	Labels      map[string]string       `json:"labels"`
	CommonCache []nodecache.CachedImage `json:"common_cache"`
	Available   []repoman.Image         `json:"available_images"`
	Desired     []repoman.Image         `json:"desired_images"`
	Missing     []repoman.Image         `json:"images_to_cache"`
	All         []repoman.Image         `json:"all_images"`
}

// Config assembles a Machine.
type Config struct {
	Name    string
	Labels  nodecache.Selector
	RepoMen []repoman.RepoMan
	Cluster ClusterClient

	// Interval between ticks; DefaultInterval when zero.
	Interval time.Duration

	// Sleep is the delay mechanism between ticks. Defaults to a
	// context-aware timer wait; injectable so tests can run many
	// ticks without wall-clock waits.
	Sleep func(ctx context.Context, d time.Duration)
}

// Machine owns one target's pre-pull lifecycle: poll nodes, intersect
// caches, ask the repository managers what is desired, and drive at
// most one pull job at a time until the gap is closed.
type Machine struct {
	name     string
	labels   nodecache.Selector
	repomen  []repoman.RepoMan
	cluster  ClusterClient
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration)

	mu   sync.RWMutex
	snap Snapshot
}

// New creates a machine. It does not start the loop; use Run or hand
// the machine to a Manager.
func New(cfg Config) *Machine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Machine{
		name:     cfg.Name,
		labels:   cfg.Labels,
		repomen:  cfg.RepoMen,
		cluster:  cfg.Cluster,
		interval: cfg.Interval,
		sleep:    cfg.Sleep,
		snap: Snapshot{
			Name:        cfg.Name,
			Labels:      cfg.Labels,
			CommonCache: []nodecache.CachedImage{},
			Available:   []repoman.Image{},
			Desired:     []repoman.Image{},
			Missing:     []repoman.Image{},
			All:         []repoman.Image{},
		},
	}
}

// Name returns the machine's unique name.
func (m *Machine) Name() string {
	return m.name
}

// Labels returns the machine's node label selector.
func (m *Machine) Labels() nodecache.Selector {
	return m.labels
}

// Snapshot returns the state of the most recent successful tick.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Run ticks the machine until ctx is canceled. A failed tick is
// logged and retried on the next interval; nothing terminates the
// loop except cancellation.
func (m *Machine) Run(ctx context.Context) {
	for {
		if err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			logging.Logger.Error("Machine tick failed",
				zap.String("machine", m.name),
				zap.Error(err))
		}
		m.sleep(ctx, m.interval)
		if ctx.Err() != nil {
			return
		}
	}
}

// Tick performs one poll cycle. On error the previous snapshot is
// left intact and no pull decision is taken.
func (m *Machine) Tick(ctx context.Context) error {
	nodes, err := m.cluster.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}
	common := nodecache.Intersect(nodes, m.labels)

	available := []repoman.Image{}
	desired := []repoman.Image{}
	missing := []repoman.Image{}
	all := []repoman.Image{}

	for _, r := range m.repomen {
		di, err := r.DesiredImages(ctx, common)
		if err != nil {
			return fmt.Errorf("failed to compute desired images: %w", err)
		}
		for _, img := range di.Pull {
			desired = append(desired, img)
			if isAvailable(img, common) {
				available = append(available, img)
			} else {
				missing = append(missing, img)
			}
		}
		all = append(all, di.All...)
	}

	running, err := m.reconcileJob(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 && !running {
		// First missing wins: the repoman ordering is the pull
		// priority order.
		if err := m.cluster.CreatePullJob(ctx, m.name, missing[0].URL, m.labels); err != nil {
			return fmt.Errorf("failed to create pull job: %w", err)
		}
	}

	m.mu.Lock()
	m.snap = Snapshot{
		Name:        m.name,
		Labels:      m.labels,
		CommonCache: common,
		Available:   available,
		Desired:     desired,
		Missing:     missing,
		All:         all,
	}
	m.mu.Unlock()

	return nil
}

// reconcileJob inspects the outstanding pull job, reclaiming it when
// finished. Returns whether a job is still in flight. A missing job
// is not an error: it may have finished and been deleted, or been
// removed externally.
func (m *Machine) reconcileJob(ctx context.Context) (bool, error) {
	finished, err := m.cluster.PullJobFinished(ctx, m.name)
	if errors.Is(err, cluster.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check pull job: %w", err)
	}
	if !finished {
		return true, nil
	}
	if err := m.cluster.DeletePullJob(ctx, m.name); err != nil {
		return false, fmt.Errorf("failed to delete pull job: %w", err)
	}
	return false, nil
}

// isAvailable reports whether the desired image is present in the
// common cache. An empty desired digest matches any digest.
func isAvailable(img repoman.Image, common []nodecache.CachedImage) bool {
	for _, ci := range common {
		if ci.URL == img.URL && (img.Digest == "" || ci.Digest == img.Digest) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
