package machine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/lsst-sqre/cachemachine/pkg/logging"
)

// ErrMachineNotFound is returned by Get for an unknown machine name.
var ErrMachineNotFound = errors.New("machine not found")

type managed struct {
	machine *Machine
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager supervises running machines, one goroutine per name. All
// methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	machines map[string]*managed
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{machines: map[string]*managed{}}
}

// Manage starts m's loop. Any existing machine of the same name is
// stopped, and its goroutine waited for, before the new one starts,
// so two loops for one name never run concurrently.
func (mgr *Manager) Manage(m *Machine) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.releaseLocked(m.Name())

	ctx, cancel := context.WithCancel(context.Background())
	entry := &managed{machine: m, cancel: cancel, done: make(chan struct{})}
	mgr.machines[m.Name()] = entry
	go func() {
		defer close(entry.done)
		m.Run(ctx)
	}()
	logging.Logger.Info("Managing machine", zap.String("machine", m.Name()))
}

// Get returns the running machine with the given name.
func (mgr *Manager) Get(name string) (*Machine, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	entry, ok := mgr.machines[name]
	if !ok {
		return nil, ErrMachineNotFound
	}
	return entry.machine, nil
}

// List returns the names of all running machines, sorted.
func (mgr *Manager) List() []string {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	names := make([]string, 0, len(mgr.machines))
	for name := range mgr.machines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Release stops the named machine and forgets it. Releasing an
// unknown name is a no-op.
func (mgr *Manager) Release(name string) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.releaseLocked(name)
}

// Close stops every machine.
func (mgr *Manager) Close() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for name := range mgr.machines {
		mgr.releaseLocked(name)
	}
}

func (mgr *Manager) releaseLocked(name string) {
	entry, ok := mgr.machines[name]
	if !ok {
		return
	}
	entry.cancel()
	<-entry.done
	delete(mgr.machines, name)
	logging.Logger.Info("Released machine", zap.String("machine", name))
}
