package subscription

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"task-sync/domain"
)

// Store is the remote side of the task list.
type Store interface {
	// Subscribe opens a live query over owner's tasks. The returned func
	// releases it.
	Subscribe(ctx context.Context, owner string, onChange func([]domain.TaskEntity)) (func(), error)
	Delete(ctx context.Context, owner, id string) error
}

// Listener is notified with a copy of the task list after every rebuild.
// Listeners must not call Deactivate or Watch.Stop.
type Listener func([]domain.Task)

// Option configures a Manager.
type Option func(*Manager)

// WithListener registers fn to be called after every rebuild.
func WithListener(fn Listener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, fn) }
}

// Manager keeps an in-memory task list in step with the remote tasks of the
// signed in user. The list is only ever replaced wholesale from a store
// notification.
type Manager struct {
	store     Store
	identity  domain.IdentityProvider
	log       log.FieldLogger
	listeners []Listener

	// lifecycle serializes Activate and Deactivate.
	lifecycle sync.Mutex
	// deliver serializes rebuilds with teardown.
	deliver sync.Mutex

	mu    sync.Mutex
	gen   uint64
	watch *Watch
	tasks []domain.Task
}

// New creates a Manager.
func New(store Store, identity domain.IdentityProvider, logger log.FieldLogger, opts ...Option) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	m := &Manager{store: store, identity: identity, log: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Watch is the handle of an open subscription.
type Watch struct {
	m     *Manager
	gen   uint64
	owner string
	stop  func()
	once  sync.Once
}

// Owner returns the identity the watch is scoped to.
func (w *Watch) Owner() string { return w.owner }

// Stop releases the subscription. After Stop returns no further
// notification changes the manager's state. Stop is idempotent.
func (w *Watch) Stop() {
	w.m.lifecycle.Lock()
	defer w.m.lifecycle.Unlock()
	w.once.Do(func() { w.m.release(w) })
}

// Activate opens the live subscription for the current identity, replacing
// any subscription opened earlier. Without a signed in user nothing is opened
// and ErrNoIdentity is returned.
func (m *Manager) Activate(ctx context.Context) (*Watch, error) {
	ident := m.identity.CurrentIdentity()
	if ident == nil {
		m.log.Error("No user logged in; task list not subscribed")
		return nil, domain.ErrNoIdentity
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	prev := m.watch
	m.mu.Unlock()
	if prev != nil {
		prev.once.Do(func() { m.release(prev) })
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	logger := m.log.WithField("owner", ident.Email)
	stop, err := m.store.Subscribe(ctx, ident.Email, func(ents []domain.TaskEntity) {
		m.apply(gen, logger, ents)
	})
	if err != nil {
		logger.WithError(err).Error("open task subscription")
		return nil, err
	}

	w := &Watch{m: m, gen: gen, owner: ident.Email, stop: stop}
	m.mu.Lock()
	m.watch = w
	m.mu.Unlock()
	logger.Debug("task subscription opened")
	return w, nil
}

// Deactivate releases the current subscription, if any.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	w := m.watch
	m.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

// Run activates the manager and keeps the subscription open until ctx is
// done. The subscription is released on every return path.
func (m *Manager) Run(ctx context.Context) error {
	w, err := m.Activate(ctx)
	if err != nil {
		return err
	}
	defer w.Stop()
	<-ctx.Done()
	return nil
}

// Active reports whether a subscription is open.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watch != nil
}

// Tasks returns a copy of the current task list.
func (m *Manager) Tasks() []domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneTasks(m.tasks)
}

// Delete asks the store to remove a task. The task stays in the list until
// the next notification no longer contains it. Failures are logged and
// returned; nothing is retried.
func (m *Manager) Delete(ctx context.Context, id string) error {
	ident := m.identity.CurrentIdentity()
	if ident == nil {
		m.log.WithField("task", id).Error("No user logged in; task not deleted")
		return domain.ErrNoIdentity
	}
	if err := m.store.Delete(ctx, ident.Email, id); err != nil {
		m.log.WithError(err).WithFields(log.Fields{"owner": ident.Email, "task": id}).Error("delete task")
		return err
	}
	return nil
}

// release must be called with lifecycle held.
func (m *Manager) release(w *Watch) {
	m.deliver.Lock()
	m.mu.Lock()
	if m.gen == w.gen {
		m.gen++
		m.tasks = nil
	}
	if m.watch == w {
		m.watch = nil
	}
	m.mu.Unlock()
	m.deliver.Unlock()

	w.stop()
	m.log.WithField("owner", w.owner).Debug("task subscription released")
}

func (m *Manager) apply(gen uint64, logger log.FieldLogger, ents []domain.TaskEntity) {
	tasks := make([]domain.Task, 0, len(ents))
	for _, ent := range ents {
		t, err := ent.Normalize()
		if err != nil {
			logger.WithError(err).Warn("task has malformed dates")
		}
		tasks = append(tasks, t)
	}

	m.deliver.Lock()
	defer m.deliver.Unlock()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.tasks = tasks
	m.mu.Unlock()

	for _, fn := range m.listeners {
		fn(cloneTasks(tasks))
	}
}

func cloneTasks(tasks []domain.Task) []domain.Task {
	if tasks == nil {
		return []domain.Task{}
	}
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	return out
}
