package directory

import (
	"errors"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("ferry/directory")

// --------------------------------------------------------------------------
// Errors and States
// --------------------------------------------------------------------------

var (
	// ErrDoesNotExist: no entry is registered under the name.
	ErrDoesNotExist = errors.New("directory: service does not exist")
	// ErrAlreadyExists: an entry is registered and ready.
	ErrAlreadyExists = errors.New("directory: service already exists")
	// ErrBeingCreated: another participant is currently between Create
	// and Commit. Usually resolved by retrying after a short delay.
	ErrBeingCreated = errors.New("directory: service is being created by another instance")
	// ErrHangsInCreation: an entry has been in the creating state for
	// longer than the creation timeout, most likely because its creator
	// died before committing.
	ErrHangsInCreation = errors.New("directory: service hangs in creation")
	// ErrMarkedForDestruction: the entry is tearing down because the last
	// participant detached; it becomes recreatable shortly after.
	ErrMarkedForDestruction = errors.New("directory: service is marked for destruction")
)

// State describes the lifecycle position of an Entry.
type State uint32

const (
	// StateCreating: reserved by a creator, static record not final yet.
	StateCreating State = iota
	// StateReady: committed, open for attachment.
	StateReady
	// StateDestroying: last participant detached, cleanup in progress.
	StateDestroying
)

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

// Entry is one registered service.
//
// mu guards the lifecycle state, the participant count and the cleanup
// hook as one unit, so an attacher can never land on an entry whose last
// participant is concurrently tearing it down.
type Entry struct {
	name      string
	static    []byte
	shared    any
	createdAt time.Time

	mu       sync.Mutex
	state    State
	attached int
	cleanup  func()

	reg *Registry
}

// Name returns the service name the entry is registered under.
func (e *Entry) Name() string { return e.name }

// Static returns the static record bytes exactly as committed.
func (e *Entry) Static() []byte { return e.static }

// Shared returns the runtime state handle stored by the creator.
func (e *Entry) Shared() any { return e.shared }

// State returns the current lifecycle state.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetCleanup registers the hook that runs when the last participant
// detaches. Must be called by the creator before Commit.
func (e *Entry) SetCleanup(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanup = fn
}

// Commit finalizes creation and makes the entry openable.
func (e *Entry) Commit() {
	e.mu.Lock()
	e.state = StateReady
	e.mu.Unlock()
	log.Debugf("service %q committed", e.name)
}

// Abort removes a never-committed entry, used when the creator fails
// between Create and Commit.
func (e *Entry) Abort() {
	e.mu.Lock()
	if e.state != StateCreating {
		e.mu.Unlock()
		return
	}
	e.state = StateDestroying
	e.mu.Unlock()
	e.reg.entries.Delete(e.name)
}

// Attach registers one participant. Fails if the entry is tearing down.
func (e *Entry) Attach() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDestroying {
		return ErrMarkedForDestruction
	}
	e.attached++
	return nil
}

// Attached returns the current number of attached participants.
func (e *Entry) Attached() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attached
}

// Detach unregisters one participant. The last detach destroys the entry:
// the cleanup hook runs and the name becomes available again.
func (e *Entry) Detach() {
	e.mu.Lock()
	e.attached--
	if e.attached > 0 || e.state != StateReady {
		e.mu.Unlock()
		return
	}
	e.state = StateDestroying
	fn := e.cleanup
	e.mu.Unlock()

	if fn != nil {
		fn()
	}

	e.reg.entries.Delete(e.name)
	log.Debugf("service %q destroyed", e.name)
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

const defaultCreationTimeout = 500 * time.Millisecond

// Registry maps service names to entries.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	entries         *xsync.MapOf[string, *Entry]
	creationTimeout time.Duration
}

// NewRegistry creates an empty registry. creationTimeout bounds how long an
// uncommitted entry is treated as "being created" before openers report it
// as hanging; 0 selects the default.
func NewRegistry(creationTimeout time.Duration) *Registry {
	if creationTimeout <= 0 {
		creationTimeout = defaultCreationTimeout
	}
	return &Registry{
		entries:         xsync.NewMapOf[string, *Entry](),
		creationTimeout: creationTimeout,
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry shared by all nodes that do not
// configure their own.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(0)
	})
	return defaultRegistry
}

// Create reserves the name and returns the new entry in StateCreating.
// The caller stores its runtime state, registers a cleanup hook and calls
// Commit; until then openers see ErrBeingCreated.
func (r *Registry) Create(name string, static []byte, shared any) (*Entry, error) {
	fresh := &Entry{
		name:      name,
		static:    static,
		shared:    shared,
		createdAt: time.Now(),
		reg:       r,
	}

	existing, loaded := r.entries.LoadOrStore(name, fresh)
	if !loaded {
		log.Debugf("service %q reserved for creation", name)
		return fresh, nil
	}

	switch existing.State() {
	case StateCreating:
		if time.Since(existing.createdAt) > r.creationTimeout {
			return nil, ErrHangsInCreation
		}
		return nil, ErrBeingCreated
	case StateDestroying:
		return nil, ErrMarkedForDestruction
	default:
		return nil, ErrAlreadyExists
	}
}

// Open returns the committed entry registered under name.
func (r *Registry) Open(name string) (*Entry, error) {
	e, ok := r.entries.Load(name)
	if !ok {
		return nil, ErrDoesNotExist
	}

	switch e.State() {
	case StateCreating:
		if time.Since(e.createdAt) > r.creationTimeout {
			return nil, ErrHangsInCreation
		}
		return nil, ErrBeingCreated
	case StateDestroying:
		return nil, ErrMarkedForDestruction
	default:
		return e, nil
	}
}

// Len returns the number of registered entries, including uncommitted ones.
func (r *Registry) Len() int {
	return r.entries.Size()
}
