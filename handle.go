package gosession

import "context"

// contextKey namespaces values this package stores in a request Context.
type contextKey string

const contextKeyHandle = contextKey("gosession-handle")

// ReadOnlyHandle is the demoted form of Handle, exposing only the
// operations safe for code that must not mutate or terminate a session (for
// example, a read-only audit middleware downstream of Middleware).
type ReadOnlyHandle struct {
	store *Store
	id    string
}

// ID returns the session ID this handle refers to.
func (h ReadOnlyHandle) ID() string { return h.id }

// Get returns the value stored under key, and whether it was present.
func (h ReadOnlyHandle) Get(key string) (string, bool) { return h.store.Get(h.id, key) }

// Count returns the number of non-expired sessions known to the Store.
func (h ReadOnlyHandle) Count(ctx context.Context) (int64, error) { return h.store.Count(ctx) }

// Handle is the per-request façade installed into the request context by
// Middleware. It is a small copyable value (store pointer + session ID); all
// methods are thin, non-blocking delegations to Store, except Count. No
// method here ever touches the backend directly - that is exclusively
// Middleware's job, during post-processing.
type Handle struct {
	store *Store
	id    string
}

// ID returns the session ID this handle refers to.
func (h Handle) ID() string { return h.id }

// ReadOnly demotes h to a ReadOnlyHandle. No further permissions can be
// recovered from the result.
func (h Handle) ReadOnly() ReadOnlyHandle { return ReadOnlyHandle{store: h.store, id: h.id} }

// Get returns the value stored under key, and whether it was present.
func (h Handle) Get(key string) (string, bool) { return h.store.Get(h.id, key) }

// Set stores value under key, marking the session dirty for write-back.
func (h Handle) Set(key, value string) error { return h.store.Set(h.id, key, value) }

// Remove deletes key from the session's data.
func (h Handle) Remove(key string) error { return h.store.Remove(h.id, key) }

// ClearData empties the session's data map.
func (h Handle) ClearData() error { return h.store.ClearData(h.id) }

// Renew flags the session for ID rotation, applied during response
// post-processing.
func (h Handle) Renew() error { return h.store.Renew(h.id) }

// Destroy flags the session for termination, applied during response
// post-processing.
func (h Handle) Destroy() error { return h.store.Destroy(h.id) }

// SetLongterm toggles whether the session's next write-back uses
// MaxLifespan rather than Lifespan.
func (h Handle) SetLongterm(longterm bool) error { return h.store.SetLongterm(h.id, longterm) }

// SetStore toggles whether an OptIn-mode session is eligible for
// write-back.
func (h Handle) SetStore(storable bool) error { return h.store.SetStore(h.id, storable) }

// CreateData mints the session record backing h, for use in Manual mode
// where no record is created implicitly. Returns ErrManualModeViolation if
// the Store's SessionMode is not Manual.
func (h Handle) CreateData() error { return h.store.CreateData(h.id) }

// Count returns the number of non-expired sessions known to the Store.
func (h Handle) Count(ctx context.Context) (int64, error) { return h.store.Count(ctx) }

// FromContext returns the Handle installed by Middleware, or the zero Handle
// and false if none is present (e.g. the middleware was not applied to this
// route).
func FromContext(ctx context.Context) (Handle, bool) {
	h, ok := ctx.Value(contextKeyHandle).(Handle)
	return h, ok
}

func withHandle(ctx context.Context, h Handle) context.Context {
	return context.WithValue(ctx, contextKeyHandle, h)
}
