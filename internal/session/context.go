// Package session holds the signed-in identity for a client process.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tracehub/internal/models"
)

// Session is an authenticated session as reported by the auth collaborator.
type Session struct {
	Identity  models.Identity `json:"user"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Authenticator is the auth collaborator.
type Authenticator interface {
	CurrentSession(ctx context.Context) (*Session, error)
	// OnSessionChange registers fn for every sign-in and sign-out and returns
	// a function that unregisters it.
	OnSessionChange(fn func(*Session)) func()
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
}

// Context is the process-wide view of who is signed in. It is seeded once
// from the collaborator and afterwards changes only through its notifications.
// Readers get a snapshot and never mutate it.
type Context struct {
	auth    Authenticator
	current atomic.Pointer[models.Identity]

	mu        sync.Mutex
	version   uint64
	observers map[int]func(*models.Identity)
	nextID    int
	stop      func()
}

// New creates an uninitialised Context.
func New(auth Authenticator) *Context {
	return &Context{auth: auth, observers: make(map[int]func(*models.Identity))}
}

// Init subscribes to session changes and loads the current session. A change
// that lands while the initial lookup is in flight wins over it.
func (c *Context) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.stop == nil {
		c.stop = c.auth.OnSessionChange(c.apply)
	}
	seen := c.version
	c.mu.Unlock()

	s, err := c.auth.CurrentSession(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.version != seen {
		c.mu.Unlock()
		return nil
	}
	c.version++
	id := identityOf(s)
	c.current.Store(id)
	observers := c.snapshotObservers()
	c.mu.Unlock()

	notify(observers, id)
	return nil
}

// Current returns a copy of the signed-in identity, or nil.
func (c *Context) Current() *models.Identity {
	id := c.current.Load()
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}

// Observe calls fn after every identity change. The returned function stops it.
func (c *Context) Observe(fn func(*models.Identity)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// SignIn asks the collaborator to sign in; the identity follows its notification.
func (c *Context) SignIn(ctx context.Context, email, password string) error {
	_, err := c.auth.SignIn(ctx, email, password)
	return err
}

// SignUp registers and signs in.
func (c *Context) SignUp(ctx context.Context, email, password string) error {
	_, err := c.auth.SignUp(ctx, email, password)
	return err
}

// SignOut ends the session.
func (c *Context) SignOut(ctx context.Context) error {
	return c.auth.SignOut(ctx)
}

// Close stops listening to the collaborator.
func (c *Context) Close() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *Context) apply(s *Session) {
	id := identityOf(s)
	c.mu.Lock()
	c.version++
	c.current.Store(id)
	observers := c.snapshotObservers()
	c.mu.Unlock()

	notify(observers, id)
}

func (c *Context) snapshotObservers() []func(*models.Identity) {
	out := make([]func(*models.Identity), 0, len(c.observers))
	for _, fn := range c.observers {
		out = append(out, fn)
	}
	return out
}

func notify(observers []func(*models.Identity), id *models.Identity) {
	for _, fn := range observers {
		if id == nil {
			fn(nil)
			continue
		}
		cp := *id
		fn(&cp)
	}
}

func identityOf(s *Session) *models.Identity {
	if s == nil || s.Identity.ID == 0 {
		return nil
	}
	id := s.Identity
	return &id
}
