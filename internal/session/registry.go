package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/pushgate/internal/common"
	"github.com/Tyrowin/pushgate/internal/logging"
)

type entry struct {
	mu      sync.Mutex
	id      string
	status  Status
	channel Channel
	since   time.Time
}

func (e *entry) snapshot(username string) Session {
	return Session{
		ID:         e.id,
		Username:   username,
		Status:     e.status,
		Channel:    e.channel,
		LoggedInAt: e.since,
	}
}

// Registry is the process-wide session table.
//
// Every mutation of a user's session happens under that user's entry lock.
// The maps are guarded by mu; lock order is entry, then mu. Channels are
// closed only after all registry locks are released, since closing a channel
// calls back into UnbindOnClose.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	// channel ID -> username
	owners map[string]string

	log   logging.Logger
	now   func() time.Time
	newID func() string
}

func NewRegistry(log logging.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		owners:  make(map[string]string),
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (r *Registry) lookupEntry(username string) (*entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[username]
	r.mu.RUnlock()
	return e, ok
}

func (r *Registry) getOrCreate(username string) *entry {
	if e, ok := r.lookupEntry(username); ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[username]; ok {
		return e
	}
	e := &entry{}
	r.entries[username] = e
	return e
}

// detach clears e's channel and its owner index. Caller holds e.mu.
func (r *Registry) detach(e *entry) Channel {
	ch := e.channel
	if ch == nil {
		return nil
	}
	e.channel = nil

	r.mu.Lock()
	delete(r.owners, ch.ID())
	r.mu.Unlock()
	return ch
}

func (r *Registry) closeChannel(ctx context.Context, username string, ch Channel, reason string) {
	if ch == nil {
		return
	}
	if err := ch.Close(); err != nil {
		r.log.Warn(ctx, "closing channel failed", "user", username, "channel", ch.ID(), "reason", reason, "error", err)
		return
	}
	r.log.Debug(ctx, "channel closed", "user", username, "channel", ch.ID(), "reason", reason)
}

// install binds ch to e and indexes it. Close marks a channel closed before
// it unbinds, so a close that raced ahead of the index write is caught by the
// second check and undone here. Caller holds e.mu.
func (r *Registry) install(e *entry, username string, ch Channel) bool {
	if ch.Closed() {
		return false
	}
	e.channel = ch
	r.mu.Lock()
	r.owners[ch.ID()] = username
	r.mu.Unlock()

	if ch.Closed() {
		r.detach(e)
		return false
	}
	return true
}

// Activate installs a new Authenticated session for username. Any previous
// session is invalidated and its bound channel is closed.
func (r *Registry) Activate(username string) Session {
	e := r.getOrCreate(username)

	e.mu.Lock()
	old := r.detach(e)
	replaced := e.status == Authenticated
	e.id = r.newID()
	e.status = Authenticated
	e.since = r.now()
	s := e.snapshot(username)
	e.mu.Unlock()

	ctx := context.Background()
	r.closeChannel(ctx, username, old, "session replaced")
	r.log.Info(ctx, "session activated", "user", username, "session", s.ID, "replaced", replaced)
	return s
}

// MarkLoggedOut ends the session of username and closes its bound channel.
// Logging out twice is a no-op.
func (r *Registry) MarkLoggedOut(username string) error {
	e, ok := r.lookupEntry(username)
	if !ok {
		return common.ErrNotFound
	}

	e.mu.Lock()
	if e.status == LoggedOut {
		e.mu.Unlock()
		return nil
	}
	old := r.detach(e)
	e.status = LoggedOut
	e.mu.Unlock()

	ctx := context.Background()
	r.closeChannel(ctx, username, old, "logout")
	r.log.Info(ctx, "session logged out", "user", username)
	return nil
}

// Bind associates ch with the Authenticated session of username, replacing
// and closing any previously bound channel. The last Bind wins.
func (r *Registry) Bind(username string, ch Channel) error {
	return r.bind(username, "", ch)
}

// BindSession is Bind for a caller holding a token for sessionID. If a newer
// login replaced that session, it fails with common.ErrNotAuthenticated and
// nothing changes.
func (r *Registry) BindSession(username, sessionID string, ch Channel) error {
	if sessionID == "" {
		return common.ErrNotAuthenticated
	}
	return r.bind(username, sessionID, ch)
}

// bind checks the target session and moves ch in one step: a failed bind
// leaves every binding, including a previous owner's, untouched. An empty
// sessionID matches any Authenticated session.
func (r *Registry) bind(username, sessionID string, ch Channel) error {
	e, ok := r.lookupEntry(username)
	if !ok {
		return common.ErrNotAuthenticated
	}

	for {
		// a channel serves one user; moving it detaches it from the previous owner
		var prev *entry
		prevOwner, owned := r.Owner(ch.ID())
		if owned && prevOwner != username {
			prev, _ = r.lookupEntry(prevOwner)
		}

		unlock := lockEntries(username, e, prevOwner, prev)
		if owner, nowOwned := r.Owner(ch.ID()); nowOwned != owned || owner != prevOwner {
			// ownership moved while we were locking
			unlock()
			continue
		}

		if e.status != Authenticated || (sessionID != "" && e.id != sessionID) {
			unlock()
			return common.ErrNotAuthenticated
		}
		if e.channel != nil && e.channel.ID() == ch.ID() {
			unlock()
			return nil
		}

		if prev != nil && prev.channel != nil && prev.channel.ID() == ch.ID() {
			r.detach(prev)
		}
		old := r.detach(e)
		if !r.install(e, username, ch) {
			// roll back to the previous binding when it is still usable
			if old != nil && r.install(e, username, old) {
				old = nil
			}
			unlock()
			r.closeChannel(context.Background(), username, old, "rebound")
			return common.ErrChannelClosed
		}
		unlock()

		ctx := context.Background()
		r.closeChannel(ctx, username, old, "rebound")
		r.log.Info(ctx, "channel bound", "user", username, "channel", ch.ID())
		return nil
	}
}

// lockEntries locks a, and b when it is a different entry, in username order.
func lockEntries(aName string, a *entry, bName string, b *entry) (unlock func()) {
	if b == nil || b == a {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if bName < aName {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// UnbindOnClose clears the reference to ch if it is still bound. Session
// status is left alone; a dropped channel does not log the user out.
func (r *Registry) UnbindOnClose(ch Channel) {
	r.mu.RLock()
	username, ok := r.owners[ch.ID()]
	e := r.entries[username]
	r.mu.RUnlock()
	if !ok || e == nil {
		return
	}

	e.mu.Lock()
	cleared := false
	if e.channel != nil && e.channel.ID() == ch.ID() {
		r.detach(e)
		cleared = true
	}
	e.mu.Unlock()

	if cleared {
		r.log.Debug(context.Background(), "channel unbound", "user", username, "channel", ch.ID())
	}
}

// Lookup returns the current session of username.
func (r *Registry) Lookup(username string) (Session, error) {
	e, ok := r.lookupEntry(username)
	if !ok {
		return Session{}, common.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(username), nil
}

// Authorize checks that sessionID is the live Authenticated session of
// username. Sessions replaced by a newer login are rejected.
func (r *Registry) Authorize(username, sessionID string) (Session, error) {
	s, err := r.Lookup(username)
	if err != nil {
		return Session{}, common.ErrNotAuthenticated
	}
	if s.Status != Authenticated || s.ID != sessionID {
		return Session{}, common.ErrNotAuthenticated
	}
	return s, nil
}

// Owner returns the username a channel is bound to.
func (r *Registry) Owner(channelID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	username, ok := r.owners[channelID]
	return username, ok
}

// Push delivers payload to the channel bound to username. Delivery is best
// effort: a send on a channel that closed meanwhile returns
// common.ErrChannelClosed and the payload is dropped.
func (r *Registry) Push(username string, payload []byte) error {
	s, err := r.Lookup(username)
	if err != nil {
		return err
	}
	if s.Channel == nil {
		return common.ErrNotFound
	}
	return s.Channel.Send(payload)
}

// Stats reports the number of known, authenticated and channel-bound sessions.
type Stats struct {
	Sessions      int
	Authenticated int
	Bound         int
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	st := Stats{Sessions: len(entries), Bound: len(r.owners)}
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.status == Authenticated {
			st.Authenticated++
		}
		e.mu.Unlock()
	}
	return st
}
