// Package feed keeps a viewer's copy of the board and the discussions they
// have open.
package feed

import (
	"context"
	"sync"

	"tracehub/internal/discussion"
	"tracehub/internal/models"
)

// Filter selects which item types are shown.
type Filter string

const (
	FilterAll   Filter = "all"
	FilterLost  Filter = models.ItemTypeLost
	FilterFound Filter = models.ItemTypeFound
)

// ParseFilter maps user input onto a Filter; anything unknown shows everything.
func ParseFilter(s string) Filter {
	switch Filter(s) {
	case FilterLost, FilterFound:
		return Filter(s)
	}
	return FilterAll
}

// ItemStore is the board backend.
type ItemStore interface {
	ListItems(ctx context.Context) ([]models.Item, error)
	CreateItem(ctx context.Context, in models.NewItem) (*models.Item, error)
	DeleteItem(ctx context.Context, itemID, requestingUserID uint) error
}

// Apply returns the items matching f in their original order.
func Apply(items []models.Item, f Filter) []models.Item {
	out := make([]models.Item, 0, len(items))
	for _, it := range items {
		if f == FilterAll || it.Type == string(f) {
			out = append(out, it)
		}
	}
	return out
}

// Thread is one open discussion.
type Thread struct {
	ItemID       uint
	Subscription *discussion.Subscription
	View         *discussion.Thread
}

// Controller owns the cached item list and the open threads. Its lock only
// covers that state; network calls run outside it.
type Controller struct {
	store    ItemStore
	channel  *discussion.Channel
	identity discussion.IdentitySource

	mu      sync.Mutex
	items   []models.Item
	threads map[uint]*Thread

	// Deletions made while a Refresh is in flight, by forget generation, so
	// a list fetched before the delete cannot bring the item back.
	gen        uint64
	refreshing int
	tombstones map[uint]uint64
}

// NewController builds a Controller with an empty cache.
func NewController(store ItemStore, channel *discussion.Channel, identity discussion.IdentitySource) *Controller {
	return &Controller{
		store:    store,
		channel:  channel,
		identity: identity,
		items:      []models.Item{},
		threads:    make(map[uint]*Thread),
		tombstones: make(map[uint]uint64),
	}
}

// Refresh reloads the board. On failure the previous list is kept. Items
// deleted through this controller while the list was loading stay gone.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	start := c.gen
	c.refreshing++
	c.mu.Unlock()

	items, err := c.store.ListItems(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshing--
	if err == nil {
		kept := items[:0:0]
		for _, it := range items {
			if c.tombstones[it.ID] <= start {
				kept = append(kept, it)
			}
		}
		c.items = kept
	}
	if c.refreshing == 0 {
		clear(c.tombstones)
	}
	return err
}

// Items returns the cached board filtered by f.
func (c *Controller) Items(f Filter) []models.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Apply(c.items, f)
}

// Post creates an item owned by the current user, then reloads the board.
func (c *Controller) Post(ctx context.Context, in models.NewItem) (*models.Item, error) {
	who := c.current()
	if who == nil {
		return nil, models.NewUnauthorizedError("Sign in to post an item")
	}
	in.OwnerID = who.ID
	item, err := c.store.CreateItem(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := c.Refresh(ctx); err != nil {
		c.mu.Lock()
		c.items = append([]models.Item{*item}, c.items...)
		c.mu.Unlock()
	}
	return item, nil
}

// Delete removes an item the current user owns. Items the cache shows as
// someone else's are refused without asking the store; the store still has
// the final say.
func (c *Controller) Delete(ctx context.Context, itemID uint) error {
	who := c.current()
	if who == nil {
		return models.NewUnauthorizedError("Sign in to delete an item")
	}
	c.mu.Lock()
	cached, ok := c.findLocked(itemID)
	c.mu.Unlock()
	if ok && cached.OwnerID != who.ID {
		return models.NewUnauthorizedError("Only the person who posted this item can delete it")
	}

	if err := c.store.DeleteItem(ctx, itemID, who.ID); err != nil {
		return err
	}
	c.forget(itemID)
	c.CloseThread(itemID)
	return nil
}

// OpenThread opens the item's discussion, or returns it if already open. An
// item deleted before the thread could be registered is NOT_FOUND.
func (c *Controller) OpenThread(ctx context.Context, itemID uint) (*Thread, error) {
	if th, ok := c.Thread(itemID); ok {
		return th, nil
	}

	sub, snapshot, err := c.channel.Subscribe(ctx, itemID)
	if err != nil {
		return nil, err
	}
	th := &Thread{ItemID: itemID, Subscription: sub, View: discussion.NewThread(snapshot)}
	sub.OnMessage(func(m models.Message) { th.View.Apply(m) })
	sub.OnItemDeleted(func(id uint) {
		// The subscription closes itself after this returns.
		c.forget(id)
		c.mu.Lock()
		if c.threads[id] == th {
			delete(c.threads, id)
		}
		c.mu.Unlock()
	})

	c.mu.Lock()
	existing, open := c.threads[itemID]
	// Deleted is set before the handler runs, so a deletion either shows
	// here or finds the entry below and removes it.
	dead := !open && sub.Deleted()
	if !open && !dead {
		c.threads[itemID] = th
	}
	c.mu.Unlock()

	switch {
	case open:
		_ = sub.Close()
		return existing, nil
	case dead:
		_ = sub.Close()
		c.forget(itemID)
		return nil, models.NewNotFoundError("Item", itemID)
	}
	return th, nil
}

// CloseThread releases the item's discussion. Closing a thread that is not
// open does nothing.
func (c *Controller) CloseThread(itemID uint) {
	c.mu.Lock()
	th, ok := c.threads[itemID]
	delete(c.threads, itemID)
	c.mu.Unlock()
	if ok {
		_ = th.Subscription.Close()
	}
}

// Thread returns the open thread for itemID.
func (c *Controller) Thread(itemID uint) (*Thread, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[itemID]
	return th, ok
}

// OpenThreads lists the items with an open discussion.
func (c *Controller) OpenThreads() []uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint, 0, len(c.threads))
	for id := range c.threads {
		ids = append(ids, id)
	}
	return ids
}

// Send posts to an item's discussion as the current user.
func (c *Controller) Send(ctx context.Context, itemID uint, text string) (*models.Message, error) {
	return c.channel.Send(ctx, itemID, text)
}

// Close closes every open thread.
func (c *Controller) Close() {
	c.mu.Lock()
	threads := c.threads
	c.threads = make(map[uint]*Thread)
	c.mu.Unlock()
	for _, th := range threads {
		_ = th.Subscription.Close()
	}
}

func (c *Controller) current() *models.Identity {
	if c.identity == nil {
		return nil
	}
	return c.identity.Current()
}

func (c *Controller) forget(itemID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.refreshing > 0 {
		c.tombstones[itemID] = c.gen
	}
	kept := c.items[:0:0]
	for _, it := range c.items {
		if it.ID != itemID {
			kept = append(kept, it)
		}
	}
	c.items = kept
}

func (c *Controller) findLocked(itemID uint) (models.Item, bool) {
	for _, it := range c.items {
		if it.ID == itemID {
			return it, true
		}
	}
	return models.Item{}, false
}
