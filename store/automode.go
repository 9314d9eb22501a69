package store

import (
	"sort"
	"sync"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/message"
)

// AutoModeController derives the default programme's element order from
// item routing. It keeps its own ordered (routing, id) list so a single
// input event updates the order incrementally instead of re-deriving the
// whole programme, and it is the only writer of element order while auto
// mode is on.
type AutoModeController struct {
	BaseListener

	store *Store
	sub   *Subscription

	mu      sync.Mutex
	entries []routedEntry
	enabled bool
}

// routedEntry is one item's position source: routing channel plus arrival
// sequence for the stable tie-break.
type routedEntry struct {
	id      connection.ID
	routing int
	arrival int
}

// NewAutoModeController attaches a controller to the store's backend
// listener group and seeds its order from the current items.
func NewAutoModeController(s *Store) *AutoModeController {
	c := &AutoModeController{store: s, enabled: s.AutoMode()}
	for _, item := range s.Items() {
		c.entries = append(c.entries, routedEntry{
			id: item.ID, routing: item.Routing, arrival: len(c.entries),
		})
	}
	c.resortLocked()
	c.sub = s.AddBackendListener(c)
	if c.enabled {
		c.push()
	}
	return c
}

// Close detaches the controller from the store.
func (c *AutoModeController) Close() {
	c.sub.Cancel()
}

// Order returns the current (routing-sorted) id sequence.
func (c *AutoModeController) Order() []connection.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderLocked()
}

func (c *AutoModeController) orderLocked() []connection.ID {
	ids := make([]connection.ID, len(c.entries))
	for i, e := range c.entries {
		ids[i] = e.id
	}
	return ids
}

// InputAdded appends the item and re-sorts.
func (c *AutoModeController) InputAdded(item message.InputItem) {
	c.mu.Lock()
	c.entries = append(c.entries, routedEntry{
		id: item.ID, routing: item.Routing, arrival: c.nextArrivalLocked(),
	})
	c.resortLocked()
	enabled := c.enabled
	c.mu.Unlock()
	if enabled {
		c.push()
	}
}

// InputUpdated refreshes the item's routing and re-sorts. Arrival order is
// kept from the original add.
func (c *AutoModeController) InputUpdated(item message.InputItem) {
	c.mu.Lock()
	changed := false
	for i := range c.entries {
		if c.entries[i].id.Compare(item.ID) == 0 {
			if c.entries[i].routing != item.Routing {
				c.entries[i].routing = item.Routing
				changed = true
			}
			break
		}
	}
	if changed {
		c.resortLocked()
	}
	enabled := c.enabled && changed
	c.mu.Unlock()
	if enabled {
		c.push()
	}
}

// InputRemoved drops the item from the order.
func (c *AutoModeController) InputRemoved(id connection.ID) {
	c.mu.Lock()
	removed := false
	for i := range c.entries {
		if c.entries[i].id.Compare(id) == 0 {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			removed = true
			break
		}
	}
	enabled := c.enabled && removed
	c.mu.Unlock()
	if enabled {
		c.push()
	}
}

// AutoModeChanged re-derives the order when auto mode switches on.
func (c *AutoModeController) AutoModeChanged(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
	if enabled {
		c.push()
	}
}

// StoreReset re-seeds from the reset item set and tracks the new auto mode
// flag.
func (c *AutoModeController) StoreReset(programmes *ProgrammeStore, items []message.InputItem) {
	c.mu.Lock()
	c.entries = c.entries[:0]
	for _, item := range items {
		c.entries = append(c.entries, routedEntry{
			id: item.ID, routing: item.Routing, arrival: len(c.entries),
		})
	}
	c.resortLocked()
	c.enabled = programmes.AutoMode
	enabled := c.enabled
	c.mu.Unlock()
	if enabled {
		c.push()
	}
}

func (c *AutoModeController) nextArrivalLocked() int {
	next := 0
	for _, e := range c.entries {
		if e.arrival >= next {
			next = e.arrival + 1
		}
	}
	return next
}

func (c *AutoModeController) resortLocked() {
	sort.SliceStable(c.entries, func(i, j int) bool {
		if c.entries[i].routing != c.entries[j].routing {
			return c.entries[i].routing < c.entries[j].routing
		}
		return c.entries[i].arrival < c.entries[j].arrival
	})
}

func (c *AutoModeController) push() {
	c.mu.Lock()
	ids := c.orderLocked()
	c.mu.Unlock()
	c.store.SetAutoOrder(ids)
}
