package store

import (
	"sort"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/message"
)

// ItemStore holds every currently-available input item, keyed by connection
// id, remembering arrival order. Pure data: the central Store owns the only
// live instance and does the locking.
type ItemStore struct {
	items map[connection.ID]message.InputItem
	order []connection.ID
}

// NewItemStore returns an empty item store.
func NewItemStore() *ItemStore {
	return &ItemStore{items: make(map[connection.ID]message.InputItem)}
}

// Get returns the item for id.
func (s *ItemStore) Get(id connection.ID) (message.InputItem, bool) {
	item, ok := s.items[id]
	return item, ok
}

// Has reports whether id is present.
func (s *ItemStore) Has(id connection.ID) bool {
	_, ok := s.items[id]
	return ok
}

// Len returns the item count.
func (s *ItemStore) Len() int {
	return len(s.items)
}

// Set upserts an item. Returns true when the id was not present before.
func (s *ItemStore) Set(item message.InputItem) bool {
	_, existed := s.items[item.ID]
	s.items[item.ID] = item
	if !existed {
		s.order = append(s.order, item.ID)
	}
	return !existed
}

// Remove deletes an item. Idempotent.
func (s *ItemStore) Remove(id connection.ID) bool {
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	for i, o := range s.order {
		if o.Compare(id) == 0 {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns the items in arrival order.
func (s *ItemStore) All() []message.InputItem {
	out := make([]message.InputItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// IDs returns the available ids in arrival order.
func (s *ItemStore) IDs() []connection.ID {
	out := make([]connection.ID, len(s.order))
	copy(out, s.order)
	return out
}

// RouteMap returns the multimap from routing channel to the ids occupying
// it, ids in arrival order within each channel. Auto-mode ordering and ADM
// export both read from it.
func (s *ItemStore) RouteMap() map[int][]connection.ID {
	routes := make(map[int][]connection.ID)
	for _, id := range s.order {
		item := s.items[id]
		routes[item.Routing] = append(routes[item.Routing], id)
	}
	return routes
}

// RoutedIDs returns every id stable-sorted by routing channel ascending,
// arrival order breaking ties. This is the canonical auto-mode element
// order.
func (s *ItemStore) RoutedIDs() []connection.ID {
	ids := s.IDs()
	sort.SliceStable(ids, func(i, j int) bool {
		return s.items[ids[i]].Routing < s.items[ids[j]].Routing
	})
	return ids
}
