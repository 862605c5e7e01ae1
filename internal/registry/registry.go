// Package registry keeps the bidirectional indexes between channels and
// subscriber sockets, with per-channel metadata and cleanup-on-empty
// semantics. A channel key exists exactly as long as it has at least one
// subscriber.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/relayhub/fanout/internal/channel"
)

// Meta is the per-channel metadata kept at rest.
type Meta struct {
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
	SubscriberCount int       `json:"subscriber_count"`
}

// Stats summarizes the registry for introspection.
type Stats struct {
	TotalChannels      int            `json:"total_channels"`
	TotalSubscriptions int            `json:"total_subscriptions"`
	ByType             map[string]int `json:"by_type"`
	TopChannels        []TopChannel   `json:"top_channels"`
}

// TopChannel is one entry of the stats' most-subscribed list.
type TopChannel struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Registry is the channel registry: the authoritative record of which
// sockets receive events on which channels.
type Registry struct {
	mu sync.RWMutex

	maxSubscribers int // per channel; 0 means unlimited

	channels map[string]map[string]struct{} // channel -> {socket_id}
	meta     map[string]*Meta               // channel -> metadata

	userChannels   map[int64]map[string]struct{}  // user_id -> {channel}
	socketOwner    map[string]int64               // socket_id -> user_id
	socketChannels map[string]map[string]struct{} // socket_id -> {channel}, mirrors channels for O(1) unsubscribeAll
}

// New constructs an empty Registry. maxSubscribers bounds each channel's
// subscriber set; 0 means unlimited.
func New(maxSubscribers int) *Registry {
	return &Registry{
		maxSubscribers: maxSubscribers,
		channels:       make(map[string]map[string]struct{}),
		meta:           make(map[string]*Meta),
		userChannels:   make(map[int64]map[string]struct{}),
		socketOwner:    make(map[string]int64),
		socketChannels: make(map[string]map[string]struct{}),
	}
}

// Subscribe records socketID (owned by userID) as a subscriber of
// channelName. Idempotent. Returns false when the channel is already at
// its subscriber capacity.
func (r *Registry) Subscribe(socketID string, userID int64, channelName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.channels[channelName]
	if !ok {
		subs = make(map[string]struct{})
		r.channels[channelName] = subs
		r.meta[channelName] = &Meta{CreatedAt: time.Now()}
	}
	_, already := subs[socketID]
	if !already && r.maxSubscribers > 0 && len(subs) >= r.maxSubscribers {
		if len(subs) == 0 {
			delete(r.channels, channelName)
			delete(r.meta, channelName)
		}
		return false
	}
	subs[socketID] = struct{}{}

	uc, ok := r.userChannels[userID]
	if !ok {
		uc = make(map[string]struct{})
		r.userChannels[userID] = uc
	}
	uc[channelName] = struct{}{}

	sc, ok := r.socketChannels[socketID]
	if !ok {
		sc = make(map[string]struct{})
		r.socketChannels[socketID] = sc
	}
	sc[channelName] = struct{}{}
	r.socketOwner[socketID] = userID

	if !already {
		m := r.meta[channelName]
		m.LastActivity = time.Now()
		m.SubscriberCount = len(subs)
	}
	return true
}

// Unsubscribe removes socketID from channelName's subscriber set,
// deleting the channel entirely if it becomes empty.
func (r *Registry) Unsubscribe(socketID string, userID int64, channelName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(socketID, userID, channelName)
}

func (r *Registry) unsubscribeLocked(socketID string, userID int64, channelName string) {
	subs, ok := r.channels[channelName]
	if !ok {
		return
	}
	if _, present := subs[socketID]; !present {
		return
	}
	delete(subs, socketID)
	if len(subs) == 0 {
		delete(r.channels, channelName)
		delete(r.meta, channelName)
	} else {
		m := r.meta[channelName]
		m.LastActivity = time.Now()
		m.SubscriberCount = len(subs)
	}

	if uc, ok := r.userChannels[userID]; ok {
		delete(uc, channelName)
		if len(uc) == 0 {
			delete(r.userChannels, userID)
		}
	}

	if sc, ok := r.socketChannels[socketID]; ok {
		delete(sc, channelName)
		if len(sc) == 0 {
			delete(r.socketChannels, socketID)
			delete(r.socketOwner, socketID)
		}
	}
}

// UnsubscribeAll removes socketID from every channel it is subscribed
// to. The socket's channel list is copied first, then each channel is
// removed in one pass under the lock, so no subscription is ever left
// present in one index and absent in the other.
func (r *Registry) UnsubscribeAll(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.socketOwner[socketID]
	if !ok {
		return
	}
	sc, ok := r.socketChannels[socketID]
	if !ok {
		return
	}
	names := make([]string, 0, len(sc))
	for name := range sc {
		names = append(names, name)
	}
	for _, name := range names {
		r.unsubscribeLocked(socketID, userID, name)
	}
}

// Subscribers returns a snapshot of channelName's subscriber socket ids,
// safe to iterate without blocking writers.
func (r *Registry) Subscribers(channelName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs, ok := r.channels[channelName]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

// ChannelMeta returns a copy of channelName's metadata, or false if the
// channel has no subscribers.
func (r *Registry) ChannelMeta(channelName string) (Meta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meta[channelName]
	if !ok {
		return Meta{}, false
	}
	return *m, true
}

// ChannelsOf returns the set of channel names the given user is
// currently subscribed to (used by tests to assert registry invariants).
func (r *Registry) ChannelsOf(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uc, ok := r.userChannels[userID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(uc))
	for c := range uc {
		out = append(out, c)
	}
	return out
}

// Stats computes the registry-wide summary.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byType := make(map[string]int)
	total := 0
	tops := make([]TopChannel, 0, len(r.channels))

	for name, subs := range r.channels {
		count := len(subs)
		total += count
		kind := channel.Classify(name).Kind.String()
		byType[kind]++
		tops = append(tops, TopChannel{Name: name, Count: count})
	}

	sort.Slice(tops, func(i, j int) bool {
		if tops[i].Count != tops[j].Count {
			return tops[i].Count > tops[j].Count
		}
		return tops[i].Name < tops[j].Name
	})
	if len(tops) > 10 {
		tops = tops[:10]
	}

	return Stats{
		TotalChannels:      len(r.channels),
		TotalSubscriptions: total,
		ByType:             byType,
		TopChannels:        tops,
	}
}
