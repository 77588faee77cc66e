package realtime

import (
	"slices"
	"strings"
	"sync"
)

type listener struct {
	id uint64
	fn func(Message)
}

// channelRegistry keeps listeners per channel in registration order.
type channelRegistry struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]listener
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{listeners: make(map[string][]listener)}
}

func (r *channelRegistry) add(channel string, fn func(Message)) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.listeners[channel] = append(r.listeners[channel], listener{id: r.nextID, fn: fn})
	return r.nextID
}

// remove drops one registration and reports whether it was present and
// whether the channel has no listeners left.
func (r *channelRegistry) remove(channel string, id uint64) (removed bool, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.listeners[channel]
	idx := slices.IndexFunc(list, func(l listener) bool { return l.id == id })
	if idx < 0 {
		return false, len(list) == 0
	}
	list = slices.Delete(list, idx, idx+1)
	if len(list) == 0 {
		delete(r.listeners, channel)
		return true, true
	}
	r.listeners[channel] = list
	return true, false
}

func (r *channelRegistry) removeAll(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, had := r.listeners[channel]
	delete(r.listeners, channel)
	return had
}

func (r *channelRegistry) deliver(channel string, msg Message) bool {
	r.mu.Lock()
	list := slices.Clone(r.listeners[channel])
	r.mu.Unlock()
	for _, l := range list {
		l.fn(msg)
	}
	return len(list) > 0
}

func (r *channelRegistry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.listeners))
	for name := range r.listeners {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *channelRegistry) count(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners[channel])
}

// Subscribe registers fn for messages on channel and asks the server to start
// forwarding them. The returned func removes exactly this registration; the
// server is told to stop once no local listener remains.
func (c *Connection) Subscribe(channel string, fn func(Message)) func() {
	channel = strings.TrimSpace(channel)
	id := c.channels.add(channel, fn)
	c.Send(TypeSubscribe, ChannelPayload{Channel: channel})

	var once sync.Once
	return func() {
		once.Do(func() {
			removed, empty := c.channels.remove(channel, id)
			if removed && empty {
				c.Send(TypeUnsubscribe, ChannelPayload{Channel: channel})
			}
		})
	}
}

// Unsubscribe drops every local listener for channel.
func (c *Connection) Unsubscribe(channel string) {
	channel = strings.TrimSpace(channel)
	if c.channels.removeAll(channel) {
		c.Send(TypeUnsubscribe, ChannelPayload{Channel: channel})
	}
}

func (c *Connection) ListenerCount(channel string) int {
	return c.channels.count(channel)
}
