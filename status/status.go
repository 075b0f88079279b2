// Package status carries human-readable status text from workers to the
// foreground.
//
// A Channel is a single cell: Publish overwrites it and schedules one
// delivery on the foreground. If publishes outrun the foreground, the
// intermediate values are coalesced and subscribers see only the newest.
// Every record carries a version, and a delivery never hands subscribers a
// record older than one they have already seen.
package status

import (
	"slices"
	"sync"

	"github.com/zhubert/msviz-core/dispatch"
)

// Record is one published status value.
type Record struct {
	Text    string `json:"text"`
	Version uint64 `json:"version"`
}

type subscriber struct {
	id uint64
	fn func(Record)
}

// Channel is a last-write-wins status cell delivered on the foreground.
type Channel struct {
	dispatcher dispatch.Dispatcher

	mu        sync.Mutex
	latest    Record
	delivered uint64
	scheduled bool
	subs      []subscriber
	nextSubID uint64
}

// New creates a channel that delivers on d.
func New(d dispatch.Dispatcher) *Channel {
	return &Channel{dispatcher: d}
}

// Publish stores text as the latest status and schedules delivery.
// Safe from any goroutine; never blocks on the foreground.
func (c *Channel) Publish(text string) Record {
	c.mu.Lock()
	c.latest = Record{Text: text, Version: c.latest.Version + 1}
	rec := c.latest
	if c.scheduled {
		c.mu.Unlock()
		return rec
	}
	c.scheduled = true
	c.mu.Unlock()

	if !c.dispatcher.Post(c.deliver) {
		c.mu.Lock()
		c.scheduled = false
		c.mu.Unlock()
	}
	return rec
}

// deliver runs on the foreground.
func (c *Channel) deliver() {
	c.mu.Lock()
	c.scheduled = false
	rec := c.latest
	if rec.Version <= c.delivered {
		c.mu.Unlock()
		return
	}
	c.delivered = rec.Version
	subs := slices.Clone(c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(rec)
	}
}

// Subscribe registers fn to receive each delivered record on the foreground.
// fn must not block. The returned function removes the subscription.
func (c *Channel) Subscribe(fn func(Record)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.subs = append(c.subs, subscriber{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subs = slices.DeleteFunc(c.subs, func(s subscriber) bool { return s.id == id })
	}
}

// Latest returns the most recently published record, delivered or not.
func (c *Channel) Latest() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Delivered returns the version of the last record handed to subscribers.
func (c *Channel) Delivered() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}
