// bus.go
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Tokens + Topics
// -----------------------------------------------------------------------------

// Token is a single element in a topic path. Any comparable value works as a
// token (strings and ints in practice). The wildcard tokens are the strings
// "+" (exactly one level) and "#" (all remaining levels, subscribe-side only,
// last position).
type Token = any

// Topic is a sequence of tokens.
type Topic []Token

// T builds a Topic, panicking if any token is not comparable. Catching this
// at construction keeps the failure at the call site instead of deep inside
// the trie.
func T(tokens ...Token) Topic {
	for _, tok := range tokens {
		mustComparable(tok)
	}
	return Topic(tokens)
}

func mustComparable(tok Token) {
	switch tok.(type) {
	case nil:
		panic("bus: nil topic token")
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return
	}
	// Other types: probe with a map insert, which panics for unhashable values.
	defer func() {
		if recover() != nil {
			panic("bus: topic token is not comparable")
		}
	}()
	_ = map[Token]struct{}{tok: {}}
}

func (t Topic) Len() int       { return len(t) }
func (t Topic) At(i int) Token { return t[i] }

// Append returns a new Topic with the extra tokens; the receiver is not
// modified.
func (t Topic) Append(tokens ...Token) Topic {
	out := make(Topic, 0, len(t)+len(tokens))
	out = append(out, t...)
	return append(out, tokens...)
}

const (
	wildOne = "+"
	wildAll = "#"
)

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

// CanReply reports whether the message carries a reply topic.
func (m *Message) CanReply() bool { return len(m.ReplyTo) > 0 }

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	pattern Topic
	ch      chan *Message
	conn    *Connection
}

func (s *Subscription) Topic() Topic             { return s.pattern }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

// Subscriptions live in the trie under their pattern path; wildcard tokens
// are ordinary keys. Retained messages are stored at their concrete path.
type node struct {
	children map[Token]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(tok Token) *node {
	if n.children == nil {
		return nil
	}
	return n.children[tok]
}

func (n *node) ensureChild(tok Token) *node {
	if n.children == nil {
		n.children = make(map[Token]*node)
	}
	c := n.children[tok]
	if c == nil {
		c = &node{}
		n.children[tok] = c
	}
	return c
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu   sync.Mutex
	root *node
	qLen int
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{
		root: &node{},
		qLen: queueLen,
	}
}

// NewMessage builds a message without publishing it.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// Publish delivers a message to every matching subscription and updates the
// retained store. A retained message with a nil payload clears the slot.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.match(b.root, msg.Topic, msg)

	if !msg.Retained {
		return
	}
	n := b.root
	for _, tok := range msg.Topic {
		n = n.ensureChild(tok)
	}
	if msg.Payload == nil {
		n.retained = nil
	} else {
		n.retained = msg
	}
}

// match walks subscription branches against a concrete topic.
func (b *Bus) match(n *node, rest Topic, msg *Message) {
	// "#" at this level matches the remainder, including the empty remainder.
	if h := n.child(wildAll); h != nil {
		deliverAll(h.subs, msg)
	}
	if len(rest) == 0 {
		deliverAll(n.subs, msg)
		return
	}
	if c := n.child(rest[0]); c != nil {
		b.match(c, rest[1:], msg)
	}
	if p := n.child(wildOne); p != nil {
		b.match(p, rest[1:], msg)
	}
}

func deliverAll(subs []*Subscription, msg *Message) {
	for _, sub := range subs {
		deliver(sub, msg)
	}
}

func deliver(sub *Subscription, msg *Message) {
	select {
	case sub.ch <- msg:
	default:
		// drop oldest if queue full
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// addSubscription inserts a subscription under its pattern path and replays
// matching retained messages.
func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range sub.pattern {
		n = n.ensureChild(tok)
	}
	n.subs = append(n.subs, sub)

	b.replayRetained(b.root, sub.pattern, sub)
}

// replayRetained walks the trie along a pattern (which may contain
// wildcards) and delivers every retained message it reaches.
func (b *Bus) replayRetained(n *node, pattern Topic, sub *Subscription) {
	if len(pattern) == 0 {
		if n.retained != nil {
			deliver(sub, n.retained)
		}
		return
	}
	if pattern[0] == Token(wildAll) {
		b.replaySubtree(n, sub)
		return
	}
	if pattern[0] == Token(wildOne) {
		for _, c := range n.children {
			b.replayRetained(c, pattern[1:], sub)
		}
		return
	}
	if c := n.child(pattern[0]); c != nil {
		b.replayRetained(c, pattern[1:], sub)
	}
}

// replaySubtree delivers retained messages at n and everything below it.
func (b *Bus) replaySubtree(n *node, sub *Subscription) {
	if n.retained != nil {
		deliver(sub, n.retained)
	}
	for _, c := range n.children {
		b.replaySubtree(c, sub)
	}
}

// unsubscribe removes a subscription and prunes empty trie nodes.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	stack := make([]*node, 0, len(sub.pattern))
	for _, tok := range sub.pattern {
		c := n.child(tok)
		if c == nil {
			return
		}
		stack = append(stack, n)
		n = c
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}

	for i := len(sub.pattern) - 1; i >= 0; i-- {
		parent := stack[i]
		key := sub.pattern[i]
		child := parent.children[key]
		if len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type Connection struct {
	bus  *Bus
	id   string
	mu   sync.Mutex
	subs []*Subscription
	seq  uint32
}

// NewConnection creates a new connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

// NewMessage builds a message without publishing it.
func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) {
	c.bus.Publish(msg)
}

// Subscribe registers a subscription owned by this connection.
func (c *Connection) Subscribe(pattern Topic) *Subscription {
	sub := &Subscription{
		pattern: pattern,
		ch:      make(chan *Message, c.bus.qLen),
		conn:    c,
	}
	c.bus.addSubscription(sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription owned by this connection. It is
// idempotent: once a subscription has been removed (here or by
// Disconnect), further calls are no-ops, so deferred unsubscribes do not
// close the channel twice.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	found := false
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.bus.unsubscribe(sub)
	close(sub.ch)
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		close(sub.ch)
	}
}

// -----------------------------------------------------------------------------
// Request–reply
// -----------------------------------------------------------------------------

// Request stamps msg with a fresh ReplyTo topic, subscribes to it and
// publishes the request. The caller owns the returned subscription and must
// unsubscribe when done.
func (c *Connection) Request(msg *Message) *Subscription {
	n := atomic.AddUint32(&c.seq, 1)
	msg.ReplyTo = Topic{"$reply", c.id, int(n)}
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

var errClosed = errors.New("bus: reply channel closed")

// RequestWait performs Request and blocks for the first reply or ctx.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case reply, ok := <-sub.ch:
		if !ok {
			return nil, errClosed
		}
		return reply, nil
	}
}

// Reply publishes a response on the request's ReplyTo topic. Requests without
// a reply topic are ignored.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if !req.CanReply() {
		return
	}
	c.Publish(&Message{Topic: req.ReplyTo, Payload: payload, Retained: retained})
}
