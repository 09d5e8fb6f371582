package natsgo

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nuid"
)

// subscription is one live sid's routing entry: either a Handler or an
// enqueue-to-Queue sink.
type subscription struct {
	sid        string
	subject    string
	queueGroup string
	handler    Handler
	queue      *Queue
}

// Client is the subject-level API: publish, subscribe, unsubscribe,
// request, dispatch, and the cooperative process loop. It
// owns the handler table and the request inbox; Conn owns the socket.
// Grounded on gonatsd/conn.go's dispatchLoop/processRequest split
// (there serving received requests against the broker's command
// tables; here dispatching received messages against the client's own
// handler table) and on bacalhau's pkg/nats/stream/consumer_client.go
// respMap/respHandler for the inbox multiplexer.
type Client struct {
	conn *Conn
	opts Options
	log  Logger

	mu            sync.Mutex
	subscriptions map[string]*subscription
	nextSid       int

	inboxSub    string
	inboxRid    int
	pending     map[string]chan *Msg

	nuidGen *nuid.NUID
}

// NewClient wraps an already-constructed Conn with the Client API.
func NewClient(conn *Conn, opts Options) *Client {
	c := &Client{
		conn:          conn,
		opts:          opts,
		log:           opts.Logger,
		subscriptions: make(map[string]*subscription),
		pending:       make(map[string]chan *Msg),
		nuidGen:       nuid.New(),
	}
	if c.log == nil {
		c.log = NopLogger
	}
	conn.SetResubscriber(c)
	return c
}

// Connect dials and completes the handshake. NewClient has already
// installed this Client as the Conn's resubscribe target.
func (c *Client) Connect() error {
	return c.conn.Connect()
}

// Close shuts down the underlying connection.
func (c *Client) Close() { c.conn.Close() }

// Metrics returns the Prometheus collectors configured via
// WithMetrics, or nil if none were set.
func (c *Client) Metrics() *Metrics { return c.conn.metrics }

// SetMetrics installs m as the Prometheus collectors this Client (and
// its Conn) records against, overriding whatever WithMetrics set.
func (c *Client) SetMetrics(m *Metrics) { c.conn.metrics = m }

// Publish writes payload (or body, for the string overload via
// PublishString) to subject, with no acknowledgement.
func (c *Client) Publish(subject string, p Payload) error {
	return c.publish(subject, "", p)
}

// PublishString auto-wraps body with no headers.
func (c *Client) PublishString(subject, body string) error {
	return c.publish(subject, "", NewTextPayload(body))
}

// PublishRequest publishes payload on subject with replyTo set, used
// internally by Request and available directly for fire-and-forget
// request patterns that don't need Client's own inbox.
func (c *Client) PublishRequest(subject, replyTo string, p Payload) error {
	return c.publish(subject, replyTo, p)
}

// SendRaw writes an already-framed wire message verbatim, bypassing
// Payload encoding. JetStream acknowledgement frames need this: their
// reply-to field is always present, even empty, which
// differs from the reply-omitted-when-empty rule encodePub applies to
// ordinary PUB frames.
func (c *Client) SendRaw(frame []byte) error {
	return c.conn.SendMessage(frame)
}

func (c *Client) publish(subject, replyTo string, p Payload) error {
	if subject == "" {
		return DomainError("publish: empty subject")
	}
	return c.conn.SendMessage(encodePub(subject, replyTo, p))
}

// Subscribe allocates a sid, issues SUB, and installs handler. If
// handler is nil, messages accumulate in the returned Queue instead.
func (c *Client) Subscribe(subject string, queueGroup string, handler Handler) (sid string, queue *Queue, err error) {
	if subject == "" {
		return "", nil, DomainError("subscribe: empty subject")
	}

	c.mu.Lock()
	c.nextSid++
	sid = itoa(c.nextSid)
	sub := &subscription{sid: sid, subject: subject, queueGroup: queueGroup, handler: handler}
	if handler == nil {
		sub.queue = NewQueue(sid, 0)
		sub.queue.SetLogger(c.log)
	}
	c.subscriptions[sid] = sub
	c.mu.Unlock()

	if err := c.conn.SendMessage(encodeSub(subject, queueGroup, sid)); err != nil {
		c.mu.Lock()
		delete(c.subscriptions, sid)
		c.mu.Unlock()
		return "", nil, err
	}

	return sid, sub.queue, nil
}

// Unsubscribe writes UNSUB and removes sid's handler. Any messages
// already enqueued in its Queue remain fetchable.
func (c *Client) Unsubscribe(sid string) error {
	c.mu.Lock()
	sub, ok := c.subscriptions[sid]
	if ok {
		delete(c.subscriptions, sid)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if sub.queue != nil {
		sub.queue.Close()
	}
	return c.conn.SendMessage(encodeUnsub(sid))
}

// ensureInbox lazily subscribes to "<inboxPrefix>.<nuid>.*" and installs the
// rid-routing dispatcher; at most one shared inbox subscription exists
// per client.
func (c *Client) ensureInbox() error {
	c.mu.Lock()
	if c.inboxSub != "" {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	prefix := c.opts.InboxPrefix
	if prefix == "" {
		prefix = DefaultInboxPrefix
	}
	wildcard := prefix + "." + c.nuidGen.Next() + ".*"

	sid, _, err := c.Subscribe(wildcard, "", c.inboxHandler)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.inboxSub = wildcard
	c.mu.Unlock()
	_ = sid
	return nil
}

// inboxHandler routes an inbox delivery to the pending channel keyed by
// its terminal rid token, grounded on consumer_client.go's respHandler.
func (c *Client) inboxHandler(m *Msg) *Payload {
	rid := terminalToken(m.Subject)
	c.mu.Lock()
	ch, ok := c.pending[rid]
	if ok {
		delete(c.pending, rid)
	}
	c.mu.Unlock()
	if ok {
		ch <- m
	}
	return nil
}

// Request publishes payload on subject with a fresh single-use reply
// subject under the shared inbox, and returns that subject with a wait
// function that drives Process until the reply arrives or its timeout
// elapses. For synchronous use, prefer Dispatch.
func (c *Client) Request(subject string, p Payload) (replySubject string, wait func(timeout time.Duration) (*Msg, error), err error) {
	if err := c.ensureInbox(); err != nil {
		return "", nil, err
	}

	c.mu.Lock()
	c.inboxRid++
	rid := itoa(c.inboxRid)
	ch := make(chan *Msg, 1)
	c.pending[rid] = ch
	replySubject = c.inboxSub[:len(c.inboxSub)-1] + rid // swap trailing "*" for rid
	c.mu.Unlock()

	if err := c.publish(subject, replySubject, p); err != nil {
		c.mu.Lock()
		delete(c.pending, rid)
		c.mu.Unlock()
		return "", nil, err
	}

	wait = func(timeout time.Duration) (*Msg, error) {
		deadline := time.Now().Add(timeout)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				c.mu.Lock()
				delete(c.pending, rid)
				c.mu.Unlock()
				return nil, TimeoutError("no reply on %s within %s", subject, timeout)
			}
			select {
			case m := <-ch:
				return m, nil
			default:
			}
			if _, err := c.Process(minDuration(remaining, 50*time.Millisecond)); err != nil {
				return nil, err
			}
		}
	}
	return replySubject, wait, nil
}

// Dispatch is the synchronous request/reply wrapper: it blocks in
// Process until a reply arrives or timeout elapses.
func (c *Client) Dispatch(subject string, p Payload, timeout time.Duration) (Payload, error) {
	_, wait, err := c.Request(subject, p)
	if err != nil {
		return Payload{}, err
	}
	m, err := wait(timeout)
	if err != nil {
		return Payload{}, err
	}
	if m == nil {
		return Payload{}, TimeoutError("no reply on %s within %s", subject, timeout)
	}
	return m.Payload, nil
}

// Process reads frames for up to timeout, dispatching each MSG/HMSG to
// its handler and publishing any returned reply. It returns true if any
// handler fired.
func (c *Client) Process(timeout time.Duration) (progressed bool, err error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return progressed, nil
		}
		if err := c.conn.CheckKeepAlive(); err != nil {
			return progressed, err
		}
		frame, err := c.conn.GetMessage(remaining)
		if err != nil {
			return progressed, err
		}
		if frame == nil {
			return progressed, nil
		}

		c.mu.Lock()
		sub, ok := c.subscriptions[frame.Sid]
		c.mu.Unlock()
		if !ok {
			continue // re-subscribed/unsubscribed sid raced with in-flight delivery
		}

		msg := &Msg{Subject: frame.Subject, Sid: frame.Sid, ReplyTo: frame.ReplyTo, Payload: frame.Payload, replier: c}

		if sub.queue != nil {
			sub.queue.enqueue(msg)
			progressed = true
			continue
		}

		reply := sub.handler(msg)
		progressed = true
		if reply != nil {
			if msg.ReplyTo == "" {
				return progressed, InvariantError("handler for %q returned a reply but message had no ReplyTo", frame.Subject)
			}
			if err := c.publish(msg.ReplyTo, "", *reply); err != nil {
				return progressed, err
			}
		}
	}
}

// resubscribeAll re-issues SUB for every live subscription, in sid
// order, after a successful (re)connect.
func (c *Client) resubscribeAll() error {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	sort.Slice(subs, func(i, j int) bool {
		a, _ := strconv.Atoi(subs[i].sid)
		b, _ := strconv.Atoi(subs[j].sid)
		return a < b
	})

	for _, s := range subs {
		if err := c.conn.SendMessage(encodeSub(s.subject, s.queueGroup, s.sid)); err != nil {
			return err
		}
	}
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func itoa(n int) string { return strconv.Itoa(n) }

// terminalToken returns the last "."-separated token of subject, used
// to recover an inbox reply's rid from its delivery subject.
func terminalToken(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}
