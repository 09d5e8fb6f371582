package jetstream

import (
	"encoding/json"
	"sync/atomic"
	"time"

	natsgo "github.com/natsgo/client"
	"github.com/nats-io/nuid"
)

// DeliverPolicy, AckPolicy and ReplayPolicy are ConsumerConfig's enums,
// grounded on ShubhamRasal-n2s/internal/nats/consumers.go's
// convertConsumerInfo string mapping.
type DeliverPolicy string

const (
	DeliverAll              DeliverPolicy = "all"
	DeliverByStartSequence  DeliverPolicy = "by_start_sequence"
	DeliverByStartTime      DeliverPolicy = "by_start_time"
	DeliverLast             DeliverPolicy = "last"
	DeliverLastPerSubject   DeliverPolicy = "last_per_subject"
	DeliverNew              DeliverPolicy = "new"
)

type AckPolicy string

const (
	AckAll      AckPolicy = "all"
	AckExplicit AckPolicy = "explicit"
	AckNone     AckPolicy = "none"
)

type ReplayPolicy string

const (
	ReplayInstant  ReplayPolicy = "instant"
	ReplayOriginal ReplayPolicy = "original"
)

// ConsumerConfig is the enumerated field set a consumer is created with.
type ConsumerConfig struct {
	DeliverPolicy       DeliverPolicy   `json:"deliver_policy,omitempty"`
	AckPolicy           AckPolicy       `json:"ack_policy,omitempty"`
	ReplayPolicy        ReplayPolicy    `json:"replay_policy,omitempty"`
	FilterSubject       string          `json:"filter_subject,omitempty"`
	AckWait             time.Duration   `json:"ack_wait,omitempty"`
	MaxAckPending        int            `json:"max_ack_pending,omitempty"`
	InactiveThreshold   time.Duration   `json:"inactive_threshold,omitempty"`
	Backoff             []time.Duration `json:"backoff,omitempty"`
	DurableName         string          `json:"durable_name,omitempty"`
}

type consumerInfoResponse struct {
	Type   string         `json:"type,omitempty"`
	Name   string         `json:"name"`
	Stream string         `json:"stream_name"`
	Config ConsumerConfig `json:"config"`
}

type pullRequest struct {
	Batch   int   `json:"batch"`
	Expires int64 `json:"expires,omitempty"`
	NoWait  bool  `json:"no_wait,omitempty"`
}

// Msg wraps a delivered application message with its acknowledgement
// methods. It holds a pointer to the Client that received it, which the
// ack methods publish through on the message's ReplyTo ack subject.
type Msg struct {
	*natsgo.Msg
	client *natsgo.Client
}

// Ack acknowledges the message ("+ACK").
func (m *Msg) Ack() error {
	err := Ack(m.client, m.ReplyTo)
	if err == nil {
		m.settle()
	}
	return err
}

// Nack asks the broker to redeliver after delay ("-NAK", optionally
// carrying {"delay":<ns>}).
func (m *Msg) Nack(delay time.Duration) error {
	err := Nack(m.client, m.ReplyTo, delay)
	if err == nil {
		m.settle()
	}
	return err
}

// Progress resets the ack-wait timer without acknowledging ("+WPI").
func (m *Msg) Progress() error { return Progress(m.client, m.ReplyTo) }

// Term permanently drops the message ("+TERM", optionally with reason).
func (m *Msg) Term(reason string) error {
	err := Term(m.client, m.ReplyTo, reason)
	if err == nil {
		m.settle()
	}
	return err
}

// settle decrements the AckPending gauge once a message reaches a
// terminal outcome (ack, nack, or term).
func (m *Msg) settle() {
	if metrics := m.client.Metrics(); metrics != nil {
		metrics.AckPending.Dec()
	}
}

// PullOptions are a pull consumer's three knobs.
type PullOptions struct {
	Batch      int
	Iterations int
	Expires    time.Duration // 0 means no-wait
}

// Consumer is a pull-mode cursor over a Stream: create, then Handle
// drives batched fetch-and-dispatch iterations. Grounded on
// ShubhamRasal-n2s/internal/nats/consumers.go for the field mapping and
// bacalhau's pkg/nats/stream/consumer_client.go for the pull/batch
// client idiom (there driving a single long poll; here driving an
// explicit batch/iteration/expires loop).
type Consumer struct {
	Name       string
	Stream     string
	api        *API
	client     *natsgo.Client
	cfg        ConsumerConfig
	inboxPrefix string
	nuidGen    *nuid.NUID
	interrupted atomic.Bool
}

// CreateConsumer issues CONSUMER.DURABLE.CREATE.<stream>.<durable> if
// cfg.DurableName is set, or CONSUMER.CREATE.<stream> for an ephemeral
// consumer whose broker-assigned name is captured from the response.
// Creating the same durable with an identical config is idempotent,
// the broker, not this client, enforces that.
func CreateConsumer(api *API, client *natsgo.Client, stream string, cfg ConsumerConfig, inboxPrefix string) (*Consumer, error) {
	if inboxPrefix == "" {
		inboxPrefix = natsgo.DefaultInboxPrefix
	}

	op := "CONSUMER.CREATE." + stream
	if cfg.DurableName != "" {
		op = "CONSUMER.DURABLE.CREATE." + stream + "." + cfg.DurableName
	}

	body := map[string]interface{}{
		"stream_name": stream,
		"config":      cfg,
	}

	var resp consumerInfoResponse
	if err := api.request(op, body, &resp); err != nil {
		return nil, err
	}

	return &Consumer{
		Name:        resp.Name,
		Stream:      stream,
		api:         api,
		client:      client,
		cfg:         resp.Config,
		inboxPrefix: inboxPrefix,
		nuidGen:     nuid.New(),
	}, nil
}

// Delete issues CONSUMER.DELETE.<stream>.<consumer>.
func (c *Consumer) Delete() error {
	return c.api.request("CONSUMER.DELETE."+c.Stream+"."+c.Name, nil, nil)
}

// Interrupt sets the flag Handle checks between iterations, to break
// out cleanly.
func (c *Consumer) Interrupt() { c.interrupted.Store(true) }

// Handle performs up to opts.Iterations pull cycles, calling onMessage
// for each delivered message and onEmpty whenever a pull returns no
// messages before its own batch is exhausted. onEmpty may be nil.
func (c *Consumer) Handle(opts PullOptions, onMessage func(*Msg), onEmpty func()) error {
	if opts.Batch <= 0 {
		opts.Batch = 1
	}
	if opts.Iterations <= 0 {
		opts.Iterations = 1
	}

	for i := 0; i < opts.Iterations; i++ {
		if c.interrupted.Load() {
			return nil
		}

		msgs, err := c.pullOnce(opts.Batch, opts.Expires)
		if err != nil {
			return err
		}

		empty := false
		for _, m := range msgs {
			if m.Payload.IsNoMessagesStatus() {
				empty = true
				continue
			}
			c.recordDelivery(m)
			onMessage(&Msg{Msg: m, client: c.client})
		}
		if empty {
			if onEmpty != nil {
				onEmpty()
			}
			if opts.Expires == 0 {
				return nil
			}
		}
	}
	return nil
}

// recordDelivery updates AckPending/Redeliveries from the ack-reply-to
// subject's packed delivery count.
func (c *Consumer) recordDelivery(m *natsgo.Msg) {
	metrics := c.client.Metrics()
	if metrics == nil {
		return
	}
	metrics.AckPending.Inc()
	if meta, ok := ParseAckReplyTo(m.ReplyTo); ok && meta.Deliveries > 1 {
		metrics.Redeliveries.Inc()
	}
}

// pullOnce performs one CONSUMER.MSG.NEXT request and drains up to
// batch messages (including a 404/408 terminator) within timeout.
func (c *Consumer) pullOnce(batch int, expires time.Duration) ([]*natsgo.Msg, error) {
	replySubject := c.inboxPrefix + "." + c.nuidGen.Next()

	sid, queue, err := c.client.Subscribe(replySubject, "", nil)
	if err != nil {
		return nil, err
	}
	defer c.client.Unsubscribe(sid)

	req := pullRequest{
		Batch:   batch,
		Expires: int64(expires),
		NoWait:  expires == 0,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, natsgo.ProtocolError(err, "encoding pull request")
	}

	subject := apiPrefix + ".CONSUMER.MSG.NEXT." + c.Stream + "." + c.Name
	if err := c.client.PublishRequest(subject, replySubject, natsgo.NewPayload(body)); err != nil {
		return nil, err
	}

	timeout := expires
	if timeout <= 0 {
		timeout = c.api.timeout
	}
	return drainQueue(c.client, queue, batch, timeout)
}

// drainQueue drives Client.Process until queue yields limit messages, a
// terminator is seen, or timeout elapses.
func drainQueue(client *natsgo.Client, queue *natsgo.Queue, limit int, timeout time.Duration) ([]*natsgo.Msg, error) {
	deadline := time.Now().Add(timeout)
	var out []*natsgo.Msg
	for len(out) < limit {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		step := remaining
		if step > 100*time.Millisecond {
			step = 100 * time.Millisecond
		}
		if _, err := client.Process(step); err != nil {
			return out, err
		}
		for len(out) < limit {
			m, err := queue.Fetch(0)
			if err != nil {
				return out, err
			}
			if m == nil {
				break
			}
			out = append(out, m)
			if m.Payload.IsNoMessagesStatus() {
				return out, nil
			}
		}
	}
	return out, nil
}
