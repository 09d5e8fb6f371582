package jetstream

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/natsgo/client"
)

// KV header names the broker recognises.
const (
	headerKVOperation           = "KV-Operation"
	headerExpectedLastSubjSeq   = "Nats-Expected-Last-Subject-Sequence"
	headerRollup                = "Nats-Rollup"
	kvOperationDelete           = "DEL"
	kvOperationPurge            = "PURGE"
	rollupSub                   = "sub"
)

// Entry is one KV value with its revision (stream sequence) and key.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
	Time     time.Time
}

// Bucket is a stream-backed key-value store: bucket "X" is stream
// "KV_X" with subjects "$KV.X.>". No teacher repo models a KV layer
// directly, so the bucket-on-stream naming here is this module's own
// convention rather than any example source.
type Bucket struct {
	Name   string
	stream *Stream
	api    *API
	client *natsgo.Client
}

func streamNameForBucket(name string) string { return "KV_" + name }
func subjectPrefixForBucket(name string) string { return "$KV." + name + "." }

// CreateBucket creates (or, if it already exists, reuses) the backing
// stream for bucket name, with historyLimit revisions retained per
// key: retention=limits, discard=new, maxMessagesPerSubject=history,
// allowRollupHeaders=true.
func CreateBucket(api *API, client *natsgo.Client, name string, historyLimit int64) (*Bucket, error) {
	streamName := streamNameForBucket(name)
	stream := NewStream(api, client, streamName)

	cfg := StreamConfig{
		Name:                  streamName,
		Subjects:              []string{subjectPrefixForBucket(name) + ">"},
		Retention:             RetentionLimits,
		Discard:               DiscardNew,
		Storage:               StorageFile,
		AllowRollupHeaders:    true,
		MaxMessagesPerSubject: &historyLimit,
	}
	if err := stream.CreateIfNotExists(cfg); err != nil {
		return nil, err
	}

	return &Bucket{Name: name, stream: stream, api: api, client: client}, nil
}

func (b *Bucket) subject(key string) string { return subjectPrefixForBucket(b.Name) + key }

// Put writes value under key and returns the new revision, which is
// just PubAck.seq.
func (b *Bucket) Put(key string, value []byte) (uint64, error) {
	ack, err := b.stream.Publish(b.subject(key), natsgo.NewPayload(value))
	if err != nil {
		return 0, err
	}
	return ack.Sequence, nil
}

// Get returns the current value for key, or (nil, nil) if the key has
// no value (never set, or deleted/purged), a direct last-per-subject
// read.
func (b *Bucket) Get(key string) ([]byte, error) {
	entry, err := b.getLast(b.subject(key))
	if err != nil {
		if code, ok := natsgo.IsAPIError(err); ok && code == 404 {
			return nil, nil
		}
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return entry.Value, nil
}

type storedMessage struct {
	Subject string    `json:"subject"`
	Seq     uint64    `json:"seq"`
	Data    string     `json:"data,omitempty"`
	Hdrs    string     `json:"hdrs,omitempty"`
	Time    time.Time  `json:"time"`
}

type streamMsgGetResponse struct {
	Type    string          `json:"type,omitempty"`
	Message *storedMessage `json:"message,omitempty"`
}

func (b *Bucket) getLast(subject string) (*Entry, error) {
	body := map[string]string{"last_by_subj": subject}
	var resp streamMsgGetResponse
	if err := b.api.request("STREAM.MSG.GET."+streamNameForBucket(b.Name), body, &resp); err != nil {
		return nil, err
	}
	if resp.Message == nil {
		return nil, nil
	}
	hdrs, err := base64.StdEncoding.DecodeString(resp.Message.Hdrs)
	if err != nil {
		return nil, natsgo.ProtocolError(err, "decoding stored message headers")
	}
	for _, line := range strings.Split(string(hdrs), "\r\n") {
		if i := strings.IndexByte(line, ':'); i > 0 && line[:i] == headerKVOperation {
			if op := strings.TrimSpace(line[i+1:]); op == kvOperationDelete || op == kvOperationPurge {
				return nil, nil
			}
		}
	}
	data, err := base64.StdEncoding.DecodeString(resp.Message.Data)
	if err != nil {
		return nil, natsgo.ProtocolError(err, "decoding stored message data")
	}
	return &Entry{
		Key:      strings.TrimPrefix(subject, subjectPrefixForBucket(b.Name)),
		Value:    data,
		Revision: resp.Message.Seq,
		Time:     resp.Message.Time,
	}, nil
}

// Update writes value under key only if key's current revision equals
// expectedRevision, via Nats-Expected-Last-Subject-Sequence; a
// mismatch surfaces as the broker's ApiError.
func (b *Bucket) Update(key string, value []byte, expectedRevision uint64) (uint64, error) {
	p := natsgo.NewPayload(value)
	p.SetHeader(headerExpectedLastSubjSeq, strconv.FormatUint(expectedRevision, 10))
	ack, err := b.stream.Publish(b.subject(key), p)
	if err != nil {
		return 0, err
	}
	return ack.Sequence, nil
}

// Delete marks key deleted by publishing an empty value with
// KV-Operation: DEL.
func (b *Bucket) Delete(key string) error {
	p := natsgo.NewPayload(nil)
	p.SetHeader(headerKVOperation, kvOperationDelete)
	_, err := b.stream.Publish(b.subject(key), p)
	return err
}

// Purge removes key and all of its history via KV-Operation: PURGE
// plus Nats-Rollup: sub.
func (b *Bucket) Purge(key string) error {
	p := natsgo.NewPayload(nil)
	p.SetHeader(headerKVOperation, kvOperationPurge)
	p.SetHeader(headerRollup, rollupSub)
	_, err := b.stream.Publish(b.subject(key), p)
	return err
}

// GetAll returns the current value of every key in the bucket, via a
// transient ordered-consumer scan filtered to the whole bucket, one
// Entry per key in order of first appearance. A key whose latest
// message is a delete or purge marker is still listed, with that
// marker's empty Value.
func (b *Bucket) GetAll() ([]Entry, error) {
	all, err := b.scan(subjectPrefixForBucket(b.Name) + ">")
	if err != nil {
		return all, err
	}
	latest := make(map[string]int, len(all))
	var out []Entry
	for _, e := range all {
		if i, ok := latest[e.Key]; ok {
			out[i] = e
			continue
		}
		latest[e.Key] = len(out)
		out = append(out, e)
	}
	return out, nil
}

// History returns every retained revision for key, oldest first, via a
// transient ordered-consumer scan filtered to that key's subject.
func (b *Bucket) History(key string) ([]Entry, error) {
	return b.scan(b.subject(key))
}

// scan creates a short-lived ephemeral consumer filtered to
// filterSubject, pulls every available message, then deletes the
// consumer.
func (b *Bucket) scan(filterSubject string) ([]Entry, error) {
	cfg := ConsumerConfig{
		DeliverPolicy: DeliverAll,
		AckPolicy:     AckNone,
		ReplayPolicy:  ReplayInstant,
		FilterSubject: filterSubject,
	}
	consumer, err := CreateConsumer(b.api, b.client, streamNameForBucket(b.Name), cfg, "")
	if err != nil {
		return nil, err
	}
	defer consumer.Delete()

	var entries []Entry
	err = consumer.Handle(PullOptions{Batch: 256, Iterations: 64, Expires: 500 * time.Millisecond}, func(m *Msg) {
		entries = append(entries, Entry{
			Key:      strings.TrimPrefix(m.Subject, subjectPrefixForBucket(b.Name)),
			Value:    m.Payload.Body,
			Revision: parseStreamSeq(m.ReplyTo),
		})
	}, func() {})
	if err != nil {
		return entries, err
	}
	return entries, nil
}

// parseStreamSeq recovers the stream sequence from a delivered
// message's JS-Ack reply-to subject, falling back to 0 if it doesn't
// parse.
func parseStreamSeq(replyTo string) uint64 {
	meta, ok := ParseAckReplyTo(replyTo)
	if !ok {
		return 0
	}
	return meta.StreamSeq
}
