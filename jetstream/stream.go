package jetstream

import (
	"encoding/json"
	"time"

	natsgo "github.com/natsgo/client"
)

// Retention, Discard, Storage and Compression are the StreamConfig
// enums, realised as wire-matching string types rather than an int
// enum so JSON round-trips without a custom marshaler, grounded
// on ShubhamRasal-n2s/internal/nats/streams.go's Retention/Storage/
// Discard .String() mapping (there converting nats.go's int constants
// to these same strings for display; here the strings are canonical).
type Retention string

const (
	RetentionLimits    Retention = "limits"
	RetentionInterest  Retention = "interest"
	RetentionWorkQueue Retention = "workqueue"
)

type Discard string

const (
	DiscardOld Discard = "old"
	DiscardNew Discard = "new"
)

type Storage string

const (
	StorageFile   Storage = "file"
	StorageMemory Storage = "memory"
)

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionS2   Compression = "s2"
)

// ConsumerLimits caps what a stream will allow its consumers to
// request.
type ConsumerLimits struct {
	InactiveThreshold time.Duration `json:"inactive_threshold,omitempty"`
	MaxAckPending     int           `json:"max_ack_pending,omitempty"`
}

// StreamConfig is the stream-creation enumerated field set. Optional
// fields are pointers so encoding/json's own omitempty does the
// null-stripping the wire protocol requires (absent, not false or
// zero) without a hand-rolled MarshalJSON.
type StreamConfig struct {
	Name                  string          `json:"name"`
	Subjects              []string        `json:"subjects,omitempty"`
	Retention             Retention       `json:"retention,omitempty"`
	Discard               Discard         `json:"discard,omitempty"`
	Storage               Storage         `json:"storage,omitempty"`
	Replicas              int             `json:"num_replicas,omitempty"`
	MaxAge                time.Duration   `json:"max_age,omitempty"`
	MaxBytes              *int64          `json:"max_bytes,omitempty"`
	MaxConsumers          int             `json:"max_consumers,omitempty"`
	MaxMessageSize        *int32          `json:"max_msg_size,omitempty"`
	MaxMessagesPerSubject *int64          `json:"max_msgs_per_subject,omitempty"`
	DuplicateWindow       *time.Duration  `json:"duplicate_window,omitempty"`
	AllowRollupHeaders    bool            `json:"allow_rollup_hdrs,omitempty"`
	DenyDelete            bool            `json:"deny_delete,omitempty"`
	Description           string         `json:"description,omitempty"`
	ConsumerLimits        *ConsumerLimits `json:"consumer_limits,omitempty"`
	// AllowMsgSchedules is a pointer so "absent" (nil) and "false" are
	// distinguishable on the wire: older brokers omit this key entirely
	// and it must not be read as false.
	AllowMsgSchedules *bool       `json:"allow_msg_schedules,omitempty"`
	Compression       Compression `json:"compression,omitempty"`
}

// StreamState is the subset of the broker's reported stream state this
// client surfaces on Info.
type StreamState struct {
	Messages  uint64 `json:"messages"`
	Bytes     uint64 `json:"bytes"`
	FirstSeq  uint64 `json:"first_seq"`
	LastSeq   uint64 `json:"last_seq"`
	Consumers int    `json:"consumer_count"`
}

type streamInfoResponse struct {
	Type   string       `json:"type,omitempty"`
	Config StreamConfig `json:"config"`
	State  StreamState  `json:"state"`
}

// PubAck is JetStream's acked-publish response.
type PubAck struct {
	Stream    string `json:"stream"`
	Sequence  uint64 `json:"seq"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

// PurgeOptions narrows STREAM.PURGE; a nil *PurgeOptions means a full
// purge.
type PurgeOptions struct {
	Filter string `json:"filter,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`
	Keep   uint64 `json:"keep,omitempty"`
}

// Stream is the admin handle for one logical stream: create, update,
// delete, info, purge, and the two publish styles this package
// distinguishes (fire-and-forget Put vs acked Publish). Grounded on
// ShubhamRasal-n2s/internal/models/stream.go + internal/nats/streams.go
// for the config/state field shape.
type Stream struct {
	Name   string
	api    *API
	client *natsgo.Client
	cfg    StreamConfig
}

// NewStream returns a handle for an existing or not-yet-created stream
// named name. Call Create or Info to populate cfg.
func NewStream(api *API, client *natsgo.Client, name string) *Stream {
	return &Stream{Name: name, api: api, client: client}
}

// Config returns the locally cached configuration, last refreshed by
// Create, Update, or Info.
func (s *Stream) Config() StreamConfig { return s.cfg }

// Create issues STREAM.CREATE.<name> with cfg. cfg.Name is forced to
// s.Name since the name is immutable after create.
func (s *Stream) Create(cfg StreamConfig) error {
	cfg.Name = s.Name
	var resp streamInfoResponse
	if err := s.api.request("STREAM.CREATE."+s.Name, cfg, &resp); err != nil {
		return err
	}
	s.cfg = resp.Config
	return nil
}

// Update issues STREAM.UPDATE.<name> with cfg.
func (s *Stream) Update(cfg StreamConfig) error {
	cfg.Name = s.Name
	var resp streamInfoResponse
	if err := s.api.request("STREAM.UPDATE."+s.Name, cfg, &resp); err != nil {
		return err
	}
	s.cfg = resp.Config
	return nil
}

// Delete issues STREAM.DELETE.<name>.
func (s *Stream) Delete() error {
	return s.api.request("STREAM.DELETE."+s.Name, nil, nil)
}

// Info issues STREAM.INFO.<name> and refreshes the cached config and
// state from the response.
func (s *Stream) Info() (StreamState, error) {
	var resp streamInfoResponse
	if err := s.api.request("STREAM.INFO."+s.Name, nil, &resp); err != nil {
		return StreamState{}, err
	}
	s.cfg = resp.Config
	return resp.State, nil
}

// CreateIfNotExists is Info, then Create on a stream-not-found error.
func (s *Stream) CreateIfNotExists(cfg StreamConfig) error {
	_, err := s.Info()
	if err == nil {
		return nil
	}
	if code, ok := natsgo.IsAPIError(err); !ok || code != 404 {
		return err
	}
	return s.Create(cfg)
}

// Purge issues STREAM.PURGE.<name>. opts == nil purges everything.
func (s *Stream) Purge(opts *PurgeOptions) error {
	var body interface{}
	if opts != nil {
		body = opts
	}
	return s.api.request("STREAM.PURGE."+s.Name, body, nil)
}

// Put writes payload directly to subject with no acknowledgement; it
// is a direct PUB, not a JetStream-acked publish.
func (s *Stream) Put(subject string, p natsgo.Payload) error {
	return s.client.Publish(subject, p)
}

// Publish writes payload to subject and waits for the broker's PubAck,
// parsing {stream, seq, duplicate}. Setting a Nats-Msg-Id header on p
// before calling Publish enables the broker's duplicate-window
// suppression.
func (s *Stream) Publish(subject string, p natsgo.Payload) (PubAck, error) {
	reply, err := s.client.Dispatch(subject, p, DefaultRequestTimeout)
	if err != nil {
		return PubAck{}, err
	}

	var env apiEnvelope
	if jerr := json.Unmarshal(reply.Body, &env); jerr == nil && env.Error != nil {
		if metrics := s.client.Metrics(); metrics != nil {
			metrics.Errors.WithLabelValues(natsgo.KindAPI.String()).Inc()
		}
		return PubAck{}, natsgo.APIError(env.Error.Code, env.Error.Description)
	}

	var ack PubAck
	if err := json.Unmarshal(reply.Body, &ack); err != nil {
		return PubAck{}, natsgo.ProtocolError(err, "decoding PubAck")
	}
	return ack, nil
}
