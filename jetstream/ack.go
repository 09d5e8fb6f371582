package jetstream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/natsgo/client"
)

// AckMeta is the metadata packed into a JS-Ack reply-to subject.
// Version is 1 for the 9-token form or 2 for the 12-token form;
// Domain/AccountHash/Random are only populated for v2.
type AckMeta struct {
	Version      int
	Domain       string
	AccountHash  string
	Stream       string
	Consumer     string
	Deliveries   int
	StreamSeq    uint64
	ConsumerSeq  uint64
	TimestampNs  int64
	Pending      uint64
	Random       string
}

// ParseAckReplyTo decodes subject per the v1/v2 ack-subject formats.
// Any other token count yields (AckMeta{}, false) without erroring; an
// unrecognized subject just carries no metadata, it isn't malformed.
// No teacher source covers this; the dot-token splitting follows
// codec.go's fieldsN style.
func ParseAckReplyTo(subject string) (AckMeta, bool) {
	tokens := strings.Split(subject, ".")

	if len(tokens) < 2 || tokens[0] != "$JS" || tokens[1] != "ACK" {
		return AckMeta{}, false
	}

	switch len(tokens) {
	case 9:
		// $JS.ACK.<stream>.<consumer>.<deliveries>.<streamSeq>.<consumerSeq>.<tsNs>.<pending>
		return parseAckTail(1, tokens)
	case 12:
		// $JS.ACK.<domain>.<accHash>.<stream>.<consumer>.<deliveries>.<streamSeq>.<consumerSeq>.<tsNs>.<pending>.<random>
		meta, ok := parseAckTail(3, tokens)
		if !ok {
			return AckMeta{}, false
		}
		meta.Version = 2
		meta.Domain = tokens[2]
		meta.AccountHash = tokens[3]
		meta.Random = tokens[11]
		return meta, true
	default:
		return AckMeta{}, false
	}
}

// parseAckTail parses the 7-field numeric tail
// "<stream>.<consumer>.<deliveries>.<streamSeq>.<consumerSeq>.<tsNs>.<pending>"
// that starts right after tokens[offset].
func parseAckTail(offset int, tokens []string) (AckMeta, bool) {
	stream := tokens[offset+1]
	consumer := tokens[offset+2]
	deliveries, err1 := strconv.Atoi(tokens[offset+3])
	streamSeq, err2 := strconv.ParseUint(tokens[offset+4], 10, 64)
	consumerSeq, err3 := strconv.ParseUint(tokens[offset+5], 10, 64)
	tsNs, err4 := strconv.ParseInt(tokens[offset+6], 10, 64)
	pending, err5 := strconv.ParseUint(tokens[offset+7], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return AckMeta{}, false
	}
	return AckMeta{
		Version:     1,
		Stream:      stream,
		Consumer:    consumer,
		Deliveries:  deliveries,
		StreamSeq:   streamSeq,
		ConsumerSeq: consumerSeq,
		TimestampNs: tsNs,
		Pending:     pending,
	}, true
}

// ackFrame is the literal frame JetStream acknowledgements render to:
// a PUB on the ack reply-to subject whose reply-to FIELD is present
// but always empty, producing a double space in the rendered line
// ("PUB <subject>  <len>\r\n<body>"). An ordinary PUB, by contrast,
// has codec.go's encodePub omit the reply-to token entirely when
// empty.
type ackFrame struct {
	Subject string
	Body    []byte
}

// render produces the line and body with no trailing CRLF; bytes adds
// it back for the full wire frame.
func (f ackFrame) render() string {
	return fmt.Sprintf("PUB %s %s %d\r\n%s", f.Subject, "", len(f.Body), f.Body)
}

// bytes is the full wire frame, render() plus the trailing CRLF every
// PUB body requires.
func (f ackFrame) bytes() []byte {
	return append([]byte(f.render()), '\r', '\n')
}

func sendAck(client *natsgo.Client, replyTo string, body []byte) error {
	if replyTo == "" {
		return natsgo.InvariantError("acknowledging a message with no JS-Ack reply-to subject")
	}
	return client.SendRaw(ackFrame{Subject: replyTo, Body: body}.bytes())
}

// Ack sends "+ACK" on replyTo.
func Ack(client *natsgo.Client, replyTo string) error {
	return sendAck(client, replyTo, []byte("+ACK"))
}

// Nack sends "-NAK" (or "-NAK {"delay":<ns>}" when delay > 0) on
// replyTo, asking the broker to redeliver after delay.
func Nack(client *natsgo.Client, replyTo string, delay time.Duration) error {
	body := []byte("-NAK")
	if delay > 0 {
		payload, err := json.Marshal(struct {
			Delay int64 `json:"delay"`
		}{Delay: delay.Nanoseconds()})
		if err != nil {
			return natsgo.ProtocolError(err, "encoding NAK delay")
		}
		body = append(body, ' ')
		body = append(body, payload...)
	}
	return sendAck(client, replyTo, body)
}

// Progress sends "+WPI" on replyTo, resetting the ack-wait timer
// without acknowledging.
func Progress(client *natsgo.Client, replyTo string) error {
	return sendAck(client, replyTo, []byte("+WPI"))
}

// Term sends "+TERM" (or "+TERM <reason>") on replyTo; the broker drops
// the message permanently.
func Term(client *natsgo.Client, replyTo string, reason string) error {
	body := []byte("+TERM")
	if reason != "" {
		body = append(body, ' ')
		body = append(body, []byte(reason)...)
	}
	return sendAck(client, replyTo, body)
}
