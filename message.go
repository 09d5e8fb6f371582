package natsgo

// Replier is the minimal reply capability a Msg needs, so a message can
// ack/reply without holding a pointer to the whole Client.
type Replier interface {
	Publish(subject string, p Payload) error
}

// Msg is one decoded MSG/HMSG frame dispatched to a subscription
// handler or enqueued into a Queue.
type Msg struct {
	Subject string
	Sid     string
	ReplyTo string
	Payload Payload

	replier Replier
}

// Reply publishes p on m's ReplyTo subject. It is an invariant
// violation to call Reply on a message with no ReplyTo.
func (m *Msg) Reply(p Payload) error {
	if m.ReplyTo == "" {
		return InvariantError("replying to a message with no ReplyTo (subject %q)", m.Subject)
	}
	if m.replier == nil {
		return InvariantError("message has no reply capability attached")
	}
	return m.replier.Publish(m.ReplyTo, p)
}

// Handler processes one dispatched message. A non-nil return value is
// sent as a reply on the message's ReplyTo.
type Handler func(m *Msg) *Payload
