package natsgo

import (
	"strconv"
	"strings"
)

// StatusCodeHeader and StatusMessageHeader are the synthetic headers
// injected when a header block's first line is a NATS/1.0 status line.
const (
	StatusCodeHeader    = "Status-Code"
	StatusMessageHeader = "Status-Message"
)

// Header is one (key, value) pair of a Payload's header block. Payload
// keeps headers as an ordered slice rather than a map so that wire order
// is preserved on re-encode; lookups are last-wins over duplicate keys.
type Header struct {
	Key   string
	Value string
}

// Payload is a subject-less value: an opaque body plus an ordered,
// case-sensitive header list.
type Payload struct {
	Body    []byte
	Headers []Header
}

// NewPayload wraps body with no headers.
func NewPayload(body []byte) Payload {
	return Payload{Body: body}
}

// NewTextPayload wraps a string body with no headers, the "auto-wrap"
// form accepted by Client.Publish.
func NewTextPayload(body string) Payload {
	return Payload{Body: []byte(body)}
}

// Header returns the last value set for key, or "" with ok=false.
// Lookup is case-sensitive.
func (p Payload) Header(key string) (string, bool) {
	for i := len(p.Headers) - 1; i >= 0; i-- {
		if p.Headers[i].Key == key {
			return p.Headers[i].Value, true
		}
	}
	return "", false
}

// AddHeader appends a header, preserving any existing value under the
// same key (last-wins on read, but both entries round-trip on write).
func (p *Payload) AddHeader(key, value string) {
	p.Headers = append(p.Headers, Header{Key: key, Value: value})
}

// SetHeader replaces all existing values for key with a single value.
func (p *Payload) SetHeader(key, value string) {
	out := p.Headers[:0]
	for _, h := range p.Headers {
		if h.Key != key {
			out = append(out, h)
		}
	}
	p.Headers = append(out, Header{Key: key, Value: value})
}

// HasHeaders reports whether the payload carries any header at all,
// which determines whether it must be sent as HPUB/HMSG rather than
// plain PUB/MSG.
func (p Payload) HasHeaders() bool {
	return len(p.Headers) > 0
}

// StatusCode returns the numeric value of the synthetic Status-Code
// header, if one was injected while decoding a status-only header
// block.
func (p Payload) StatusCode() (int, bool) {
	v, ok := p.Header(StatusCodeHeader)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsNoMessagesStatus reports whether this payload is a pull-terminator
// status message (404 or 408); both are treated as "no messages" with
// identical semantics.
func (p Payload) IsNoMessagesStatus() bool {
	code, ok := p.StatusCode()
	return ok && (code == 404 || code == 408)
}

// encodeHeaderBlock renders the NATS/1.0 header block exactly as
// HPUB requires: a bare "NATS/1.0" preamble line, one "Key: Value" line
// per header, then a blank line.
func encodeHeaderBlock(headers []Header) []byte {
	var b strings.Builder
	b.WriteString("NATS/1.0\r\n")
	for _, h := range headers {
		b.WriteString(h.Key)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// decodeHeaderBlock parses a header block's bytes (everything up to and
// including the blank-line terminator) into headers, injecting the
// synthetic Status-Code/Status-Message headers for a status preamble.
func decodeHeaderBlock(block []byte) ([]Header, error) {
	lines := strings.Split(string(block), "\r\n")
	if len(lines) == 0 {
		return nil, ProtocolError(nil, "empty header block")
	}

	preamble := lines[0]
	var headers []Header

	switch {
	case preamble == "NATS/1.0":
		// bare preamble, no status
	case strings.HasPrefix(preamble, "NATS/1.0 "):
		rest := strings.TrimPrefix(preamble, "NATS/1.0 ")
		code := rest
		message := ""
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			code = rest[:i]
			message = strings.TrimSpace(rest[i+1:])
		}
		headers = append(headers,
			Header{Key: StatusCodeHeader, Value: code},
			Header{Key: StatusMessageHeader, Value: message},
		)
	default:
		return nil, ProtocolError(nil, "header block missing NATS/1.0 preamble: %q", preamble)
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, ProtocolError(nil, "header line has no colon: %q", line)
		}
		key := line[:idx]
		value := strings.TrimSpace(line[idx+1:])
		headers = append(headers, Header{Key: key, Value: value})
	}

	return headers, nil
}
