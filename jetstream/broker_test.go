package jetstream

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	natsgo "github.com/natsgo/client"
	"github.com/stretchr/testify/require"
)

// brokerResponse is what a test's pubHandler hands back for one PUB: a
// plain body (ordinary MSG) or a body plus header lines (HMSG, used to
// simulate the 404/408 "no messages" status JetStream pull replies carry).
type brokerResponse struct {
	Headers map[string]string
	Body    []byte
}

func bodyResponse(b []byte) *brokerResponse { return &brokerResponse{Body: b} }

func statusResponse(code, message string) *brokerResponse {
	return &brokerResponse{Headers: map[string]string{
		natsgo.StatusCodeHeader:    code,
		natsgo.StatusMessageHeader: message,
	}}
}

// pubHandler answers one client PUB: given the subject and raw body bytes
// it published, it returns zero or more responses to deliver back on the
// message's reply-to subject (zero or one for an ordinary RPC, more than
// one to simulate a pull consumer's batched delivery).
type pubHandler func(subject string, headers map[string]string, body []byte) []*brokerResponse

func one(r *brokerResponse) []*brokerResponse {
	if r == nil {
		return nil
	}
	return []*brokerResponse{r}
}

// runFakeBroker starts a minimal loopback server speaking just enough of
// the wire protocol to drive a natsgo.Client through request/reply RPCs:
// INFO/CONNECT/PING/PONG handshake, SUB tracking (so replies land on the
// sid the client actually subscribed with), and PUB/HPUB bodies routed to
// handle. It plays the same stand-in role conn_test.go's fakeServer does,
// scoped to JetStream's $JS.API request/reply shape.
func runFakeBroker(t *testing.T, handle pubHandler) (host string, port int) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		serveFakeBroker(nc, handle)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func serveFakeBroker(nc net.Conn, handle pubHandler) {
	nc.Write([]byte(`INFO {"server_id":"fakejs"}` + "\r\n"))
	r := bufio.NewReader(nc)
	r.ReadString('\n') // CONNECT {...}
	r.ReadString('\n') // PING
	nc.Write([]byte("PONG\r\n"))

	var lastSid string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		op := strings.ToUpper(fields[0])
		switch op {
		case "SUB":
			lastSid = fields[len(fields)-1]
		case "PING":
			nc.Write([]byte("PONG\r\n"))
		case "PUB":
			subject := fields[1]
			replyTo := ""
			var length int
			if len(fields) == 4 {
				replyTo = fields[2]
				length, _ = strconv.Atoi(fields[3])
			} else {
				length, _ = strconv.Atoi(fields[2])
			}
			body := make([]byte, length)
			io.ReadFull(r, body)
			r.ReadString('\n') // consumes the trailing CRLF after the body

			responses := handle(subject, nil, body)
			if replyTo == "" || lastSid == "" {
				continue
			}
			for _, resp := range responses {
				writeReply(nc, replyTo, lastSid, resp)
			}
		case "HPUB":
			subject := fields[1]
			replyTo := ""
			var hlen, total int
			if len(fields) == 5 {
				replyTo = fields[2]
				hlen, _ = strconv.Atoi(fields[3])
				total, _ = strconv.Atoi(fields[4])
			} else {
				hlen, _ = strconv.Atoi(fields[2])
				total, _ = strconv.Atoi(fields[3])
			}
			raw := make([]byte, total)
			io.ReadFull(r, raw)
			r.ReadString('\n')

			headers := parseHeaderLines(raw[:hlen])
			body := raw[hlen:]

			responses := handle(subject, headers, body)
			if replyTo == "" || lastSid == "" {
				continue
			}
			for _, resp := range responses {
				writeReply(nc, replyTo, lastSid, resp)
			}
		}
	}
}

// parseHeaderLines decodes a raw HPUB header block ("NATS/1.0\r\nKey:
// Value\r\n...\r\n\r\n") into a plain map, skipping the preamble line.
func parseHeaderLines(block []byte) map[string]string {
	headers := make(map[string]string)
	lines := strings.Split(string(block), "\r\n")
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		headers[line[:idx]] = strings.TrimSpace(line[idx+1:])
	}
	return headers
}

func writeReply(nc net.Conn, replyTo, sid string, resp *brokerResponse) {
	if len(resp.Headers) == 0 {
		frame := fmt.Sprintf("MSG %s %s %d\r\n", replyTo, sid, len(resp.Body))
		nc.Write([]byte(frame))
		nc.Write(resp.Body)
		nc.Write([]byte("\r\n"))
		return
	}

	var hdr strings.Builder
	hdr.WriteString("NATS/1.0\r\n")
	for k, v := range resp.Headers {
		hdr.WriteString(k)
		hdr.WriteString(": ")
		hdr.WriteString(v)
		hdr.WriteString("\r\n")
	}
	hdr.WriteString("\r\n")

	hlen := hdr.Len()
	total := hlen + len(resp.Body)
	frame := fmt.Sprintf("HMSG %s %s %d %d\r\n", replyTo, sid, hlen, total)
	nc.Write([]byte(frame))
	nc.Write([]byte(hdr.String()))
	nc.Write(resp.Body)
	nc.Write([]byte("\r\n"))
}

func newTestClient(t *testing.T, handle pubHandler) *natsgo.Client {
	host, port := runFakeBroker(t, handle)
	opts := natsgo.Apply(natsgo.WithServer(host, port), natsgo.WithTimeout(2*time.Second))
	client := natsgo.NewClient(natsgo.NewConn(opts), opts)
	require.NoError(t, client.Connect())
	t.Cleanup(client.Close)
	return client
}
