package natsgo

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// State is the connection lifecycle: uninitialised, dialling,
// handshaking, connected, reconnecting, closed, and back to connected
// on a successful reconnect.
type State int32

const (
	StateUninitialised State = iota
	StateDialling
	StateHandshaking
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateDialling:
		return "dialling"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ServerInfo is the decoded INFO frame.
type ServerInfo struct {
	ServerID     string   `json:"server_id"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	Version      string   `json:"version"`
	AuthRequired bool     `json:"auth_required"`
	TLSRequired  bool     `json:"tls_required"`
	TLSVerify    bool     `json:"tls_verify"`
	MaxPayload   int      `json:"max_payload"`
	ConnectURLs  []string `json:"connect_urls,omitempty"`
	Nonce        string   `json:"nonce,omitempty"`
	LameDuckMode bool     `json:"ldm,omitempty"`
}

const defaultMaxControlLine = 4096

// resubscriber is implemented by Client; Conn calls it after every
// successful (re)connect so live subscriptions are re-issued before
// any application write is admitted.
type resubscriber interface {
	resubscribeAll() error
}

// Conn owns one TCP/TLS socket: the buffered reader/writer, the
// handshake/reconnect state machine, and keep-alive. Grounded on
// gonatsd/conn.go's conn struct (there server-side, reading requests
// and writing responses; here client-side, writing requests and
// reading responses) and its heartbeat_helper.go ping/pong bookkeeping.
type Conn struct {
	opts Options

	nc     net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	fr     *frameReader

	state   atomic.Int32
	info    ServerInfo
	backoff Backoff

	pongAt     time.Time
	activityAt time.Time
	outstanding int

	resub resubscriber

	log     Logger
	metrics *Metrics

	pendingFrames []*Frame
}

// NewConn builds an unconnected Conn. Call Connect before use.
func NewConn(opts Options) *Conn {
	c := &Conn{
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		backoff: NewBackoff(opts.DelayMode, opts.ReconnectDelay),
	}
	if c.log == nil {
		c.log = NopLogger
	}
	c.state.Store(int32(StateUninitialised))
	return c
}

// SetResubscriber installs the callback Conn uses to re-issue live
// subscriptions after every (re)connect.
func (c *Conn) SetResubscriber(r resubscriber) { c.resub = r }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Info returns the most recently cached server INFO.
func (c *Conn) Info() ServerInfo { return c.info }

// Connect dials the server and completes the handshake: dial TCP,
// optionally TLS-first, read INFO, upgrade to TLS if required, send
// CONNECT via the Authenticator, and synchronize with a PING/PONG (and
// +OK if verbose).
func (c *Conn) Connect() error {
	c.state.Store(int32(StateDialling))

	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
	nc, err := net.DialTimeout("tcp", addr, dialTimeout(c.opts))
	if err != nil {
		return ConnectionError(err, "dialing %s", addr)
	}

	c.state.Store(int32(StateHandshaking))

	if c.opts.TLSHandshakeFirst {
		nc, err = c.upgradeTLS(nc)
		if err != nil {
			nc.Close()
			return err
		}
	}

	c.nc = nc
	c.reader = bufio.NewReaderSize(nc, 64*1024)
	c.writer = bufio.NewWriterSize(nc, 64*1024)
	c.fr = newFrameReader(c.reader, defaultMaxControlLine)

	if err := c.readInfo(); err != nil {
		c.nc.Close()
		return err
	}

	if !c.opts.TLSHandshakeFirst && (c.info.TLSRequired || c.opts.TLSConfig != nil || c.opts.TLSCertFile != "") {
		tlsConn, err := c.upgradeTLS(c.nc)
		if err != nil {
			c.nc.Close()
			return err
		}
		c.nc = tlsConn
		c.reader = bufio.NewReaderSize(tlsConn, 64*1024)
		c.writer = bufio.NewWriterSize(tlsConn, 64*1024)
		c.fr = newFrameReader(c.reader, defaultMaxControlLine)
	}

	if err := c.sendConnect(); err != nil {
		c.nc.Close()
		return err
	}

	c.state.Store(int32(StateConnected))
	now := time.Now()
	c.pongAt, c.activityAt = now, now
	c.outstanding = 0
	return nil
}

func dialTimeout(o Options) time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

func (c *Conn) upgradeTLS(nc net.Conn) (net.Conn, error) {
	var config *tls.Config
	if c.opts.TLSConfig != nil {
		config = c.opts.TLSConfig.Clone()
	} else {
		config = &tls.Config{ServerName: c.opts.Host}
	}
	if c.opts.TLSCAFile != "" {
		pool, err := loadCAFile(c.opts.TLSCAFile)
		if err != nil {
			return nil, err
		}
		config.RootCAs = pool
	}
	if c.opts.TLSCertFile != "" && c.opts.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.opts.TLSCertFile, c.opts.TLSKeyFile)
		if err != nil {
			return nil, ConnectionError(err, "loading TLS keypair")
		}
		config.Certificates = []tls.Certificate{cert}
	}
	tlsConn := tls.Client(nc, config)
	if err := tlsConn.Handshake(); err != nil {
		return nil, ConnectionError(err, "TLS handshake with %s", c.opts.Host)
	}
	return tlsConn, nil
}

func loadCAFile(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, ConnectionError(err, "reading CA file %q", path)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, DomainError("no certificates parsed from CA file %q", path)
	}
	return pool, nil
}

func (c *Conn) readInfo() error {
	frame, err := c.fr.readFrame()
	if err != nil {
		return ConnectionError(err, "reading INFO")
	}
	if frame.Op != opInfo {
		return ProtocolError(nil, "expected INFO, got %s", frame.Op)
	}
	var info ServerInfo
	if err := json.Unmarshal([]byte(frame.Raw), &info); err != nil {
		return ProtocolError(err, "decoding INFO payload")
	}
	c.info = info
	return nil
}

func (c *Conn) sendConnect() error {
	fields, err := BuildConnect(c.info, c.opts)
	if err != nil {
		return err
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return ProtocolError(err, "encoding CONNECT")
	}
	if err := c.writeRaw(encodeSimple(opConnect, string(body))); err != nil {
		return err
	}
	if err := c.writeRaw(encodeSimple(opPing, "")); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		return ConnectionError(err, "flushing CONNECT")
	}

	deadline := time.Now().Add(dialTimeout(c.opts))
	for {
		if time.Now().After(deadline) {
			return TimeoutError("no PONG after CONNECT")
		}
		frame, err := c.fr.readFrame()
		if err != nil {
			return ConnectionError(err, "reading CONNECT handshake reply")
		}
		switch frame.Op {
		case opOK:
			continue
		case opErr:
			return AuthError("server rejected CONNECT: %s", frame.Raw)
		case opPong:
			return nil
		case opPing:
			if err := c.writeRaw(encodeSimple(opPong, "")); err != nil {
				return err
			}
			if err := c.writer.Flush(); err != nil {
				return ConnectionError(err, "flushing PONG")
			}
		case opInfo:
			var info ServerInfo
			if err := json.Unmarshal([]byte(frame.Raw), &info); err == nil {
				c.info = info
			}
		}
	}
}

// writeRaw writes data to the socket in chunks of at most
// opts.PacketSize bytes (0 = unbounded).
func (c *Conn) writeRaw(data []byte) error {
	size := c.opts.PacketSize
	if size <= 0 {
		_, err := c.writer.Write(data)
		if err != nil {
			return ConnectionError(err, "writing to socket")
		}
		return nil
	}
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		if _, err := c.writer.Write(data[:n]); err != nil {
			return ConnectionError(err, "writing to socket")
		}
		data = data[n:]
	}
	return nil
}

// SendMessage serialises and writes frame, flushing immediately. On a
// write failure it reconnects once (if opts.Reconnect) and retries, or
// surfaces the error.
func (c *Conn) SendMessage(frame []byte) error {
	err := c.send(frame)
	if err == nil {
		return nil
	}
	if !c.opts.Reconnect {
		return err
	}
	if rerr := c.Reconnect(); rerr != nil {
		return rerr
	}
	return c.send(frame)
}

func (c *Conn) send(frame []byte) error {
	if c.State() != StateConnected {
		return ConnectionError(nil, "not connected")
	}
	if err := c.writeRaw(frame); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		return ConnectionError(err, "flushing socket")
	}
	if c.metrics != nil {
		c.metrics.MsgsOut.Inc()
		c.metrics.BytesOut.Add(float64(len(frame)))
	}
	return nil
}

// GetMessage reads at most one application-visible frame (MSG/HMSG)
// within timeout. Control frames (+OK, PING, PONG, mid-stream INFO)
// are consumed and acted on internally; -ERR is surfaced as a
// connection error. Returns (nil, nil) if the deadline elapses with no
// application frame.
func (c *Conn) GetMessage(timeout time.Duration) (*Frame, error) {
	if len(c.pendingFrames) > 0 {
		frame := c.pendingFrames[0]
		c.pendingFrames = c.pendingFrames[1:]
		return frame, nil
	}
	if c.nc == nil {
		return nil, ConnectionError(nil, "not connected")
	}
	deadline := time.Now().Add(timeout)
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return nil, ConnectionError(err, "setting read deadline")
	}
	defer c.nc.SetReadDeadline(time.Time{})

	for {
		frame, err := c.fr.readFrame()
		if err != nil {
			if isTimeoutErr(err) {
				return nil, nil
			}
			if err == io.EOF {
				c.recordErr(KindConnection)
				return nil, ConnectionError(err, "connection closed by server")
			}
			if c.opts.SkipInvalidMessages && isProtocolErr(err) {
				c.log.Warnf("dropping invalid frame: %v", err)
				continue
			}
			kind := KindConnection
			if isProtocolErr(err) {
				kind = KindProtocol
			}
			c.recordErr(kind)
			return nil, ConnectionError(err, "reading frame")
		}
		c.activityAt = time.Now()

		switch frame.Op {
		case opOK:
			continue
		case opPing:
			if werr := c.send(encodeSimple(opPong, "")); werr != nil {
				return nil, werr
			}
			continue
		case opPong:
			c.pongAt = time.Now()
			c.outstanding = 0
			continue
		case opErr:
			c.recordErr(KindConnection)
			return nil, ConnectionError(nil, "server error: %s", frame.Raw)
		case opInfo:
			var info ServerInfo
			if jerr := json.Unmarshal([]byte(frame.Raw), &info); jerr == nil {
				c.info = info
			}
			continue
		case opMsg:
			if c.metrics != nil {
				c.metrics.MsgsIn.Inc()
				c.metrics.BytesIn.Add(float64(len(frame.Payload.Body)))
			}
			return frame, nil
		default:
			if c.opts.SkipInvalidMessages {
				c.log.Warnf("dropping frame with unexpected op %s", frame.Op)
				continue
			}
			c.recordErr(KindProtocol)
			return nil, ProtocolError(nil, "unexpected frame op %s", frame.Op)
		}
	}
}

// isProtocolErr reports whether err is a frame-decode failure (a
// malformed control line, length, or op) as opposed to a socket-level
// failure. Only the former is eligible for SkipInvalidMessages.
func isProtocolErr(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindProtocol
}

// recordErr increments the Errors counter labeled by kind, if metrics
// are configured.
func (c *Conn) recordErr(kind Kind) {
	if c.metrics != nil {
		c.metrics.recordErr(kind)
	}
}

func isTimeoutErr(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// Ping writes PING then waits for pongAt to advance, up to timeout. Any
// application frame that arrives while waiting is queued on
// pendingFrames rather than dropped, so the next GetMessage still
// delivers it in order.
func (c *Conn) Ping(timeout time.Duration) bool {
	before := c.pongAt
	if err := c.send(encodeSimple(opPing, "")); err != nil {
		return false
	}
	// pendingFrames is emptied while waiting so GetMessage reads the
	// socket instead of handing back already-buffered frames; they and
	// any frame read here go back on pendingFrames, in order, on return.
	held := c.pendingFrames
	c.pendingFrames = nil
	defer func() { c.pendingFrames = held }()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		remaining := deadline.Sub(time.Now())
		if remaining <= 0 {
			break
		}
		if remaining > 250*time.Millisecond {
			remaining = 250 * time.Millisecond
		}
		frame, err := c.GetMessage(remaining)
		if err != nil {
			return c.pongAt.After(before)
		}
		if frame != nil {
			held = append(held, frame)
		}
		if c.pongAt.After(before) {
			return true
		}
	}
	return c.pongAt.After(before)
}

// CheckKeepAlive sends a PING if more than opts.PingInterval has
// elapsed since the last socket activity, and triggers a reconnect if
// too many pings go unanswered.
func (c *Conn) CheckKeepAlive() error {
	if c.opts.PingInterval <= 0 {
		return nil
	}
	if time.Since(c.activityAt) < c.opts.PingInterval {
		return nil
	}
	c.outstanding++
	maxOut := c.opts.MaxPingsOut
	if maxOut <= 0 {
		maxOut = 2
	}
	if c.outstanding > maxOut {
		return c.Reconnect()
	}
	return c.send(encodeSimple(opPing, ""))
}

// Reconnect tears down the socket and redials per the configured
// backoff schedule, re-issuing every live subscription once connected.
// It retries indefinitely, sleeping between attempts per
// opts.DelayMode, as long as opts.Reconnect stays true; it returns the
// last dial error as soon as opts.Reconnect is false. An authorization
// rejection is returned at once, without further attempts.
func (c *Conn) Reconnect() error {
	c.state.Store(int32(StateReconnecting))
	if c.nc != nil {
		c.nc.Close()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.Connect(); err == nil {
			if c.metrics != nil {
				c.metrics.Reconnects.Inc()
			}
			if c.resub != nil {
				if rerr := c.resub.resubscribeAll(); rerr != nil {
					return rerr
				}
			}
			return nil
		} else {
			lastErr = err
			c.log.Warnf("reconnect attempt %d failed: %v", attempt, err)
			var e *Error
			if errors.As(err, &e) && e.Kind == KindAuth {
				c.recordErr(KindAuth)
				return err
			}
		}
		if !c.opts.Reconnect {
			c.recordErr(KindConnection)
			return lastErr
		}
		time.Sleep(c.backoff.Next(attempt))
	}
}

// Close idempotently shuts down the socket.
func (c *Conn) Close() {
	if c.State() == StateClosed {
		return
	}
	c.state.Store(int32(StateClosed))
	if c.nc != nil {
		c.nc.Close()
	}
}
