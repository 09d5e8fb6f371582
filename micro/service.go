package micro

import (
	"encoding/json"
	"sync"
	"time"

	natsgo "github.com/natsgo/client"
	"github.com/nats-io/nuid"
)

// Discovery subject root and the fixed response type strings the
// convention requires.
const (
	discoveryPrefix = "$SRV"

	pingResponseType  = "io.nats.micro.v1.ping_response"
	infoResponseType  = "io.nats.micro.v1.info_response"
	statsResponseType = "io.nats.micro.v1.stats_response"
)

// EndpointStats is one endpoint's running counters: starts at zero,
// incremented on every dispatched request, grounded on
// gonatsd/server.go's Stats struct of atomic op counters generalized
// from the broker's global counters to one counter set per endpoint.
type EndpointStats struct {
	NumRequests      uint64 `json:"num_requests"`
	NumErrors        uint64 `json:"num_errors"`
	ProcessingTimeNs int64  `json:"processing_time_ns"`
	LastError        string `json:"last_error,omitempty"`
}

// EndpointHandler processes one request and reports whether it
// succeeded, for stats purposes; the reply itself is sent exactly as
// natsgo.Handler would send it.
type EndpointHandler func(m *natsgo.Msg) (*natsgo.Payload, error)

// endpoint is one registered (subject, handler) pair plus its live
// stats, grounded on gonatsd/server_cmd.go's endpoint/command registry
// shape (there mapping op name to handler function; here mapping
// subject to handler plus a stats block the broker-side table lacked).
type endpoint struct {
	name       string
	subject    string
	queueGroup string
	handler    EndpointHandler
	sid        string

	mu    sync.Mutex
	stats EndpointStats
}

func (e *endpoint) record(start time.Time, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.NumRequests++
	e.stats.ProcessingTimeNs += time.Since(start).Nanoseconds()
	if err != nil {
		e.stats.NumErrors++
		e.stats.LastError = err.Error()
	}
}

func (e *endpoint) snapshot() EndpointStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Service is a micro-service endpoint registry: it subscribes each
// registered endpoint's subject plus the three discovery subjects, and
// answers discovery pings with fixed-type JSON.
type Service struct {
	Name    string
	Version string
	ID      string

	client        *natsgo.Client
	endpoints     []*endpoint
	discoverySids []string
	started       time.Time
	mu            sync.Mutex
}

// NewService names a service instance; ID is always a fresh nuid, an
// identity the caller does not choose, much as an ephemeral JetStream
// consumer's name is assigned rather than chosen.
func NewService(client *natsgo.Client, name, version string) *Service {
	return &Service{
		Name:    name,
		Version: version,
		ID:      nuid.Next(),
		client:  client,
	}
}

// AddEndpoint registers a handler under subject, subscribed with
// queueGroup (may be "" for no load-balancing). Must be called before
// Start.
func (s *Service) AddEndpoint(name, subject, queueGroup string, handler EndpointHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, &endpoint{
		name:       name,
		subject:    subject,
		queueGroup: queueGroup,
		handler:    handler,
	})
}

// Start subscribes every registered endpoint and the three discovery
// subjects ("$SRV.PING[.<name>[.<id>]]", "$SRV.INFO[...]",
// "$SRV.STATS[...]").
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = time.Now()

	for _, ep := range s.endpoints {
		ep := ep
		sid, _, err := s.client.Subscribe(ep.subject, ep.queueGroup, func(m *natsgo.Msg) *natsgo.Payload {
			start := time.Now()
			reply, err := ep.handler(m)
			ep.record(start, err)
			return reply
		})
		if err != nil {
			return err
		}
		ep.sid = sid
	}

	for _, suffix := range s.discoverySuffixes() {
		for _, d := range []struct {
			subject string
			handler natsgo.Handler
		}{
			{discoveryPrefix + ".PING" + suffix, s.handlePing},
			{discoveryPrefix + ".INFO" + suffix, s.handleInfo},
			{discoveryPrefix + ".STATS" + suffix, s.handleStats},
		} {
			sid, err := s.subscribeDiscovery(d.subject, d.handler)
			if err != nil {
				return err
			}
			s.discoverySids = append(s.discoverySids, sid)
		}
	}
	return nil
}

// discoverySuffixes yields "", ".<name>", ".<name>.<id>", the three
// addressing granularities discovery subjects support.
func (s *Service) discoverySuffixes() []string {
	return []string{"", "." + s.Name, "." + s.Name + "." + s.ID}
}

func (s *Service) subscribeDiscovery(subject string, handler natsgo.Handler) (string, error) {
	sid, _, err := s.client.Subscribe(subject, "", handler)
	return sid, err
}

// Stop unsubscribes every endpoint and discovery subject Start
// installed, leaving no discovery subjects live.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range s.endpoints {
		if ep.sid != "" {
			if err := s.client.Unsubscribe(ep.sid); err != nil {
				return err
			}
		}
	}
	for _, sid := range s.discoverySids {
		if err := s.client.Unsubscribe(sid); err != nil {
			return err
		}
	}
	s.discoverySids = nil
	return nil
}

type pingResponse struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	ID      string `json:"id"`
	Version string `json:"version"`
}

type endpointInfo struct {
	Name       string `json:"name"`
	Subject    string `json:"subject"`
	QueueGroup string `json:"queue_group,omitempty"`
}

type infoResponse struct {
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	ID        string         `json:"id"`
	Version   string         `json:"version"`
	Endpoints []endpointInfo `json:"endpoints"`
}

type endpointStatsInfo struct {
	Name                    string `json:"name"`
	Subject                 string `json:"subject"`
	NumRequests             uint64 `json:"num_requests"`
	NumErrors               uint64 `json:"num_errors"`
	ProcessingTimeNs        int64  `json:"processing_time_ns"`
	AverageProcessingTimeNs int64  `json:"average_processing_time_ns"`
	LastError               string `json:"last_error,omitempty"`
}

type statsResponse struct {
	Type      string              `json:"type"`
	Name      string              `json:"name"`
	ID        string              `json:"id"`
	Version   string              `json:"version"`
	Started   time.Time           `json:"started"`
	Endpoints []endpointStatsInfo `json:"endpoints"`
}

func (s *Service) handlePing(m *natsgo.Msg) *natsgo.Payload {
	return jsonReply(pingResponse{Type: pingResponseType, Name: s.Name, ID: s.ID, Version: s.Version})
}

func (s *Service) handleInfo(m *natsgo.Msg) *natsgo.Payload {
	s.mu.Lock()
	eps := make([]endpointInfo, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		eps = append(eps, endpointInfo{Name: ep.name, Subject: ep.subject, QueueGroup: ep.queueGroup})
	}
	s.mu.Unlock()
	return jsonReply(infoResponse{Type: infoResponseType, Name: s.Name, ID: s.ID, Version: s.Version, Endpoints: eps})
}

func (s *Service) handleStats(m *natsgo.Msg) *natsgo.Payload {
	s.mu.Lock()
	eps := make([]endpointStatsInfo, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		st := ep.snapshot()
		avg := int64(0)
		if st.NumRequests > 0 {
			avg = st.ProcessingTimeNs / int64(st.NumRequests)
		}
		eps = append(eps, endpointStatsInfo{
			Name:                    ep.name,
			Subject:                 ep.subject,
			NumRequests:             st.NumRequests,
			NumErrors:               st.NumErrors,
			ProcessingTimeNs:        st.ProcessingTimeNs,
			AverageProcessingTimeNs: avg,
			LastError:               st.LastError,
		})
	}
	started := s.started
	s.mu.Unlock()
	return jsonReply(statsResponse{Type: statsResponseType, Name: s.Name, ID: s.ID, Version: s.Version, Started: started, Endpoints: eps})
}

func jsonReply(v interface{}) *natsgo.Payload {
	body, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	p := natsgo.NewPayload(body)
	return &p
}
