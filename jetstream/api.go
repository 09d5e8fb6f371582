package jetstream

import (
	"encoding/json"
	"time"

	natsgo "github.com/natsgo/client"
)

// apiPrefix is the well-known subject root every admin RPC hangs off of.
const apiPrefix = "$JS.API"

// DefaultRequestTimeout bounds a single $JS.API.* round trip when the
// caller doesn't supply one.
const DefaultRequestTimeout = 2 * time.Second

// ApiError is the broker's {error:{code,description}} envelope,
// surfaced to callers as *natsgo.Error via errors.As with
// Kind == natsgo.KindAPI.
type ApiError struct {
	Code        int    `json:"code"`
	ErrCode     int    `json:"err_code,omitempty"`
	Description string `json:"description"`
}

// apiEnvelope is the generic shape every $JS.API.* response is wrapped
// in: either a typed success body or an error.
type apiEnvelope struct {
	Type  string   `json:"type,omitempty"`
	Error *ApiError `json:"error,omitempty"`
}

// API is the typed RPC layer: every call is a Client.Dispatch
// against a "$JS.API.<op>" subject with a JSON body, grounded on
// gonatsd/request.go's REQUEST_PARSERS dispatch-by-op-name table
// (there parsing inbound ops by name; here addressing outbound ops by
// subject name) and on ShubhamRasal-n2s's streams.go/consumers.go
// field-name conventions for the response shapes layered on top.
type API struct {
	client  *natsgo.Client
	timeout time.Duration
}

// NewAPI wraps client with the JetStream RPC layer. It holds no
// process-wide state, so callers should obtain at most one API per
// Client and reuse it.
func NewAPI(client *natsgo.Client) *API {
	return &API{client: client, timeout: DefaultRequestTimeout}
}

// WithTimeout returns a copy of a with its per-request timeout changed.
func (a *API) WithTimeout(d time.Duration) *API {
	return &API{client: a.client, timeout: d}
}

// request performs one $JS.API.<op> RPC: marshal body, dispatch,
// unmarshal the envelope, and surface {error:...} as a *natsgo.Error of
// Kind natsgo.KindAPI carrying the envelope's code and description.
func (a *API) request(op string, body interface{}, out interface{}) error {
	var payload natsgo.Payload
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return natsgo.ProtocolError(err, "encoding %s request", op)
		}
		payload = natsgo.NewPayload(raw)
	}

	reply, err := a.client.Dispatch(apiPrefix+"."+op, payload, a.timeout)
	if err != nil {
		return err
	}

	var env apiEnvelope
	if err := json.Unmarshal(reply.Body, &env); err != nil {
		return natsgo.ProtocolError(err, "decoding %s response", op)
	}
	if env.Error != nil {
		if metrics := a.client.Metrics(); metrics != nil {
			metrics.Errors.WithLabelValues(natsgo.KindAPI.String()).Inc()
		}
		return natsgo.APIError(env.Error.Code, env.Error.Description)
	}
	if out != nil {
		if err := json.Unmarshal(reply.Body, out); err != nil {
			return natsgo.ProtocolError(err, "decoding %s response body", op)
		}
	}
	return nil
}
