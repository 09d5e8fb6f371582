package natsgo

import (
	"encoding/base64"

	"github.com/nats-io/nkeys"
)

// ConnectFields is the CONNECT frame's field set, produced by
// BuildConnect from the server's INFO and the configured credentials.
type ConnectFields struct {
	Verbose      bool   `json:"verbose"`
	Pedantic     bool   `json:"pedantic"`
	TLSRequired  bool   `json:"tls_required"`
	Name         string `json:"name,omitempty"`
	Lang         string `json:"lang"`
	Version      string `json:"version,omitempty"`
	Protocol     int    `json:"protocol"`
	User         string `json:"user,omitempty"`
	Pass         string `json:"pass,omitempty"`
	AuthToken    string `json:"auth_token,omitempty"`
	JWT          string `json:"jwt,omitempty"`
	NKey         string `json:"nkey,omitempty"`
	Sig          string `json:"sig,omitempty"`
	Echo         bool   `json:"echo"`
	Headers      bool   `json:"headers"`
	NoResponders bool   `json:"no_responders"`
}

// BuildConnect is the Authenticator: given the server's INFO (nonce,
// auth_required, tls_required) and the configured credentials, it
// produces the CONNECT field set. Grounded on gonatsd/auth_helper.go's
// decision shape (there deciding whether a received CONNECT satisfies
// the broker's user/pass table; here producing the CONNECT a client
// sends), generalized to the four supported credential forms.
// Unknown/absent credentials simply leave those fields empty, the
// broker enforces its own policy on what it will accept.
func BuildConnect(info ServerInfo, opts Options) (ConnectFields, error) {
	fields := ConnectFields{
		Verbose:     opts.Verbose,
		Pedantic:    opts.Pedantic,
		TLSRequired: info.TLSRequired || opts.TLSConfig != nil,
		Lang:        opts.Lang,
		Version:     opts.Version,
		Protocol:    1,
		Echo:        true,
		Headers:     true,
	}

	switch {
	case opts.User != "" || opts.Pass != "":
		fields.User = opts.User
		fields.Pass = opts.Pass
	case opts.Token != "":
		fields.AuthToken = opts.Token
	case opts.JWT != "" && opts.Seed != "":
		sig, err := signNonce(opts.Seed, info.Nonce)
		if err != nil {
			return ConnectFields{}, err
		}
		fields.JWT = opts.JWT
		fields.Sig = sig
	case opts.NKey != "":
		fields.NKey = opts.NKey
		if opts.Seed != "" {
			sig, err := signNonce(opts.Seed, info.Nonce)
			if err != nil {
				return ConnectFields{}, err
			}
			fields.Sig = sig
		}
	}

	return fields, nil
}

// signNonce signs nonce with the Ed25519 key pair parsed from seed,
// returning the URL-safe, unpadded base64 encoding the CONNECT
// handshake requires.
func signNonce(seed, nonce string) (string, error) {
	if nonce == "" {
		return "", nil
	}
	kp, err := nkeys.FromSeed([]byte(seed))
	if err != nil {
		return "", AuthError("parsing NKey seed: %v", err)
	}
	sig, err := kp.Sign([]byte(nonce))
	if err != nil {
		return "", AuthError("signing nonce: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}
