package websocket

import (
	"context"
	"fmt"
	"strings"

	"github.com/watt-toolkit/strand/pkg/strand/client"
	"github.com/watt-toolkit/strand/pkg/strand/http11"
)

// IsUpgradeRequest reports whether req asks to switch to the WebSocket
// protocol. It does not validate the key or version; Accept does.
func IsUpgradeRequest(req *http11.Request) bool {
	return req.Method == http11.MethodGet &&
		req.Header.HasToken(http11.HeaderConnection, "upgrade") &&
		req.Header.HasToken(http11.HeaderUpgrade, "websocket")
}

// Upgrader validates WebSocket handshakes received by a server handler.
type Upgrader struct {
	// CheckOrigin returns true if the request Origin header is acceptable.
	// If nil, origin validation is skipped.
	CheckOrigin func(req *http11.Request) bool

	// Subprotocols specifies the supported subprotocols in order of preference.
	Subprotocols []string
}

// Accept validates the handshake in req and returns the 101 response that
// hands the connection to fn once it is written, together with the
// negotiated subprotocol.
//
// If the handshake is invalid, Accept returns a rejection response ready
// to be sent (400, 403, 405 or 426) and the reason as error.
func (u *Upgrader) Accept(req *http11.Request, fn func(up *http11.Upgraded, subprotocol string)) (*http11.Response, error) {
	if req.Method != http11.MethodGet {
		return http11.Text(http11.StatusMethodNotAllowed, "websocket handshake requires GET").
			WithHeader("Allow", http11.MethodGet), ErrNotWebSocket
	}
	if !req.Header.HasToken(http11.HeaderConnection, "upgrade") ||
		!req.Header.HasToken(http11.HeaderUpgrade, "websocket") {
		return http11.Text(http11.StatusBadRequest, "not a websocket handshake"), ErrNotWebSocket
	}
	if req.Header.Get(HeaderVersion) != SupportedVersion {
		return http11.Text(http11.StatusUpgradeRequired, "unsupported websocket version").
			WithHeader(HeaderVersion, SupportedVersion), ErrBadWebSocketVersion
	}
	key := req.Header.Get(HeaderKey)
	if !validKey(key) {
		return http11.Text(http11.StatusBadRequest, "invalid "+HeaderKey), ErrBadWebSocketKey
	}
	if u.CheckOrigin != nil && !u.CheckOrigin(req) {
		return http11.Text(http11.StatusForbidden, "origin not allowed"), ErrOriginNotAllowed
	}

	var subprotocol string
	if len(u.Subprotocols) > 0 {
		subprotocol = selectSubprotocol(headerValues(&req.Header, HeaderProtocol), u.Subprotocols)
	}

	resp := http11.NewResponse(http11.StatusSwitchingProtocols).
		WithHeader(http11.HeaderUpgrade, "websocket").
		WithHeader(http11.HeaderConnection, "Upgrade").
		WithHeader(HeaderAccept, ComputeAcceptKey(key))
	if subprotocol != "" {
		resp = resp.WithHeader(HeaderProtocol, subprotocol)
	}
	return resp.WithTakeover(func(up *http11.Upgraded) {
		fn(up, subprotocol)
	}), nil
}

// Accept validates the handshake with a zero Upgrader: any origin, no
// subprotocols.
func Accept(req *http11.Request, fn func(up *http11.Upgraded)) (*http11.Response, error) {
	var u Upgrader
	return u.Accept(req, func(up *http11.Upgraded, _ string) { fn(up) })
}

// NewHandshakeRequest builds the opening handshake for a ws:// or wss://
// URL and returns it with the generated key. subprotocols, if any, are
// offered in order of preference.
func NewHandshakeRequest(rawURL string, subprotocols ...string) (*http11.Request, string, error) {
	var target string
	switch {
	case strings.HasPrefix(rawURL, "ws://"):
		target = "http://" + rawURL[len("ws://"):]
	case strings.HasPrefix(rawURL, "wss://"):
		target = "https://" + rawURL[len("wss://"):]
	default:
		return nil, "", fmt.Errorf("websocket: invalid URL scheme in %q (must be ws:// or wss://)", rawURL)
	}

	req, err := http11.NewRequest(http11.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	key, err := NewKey()
	if err != nil {
		return nil, "", err
	}
	req.Header.Set(http11.HeaderUpgrade, "websocket")
	req.Header.Set(http11.HeaderConnection, "Upgrade")
	req.Header.Set(HeaderKey, key)
	req.Header.Set(HeaderVersion, SupportedVersion)
	if len(subprotocols) > 0 {
		if err := req.Header.Set(HeaderProtocol, strings.Join(subprotocols, ", ")); err != nil {
			return nil, "", err
		}
	}
	return req, key, nil
}

// VerifyHandshake checks the server's answer to a handshake sent with key
// and returns the selected subprotocol.
func VerifyHandshake(resp *http11.Response, key string) (string, error) {
	if resp.Status != http11.StatusSwitchingProtocols {
		return "", fmt.Errorf("%w: status %d", ErrBadHandshake, resp.Status)
	}
	if !resp.Header.HasToken(http11.HeaderUpgrade, "websocket") {
		return "", fmt.Errorf("%w: missing Upgrade: websocket", ErrBadHandshake)
	}
	if !resp.Header.HasToken(http11.HeaderConnection, "upgrade") {
		return "", fmt.Errorf("%w: missing Connection: Upgrade", ErrBadHandshake)
	}
	if resp.Header.Get(HeaderAccept) != ComputeAcceptKey(key) {
		return "", fmt.Errorf("%w: invalid %s", ErrBadHandshake, HeaderAccept)
	}
	return resp.Header.Get(HeaderProtocol), nil
}

// Dial performs the opening handshake through c and returns the released
// connection and the selected subprotocol.
func Dial(ctx context.Context, c *client.Client, rawURL string, subprotocols ...string) (*http11.Upgraded, string, error) {
	req, key, err := NewHandshakeRequest(rawURL, subprotocols...)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, "", err
	}
	subprotocol, err := VerifyHandshake(resp, key)
	if err != nil {
		if resp.Upgraded != nil {
			resp.Upgraded.Close()
		}
		return nil, "", err
	}
	return resp.Upgraded, subprotocol, nil
}
