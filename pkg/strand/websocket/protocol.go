// Package websocket implements the RFC 6455 opening handshake on top of the
// strand HTTP/1.1 engine.
//
// The server side turns a handshake request into a 101 response whose
// takeover function receives the raw connection. The client side builds the
// handshake request, sends it through a client.Client and verifies the
// answer. Framing is left to the caller.
package websocket

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/watt-toolkit/strand/pkg/strand/http11"
)

// Handshake header names (RFC 6455 Section 11.3)
const (
	HeaderKey        = "Sec-WebSocket-Key"
	HeaderAccept     = "Sec-WebSocket-Accept"
	HeaderVersion    = "Sec-WebSocket-Version"
	HeaderProtocol   = "Sec-WebSocket-Protocol"
	HeaderOrigin     = "Origin"
	SupportedVersion = "13"
)

// WebSocket protocol GUID for handshake (RFC 6455 Section 1.3)
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Errors
var (
	ErrNotWebSocket        = errors.New("websocket: not a websocket handshake")
	ErrBadWebSocketKey     = errors.New("websocket: invalid Sec-WebSocket-Key")
	ErrBadWebSocketVersion = errors.New("websocket: unsupported Sec-WebSocket-Version")
	ErrOriginNotAllowed    = errors.New("websocket: origin not allowed")
	ErrBadHandshake        = errors.New("websocket: bad handshake response")
)

// ComputeAcceptKey computes the Sec-WebSocket-Accept value for the handshake.
// RFC 6455 Section 1.3: base64(SHA1(key + GUID))
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NewKey returns a random Sec-WebSocket-Key: 16 random bytes, base64-encoded.
func NewKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

// validKey reports whether key decodes to exactly 16 bytes (RFC 6455 4.2.1).
func validKey(key string) bool {
	b, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(b) == 16
}

// headerValues returns all comma-separated values for a header.
func headerValues(h *http11.HeaderMap, name string) []string {
	var values []string
	for _, v := range h.Values(name) {
		for _, token := range strings.Split(v, ",") {
			if token = strings.TrimSpace(token); token != "" {
				values = append(values, token)
			}
		}
	}
	return values
}

// selectSubprotocol selects the first client protocol that is also supported by the server.
func selectSubprotocol(clientProtos, serverProtos []string) string {
	for _, clientProto := range clientProtos {
		for _, serverProto := range serverProtos {
			if clientProto == serverProto {
				return clientProto
			}
		}
	}
	return ""
}
