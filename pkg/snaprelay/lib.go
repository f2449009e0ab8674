package snaprelay

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"moff.io/snap-bridge/pkg/errors"
)

// Pairing flow:
//  1. the bridge subscribes to its client topic on the relay
//  2. the companion page opens the pairing URI (QR code), subscribes to the handshake topic
//  3. requests are published encrypted on the handshake topic, replies come back on the client topic

const (
	alphanumerical  = "abcdefghijklmnopqrstuvwxyz0123456789"
	bridgeURLFormat = "https://%v.bridge.walletconnect.org"
	pairingScheme   = "snap"
)

var rnd = rand.New(rand.NewSource(time.Now().UnixNano()))

func RandomBridgeURL() string {
	return fmt.Sprintf(bridgeURLFormat, string(alphanumerical[rnd.Intn(len(alphanumerical))]))
}

// GetWebSocketURL turns the relay http(s) url into its websocket endpoint.
func GetWebSocketURL(bridgeURL, protocol, version string) string {
	switch {
	case strings.HasPrefix(bridgeURL, "https"):
		bridgeURL = strings.Replace(bridgeURL, "https", "wss", 1)
	case strings.HasPrefix(bridgeURL, "http"):
		bridgeURL = strings.Replace(bridgeURL, "http", "ws", 1)
	}
	q := url.Values{}
	q.Set("protocol", protocol)
	q.Set("version", version)
	q.Set("env", "snap-bridge")
	return bridgeURL + "?" + q.Encode()
}

// Pairing holds everything the companion page needs to join a session.
type Pairing struct {
	HandshakeTopic string
	ClientID       string
	BridgeURL      string
	Key            []byte
	SnapID         string
}

// URI renders snap:<topic>@1?bridge=..&key=..&client=..&snap=..
func (p *Pairing) URI() string {
	q := url.Values{}
	q.Set("bridge", p.BridgeURL)
	q.Set("key", hex.EncodeToString(p.Key))
	q.Set("client", p.ClientID)
	if p.SnapID != "" {
		q.Set("snap", p.SnapID)
	}
	return fmt.Sprintf("%s:%s@1?%s", pairingScheme, p.HandshakeTopic, q.Encode())
}

// ParsePairingURI is the inverse of Pairing.URI.
func ParsePairingURI(uri string) (*Pairing, error) {
	prefix := pairingScheme + ":"
	if !strings.HasPrefix(uri, prefix) {
		return nil, errors.Errorf("not a %s pairing uri", pairingScheme)
	}
	rest := strings.TrimPrefix(uri, prefix)
	at := strings.Index(rest, "@")
	qm := strings.Index(rest, "?")
	if at <= 0 || qm < at {
		return nil, errors.New("malformed pairing uri")
	}
	q, err := url.ParseQuery(rest[qm+1:])
	if err != nil {
		return nil, errors.Wrap(err, "parse pairing query")
	}
	key, err := hex.DecodeString(q.Get("key"))
	if err != nil {
		return nil, errors.Wrap(err, "decode pairing key")
	}
	if len(key) != KeySize {
		return nil, errors.Errorf("pairing key must be %d bytes", KeySize)
	}
	return &Pairing{
		HandshakeTopic: rest[:at],
		ClientID:       q.Get("client"),
		BridgeURL:      q.Get("bridge"),
		Key:            key,
		SnapID:         q.Get("snap"),
	}, nil
}
