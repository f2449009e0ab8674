package snap

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"go.uber.org/ratelimit"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
	"moff.io/snap-bridge/pkg/snaprelay"
)

const (
	relayProtocol = "snap"
	relayVersion  = "1"

	methodSessionUpdate = "snap_sessionUpdate"
)

// WSOptions configures the relay transport.
type WSOptions struct {
	// BridgeURL of the relay, random public relay when empty.
	BridgeURL string
	SnapID    string
	// RequestRate caps outgoing requests per second, unlimited when <= 0.
	RequestRate int
}

type response struct {
	result gjson.Result
	err    error
}

// WSTransport reaches the wallet through an encrypted websocket relay and a companion page.
type WSTransport struct {
	pairing *snaprelay.Pairing
	limiter ratelimit.Limiter

	connected atomic.Bool
	nextID    atomic.Int64

	// writeMu serialises websocket writes, gorilla supports a single writer.
	writeMu sync.Mutex
	conn    *websocket.Conn

	pendingMu sync.Mutex
	pending   map[int64]chan response
	done      chan struct{}
}

// NewWSTransport prepares a relay session; nothing is dialed until Connect.
func NewWSTransport(opts WSOptions) (*WSTransport, error) {
	key, err := snaprelay.GenerateRandomBytes(snaprelay.KeySize)
	if err != nil {
		return nil, errors.WrapAndReport(err, "generate relay session key")
	}
	bridgeURL := opts.BridgeURL
	if bridgeURL == "" {
		bridgeURL = snaprelay.RandomBridgeURL()
	}
	limiter := ratelimit.NewUnlimited()
	if opts.RequestRate > 0 {
		limiter = ratelimit.New(opts.RequestRate)
	}
	t := &WSTransport{
		pairing: &snaprelay.Pairing{
			HandshakeTopic: uuid.NewString(),
			ClientID:       uuid.NewString(),
			BridgeURL:      bridgeURL,
			Key:            key,
			SnapID:         opts.SnapID,
		},
		limiter: limiter,
		pending: make(map[int64]chan response),
	}
	return t, nil
}

// Pairing returns the session parameters the companion page needs.
func (t *WSTransport) Pairing() *snaprelay.Pairing {
	return t.pairing
}

// PairingQRCode renders the pairing uri as a png.
func (t *WSTransport) PairingQRCode() ([]byte, error) {
	uri := t.pairing.URI()
	log.Debugf("snap relay - pairing uri:%v", uri)
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		return nil, errors.WrapAndReport(err, "encode pairing qr code")
	}
	return png, nil
}

func (t *WSTransport) Connected() bool {
	return t.connected.Load()
}

func (t *WSTransport) Connect(ctx context.Context) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.connected.Load() {
		return nil
	}
	wsURL := snaprelay.GetWebSocketURL(t.pairing.BridgeURL, relayProtocol, relayVersion)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return errors.Wrapf(ErrTransportUnavailable, "dial relay %v: %v", t.pairing.BridgeURL, err)
	}
	sub := relayMessage{Topic: t.pairing.ClientID, Type: "sub", Silent: true}
	if err := conn.WriteMessage(websocket.TextMessage, sub.Marshal()); err != nil {
		conn.Close()
		return errors.Wrapf(ErrTransportUnavailable, "subscribe relay topic: %v", err)
	}
	done := make(chan struct{})
	t.conn = conn
	t.pendingMu.Lock()
	t.done = done
	t.pendingMu.Unlock()
	t.connected.Store(true)
	go t.readLoop(conn, done)
	log.Infof("snap relay - connected to %v", t.pairing.BridgeURL)
	return nil
}

func (t *WSTransport) Close() error {
	t.writeMu.Lock()
	conn := t.conn
	t.writeMu.Unlock()
	if conn == nil {
		return nil
	}
	// readLoop observes the closed connection and fails pending requests.
	return conn.Close()
}

func (t *WSTransport) Request(ctx context.Context, method string, params interface{}) (gjson.Result, error) {
	if !t.connected.Load() {
		return gjson.Result{}, ErrTransportUnavailable
	}
	t.limiter.Take()

	id := t.nextID.Inc()
	ch := make(chan response, 1)
	t.pendingMu.Lock()
	t.pending[id] = ch
	done := t.done
	t.pendingMu.Unlock()
	defer t.dropPending(id)

	body, err := newJSONRpcRequest(id, method, params).Marshal()
	if err != nil {
		return gjson.Result{}, errors.WrapAndReport(err, "encode relay request")
	}
	env, err := snaprelay.Seal(body, t.pairing.Key)
	if err != nil {
		return gjson.Result{}, errors.WrapAndReport(err, "seal relay request")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return gjson.Result{}, errors.WrapAndReport(err, "encode relay envelope")
	}
	msg := relayMessage{Topic: t.pairing.HandshakeTopic, Type: "pub", Payload: string(payload), Silent: true}
	log.Debugf("snap relay - request %d %v", id, method)
	if err := t.write(msg.Marshal()); err != nil {
		return gjson.Result{}, err
	}

	select {
	case resp := <-ch:
		return resp.result, resp.err
	case <-done:
		return gjson.Result{}, errors.Wrapf(ErrTransportUnavailable, "session lost while waiting for %v", method)
	case <-ctx.Done():
		return gjson.Result{}, ctx.Err()
	}
}

func (t *WSTransport) write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil || !t.connected.Load() {
		return ErrTransportUnavailable
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrapf(ErrTransportUnavailable, "write relay message: %v", err)
	}
	return nil
}

func (t *WSTransport) dropPending(id int64) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

func (t *WSTransport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		t.connected.Store(false)
		close(done)
		conn.Close()
		log.Warn("snap relay - session closed")
	}()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("snap relay - read:%v", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := newRelayMessageFromBytes(data)
		if err != nil {
			log.Error(err)
			continue
		}
		if msg.Type != "pub" {
			continue
		}
		ack := relayMessage{Topic: t.pairing.ClientID, Type: "ack", Silent: true}
		if err := t.write(ack.Marshal()); err != nil {
			log.Warnf("snap relay - ack:%v", err)
		}
		closed := t.dispatch(msg)
		if closed {
			return
		}
	}
}

// dispatch routes one decrypted JSON-RPC message, it returns true when the peer ended the session.
func (t *WSTransport) dispatch(msg *relayMessage) (sessionClosed bool) {
	var env snaprelay.Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		log.Errorf("snap relay - decode envelope:%v", err)
		return false
	}
	plain, err := snaprelay.Open(&env, t.pairing.Key)
	if err != nil {
		log.Error(errors.WrapAndReport(err, "open relay envelope"))
		return false
	}
	rpc := gjson.ParseBytes(plain)
	if rpc.Get("method").String() == methodSessionUpdate {
		approved := rpc.Get("params.0.approved")
		if approved.Exists() && !approved.Bool() {
			log.Warnf("snap relay - session closed by peer %v", string(plain))
			return true
		}
		return false
	}
	id := rpc.Get("id").Int()
	t.pendingMu.Lock()
	ch, ok := t.pending[id]
	t.pendingMu.Unlock()
	if !ok {
		log.Warnf("snap relay - response for unknown request %d", id)
		return false
	}
	resp := response{result: rpc.Get("result")}
	if e := rpc.Get("error"); e.Exists() && e.Type != gjson.Null {
		resp = response{err: &RPCError{Code: int(e.Get("code").Int()), Message: e.Get("message").String()}}
	}
	select {
	case ch <- resp:
	default:
		log.Warnf("snap relay - duplicate response for request %d", id)
	}
	return false
}
