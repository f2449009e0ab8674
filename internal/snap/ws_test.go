package snap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"moff.io/snap-bridge/pkg/snaprelay"
)

// fakeRelay plays both the relay and the companion page.
type fakeRelay struct {
	t      *testing.T
	key    func() []byte
	answer func(method string, params gjson.Result) (interface{}, *RPCError)
	drop   chan struct{}
}

func (r *fakeRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := (&websocket.Upgrader{}).Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	var clientTopic string
	for {
		select {
		case <-r.drop:
			return
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := newRelayMessageFromBytes(data)
		require.NoError(r.t, err)
		switch msg.Type {
		case "sub":
			clientTopic = msg.Topic
		case "pub":
			var env snaprelay.Envelope
			require.NoError(r.t, json.Unmarshal([]byte(msg.Payload), &env))
			plain, err := snaprelay.Open(&env, r.key())
			require.NoError(r.t, err)
			rpc := gjson.ParseBytes(plain)
			result, rpcErr := r.answer(rpc.Get("method").String(), rpc.Get("params"))
			reply := map[string]interface{}{"jsonrpc": "2.0", "id": rpc.Get("id").Int()}
			if rpcErr != nil {
				reply["error"] = rpcErr
			} else {
				reply["result"] = result
			}
			body, _ := json.Marshal(reply)
			sealed, err := snaprelay.Seal(body, r.key())
			require.NoError(r.t, err)
			payload, _ := json.Marshal(sealed)
			out := relayMessage{Topic: clientTopic, Type: "pub", Payload: string(payload)}
			if err := conn.WriteMessage(websocket.TextMessage, out.Marshal()); err != nil {
				return
			}
		}
	}
}

func newRelayTransport(t *testing.T, answer func(string, gjson.Result) (interface{}, *RPCError)) (*WSTransport, *fakeRelay) {
	relay := &fakeRelay{t: t, answer: answer, drop: make(chan struct{})}
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	tr, err := NewWSTransport(WSOptions{BridgeURL: srv.URL, SnapID: "npm:test"})
	require.NoError(t, err)
	relay.key = func() []byte { return tr.Pairing().Key }
	t.Cleanup(func() { tr.Close() })
	return tr, relay
}

func TestWSTransportRequestBeforeConnect(t *testing.T) {
	tr, err := NewWSTransport(WSOptions{BridgeURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = tr.Request(context.Background(), methodGetSnaps, nil)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestWSTransportDialFailure(t *testing.T) {
	tr, err := NewWSTransport(WSOptions{BridgeURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	err = tr.Connect(context.Background())
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.False(t, tr.Connected())
}

func TestWSTransportRoundTrip(t *testing.T) {
	tr, _ := newRelayTransport(t, func(method string, params gjson.Result) (interface{}, *RPCError) {
		switch method {
		case methodRequestSnaps:
			return map[string]interface{}{"npm:test": map[string]interface{}{"id": "npm:test", "version": "1.2.0"}}, nil
		case methodGetSnaps:
			return map[string]interface{}{"npm:test": map[string]interface{}{"id": "npm:test", "version": "1.2.0", "enabled": true}}, nil
		case methodInvokeSnap:
			if params.Get("request.method").String() == MethodGetNetwork {
				return Network{Name: NetworkMainnet, RpcUrl: "wss://rpc.example"}, nil
			}
			return nil, &RPCError{Code: CodeUserRejected, Message: "User rejected the request."}
		}
		return nil, &RPCError{Code: -32601, Message: "not found"}
	})
	client := NewClient(tr, "npm:test", "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	assert.True(t, client.Connected())

	installed, err := client.GetSnap(ctx)
	require.NoError(t, err)
	require.NotNil(t, installed)
	assert.Equal(t, "1.2.0", installed.Version)
	assert.True(t, installed.Enabled)

	network, err := client.GetNetwork(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Network{Name: NetworkMainnet, RpcUrl: "wss://rpc.example"}, network)

	_, err = client.SignRaw(ctx, &SignRawPayload{Address: "0x1", Data: "0x00", Type: SignTypeBytes})
	require.Error(t, err)
	assert.True(t, IsUserRejected(err))
}

func TestWSTransportUnencodableParams(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	tr, _ := newRelayTransport(t, func(method string, params gjson.Result) (interface{}, *RPCError) {
		mu.Lock()
		methods = append(methods, method)
		mu.Unlock()
		return map[string]interface{}{"npm:test": map[string]interface{}{"id": "npm:test", "version": "1.2.0", "enabled": true}}, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))

	_, err := tr.Request(ctx, methodInvokeSnap, map[string]interface{}{"request": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode relay request")
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	// the transport stays usable
	res, err := tr.Request(ctx, methodGetSnaps, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", res.Map()["npm:test"].Get("version").String())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{methodGetSnaps}, methods)
}

func TestWSTransportSessionLoss(t *testing.T) {
	block := make(chan struct{})
	tr, relay := newRelayTransport(t, func(method string, params gjson.Result) (interface{}, *RPCError) {
		<-block
		return nil, nil
	})
	require.NoError(t, tr.Connect(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Request(context.Background(), methodGetSnaps, nil)
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(relay.drop)
	tr.Close()
	close(block)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrTransportUnavailable)
	case <-time.After(5 * time.Second):
		t.Fatal("pending request was not released")
	}
	assert.Eventually(t, func() bool { return !tr.Connected() }, time.Second, 10*time.Millisecond)
}

func TestPairingQRCode(t *testing.T) {
	tr, err := NewWSTransport(WSOptions{SnapID: "npm:test"})
	require.NoError(t, err)
	png, err := tr.PairingQRCode()
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	parsed, err := snaprelay.ParsePairingURI(tr.Pairing().URI())
	require.NoError(t, err)
	assert.Equal(t, tr.Pairing().Key, parsed.Key)
}
