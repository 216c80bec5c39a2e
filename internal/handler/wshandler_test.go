package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/posener/wstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewwphillips/bookql/internal/handler"
)

type wsActionType int

const (
	actionSend  wsActionType = iota // send WS message: data == message as JSON (string)
	actionRecv                      // receive WS message: data == relevant part of the expected message (string)
	actionError                     // WS close: data == close code (int)
	actionPause                     // sleep for a short time: data == milliseconds (int)
)

type wsAction struct {
	action wsActionType
	data   interface{}
}

// refuseBadToken is an init func that refuses a connection_init with a "bad" token
func refuseBadToken(ctx context.Context, payload map[string]interface{}) (context.Context, error) {
	if payload["token"] == "bad" {
		return nil, errors.New("bad token")
	}
	return ctx, nil
}

// TestWebSocket has a table of tests each of which is a script of messages sent and received over a websocket
func TestWebSocket(t *testing.T) {
	wsData := map[string]struct {
		delay                                      time.Duration // time between "hello" messages from the server (0 for no delay)
		protocol                                   string        // which WS subprotocol to use == "graphql-transport-ws" (new) or "graphql-ws" (old)
		initialTimeout, pingFrequency, pongTimeout time.Duration
		actions                                    []wsAction // list of actions to take
	}{
		"empty": {actions: []wsAction{}},
		"basic_old": {
			delay: time.Second,
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionRecv, `"ka"`},
				{actionSend, `{"type":"start","id":"ID-1","payload":{"query":"subscription {message}"}}`},
				{actionRecv, `{"type":"data","id":"ID-1","payload":{"data":{"message":"hello"}}}`},
				{actionSend, `{"type":"stop","id":"ID-1"}`},
				{actionRecv, `{"type":"complete","id":"ID-1"}`},
			},
		},
		"query_old": {
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionRecv, `"ka"`},
				{actionSend, `{"type":"start","id":"q","payload":{"query":"{hello}"}}`},
				{actionRecv, `{"type":"data","id":"q","payload":{"data":{"hello":"hello world"}}}`},
				{actionRecv, `{"type":"complete","id":"q"}`},
			},
		},
		"init_bad": {
			actions: []wsAction{
				{actionSend, `bad`},
				{actionError, websocket.CloseUnsupportedData},
				{actionPause, 10}, // this is needed to detect possible residual websocket close problems
			},
		},
		"init_term": {
			// can send connection_terminate instead of connection_init
			actions: []wsAction{
				{actionSend, `{"type": "connection_terminate"}`},
				{actionError, websocket.CloseNormalClosure},
			},
		},
		"start_term": {
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionRecv, `"ka"`},
				{actionSend, `{"type": "connection_terminate"}`},
				{actionError, websocket.CloseNormalClosure},
				{actionPause, 20},
			},
		},
		"init_start": {
			actions: []wsAction{
				{actionSend, `{"type": "start"}`},
				{actionRecv, `"connection_error"`},
				{actionError, websocket.CloseNormalClosure},
			},
		},
		"init_timeout_old": {
			initialTimeout: 10 * time.Millisecond,
			actions: []wsAction{
				{actionRecv, `"connection_error"`},
				{actionError, websocket.CloseNormalClosure},
			},
		},
		"init_refused_old": {
			actions: []wsAction{
				{actionSend, `{"type": "connection_init","payload":{"token":"bad"}}`},
				{actionRecv, `{"type":"connection_error","payload":{"message":"bad token"}}`},
				{actionError, 4403},
			},
		},
		"2nd_ka": {
			pingFrequency: 5 * time.Millisecond,
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionRecv, `"ka"`},
				{actionRecv, `"ka"`},
				{actionPause, 20},
			},
		},
		"dupe_ID": {
			delay: 500 * time.Millisecond,
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionRecv, `"ka"`},
				{actionSend, `{"type":"start","id":"x","payload":{"query":"subscription {message}"}}`},
				{actionRecv, `{"type":"data","id":"x","payload":{"data":{"message":"hello"}}}`},
				{actionSend, `{"type":"start","id":"x","payload":{"query":"xxx"}}`},
				{actionError, 4409}, // Subscriber for x already exists
				{actionPause, 20},
			},
		},
		// Using new sub-protocol -----------------
		"basic_new": {
			delay: time.Second, protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionSend, `{"type":"subscribe","id":"ID-3","payload":{"query":"subscription {message}"}}`},
				{actionRecv, `{"type":"next","id":"ID-3","payload":{"data":{"message":"hello"}}}`},
				{actionSend, `{"type":"complete","id":"ID-3"}`},
				{actionSend, `{"type":"ping"}`},
				{actionRecv, `{"type":"pong"}`}, // no complete is sent for a client complete
			},
		},
		"query_new": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionSend, `{"type":"subscribe","id":"q","payload":{"query":"{hello(name:\"ws\")}"}}`},
				{actionRecv, `{"type":"next","id":"q","payload":{"data":{"hello":"hello ws"}}}`},
				{actionRecv, `{"type":"complete","id":"q"}`},
			},
		},
		"mutation_new": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionSend, `{"type":"subscribe","id":"m","payload":{"query":"mutation {bump}"}}`},
				{actionRecv, `{"type":"next","id":"m","payload":{"data":{"bump":1}}}`},
				{actionRecv, `{"type":"complete","id":"m"}`},
			},
		},
		"variables_new": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionSend, `{"type":"subscribe","id":"v","payload":{"query":"query($n:Int!){count(n:$n)}","variables":{"n":5}}}`},
				{actionRecv, `{"type":"next","id":"v","payload":{"data":{"count":5}}}`},
				{actionRecv, `{"type":"complete","id":"v"}`},
			},
		},
		"init_not_first": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type":"subscribe","id":"ID-2","payload":{"query":"subscription {message}"}}`},
				{actionError, 4401},
			},
		},
		"init_bad_new": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `bad`},
				{actionError, 4400},
			},
		},
		"init_timeout": {
			protocol:       "graphql-transport-ws",
			initialTimeout: 10 * time.Millisecond,
			actions: []wsAction{
				{actionError, 4408},
			},
		},
		"init_refused": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init","payload":{"token":"bad"}}`},
				{actionError, 4403},
			},
		},
		"init_accepted": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init","payload":{"token":"good"}}`},
				{actionRecv, `{"type":"connection_ack"}`},
			},
		},
		"start_not_subscribe": {
			delay: time.Second, protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionSend, `{"type":"start","id":"ID-4","payload":{"query":"subscription {message}"}}`},
				{actionError, 4400}, // unexpected message type
			},
		},
		"double_init": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionSend, `{"type": "connection_init"}`},
				{actionError, 4429}, // too many init requests
				{actionPause, 20},
			},
		},
		"no_payload": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionSend, `{"type":"subscribe","id":"ID-5"}`},
				{actionError, 4400},
				{actionPause, 20},
			},
		},
		"bad_query": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionSend, `{"type":"subscribe","id":"ID-6","payload":{"query":"bad"}}`},
				{actionRecv, `{"type":"error","id":"ID-6","payload":[{"message":`}, // Unexpected Name "bad"
				{actionSend, `{"type":"ping"}`},
				{actionRecv, `{"type":"pong"}`}, // the connection survives
			},
		},
		"bad_vars": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{
					actionSend,
					`{"type":"subscribe","id":"ID-8","payload":{"query":"subscription {message}", "variables":"bad"}}`,
				},
				{actionError, 4400}, // JSON error unmarshall struct
			},
		},
		"dupe_id_new": {
			delay:    500 * time.Millisecond,
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionSend, `{"type":"subscribe","id":"dupe","payload":{"query":"subscription {message}"}}`},
				{actionRecv, `{"type":"next","id":"dupe","payload":{"data":{"message":"hello"}}}`},
				{actionSend, `{"type":"subscribe","id":"dupe","payload":{"query":"subscription {message}"}}`},
				{actionError, 4409}, // Subscriber for dupe already exists
				{actionPause, 20},
			},
		},
		"unknown_type": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionSend, `{"type":"what"}`},
				{actionError, 4400},
			},
		},
		"send_ping": {
			protocol: "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionSend, `{"type":"ping"}`},
				{actionRecv, `"type":"pong"`},
			},
		},
		"reply_pong": {
			protocol:      "graphql-transport-ws",
			pingFrequency: 5 * time.Millisecond,
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionRecv, `"type":"ping"`},
				{actionSend, `{"type":"pong"}`},
				{actionRecv, `"type":"ping"`},
				{actionSend, `{"type":"pong"}`},
			},
		},
		"no_pong": {
			pingFrequency: 100 * time.Millisecond, // bigger than pongTimeout to ensure we get the error before 2nd ping
			pongTimeout:   2 * time.Millisecond,
			protocol:      "graphql-transport-ws",
			actions: []wsAction{
				{actionSend, `{"type": "connection_init"}`},
				{actionRecv, `"connection_ack"`},
				{actionRecv, `"type":"ping"`},
				{actionError, websocket.CloseAbnormalClosure}, // dropped without a close frame
			},
		},
	}

	for name, data := range wsData {
		n, d := name, data // retain loop value for capture in the closure below
		t.Run(n, func(t *testing.T) {
			t.Parallel()
			h := newHandler(t, &testResolver{delay: d.delay},
				handler.InitialTimeout(d.initialTimeout),
				handler.PingFrequency(d.pingFrequency),
				handler.PongTimeout(d.pongTimeout),
				handler.OnInit(refuseBadToken),
			)

			header := make(http.Header)
			if d.protocol != "" {
				header.Add("Sec-WebSocket-Protocol", d.protocol)
			}
			conn, resp, err := wstest.NewDialer(h).Dial("ws://localhost/graphql", header)
			require.NoError(t, err)
			defer conn.Close()
			_ = resp.Body.Close()
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

			runActions(t, conn, d.actions)
		})
	}
}

func runActions(t *testing.T, conn *websocket.Conn, actions []wsAction) {
	t.Helper()
	for i, a := range actions {
		switch a.action {
		case actionSend:
			err := conn.WriteMessage(websocket.TextMessage, []byte(a.data.(string)))
			require.NoError(t, err, "write (%d)", i)
		case actionRecv:
			messageType, p, err := conn.ReadMessage()
			require.NoError(t, err, "read (%d)", i)
			assert.Equal(t, websocket.TextMessage, messageType, "read (%d)", i)
			assert.Contains(t, string(p), a.data.(string), "read (%d)", i)
		case actionError:
			_, p, err := conn.ReadMessage() // expecting an error so ignore any message
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr, "read (%d) got message %s", i, p)
			assert.Equal(t, a.data.(int), closeErr.Code, "read (%d): %v", i, err)
		case actionPause:
			time.Sleep(time.Duration(a.data.(int)) * time.Millisecond)
		}
	}
}

// TestWebSocketServer runs a subscription over a real network connection
func TestWebSocketServer(t *testing.T) {
	server := httptest.NewServer(newHandler(t, &testResolver{delay: 10 * time.Millisecond}))
	defer server.Close()

	header := http.Header{"Sec-WebSocket-Protocol": {"graphql-transport-ws"}}
	conn, resp, err := websocket.DefaultDialer.Dial(strings.Replace(server.URL, "http://", "ws://", 1), header)
	require.NoError(t, err)
	defer conn.Close()
	_ = resp.Body.Close()
	assert.Equal(t, "graphql-transport-ws", conn.Subprotocol())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	runActions(t, conn, []wsAction{
		{actionSend, `{"type": "connection_init"}`},
		{actionRecv, `"connection_ack"`},
		{actionSend, `{"type":"subscribe","id":"s","payload":{"query":"subscription {message}"}}`},
		{actionRecv, `{"type":"next","id":"s","payload":{"data":{"message":"hello"}}}`},
		{actionRecv, `{"type":"next","id":"s","payload":{"data":{"message":"hello"}}}`},
		{actionRecv, `{"type":"next","id":"s","payload":{"data":{"message":"hello"}}}`},
		{actionSend, `{"type":"complete","id":"s"}`},
	})
}
