package handler

// wshandler.go handles websockets. It supports both commonly used WS sub-protocols:
// * graphql-ws: the early Apollo protocol (subscriptions-transport-ws) which uses start/stop/data
// * graphql-transport-ws: the newer protocol which uses subscribe/complete/next plus ping/pong
// Either protocol can be used for queries and mutations as well as subscriptions.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/graph-gophers/graphql-go"

	"github.com/andrewwphillips/bookql/internal/logging"
)

const (
	protocolTransportWS = "graphql-transport-ws"
	protocolGraphQLWS   = "graphql-ws"
)

// Close codes used by graphql-transport-ws (the old protocol borrows some of them)
const (
	closeBadRequest   = 4400
	closeUnauthorized = 4401
	closeForbidden    = 4403
	closeInitTimeout  = 4408
	closeDuplicateID  = 4409
	closeTooManyInits = 4429
)

const (
	writeWait = 10 * time.Second // time allowed to write a message to the client
	closeWait = time.Second      // time allowed to write the close frame
)

var errBadMessage = errors.New("invalid message")

type (
	// wsMessage is a message received from the client
	wsMessage struct {
		Type    string          `json:"type"`
		ID      string          `json:"id,omitempty"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}

	// wsReply is a message sent to the client
	wsReply struct {
		Type    string      `json:"type"`
		ID      string      `json:"id,omitempty"`
		Payload interface{} `json:"payload,omitempty"`
	}

	// wsOperation is an operation running on the connection, keyed by the client's ID
	wsOperation struct {
		cancel context.CancelFunc
	}

	wsConnection struct {
		conn        *websocket.Conn
		h           *Handler
		newProtocol bool // graphql-transport-ws, else graphql-ws
		logger      logr.Logger
		pong        chan struct{} // signalled when a pong is received

		writeMu sync.Mutex // gorilla allows one concurrent writer

		mu  sync.Mutex
		ops map[string]*wsOperation
		wg  sync.WaitGroup // running operations
	}
)

// serveWS is called in response to a GraphQL HTTP request wanting to upgrade to a WS.
func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context()).WithName("ws")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error(err, "websocket upgrade failed")
		return // the upgrader has already replied to the request
	}
	c := &wsConnection{
		conn:        conn,
		h:           h,
		newProtocol: conn.Subprotocol() == protocolTransportWS,
		logger:      logger.WithValues("protocol", conn.Subprotocol()),
		pong:        make(chan struct{}, 1),
		ops:         make(map[string]*wsOperation),
	}
	defer func() {
		c.stopAll()
		c.wg.Wait()
		_ = conn.Close()
		c.logger.V(1).Info("websocket closed")
	}()

	ctx, ok := c.init(r.Context())
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.keepAlive(ctx)
	c.serve(ctx)
}

// init handles the initial handshake by receiving a "connection_init" message and sending an "ack".
// It returns the context that operations on the connection run in.
func (c *wsConnection) init(ctx context.Context) (context.Context, bool) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.h.initialTimeout))
	message, err := c.read()
	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			c.reject(closeInitTimeout, "Connection initialisation timeout")
		case errors.Is(err, errBadMessage):
			c.badMessage(err)
		default:
			c.logger.V(1).Info("read failed during init", "err", err.Error())
		}
		return nil, false
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	switch message.Type {
	case "connection_init":
	case "connection_terminate":
		c.closeWith(websocket.CloseNormalClosure, "")
		return nil, false
	default:
		c.reject(closeUnauthorized, "Unauthorized")
		return nil, false
	}

	if c.h.initFunc != nil {
		var payload map[string]interface{}
		if len(message.Payload) > 0 {
			if err := json.Unmarshal(message.Payload, &payload); err != nil {
				c.badMessage(fmt.Errorf("%w: connection_init payload: %v", errBadMessage, err))
				return nil, false
			}
		}
		ctx, err = c.h.initFunc(ctx, payload)
		if err != nil {
			c.logger.V(1).Info("connection refused", "err", err.Error())
			if !c.newProtocol {
				_ = c.write(wsReply{Type: "connection_error", Payload: map[string]string{"message": err.Error()}})
			}
			c.closeWith(closeForbidden, "Forbidden")
			return nil, false
		}
	}

	if err := c.write(wsReply{Type: "connection_ack"}); err != nil {
		return nil, false
	}
	if !c.newProtocol {
		_ = c.write(wsReply{Type: "ka"}) // old protocol expects a keep-alive straight after the ack
	}
	return ctx, true
}

// serve is the main message loop, it returns when the connection is closed or a protocol error is found
func (c *wsConnection) serve(ctx context.Context) {
	for {
		message, err := c.read()
		if err != nil {
			if errors.Is(err, errBadMessage) {
				c.badMessage(err)
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.V(1).Info("read failed", "err", err.Error())
			}
			return
		}

		switch {
		case message.Type == "connection_init":
			c.closeWith(closeTooManyInits, "Too many initialisation requests")
			return

		case message.Type == "subscribe" && c.newProtocol, message.Type == "start" && !c.newProtocol:
			if !c.start(ctx, message) {
				return
			}

		case message.Type == "complete" && c.newProtocol, message.Type == "stop" && !c.newProtocol:
			c.stop(message.ID)

		case message.Type == "ping":
			if err := c.write(wsReply{Type: "pong"}); err != nil {
				return
			}

		case message.Type == "pong":
			select {
			case c.pong <- struct{}{}:
			default:
			}

		case message.Type == "connection_terminate" && !c.newProtocol:
			c.closeWith(websocket.CloseNormalClosure, "")
			return

		default:
			c.closeWith(closeBadRequest, fmt.Sprintf("unexpected message type %q", message.Type))
			return
		}
	}
}

// start decodes the operation request in the message and runs it in a new goroutine.
// It returns false if the connection has been closed due to a bad message.
func (c *wsConnection) start(ctx context.Context, message *wsMessage) bool {
	if message.ID == "" {
		c.closeWith(closeBadRequest, "missing operation id")
		return false
	}
	if len(message.Payload) == 0 {
		c.closeWith(closeBadRequest, "missing payload")
		return false
	}
	var req gqlRequest
	decoder := json.NewDecoder(bytes.NewReader(message.Payload))
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		c.closeWith(closeBadRequest, "invalid payload")
		return false
	}
	if err := FixNumberVariables(req.Variables); err != nil {
		c.closeWith(closeBadRequest, "invalid variables")
		return false
	}

	c.mu.Lock()
	if _, ok := c.ops[message.ID]; ok {
		c.mu.Unlock()
		c.closeWith(closeDuplicateID, fmt.Sprintf("Subscriber for %s already exists", message.ID))
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	op := &wsOperation{cancel: cancel}
	c.ops[message.ID] = op
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx, message.ID, op, req)
	return true
}

// run executes an operation sending each response to the client. For a query or
// mutation there is one response, for a subscription one per event.
func (c *wsConnection) run(ctx context.Context, id string, op *wsOperation, req gqlRequest) {
	defer c.wg.Done()

	responses, err := c.h.schema.Subscribe(ctx, req.Query, req.OperationName, req.Variables)
	if err != nil {
		c.remove(id, op)
		c.sendError(id, &graphql.Response{Errors: queryErrors(err)})
		return
	}

	first, failed := true, false
	for r := range responses { // always drain so the executor goroutine can finish
		resp, ok := r.(*graphql.Response)
		if !ok || failed || ctx.Err() != nil {
			continue
		}
		if first && resp.Data == nil && len(resp.Errors) > 0 {
			failed = true // request error (eg validation) so no result and no "complete"
			c.sendError(id, resp)
			continue
		}
		first = false
		_ = c.write(wsReply{Type: c.dataType(), ID: id, Payload: resp})
	}

	if c.remove(id, op) && !failed {
		_ = c.write(wsReply{Type: "complete", ID: id})
	}
}

func (c *wsConnection) dataType() string {
	if c.newProtocol {
		return "next"
	}
	return "data"
}

func (c *wsConnection) sendError(id string, resp *graphql.Response) {
	var payload interface{} = resp
	if c.newProtocol {
		payload = resp.Errors
	}
	_ = c.write(wsReply{Type: "error", ID: id, Payload: payload})
}

// remove takes a finished operation out of the map, returning false if the client had already stopped it
func (c *wsConnection) remove(id string, op *wsOperation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	op.cancel()
	if c.ops[id] != op {
		return false
	}
	delete(c.ops, id)
	return true
}

// stop kills processing of one operation by calling the cancel function of the operation's context
func (c *wsConnection) stop(id string) {
	c.mu.Lock()
	op := c.ops[id]
	delete(c.ops, id)
	c.mu.Unlock()

	if op == nil {
		c.logger.V(1).Info("stop for unknown operation", "id", id)
		return
	}
	op.cancel()
	if !c.newProtocol {
		_ = c.write(wsReply{Type: "complete", ID: id})
	}
}

// stopAll kills processing of all operations (eg before closing the websocket)
func (c *wsConnection) stopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, op := range c.ops {
		op.cancel()
		delete(c.ops, id)
	}
}

// keepAlive periodically sends a "ka" (old protocol) or "ping" (new protocol). With the
// new protocol, if no "pong" is received in time the connection is dropped.
func (c *wsConnection) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.h.pingFrequency)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !c.newProtocol {
			if err := c.write(wsReply{Type: "ka"}); err != nil {
				return
			}
			continue
		}

		select {
		case <-c.pong: // discard an unsolicited pong
		default:
		}
		if err := c.write(wsReply{Type: "ping"}); err != nil {
			return
		}
		timer := time.NewTimer(c.h.pongTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.pong:
			timer.Stop()
		case <-timer.C:
			c.logger.Info("no pong received, dropping websocket")
			_ = c.conn.Close() // unblocks the read in serve
			return
		}
	}
}

// reject refuses a connection during the init phase
func (c *wsConnection) reject(code int, text string) {
	if c.newProtocol {
		c.closeWith(code, text)
		return
	}
	_ = c.write(wsReply{Type: "connection_error", Payload: map[string]string{"message": text}})
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *wsConnection) badMessage(err error) {
	c.logger.V(1).Info("bad message", "err", err.Error())
	if c.newProtocol {
		c.closeWith(closeBadRequest, "Invalid message received")
	} else {
		c.closeWith(websocket.CloseUnsupportedData, "Invalid message received")
	}
}

func (c *wsConnection) read() (*wsMessage, error) {
	_, reader, err := c.conn.NextReader()
	if err != nil {
		return nil, err
	}

	var message wsMessage
	if err := json.NewDecoder(reader).Decode(&message); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadMessage, err)
	}
	return &message, nil
}

func (c *wsConnection) write(reply wsReply) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(reply); err != nil {
		c.logger.V(1).Info("write failed", "type", reply.Type, "err", err.Error())
		return err
	}
	return nil
}

// closeWith sends a close frame; the caller then returns and the connection is closed
func (c *wsConnection) closeWith(code int, text string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, text)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil {
		c.logger.V(1).Info("close failed", "code", code, "err", err.Error())
	}
}
