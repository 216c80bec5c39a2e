package handler

// options.go handles setting of handler options

// Options are closures with the signature func(*Handler). An option function
// (InitialTimeout, etc) captures its parameters in the closure it returns and
// New runs the closures to modify the handler. For example in:
//
//   handler.New(schema, handler.PingFrequency(time.Minute))
//
// handler.PingFrequency is called first and the closure it returns sets the
// pingFrequency field when New calls SetOptions.
//
// If the same option is used more than once only the last use has any effect.

import (
	"net/http"
	"time"
)

const (
	defaultInitialTimeout = 10 * time.Second
	defaultPingFrequency  = 20 * time.Second
	defaultPongTimeout    = 5 * time.Second
)

// SetOptions takes a slice of handler options (closures) and executes them
func (h *Handler) SetOptions(options ...func(*Handler)) {
	for _, option := range options {
		option(h)
	}

	// Set any options that still have their unset (zero) value
	if h.initialTimeout == 0 {
		h.initialTimeout = defaultInitialTimeout
	}
	if h.pingFrequency == 0 {
		h.pingFrequency = defaultPingFrequency
	}
	if h.pongTimeout == 0 {
		h.pongTimeout = defaultPongTimeout
	}
	if h.checkOrigin == nil {
		h.checkOrigin = func(*http.Request) bool { return true }
	}
}

// InitialTimeout limits how long a new websocket may go without sending
// connection_init. A client that is too slow is closed with code 4408.
func InitialTimeout(timeout time.Duration) func(*Handler) {
	return func(h *Handler) {
		h.initialTimeout = timeout
	}
}

// PingFrequency is the keep-alive interval: "ping" with graphql-transport-ws,
// "ka" with graphql-ws
func PingFrequency(freq time.Duration) func(*Handler) {
	return func(h *Handler) {
		h.pingFrequency = freq
	}
}

// PongTimeout is how long a graphql-transport-ws client has to answer a ping
// before the connection is dropped.
func PongTimeout(timeout time.Duration) func(*Handler) {
	return func(h *Handler) {
		h.pongTimeout = timeout
	}
}

// OnInit sets the function that vets the connection_init payload of a websocket,
// eg to authenticate the connection.
func OnInit(f InitFunc) func(*Handler) {
	return func(h *Handler) {
		h.initFunc = f
	}
}

// CheckOrigin sets the websocket upgrade origin check (the default allows any
// origin, leaving it to the CORS layer in front of the handler).
func CheckOrigin(f func(r *http.Request) bool) func(*Handler) {
	return func(h *Handler) {
		h.checkOrigin = f
	}
}
