// Package handler serves GraphQL requests for a graphql-go schema: queries
// and mutations over HTTP POST or GET, and any operation (including
// subscriptions) over a websocket using either the graphql-transport-ws or
// the older graphql-ws sub-protocol.
package handler

// handler.go implements the handler and its ServeHTTP method

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/graph-gophers/graphql-go"
	gqlerrors "github.com/graph-gophers/graphql-go/errors"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/andrewwphillips/bookql/internal/logging"
)

// InitFunc is called with the payload of a websocket connection_init message.
// It returns the context the connection's operations run in; an error rejects
// the connection (close code 4403).
type InitFunc func(ctx context.Context, payload map[string]interface{}) (context.Context, error)

// Handler is an http.Handler for one schema.
type Handler struct {
	schema *graphql.Schema

	initialTimeout time.Duration // how long to wait for connection_init after the WS is opened
	pingFrequency  time.Duration // how often to send ping (ka in the old protocol)
	pongTimeout    time.Duration // how long to wait for pong after sending ping
	initFunc       InitFunc
	checkOrigin    func(r *http.Request) bool
	upgrader       websocket.Upgrader
}

// New returns a handler executing requests against schema.
func New(schema *graphql.Schema, options ...func(*Handler)) *Handler {
	h := &Handler{schema: schema}
	h.SetOptions(options...)
	h.upgrader = websocket.Upgrader{
		CheckOrigin:  h.checkOrigin,
		Subprotocols: []string{protocolTransportWS, protocolGraphQLWS},
	}
	return h
}

// gqlRequest is the body of a POST (or the parameters of a GET)
type gqlRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// ServeHTTP executes a GraphQL query or mutation sent as an HTTP request, or
// upgrades the connection to a websocket.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.serveWS(w, r)
		return
	}

	var (
		g      gqlRequest
		status int
		err    error
	)
	switch r.Method {
	case http.MethodPost:
		status, err = decodePost(r, &g)
	case http.MethodGet:
		status, err = decodeGet(r, &g)
	default:
		w.Header().Set("Allow", "GET, POST")
		status, err = http.StatusMethodNotAllowed, errors.New("only GET and POST are supported")
	}
	if err != nil {
		writeJSON(w, status, &graphql.Response{Errors: queryErrors(err)})
		return
	}

	logging.FromContext(r.Context()).V(1).Info("executing", "operation", g.OperationName, "method", r.Method)
	writeJSON(w, http.StatusOK, h.schema.Exec(r.Context(), g.Query, g.OperationName, g.Variables))
}

func decodePost(r *http.Request, g *gqlRequest) (int, error) {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber() // lets FixNumberVariables tell ints from floats
	if err := decoder.Decode(g); err != nil {
		return http.StatusBadRequest, fmt.Errorf("error decoding JSON request: %w", err)
	}
	if err := FixNumberVariables(g.Variables); err != nil {
		return http.StatusBadRequest, err
	}
	return 0, nil
}

// decodeGet reads the request from the URL. Mutations are refused as a GET
// must not have side effects.
func decodeGet(r *http.Request, g *gqlRequest) (int, error) {
	params := r.URL.Query()
	g.Query = params.Get("query")
	g.OperationName = params.Get("operationName")
	if v := params.Get("variables"); v != "" {
		decoder := json.NewDecoder(strings.NewReader(v))
		decoder.UseNumber()
		if err := decoder.Decode(&g.Variables); err != nil {
			return http.StatusBadRequest, fmt.Errorf("error decoding variables: %w", err)
		}
		if err := FixNumberVariables(g.Variables); err != nil {
			return http.StatusBadRequest, err
		}
	}
	if operationType(g.Query, g.OperationName) == ast.Mutation {
		return http.StatusMethodNotAllowed, errors.New("mutations must use POST")
	}
	return 0, nil
}

// operationType returns the kind of the named operation in query, or "" if
// it cannot be determined (graphql-go reports the problem on execution).
func operationType(query, operationName string) ast.Operation {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return ""
	}
	if operationName == "" {
		if len(doc.Operations) != 1 {
			return ""
		}
		return doc.Operations[0].Operation
	}
	if op := doc.Operations.ForName(operationName); op != nil {
		return op.Operation
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, resp *graphql.Response) {
	buf, err := json.Marshal(resp)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"errors":[{"message":"error encoding JSON response"}]}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

func queryErrors(err error) []*gqlerrors.QueryError {
	return []*gqlerrors.QueryError{gqlerrors.Errorf("%s", err)}
}
