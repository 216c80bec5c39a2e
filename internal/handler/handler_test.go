package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dolmen-go/jsonmap"
	"github.com/graph-gophers/graphql-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewwphillips/bookql/internal/handler"
)

const testSchema = `
schema { query: Query mutation: Mutation subscription: Subscription }
type Query {
	hello(name: String = "world"): String!
	count(n: Int!): Int!
	ratio(x: Float!): Float!
}
type Mutation { bump: Int! }
type Subscription { message: String! }
`

// testResolver keeps sending "hello" messages for a "message" subscription
type testResolver struct {
	delay time.Duration // time between "hello" messages (0 for no delay)
	bumps int32
}

func (r *testResolver) Count(args struct{ N int32 }) int32     { return args.N }
func (r *testResolver) Ratio(args struct{ X float64 }) float64 { return args.X }
func (r *testResolver) Bump() int32                            { return atomic.AddInt32(&r.bumps, 1) }

// Hello greets "world" when name is omitted (the schema default)
func (r *testResolver) Hello(args struct{ Name *string }) string {
	if args.Name == nil {
		return "hello"
	}
	return "hello " + *args.Name
}

func (r *testResolver) Message(ctx context.Context) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case ch <- "hello":
				if r.delay > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(r.delay):
					}
				}
			}
		}
	}()
	return ch
}

func newHandler(t *testing.T, r *testResolver, options ...func(*handler.Handler)) *handler.Handler {
	t.Helper()
	schema, err := graphql.ParseSchema(testSchema, r)
	require.NoError(t, err)
	return handler.New(schema, options...)
}

type response struct {
	Data   json.RawMessage   `json:"data"`
	Errors []json.RawMessage `json:"errors"`
}

func serve(t *testing.T, h http.Handler, req *http.Request) (int, response) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func TestPost(t *testing.T) {
	h := newHandler(t, &testResolver{})
	tests := map[string]struct {
		body       string
		wantStatus int
		wantData   string
		wantError  string
	}{
		"simple":        {`{"query":"{hello}"}`, http.StatusOK, `{"hello":"hello world"}`, ""},
		"arg":           {`{"query":"{hello(name:\"bob\")}"}`, http.StatusOK, `{"hello":"hello bob"}`, ""},
		"int var":       {`{"query":"query($n:Int!){count(n:$n)}","variables":{"n":42}}`, http.StatusOK, `{"count":42}`, ""},
		"float var":     {`{"query":"query($x:Float!){ratio(x:$x)}","variables":{"x":1.5}}`, http.StatusOK, `{"ratio":1.5}`, ""},
		"int as float":  {`{"query":"query($x:Float!){ratio(x:$x)}","variables":{"x":2}}`, http.StatusOK, `{"ratio":2}`, ""},
		"named op":      {`{"query":"query A{hello} query B{count(n:7)}","operationName":"B"}`, http.StatusOK, `{"count":7}`, ""},
		"mutation":      {`{"query":"mutation{bump}"}`, http.StatusOK, `{"bump":1}`, ""},
		"bad json":      {`{"query":`, http.StatusBadRequest, "", "error decoding JSON request"},
		"unknown field": {`{"query":"{nothing}"}`, http.StatusOK, "", `Cannot query field \"nothing\"`},
		"missing var":   {`{"query":"query($n:Int!){count(n:$n)}"}`, http.StatusOK, "", `Variable \"n\"`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(tt.body))
			status, resp := serve(t, h, req)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantError != "" {
				require.NotEmpty(t, resp.Errors)
				assert.Contains(t, string(resp.Errors[0]), tt.wantError)
				return
			}
			assert.Empty(t, resp.Errors)
			assert.JSONEq(t, tt.wantData, string(resp.Data))
		})
	}
}

func TestGet(t *testing.T) {
	h := newHandler(t, &testResolver{})
	tests := map[string]struct {
		params     url.Values
		wantStatus int
		wantData   string
		wantError  string
	}{
		"query":     {url.Values{"query": {`{hello(name:"get")}`}}, http.StatusOK, `{"hello":"hello get"}`, ""},
		"variables": {url.Values{"query": {`query($n:Int!){count(n:$n)}`}, "variables": {`{"n":3}`}}, http.StatusOK, `{"count":3}`, ""},
		"bad vars":  {url.Values{"query": {`{hello}`}, "variables": {`{`}}, http.StatusBadRequest, "", "error decoding variables"},
		"mutation":  {url.Values{"query": {`mutation{bump}`}}, http.StatusMethodNotAllowed, "", "mutations must use POST"},
		"named mutation": {
			url.Values{"query": {`query Q{hello} mutation M{bump}`}, "operationName": {"M"}},
			http.StatusMethodNotAllowed, "", "mutations must use POST",
		},
		"named query": {
			url.Values{"query": {`query Q{hello} mutation M{bump}`}, "operationName": {"Q"}},
			http.StatusOK, `{"hello":"hello world"}`, "",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/graphql?"+tt.params.Encode(), nil)
			status, resp := serve(t, h, req)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantError != "" {
				require.NotEmpty(t, resp.Errors)
				assert.Contains(t, string(resp.Errors[0]), tt.wantError)
				return
			}
			assert.Empty(t, resp.Errors)
			assert.JSONEq(t, tt.wantData, string(resp.Data))
		})
	}
}

func TestGetDoesNotMutate(t *testing.T) {
	r := &testResolver{}
	h := newHandler(t, r)
	req := httptest.NewRequest(http.MethodGet, "/graphql?"+url.Values{"query": {"mutation{bump}"}}.Encode(), nil)
	status, _ := serve(t, h, req)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	assert.Zero(t, atomic.LoadInt32(&r.bumps))
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHandler(t, &testResolver{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/graphql", strings.NewReader(`{"query":"{hello}"}`)))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, POST", w.Header().Get("Allow"))
}

// TestFieldOrder checks that results are in the order of the query's selections
func TestFieldOrder(t *testing.T) {
	h := newHandler(t, &testResolver{})
	for _, order := range [][]string{
		{"ratio", "hello", "count"},
		{"count", "ratio", "hello"},
	} {
		fields := map[string]string{"hello": "hello", "count": "count(n:1)", "ratio": "ratio(x:0.5)"}
		selections := make([]string, len(order))
		for i, f := range order {
			selections[i] = fields[f]
		}
		body, err := json.Marshal(map[string]string{"query": "{" + strings.Join(selections, " ") + "}"})
		require.NoError(t, err)

		_, resp := serve(t, h, httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(string(body))))
		var data jsonmap.Ordered
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		assert.Equal(t, order, data.Order)
	}
}

func TestFixNumberVariables(t *testing.T) {
	vars := map[string]interface{}{
		"i":      json.Number("12"),
		"f":      json.Number("1.25"),
		"big":    json.Number("12345678901"),
		"s":      "str",
		"nested": map[string]interface{}{"n": json.Number("-3")},
		"list":   []interface{}{json.Number("1"), json.Number("2.5")},
	}
	require.NoError(t, handler.FixNumberVariables(vars))
	assert.Equal(t, 12, vars["i"])
	assert.Equal(t, 1.25, vars["f"])
	assert.Equal(t, 12345678901.0, vars["big"])
	assert.Equal(t, "str", vars["s"])
	assert.Equal(t, map[string]interface{}{"n": -3}, vars["nested"])
	assert.Equal(t, []interface{}{1, 2.5}, vars["list"])

	assert.Error(t, handler.FixNumberVariables(map[string]interface{}{"bad": json.Number("x")}))
	assert.NoError(t, handler.FixNumberVariables(nil))
}
