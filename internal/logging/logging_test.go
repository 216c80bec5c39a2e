package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
)

func TestFromContextDefaultsToDiscard(t *testing.T) {
	logger := FromContext(context.Background())
	assert.Nil(t, logger.GetSink())
}

func TestMiddleware(t *testing.T) {
	var got logr.Logger
	h := Middleware(testr.New(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotNil(t, got.GetSink())
}

func TestErrorOnly(t *testing.T) {
	var lines []string
	sink := funcr.New(func(prefix, args string) { lines = append(lines, args) }, funcr.Options{}).GetSink()
	logger := logr.New(errorOnly{sink}).WithValues("k", "v")

	logger.Info("dropped")
	logger.Error(nil, "kept")
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"kept"`)
	assert.Contains(t, lines[0], `"k"="v"`)
}
