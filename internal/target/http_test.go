package target

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaydev/chatrelay/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textPayload(t *testing.T, gen *message.Generator) *message.Payload {
	t.Helper()
	p := message.New(message.TypeText, 1, []uint64{2}, "hello", nil)
	p.AssignID(gen)
	return p
}

func TestNewHTTPPostback_InvalidWithoutURL(t *testing.T) {
	tgt := NewHTTPPostback("", "", nil, 0)
	assert.False(t, tgt.IsValid())
	assert.NotEmpty(t, tgt.ErrorMessage())
}

func TestHTTPPostback_Send_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "tok", r.Header.Get("X-Auth"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gen := message.NewGenerator()
	tgt := NewHTTPPostback(srv.URL, "", map[string]string{"X-Auth": "tok"}, time.Second)
	require.True(t, tgt.IsValid())

	ok, errMsg := tgt.Send(textPayload(t, gen))
	assert.True(t, ok)
	assert.Empty(t, errMsg)
}

func TestHTTPPostback_Send_FailsOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gen := message.NewGenerator()
	tgt := NewHTTPPostback(srv.URL, "", nil, time.Second)
	ok, errMsg := tgt.Send(textPayload(t, gen))
	assert.False(t, ok)
	assert.Contains(t, errMsg, "500")
}

func TestHTTPPostback_Send_FailsOnUnreachable(t *testing.T) {
	gen := message.NewGenerator()
	tgt := NewHTTPPostback("http://127.0.0.1:1", "", nil, 50*time.Millisecond)
	ok, errMsg := tgt.Send(textPayload(t, gen))
	assert.False(t, ok)
	assert.NotEmpty(t, errMsg)
}

func TestHTTPPostback_Type(t *testing.T) {
	assert.Equal(t, "http", NewHTTPPostback("http://x", "", nil, 0).Type())
}
