package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydev/chatrelay/internal/auth"
	"github.com/relaydev/chatrelay/internal/chat"
	"github.com/relaydev/chatrelay/internal/frame"
	"github.com/relaydev/chatrelay/internal/message"
	"github.com/relaydev/chatrelay/internal/queue"
	"github.com/relaydev/chatrelay/internal/registry"
	"github.com/relaydev/chatrelay/internal/stats"
)

func testServer(t *testing.T, c *chat.Chat) string {
	t.Helper()
	return testServerWithLimit(t, c, 1<<20)
}

func testServerWithLimit(t *testing.T, c *chat.Chat, maxMessageSize int64) string {
	t.Helper()
	h := New(c, maxMessageSize, []string{"*"}, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestChat(t *testing.T) (*chat.Chat, *registry.Registry) {
	t.Helper()
	return newTestChatWithLimit(t, 1<<20)
}

func newTestChatWithLimit(t *testing.T, maxMessageSize int64) (*chat.Chat, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	asm := frame.New(maxMessageSize)
	undel := queue.New(true)
	st := stats.New(nil, nil)
	gen := message.NewGenerator()
	c := chat.New(reg, asm, undel, st, auth.None{}, gen, nil, nil, chat.Config{}, nil)
	return c, reg
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServeHTTP_MissingIDClosesWithInvalidQuery(t *testing.T) {
	c, _ := newTestChat(t)
	base := testServer(t, c)

	conn := dial(t, base)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, int(chat.StatusInvalidQuery), closeErr.Code)
}

func TestServeHTTP_ValidIDRegistersConnection(t *testing.T) {
	c, reg := newTestChat(t)
	base := testServer(t, c)

	_ = dial(t, base+"?id=42")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, reg.Count(42))
}

func TestServeHTTP_TextMessageDeliveredToOtherConnection(t *testing.T) {
	c, reg := newTestChat(t)
	base := testServer(t, c)

	sender := dial(t, base+"?id=1")
	recipientFake := &fakeRegistryConn{}
	reg.Add(2, recipientFake)

	env := map[string]any{
		"type":       "text",
		"sender":     1,
		"recipients": []int{2},
		"text":       "hello",
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, raw))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(recipientFake.sent()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, recipientFake.sent(), 1)
}

func TestServeHTTP_ClientCloseDisconnectsRegistry(t *testing.T) {
	c, reg := newTestChat(t)
	base := testServer(t, c)

	conn := dial(t, base+"?id=7")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, reg.Count(7))

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && reg.Count(7) != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, reg.Count(7))
}

func TestServeHTTP_InvalidPayloadClosesWithStatus(t *testing.T) {
	c, _ := newTestChat(t)
	base := testServer(t, c)

	conn := dial(t, base+"?id=9")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not valid json`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, int(chat.StatusInvalidPayload), closeErr.Code)
}

func TestServeHTTP_MessageLargerThanChunkSizeAssembledAcrossFragments(t *testing.T) {
	c, reg := newTestChat(t)
	base := testServer(t, c)

	sender := dial(t, base+"?id=1")
	recipientFake := &fakeRegistryConn{}
	reg.Add(2, recipientFake)

	// Padded well past readChunkSize (32 KiB) so conn.NextReader's single
	// io.Reader has to be pulled in multiple readFrames chunks, driving a
	// real FragmentBegin/FragmentContinue/FragmentEnd sequence through the
	// frame assembler instead of a single WholeFrame call.
	env := map[string]any{
		"type":       "text",
		"sender":     1,
		"recipients": []int{2},
		"text":       strings.Repeat("x", 3*readChunkSize),
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, raw))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(recipientFake.sent()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, recipientFake.sent(), 1)
}

func TestServeHTTP_OversizedMessageClosesWithStatusMessageTooBig(t *testing.T) {
	const limit = 1024
	c, _ := newTestChatWithLimit(t, limit)
	base := testServerWithLimit(t, c, limit)

	conn := dial(t, base+"?id=1")
	env := map[string]any{
		"type":       "text",
		"sender":     1,
		"recipients": []int{2},
		"text":       strings.Repeat("x", limit*4),
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, int(chat.StatusMessageTooBig), closeErr.Code)
}

func TestNew_DefaultsToAllowAllOrigins(t *testing.T) {
	c, _ := newTestChat(t)
	h := New(c, 1024, nil, nil)
	req, _ := http.NewRequest(http.MethodGet, "/?id="+strconv.Itoa(1), nil)
	req.Header.Set("Origin", "http://example.com")
	assert.True(t, h.upgrader.CheckOrigin(req))
}

// fakeRegistryConn is a registry.Conn double for asserting delivered writes
// without going through a second real WebSocket connection.
type fakeRegistryConn struct {
	mu     sync.Mutex
	writes [][]byte
}

func (f *fakeRegistryConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
	return nil
}
func (f *fakeRegistryConn) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeRegistryConn) Close() error                             { return nil }
func (f *fakeRegistryConn) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}
