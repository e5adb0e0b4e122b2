package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every text frame with the same text, twice in one frame,
// which mimics a peer that coalesces replies.
func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, append(data, data...)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketLifecycle(t *testing.T) {
	srv := echoServer(t)

	opened := make(chan struct{}, 1)
	messages := make(chan string, 1)
	closed := make(chan CloseEvent, 1)

	ws := NewWebSocket(wsURL(srv), WithPingInterval(0))
	ws.SetHandlers(Handlers{
		OnOpen:    func() { opened <- struct{}{} },
		OnMessage: func(text string) { messages <- text },
		OnClose:   func(ev CloseEvent) { closed <- ev },
	})
	assert.Equal(t, StateClosed, ws.State())
	assert.ErrorIs(t, ws.Send("x"), ErrNotOpen)

	require.NoError(t, ws.Open(context.Background()))
	assert.Equal(t, StateOpen, ws.State())
	<-opened

	require.NoError(t, ws.Send(`{"id":1}`))
	select {
	case got := <-messages:
		assert.Equal(t, `{"id":1}{"id":1}`, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}

	require.NoError(t, ws.Close())
	select {
	case ev := <-closed:
		assert.True(t, ev.WasClean)
	case <-time.After(2 * time.Second):
		t.Fatal("no close event")
	}
	assert.Equal(t, StateClosed, ws.State())

	// A closed connection can start a fresh session.
	require.NoError(t, ws.Open(context.Background()))
	<-opened
	assert.Equal(t, StateOpen, ws.State())
	require.NoError(t, ws.Close())
	<-closed
}

func TestWebSocketDialFailure(t *testing.T) {
	errs := make(chan error, 1)
	closed := make(chan CloseEvent, 1)

	ws := NewWebSocket("ws://127.0.0.1:1", WithHandshakeTimeout(500*time.Millisecond))
	ws.SetHandlers(Handlers{
		OnError: func(err error) { errs <- err },
		OnClose: func(ev CloseEvent) { closed <- ev },
	})

	require.Error(t, ws.Open(context.Background()))
	assert.Error(t, <-errs)
	ev := <-closed
	assert.Equal(t, websocket.CloseAbnormalClosure, ev.Code)
	assert.Equal(t, StateClosed, ws.State())
}

func TestWebSocketPeerDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		conn.Close()
	}))
	defer srv.Close()

	closed := make(chan CloseEvent, 1)
	ws := NewWebSocket(wsURL(srv))
	ws.SetHandlers(Handlers{OnClose: func(ev CloseEvent) { closed <- ev }})
	require.NoError(t, ws.Open(context.Background()))

	select {
	case ev := <-closed:
		assert.Equal(t, websocket.CloseGoingAway, ev.Code)
		assert.Equal(t, "bye", ev.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no close event")
	}
}
