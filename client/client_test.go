package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mini-wsrpc/config"
	"mini-wsrpc/message"
	"mini-wsrpc/server"
	"mini-wsrpc/transport"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

type Eth struct {
	logs chan string
}

func (e *Eth) BlockNumber(_ *struct{}, reply *string) error {
	*reply = "0x10"
	return nil
}

func (e *Eth) Sleep(ms *int, reply *bool) error {
	time.Sleep(time.Duration(*ms) * time.Millisecond)
	*reply = true
	return nil
}

func (e *Eth) Log(msg *string, ok *bool) error {
	e.logs <- *msg
	*ok = true
	return nil
}

func (e *Eth) Subscribe(kind *string, id *string) error {
	if *kind != "newHeads" {
		return &message.RPCError{Code: message.CodeInvalidParams, Message: "unsupported subscription " + *kind}
	}
	*id = "0x1"
	return nil
}

func (e *Eth) Unsubscribe(id *string, ok *bool) error {
	*ok = *id == "0x1"
	return nil
}

func startServer(t testing.TB) (*server.Server, *Eth, string) {
	t.Helper()
	svr := server.NewServer(nil)
	eth := &Eth{logs: make(chan string, 1)}
	require.NoError(t, svr.Register(&Arith{}))
	require.NoError(t, svr.Register(eth))

	ts := httptest.NewServer(svr)
	t.Cleanup(ts.Close)
	return svr, eth, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t testing.TB, url string) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.Endpoint = url

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientCall(t *testing.T) {
	_, _, url := startServer(t)
	c := dial(t, url)
	ctx := context.Background()

	var reply Reply
	require.NoError(t, c.Call(ctx, "arith_add", []Args{{A: 1, B: 2}}, &reply))
	assert.Equal(t, 3, reply.Result)

	var block string
	require.NoError(t, c.Call(ctx, "eth_blockNumber", nil, &block))
	assert.Equal(t, "0x10", block)

	// result not wanted
	require.NoError(t, c.Call(ctx, "eth_blockNumber", nil, nil))
	assert.Zero(t, c.Transport().Pending())
}

func TestClientCallRPCError(t *testing.T) {
	_, _, url := startServer(t)
	c := dial(t, url)

	err := c.Call(context.Background(), "arith_mul", []Args{{A: 1, B: 2}}, nil)
	var rpcErr *message.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, message.CodeMethodNotFound, rpcErr.Code)
}

func TestClientCallContextCanceled(t *testing.T) {
	_, _, url := startServer(t)
	c := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Call(ctx, "eth_sleep", []int{500}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.Transport().Pending(), "abandoned call is forgotten")
}

func TestClientCloseFailsPending(t *testing.T) {
	_, _, url := startServer(t)
	c := dial(t, url)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Call(context.Background(), "eth_sleep", []int{1000}, nil)
	}()
	require.Eventually(t, func() bool { return c.Transport().Pending() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, transport.ErrInvalidConnection)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not failed on close")
	}
}

func TestClientNotify(t *testing.T) {
	_, eth, url := startServer(t)
	c := dial(t, url)

	require.NoError(t, c.Notify(context.Background(), "eth_log", []string{"hello"}))
	select {
	case msg := <-eth.logs:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not received by server")
	}
	assert.Zero(t, c.Transport().Pending())
}

func TestClientBatchCall(t *testing.T) {
	_, _, url := startServer(t)
	c := dial(t, url)

	var block string
	var sum Reply
	batch := []BatchElem{
		{Method: "eth_blockNumber", Result: &block},
		{Method: "arith_add", Params: []Args{{A: 20, B: 22}}, Result: &sum},
		{Method: "arith_nope"},
	}
	require.NoError(t, c.BatchCall(context.Background(), batch))

	assert.NoError(t, batch[0].Error)
	assert.Equal(t, "0x10", block)
	assert.NoError(t, batch[1].Error)
	assert.Equal(t, 42, sum.Result)

	var rpcErr *message.RPCError
	require.ErrorAs(t, batch[2].Error, &rpcErr)
	assert.Equal(t, message.CodeMethodNotFound, rpcErr.Code)
	assert.Zero(t, c.Transport().Pending())
}

func TestClientSubscribe(t *testing.T) {
	svr, _, url := startServer(t)
	c := dial(t, url)
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, "eth", "newHeads")
	require.NoError(t, err)
	assert.Equal(t, "0x1", sub.ID())

	require.NoError(t, svr.Notify("eth", "0x2", 6)) // someone else's
	require.NoError(t, svr.Notify("eth", "0x1", 5))
	// one notification split over two frames
	require.NoError(t, svr.Broadcast([]byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0x1",`)))
	require.NoError(t, svr.Broadcast([]byte(`"result":7}}`)))

	for _, want := range []string{"5", "7"} {
		select {
		case got := <-sub.C():
			assert.JSONEq(t, want, string(got))
		case <-time.After(2 * time.Second):
			t.Fatalf("notification %s not delivered", want)
		}
	}

	require.NoError(t, sub.Unsubscribe(ctx))
	_, open := <-sub.C()
	assert.False(t, open)
}

func TestClientSubscribeRejected(t *testing.T) {
	_, _, url := startServer(t)
	c := dial(t, url)

	_, err := c.Subscribe(context.Background(), "eth", "pendingTransactions")
	var rpcErr *message.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, message.CodeInvalidParams, rpcErr.Code)
}

func TestSubscriptionEndsOnClose(t *testing.T) {
	_, _, url := startServer(t)
	c := dial(t, url)

	sub, err := c.Subscribe(context.Background(), "eth", "newHeads")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	select {
	case err := <-sub.Err():
		assert.True(t, errors.Is(err, transport.ErrInvalidConnection))
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not ended by close")
	}
	_, open := <-sub.C()
	assert.False(t, open)

	// nothing to tell the peer any more
	assert.NoError(t, sub.Unsubscribe(context.Background()))
}

func TestDialRequiresEndpoint(t *testing.T) {
	cfg := config.Default()
	_, err := Dial(context.Background(), cfg, nil, nil)
	assert.Error(t, err)

	cfg.Endpoint = "http://127.0.0.1:1"
	_, err = Dial(context.Background(), cfg, nil, nil)
	assert.Error(t, err)
}
