package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologyEdgeRoundTrip(t *testing.T) {
	topo := NewTopology()
	topo.AddEdge("a", "b", Edge{Latency: 10 * time.Millisecond, Reliability: 0.75})

	e, ok := topo.GetEdge("a", "b")
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, e.Latency)
	assert.Equal(t, 0.75, e.Reliability)

	assert.False(t, topo.HasEdge("b", "a"))
}

func TestReliableLinkDeliversEverySend(t *testing.T) {
	topo := NewTopology()
	topo.FullMesh([]string{"a", "b"}, Edge{Latency: time.Millisecond, Reliability: 1.0})
	net := NewNetwork(topo, 1, RealClock{})
	defer net.Close()

	a := net.RegisterNode("a")
	b := net.RegisterNode("b")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := a.Send(ctx, "b", []byte("hello")).Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	msg, err := b.Receive(ctx).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", msg.From)
	assert.Equal(t, []byte("hello"), msg.Payload)
}

func TestUnreliableLinkDropsSomeSends(t *testing.T) {
	topo := NewTopology()
	topo.FullMesh([]string{"a", "b"}, Edge{Latency: time.Millisecond, Reliability: 0.3})
	net := NewNetwork(topo, 42, RealClock{})
	defer net.Close()

	a := net.RegisterNode("a")
	b := net.RegisterNode("b")

	delivered := 0
	const n = 200
	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		ok, err := a.Send(ctx, "b", []byte("x")).Get(ctx)
		require.NoError(t, err)
		require.True(t, ok, "acceptance does not depend on the reliability draw")
		_, err = b.Receive(ctx).Get(ctx)
		cancel()
		if err == nil {
			delivered++
		}
	}
	assert.Less(t, delivered, n, "a lossy link must drop at least one of many sends")
	assert.Greater(t, delivered, 0, "a lossy link must still deliver some sends")
}

func TestMissingEdgeRejectsSend(t *testing.T) {
	topo := NewTopology()
	net := NewNetwork(topo, 1, RealClock{})
	defer net.Close()

	a := net.RegisterNode("a")
	net.RegisterNode("b")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ok, err := a.Send(ctx, "b", []byte("x")).Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrderedPairPreservesSendOrder(t *testing.T) {
	topo := NewTopology()
	topo.AddEdge("a", "b", Edge{Latency: 5 * time.Millisecond, Reliability: 1.0})
	net := NewNetwork(topo, 7, RealClock{})
	defer net.Close()

	a := net.RegisterNode("a")
	b := net.RegisterNode("b")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		ok, err := a.Send(ctx, "b", []byte{byte(i)}).Get(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i := 0; i < 3; i++ {
		msg, err := b.Receive(ctx).Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, msg.Payload)
	}
}

func TestConcurrentConnectAndAcceptBothResolve(t *testing.T) {
	topo := NewTopology()
	topo.FullMesh([]string{"a", "b"}, Edge{Latency: time.Millisecond, Reliability: 1.0})
	net := NewNetwork(topo, 3, RealClock{})
	defer net.Close()

	a := net.RegisterNode("a")
	b := net.RegisterNode("b")

	listener, err := b.Bind(9000)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	acceptFuture := listener.Accept(ctx)
	connectFuture := a.Connect(ctx, "b", 9000, 5000)

	serverConn, err := acceptFuture.Get(ctx)
	require.NoError(t, err)
	clientConn, err := connectFuture.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, Endpoint{Addr: "b", Port: 9000}, serverConn.LocalEndpoint())
	assert.Equal(t, Endpoint{Addr: "a", Port: 5000}, clientConn.LocalEndpoint())
	assert.True(t, serverConn.IsOpen())
	assert.True(t, clientConn.IsOpen())
}

func TestConnectionReadWriteRoundTrip(t *testing.T) {
	topo := NewTopology()
	topo.FullMesh([]string{"a", "b"}, Edge{Latency: time.Millisecond, Reliability: 1.0})
	net := NewNetwork(topo, 9, RealClock{})
	defer net.Close()

	a := net.RegisterNode("a")
	b := net.RegisterNode("b")
	listener, err := b.Bind(9001)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	acceptFuture := listener.Accept(ctx)
	clientConn, err := a.Connect(ctx, "b", 9001, 5001).Get(ctx)
	require.NoError(t, err)
	serverConn, err := acceptFuture.Get(ctx)
	require.NoError(t, err)

	ok, err := clientConn.Write(ctx, []byte("ping")).Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	payload, err := serverConn.Read(ctx).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), payload)

	serverConn.Close()
	assert.False(t, serverConn.IsOpen())
	_, err = serverConn.Write(ctx, []byte("x")).Get(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosedSentinel)
}

func TestPoolReusesReturnedConnection(t *testing.T) {
	topo := NewTopology()
	topo.FullMesh([]string{"a", "b"}, Edge{Latency: time.Millisecond, Reliability: 1.0})
	net := NewNetwork(topo, 11, RealClock{})
	defer net.Close()

	a := net.RegisterNode("a")
	b := net.RegisterNode("b")
	listener, err := b.Bind(9002)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	acceptFuture := listener.Accept(ctx)
	conn1, err := a.ConnectPooled(ctx, "b", 9002, 5002).Get(ctx)
	require.NoError(t, err)
	_, err = acceptFuture.Get(ctx)
	require.NoError(t, err)

	a.ReturnConnection(conn1)
	conn2, err := a.ConnectPooled(ctx, "b", 9002, 5002).Get(ctx)
	require.NoError(t, err)
	assert.Same(t, conn1, conn2, "a still-open returned connection must be reused, not re-dialed")
}

func TestVirtualClockDeliversAfterAdvance(t *testing.T) {
	topo := NewTopology()
	topo.AddEdge("a", "b", Edge{Latency: 100 * time.Millisecond, Reliability: 1.0})
	clock := NewVirtualClock(time.Unix(0, 0))
	net := NewNetwork(topo, 5, clock)
	defer net.Close()

	a := net.RegisterNode("a")
	b := net.RegisterNode("b")

	ctx := context.Background()
	sendCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ok, err := a.Send(sendCtx, "b", []byte("v")).Get(sendCtx)
	require.NoError(t, err)
	require.True(t, ok)

	recvCtx, cancel2 := context.WithTimeout(ctx, 20*time.Millisecond)
	_, err = b.Receive(recvCtx).Get(recvCtx)
	cancel2()
	assert.ErrorIs(t, err, ErrTimeoutSentinel, "message must not be delivered before virtual time advances past latency")

	clock.Advance(150 * time.Millisecond)

	recvCtx2, cancel3 := context.WithTimeout(ctx, time.Second)
	defer cancel3()
	msg, err := b.Receive(recvCtx2).Get(recvCtx2)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), msg.Payload)
}
