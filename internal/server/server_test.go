package server

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhemu/auction-server/internal/catalog"
	"github.com/zhemu/auction-server/internal/coordinator"
	"github.com/zhemu/auction-server/internal/wire"
)

func startTestServer(t *testing.T) (*coordinator.Coordinator, string) {
	t.Helper()
	cat, err := catalog.Parse([]byte(`{"toys": ["drone", "kite"]}`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	coord := coordinator.New(ctx, coordinator.Config{Catalog: cat})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = New(coord, nil).Serve(ctx, ln) }()
	return coord, ln.Addr().String()
}

type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func dialAndRegister(t *testing.T, coord *coordinator.Coordinator, addr, handshake string, wantRoster int) *testClient {
	t.Helper()
	c := dial(t, addr)
	c.send(handshake)
	waitForRoster(t, coord, wantRoster)
	return c
}

func (c *testClient) send(text string) {
	c.t.Helper()
	require.NoError(c.t, wire.WriteMessage(c.conn, []byte(text)))
}

func (c *testClient) recv() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	payload, err := wire.ReadMessage(c.conn)
	require.NoError(c.t, err)
	return string(payload)
}

func (c *testClient) recvClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := wire.ReadMessage(c.conn)
	require.Error(c.t, err)
	require.True(c.t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF),
		"expected closed connection, got %v", err)
}

func waitForRoster(t *testing.T, coord *coordinator.Coordinator, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		reply := make(chan coordinator.View, 1)
		coord.Inbox() <- coordinator.Snapshot{Reply: reply}
		return len((<-reply).Roster) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func startAuction(t *testing.T, coord *coordinator.Coordinator, category, item string) {
	t.Helper()
	reply := make(chan error, 1)
	coord.Inbox() <- coordinator.StartAuction{Category: category, Item: item, Reply: reply}
	require.NoError(t, <-reply)
}

func TestEndToEnd_BidOverTheWire(t *testing.T) {
	coord, addr := startTestServer(t)

	alice := dialAndRegister(t, coord, addr, "alice,100", 1)
	bob := dialAndRegister(t, coord, addr, "bob,5", 2)

	startAuction(t, coord, "toys", "drone")
	require.Equal(t, wire.ItemNotice("drone", 10), alice.recv())
	require.Equal(t, wire.ItemNotice("drone", 10), bob.recv())

	alice.send("BID 15")
	require.Equal(t, wire.HighBidderNotice("alice", 15), alice.recv())
	require.Equal(t, wire.ItemNotice("drone", 15), alice.recv())
	require.Equal(t, wire.HighBidderNotice("alice", 15), bob.recv())
	require.Equal(t, wire.ItemNotice("drone", 15), bob.recv())

	// bob cannot afford 20; the rejection goes to bob alone
	bob.send("BID 20")
	require.Equal(t, "Bid too low or insufficient balance.", bob.recv())

	reply := make(chan error, 1)
	coord.Inbox() <- coordinator.CompleteTransaction{Reply: reply}
	require.NoError(t, <-reply)

	require.Equal(t, wire.WinnerMessage("drone"), alice.recv())
	require.Equal(t, wire.SucceedMessage(15), alice.recv())
	require.Equal(t, wire.SoldNotice("alice", "drone", 15), alice.recv())
	require.Equal(t, wire.EndOfAuction, alice.recv())

	require.Equal(t, wire.SoldNotice("alice", "drone", 15), bob.recv())
	require.Equal(t, wire.EndOfAuction, bob.recv())
}

func TestDuplicateUsernameRejectedAndClosed(t *testing.T) {
	coord, addr := startTestServer(t)

	dialAndRegister(t, coord, addr, "alice,100", 1)

	imposter := dial(t, addr)
	imposter.send("alice,500")
	require.Contains(t, imposter.recv(), "already registered")
	imposter.recvClosed()

	// the original registration is intact
	waitForRoster(t, coord, 1)
}

func TestMalformedHandshakeClosesConnection(t *testing.T) {
	_, addr := startTestServer(t)

	c := dial(t, addr)
	c.send("no-comma-here")
	require.Contains(t, c.recv(), "invalid handshake")
	c.recvClosed()
}

func TestUnknownCommandKeepsSessionOpen(t *testing.T) {
	coord, addr := startTestServer(t)

	c := dialAndRegister(t, coord, addr, "alice,100", 1)
	c.send("DANCE")
	require.Equal(t, "unrecognized command", c.recv())

	// session survives the protocol error
	startAuction(t, coord, "toys", "drone")
	require.Equal(t, wire.ItemNotice("drone", 10), c.recv())
	c.send("BID 15")
	require.Equal(t, wire.HighBidderNotice("alice", 15), c.recv())
}

func TestMalformedBidDistinctFromUnknownVerb(t *testing.T) {
	coord, addr := startTestServer(t)

	c := dialAndRegister(t, coord, addr, "alice,100", 1)
	c.send("BID lots")
	require.Equal(t, "Invalid bid format.", c.recv())
	c.send("BID -5")
	require.Equal(t, "Invalid bid format.", c.recv())
	c.send("DANCE")
	require.Equal(t, "unrecognized command", c.recv())

	// both protocol errors leave the session up
	startAuction(t, coord, "toys", "drone")
	require.Equal(t, wire.ItemNotice("drone", 10), c.recv())
}

func TestSessionEndsOnCoordinatorShutdown(t *testing.T) {
	coord, addr := startTestServer(t)

	c := dialAndRegister(t, coord, addr, "alice,100", 1)
	coord.Inbox() <- coordinator.Shutdown{}

	// shutdown closes the outbox, the writer closes the conn, and the
	// session goroutine must not hang on the dead inbox
	c.recvClosed()
}

func TestExitUnregistersClient(t *testing.T) {
	coord, addr := startTestServer(t)

	c := dialAndRegister(t, coord, addr, "alice,100", 1)
	c.send("EXIT")
	waitForRoster(t, coord, 0)
	c.recvClosed()
}

func TestAbruptDisconnectUnregistersClient(t *testing.T) {
	coord, addr := startTestServer(t)

	c := dialAndRegister(t, coord, addr, "alice,100", 1)
	require.NoError(t, c.conn.Close())
	waitForRoster(t, coord, 0)
}

func TestBalanceRefreshOverTheWire(t *testing.T) {
	coord, addr := startTestServer(t)

	c := dialAndRegister(t, coord, addr, "alice,100", 1)
	c.send("BALANCE 250")

	require.Eventually(t, func() bool {
		reply := make(chan coordinator.View, 1)
		coord.Inbox() <- coordinator.Snapshot{Reply: reply}
		view := <-reply
		return len(view.Roster) == 1 && view.Roster[0].Balance == 250
	}, 2*time.Second, 10*time.Millisecond)

	// still connected and able to bid
	startAuction(t, coord, "toys", "drone")
	require.Equal(t, wire.ItemNotice("drone", 10), c.recv())
}
