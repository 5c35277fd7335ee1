// Package server accepts bidder connections over TCP and runs one session
// goroutine per connection: a registration handshake, then a read loop
// dispatching framed commands to the coordinator, with a companion writer
// goroutine draining the client's outbox. Sessions never touch each other;
// every cross-client effect goes through the coordinator.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zhemu/auction-server/internal/auction"
	"github.com/zhemu/auction-server/internal/coordinator"
	"github.com/zhemu/auction-server/internal/wire"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 3 * time.Second
	outboxSize       = 32
)

type Server struct {
	coord  *coordinator.Coordinator
	logger *zap.Logger
}

func New(coord *coordinator.Coordinator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{coord: coord, logger: logger.Named("server")}
}

// Serve accepts connections on ln until ctx is cancelled. It owns ln and
// closes it on the way out.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("listening for bidders", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	logger := s.logger.With(
		zap.String("conn_id", uuid.NewString()),
		zap.String("remote", conn.RemoteAddr().String()),
	)
	logger.Info("client connected")

	sess := &session{conn: conn, logger: logger}

	username, balance, err := s.handshake(sess)
	if err != nil {
		logger.Info("handshake failed", zap.Error(err))
		conn.Close()
		return
	}
	logger = logger.With(zap.String("username", username))
	sess.logger = logger

	outbox := make(chan []byte, outboxSize)
	reply := make(chan error, 1)
	if !s.sendMsg(coordinator.Join{
		Username: username,
		Balance:  balance,
		Outbox:   outbox,
		Reply:    reply,
	}) {
		conn.Close()
		return
	}
	joinErr, ok := s.awaitReply(reply)
	if !ok {
		conn.Close()
		return
	}
	if joinErr != nil {
		// Registration never completed, so there is no session to keep open.
		sess.writeFrame(joinErr.Error())
		conn.Close()
		return
	}
	// Writer: drains the outbox until the coordinator closes it (departure
	// or slow-client drop), then closes the conn so the reader unblocks.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer conn.Close()
		for payload := range outbox {
			if err := sess.writeFrameBytes(payload); err != nil {
				sess.setWriteErr(err)
				return
			}
		}
	}()

	err = s.readLoop(sess, username)

	// Single teardown path for EXIT, EOF, and transport errors alike. Leave
	// closes the outbox, which stops the writer, which closes the conn. If
	// the coordinator shut down instead, it closed the outbox itself.
	s.sendMsg(coordinator.Leave{Username: username})
	wg.Wait()

	err = multierr.Append(err, sess.takeWriteErr())
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		logger.Info("client disconnected", zap.Error(err))
		return
	}
	logger.Info("client exited")
}

// handshake reads the first frame, "<username>,<balance>". A malformed
// handshake gets a readable rejection before the close.
func (s *Server) handshake(sess *session) (string, int, error) {
	sess.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer sess.conn.SetReadDeadline(time.Time{})

	payload, err := wire.ReadMessage(sess.conn)
	if err != nil {
		return "", 0, err
	}
	username, balance, err := wire.ParseHandshake(payload)
	if err != nil {
		sess.writeFrame("invalid handshake, expected \"<username>,<balance>\"")
		return "", 0, err
	}
	return username, balance, nil
}

// readLoop dispatches commands until EXIT, EOF, or a transport error; the
// caller runs the same teardown for all three.
func (s *Server) readLoop(sess *session, username string) error {
	for {
		payload, err := wire.ReadMessage(sess.conn)
		if err != nil {
			return err
		}

		cmd, err := wire.ParseCommand(payload)
		if err != nil {
			// Protocol error: reply to this connection only, session stays up.
			if errors.Is(err, wire.ErrMalformedCommand) {
				sess.writeFrame("Invalid bid format.")
			} else {
				sess.writeFrame("unrecognized command")
			}
			continue
		}

		switch cmd.Type {
		case wire.CmdExit:
			return nil

		case wire.CmdBid:
			reply := make(chan error, 1)
			if !s.sendMsg(coordinator.PlaceBid{
				Username: username,
				Amount:   cmd.Amount,
				Reply:    reply,
			}) {
				return nil
			}
			rejection, ok := s.awaitReply(reply)
			if !ok {
				return nil
			}
			if rejection != nil {
				sess.writeFrame(rejectionText(rejection))
			}

		case wire.CmdBalance:
			if !s.sendMsg(coordinator.SetBalance{
				Username: username,
				Balance:  cmd.Amount,
			}) {
				return nil
			}
		}
	}
}

// sendMsg delivers msg to the coordinator, or reports false if it has shut
// down and will never drain its inbox.
func (s *Server) sendMsg(msg coordinator.Msg) bool {
	select {
	case s.coord.Inbox() <- msg:
		return true
	case <-s.coord.Done():
		return false
	}
}

// awaitReply reads a Reply channel without hanging on a coordinator that
// shut down between accepting the message and answering it.
func (s *Server) awaitReply(reply <-chan error) (error, bool) {
	select {
	case err := <-reply:
		return err, true
	case <-s.coord.Done():
		return nil, false
	}
}

func rejectionText(err error) string {
	switch {
	case errors.Is(err, auction.ErrNoActiveLot):
		return wire.NoLotNotice()
	case errors.Is(err, auction.ErrBidTooLow):
		return "Bid too low or insufficient balance."
	default:
		return err.Error()
	}
}

// session serializes writes to one connection. The writer goroutine and the
// reader's rejection replies both write frames, so the conn needs a guard.
type session struct {
	conn    net.Conn
	logger  *zap.Logger
	writeMu sync.Mutex

	errMu    sync.Mutex
	writeErr error
}

func (s *session) setWriteErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.writeErr = err
}

func (s *session) takeWriteErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.writeErr
}

func (s *session) writeFrame(text string) {
	if err := s.writeFrameBytes([]byte(text)); err != nil {
		s.logger.Warn("reply not delivered", zap.Error(err))
	}
}

func (s *session) writeFrameBytes(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wire.WriteMessage(s.conn, payload)
}
