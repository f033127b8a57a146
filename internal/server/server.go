// Package server implements the TCP front end of the exchange: the
// accept loop and the per-connection request/reply loop described by
// spec.md §5, grounded on the original brs_client_service dispatch
// switch and main's accept loop.
package server

import (
	"net"

	"bourse/internal/clock"
	"bourse/internal/connreg"
	"bourse/internal/logging"
	"bourse/internal/matching"
	"bourse/internal/traders"
	"bourse/internal/wire"
)

// Server ties a listening socket to the exchange's core components. One
// goroutine runs the accept loop; each accepted connection gets its own
// goroutine running service, mirroring the original's one-thread-per-
// client model.
type Server struct {
	listener net.Listener
	registry *traders.Registry
	engine   *matching.Engine
	conns    *connreg.Registry
	log      *logging.Logger
}

// New wraps an already-bound listener. Call Serve to start accepting.
func New(ln net.Listener, registry *traders.Registry, engine *matching.Engine, conns *connreg.Registry, log *logging.Logger) *Server {
	if log == nil {
		log = logging.New(nil)
	}
	return &Server{listener: ln, registry: registry, engine: engine, conns: conns, log: log}
}

// Serve runs the accept loop until the listener is closed (normally by
// Shutdown), at which point it returns the listener's close error.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		tc, ok := conn.(*net.TCPConn)
		if !ok {
			conn.Close()
			continue
		}
		if err := s.conns.Register(tc); err != nil {
			s.log.Warnf("reject connection from %s: %v", tc.RemoteAddr(), err)
			tc.Close()
			continue
		}
		go s.service(tc)
	}
}

// Shutdown stops the accept loop, forces every in-flight connection's
// read side closed so its service loop unwinds, and blocks until all of
// them have exited (spec.md §5, mirroring the original's terminate()
// sequencing of creg_shutdown_all then creg_wait_for_empty).
func (s *Server) Shutdown() {
	s.listener.Close()
	s.conns.ShutdownAll()
	s.conns.Wait()
}

// service runs the read/dispatch/reply loop for a single connection,
// exactly one per accepted TCP connection (spec.md §5). It requires a
// successful LOGIN before servicing any other request type.
func (s *Server) service(conn *net.TCPConn) {
	defer func() {
		s.conns.Unregister(conn)
		conn.Close()
	}()

	var session *traders.Session
	for {
		h, payload, err := wire.ReadPacket(conn)
		if err != nil {
			break
		}

		if session == nil && h.Type != wire.Login {
			s.sendTo(conn, wire.Nack, nil)
			continue
		}

		switch h.Type {
		case wire.Login:
			if session != nil {
				s.sendAck(session, wire.StatusInfo{})
				continue
			}
			sess, err := s.registry.Login(conn, string(payload))
			if err != nil {
				s.sendTo(conn, wire.Nack, nil)
				continue
			}
			session = sess
			s.sendAck(session, s.engine.Status(session.Account()))

		case wire.Status:
			s.sendAck(session, s.engine.Status(session.Account()))

		case wire.Deposit:
			fi := wire.DecodeFundsInfo(payload)
			session.Account().IncreaseBalance(fi.Amount)
			s.sendAck(session, s.engine.Status(session.Account()))

		case wire.Withdraw:
			fi := wire.DecodeFundsInfo(payload)
			if err := session.Account().DecreaseBalance(fi.Amount); err != nil {
				s.nackSession(session)
				continue
			}
			s.sendAck(session, s.engine.Status(session.Account()))

		case wire.Escrow:
			ei := wire.DecodeEscrowInfo(payload)
			session.Account().IncreaseInventory(ei.Quantity)
			s.sendAck(session, s.engine.Status(session.Account()))

		case wire.Release:
			ei := wire.DecodeEscrowInfo(payload)
			if err := session.Account().DecreaseInventory(ei.Quantity); err != nil {
				s.nackSession(session)
				continue
			}
			s.sendAck(session, s.engine.Status(session.Account()))

		case wire.Buy:
			oi := wire.DecodeOrderInfo(payload)
			orderID, err := s.engine.PostBuy(session, oi.Quantity, oi.Price)
			if err != nil {
				s.nackSession(session)
				continue
			}
			info := s.engine.Status(session.Account())
			info.OrderID = orderID
			s.sendAck(session, info)

		case wire.Sell:
			oi := wire.DecodeOrderInfo(payload)
			orderID, err := s.engine.PostSell(session, oi.Quantity, oi.Price)
			if err != nil {
				s.nackSession(session)
				continue
			}
			info := s.engine.Status(session.Account())
			info.OrderID = orderID
			s.sendAck(session, info)

		case wire.Cancel:
			ci := wire.DecodeCancelInfo(payload)
			qty, err := s.engine.Cancel(session, ci.OrderID)
			if err != nil {
				s.nackSession(session)
				continue
			}
			info := s.engine.Status(session.Account())
			info.OrderID = ci.OrderID
			info.Quantity = qty
			s.sendAck(session, info)

		default:
			s.nackSession(session)
		}
	}

	if session != nil {
		s.registry.Logout(session)
	}
}

func (s *Server) sendAck(session *traders.Session, info wire.StatusInfo) {
	sec, nsec := clock.Timestamp()
	h := wire.Header{Type: wire.Ack, TimestampSec: sec, TimestampNsec: nsec}
	if err := session.Send(h, info.Encode()); err != nil {
		s.log.Debugf("send ACK to %s: %v", session.Name(), err)
	}
}

func (s *Server) nackSession(session *traders.Session) {
	sec, nsec := clock.Timestamp()
	h := wire.Header{Type: wire.Nack, TimestampSec: sec, TimestampNsec: nsec}
	if err := session.Send(h, nil); err != nil {
		s.log.Debugf("send NACK to %s: %v", session.Name(), err)
	}
}

// sendTo writes a packet directly to a connection that has no session
// yet (pre-login NACK).
func (s *Server) sendTo(conn net.Conn, t wire.Type, payload []byte) {
	sec, nsec := clock.Timestamp()
	h := wire.Header{Type: t, TimestampSec: sec, TimestampNsec: nsec}
	if err := wire.WritePacket(conn, h, payload); err != nil {
		s.log.Debugf("send %v: %v", t, err)
	}
}
