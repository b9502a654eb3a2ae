// Package tcplink is the real network collaborator for internal/session: it
// dials the CTRL server over TCP, retries with the session's backoff
// policy, and pumps bytes between the socket and the session's event loop.
package tcplink

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/elektronika-ba/ctrlbase/internal/logging"
	"github.com/elektronika-ba/ctrlbase/internal/session"
)

// ReadBufferSize is the size of the buffer used for each conn.Read call.
// It need not align with any frame boundary; internal/wire.Reassembler
// (owned by the Session) handles arbitrary fragmentation.
const ReadBufferSize = 4096

// ErrNotConnected is returned by SendFrame when no TCP connection is live.
var ErrNotConnected = errors.New("tcplink: not connected")

// Link owns a single TCP connection to the CTRL server and feeds it to a
// Session, reconnecting with the session's short/long retry policy
// (ShortRetryDelay after an ordinary disconnect, LongRetryDelay after
// MaxConsecutiveFailures back-to-back dial failures) for as long as Run's
// context stays alive.
type Link struct {
	addr string
	sess *session.Session
	log  *logging.Logger

	mu   sync.Mutex
	conn net.Conn
}

// New returns a Link that dials addr ("host:port") and drives sess.
func New(addr string, sess *session.Session, log *logging.Logger) *Link {
	return &Link{addr: addr, sess: sess, log: log}
}

// SendFrame implements session.Transport by writing frame to the current
// connection, if any.
func (l *Link) SendFrame(frame []byte) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	_, err := conn.Write(frame)
	return err
}

// Run dials, authenticates, and services the connection until ctx is
// canceled, reconnecting on every disconnect or dial failure.
func (l *Link) Run(ctx context.Context) {
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		l.sess.NotifyConnecting()
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", l.addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			delay := session.ShortRetryDelay
			if failures >= session.MaxConsecutiveFailures {
				delay = session.LongRetryDelay
			}
			if l.log != nil {
				l.log.Warn("dial %s failed (attempt %d): %v, retrying in %v", l.addr, failures, err, delay)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		failures = 0
		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()

		l.sess.NotifyConnected()
		l.readLoop(ctx, conn)

		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		conn.Close()
		l.sess.NotifyDisconnected()

		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(session.ShortRetryDelay):
		}
	}
}

// readLoop pumps bytes from conn into the session until the connection
// fails or ctx is canceled.
func (l *Link) readLoop(ctx context.Context, conn net.Conn) {
	buf := make([]byte, ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			l.sess.RecvBytes(chunk)
		}
		if err != nil {
			if l.log != nil && ctx.Err() == nil {
				l.log.Warn("connection to %s lost: %v", l.addr, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Close closes the current connection, if any, causing readLoop to return
// and Run to begin reconnecting (or exit, once its context is canceled).
func (l *Link) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
