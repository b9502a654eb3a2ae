// Package session implements the CTRL session state machine: authentication,
// steady-state ACK/delivery handling, backoff, and the outbox-driven sender
// loop. A Session owns exactly one goroutine; every inbound byte, timer
// fire, and outbound API call is serialized through its command channel, the
// same single-mailbox shape the rest of this codebase uses for anything with
// mutable protocol state.
package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/elektronika-ba/ctrlbase/internal/ctrlcrypto"
	"github.com/elektronika-ba/ctrlbase/internal/events"
	"github.com/elektronika-ba/ctrlbase/internal/logging"
	"github.com/elektronika-ba/ctrlbase/internal/outbox"
	"github.com/elektronika-ba/ctrlbase/internal/sysmsg"
	"github.com/elektronika-ba/ctrlbase/internal/wire"
)

// Errors returned by SendApp, matching the error kinds a caller is
// expected to handle directly rather than the ones dropped or logged
// internally (FrameInvalid, OutOfMemory, ...).
var (
	// ErrNotConnected is returned by a notification send issued while the
	// session isn't Authenticated; notifications bypass the outbox and
	// have nowhere to wait, so they fail immediately instead of queuing.
	ErrNotConnected = errors.New("session: not connected")
	// ErrNotSynchronized is returned by a regular (outbox) send issued
	// before the session has ever completed authentication. The outbox
	// assigns tx_base values that only mean something once a peer has
	// acknowledged at least one authorize handshake.
	ErrNotSynchronized = errors.New("session: outbox not yet synchronized")
)

// State is the session's connection/authentication state.
type State int

const (
	StateIdle State = iota
	StateTCPConnecting
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateTCPConnecting:
		return "TCP_CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Timing constants, named the way the native firmware named its timers.
const (
	// SenderTickInterval is how often the outbox is polled for the next
	// unsent row while authenticated.
	SenderTickInterval = 150 * time.Millisecond
	// ShortRetryDelay is the reconnect delay after an ordinary disconnect.
	ShortRetryDelay = 1 * time.Second
	// LongRetryDelay is the reconnect delay after MaxConsecutiveFailures.
	LongRetryDelay = 10 * time.Second
	// MaxConsecutiveFailures is the number of back-to-back TCP connect
	// failures before switching to LongRetryDelay.
	MaxConsecutiveFailures = 5
	// MaxOutOfSyncReports is the number of consecutive OUT_OF_SYNC acks
	// that force a disconnect and drop the outbox.
	MaxOutOfSyncReports = 3
)

// Transport is the capability a Session uses to write encoded frames to the
// wire. Implementations are expected to be a thin wrapper over a net.Conn;
// see internal/tcplink.
type Transport interface {
	SendFrame(frame []byte) error
}

// Callbacks are the host application's hooks into session events. Any of
// them may be nil.
type Callbacks struct {
	// OnAppMessage delivers an application-level (non-system) payload: a
	// notification, which is never ACKed, or a regular message that arrived
	// in order and has been ACKed.
	OnAppMessage func(payload []byte)
	// OnAck fires for every ACK that is neither a BACKOFF confirmation nor
	// an OUT_OF_SYNC report, reporting the TXbase row the peer is
	// acknowledging. OUT_OF_SYNC acks are handled inside the session and
	// are not passed to the application.
	OnAck func(txBase uint32)
	// OnAuthOK fires once authentication completes, reporting the TXserver
	// value the session resumed from.
	OnAuthOK func(txServer uint32)
	// OnRTC delivers a parsed GET_RTC response.
	OnRTC func(rtc sysmsg.RTC)
	// OnVariable delivers a parsed GET_VAR response.
	OnVariable func(v sysmsg.VariableUpdate)
}

// Config configures a new Session, following the capability-injection
// pattern the rest of this codebase uses: every external effect (sending
// bytes, emitting diagnostics) arrives as a field rather than being reached
// for globally. Timers are not injected: Run creates them with the standard
// time package.
type Config struct {
	BaseID    [16]byte
	Key       [16]byte
	Transport Transport
	Callbacks Callbacks
	Events    events.Emitter
	Logger    *logging.Logger

	// FirstTXBase is the outbox's starting TXbase counter. Zero defaults to 1.
	FirstTXBase uint32
}

// Session is a single CTRL client connection's protocol state machine. All
// exported methods except SetTransport are safe to call from any goroutine;
// they hand work to
// the Session's own goroutine over an unbuffered command channel and block
// for the result.
type Session struct {
	cfg   Config
	codec *wire.Codec
	reasm *wire.Reassembler
	ob    *outbox.Outbox
	ev    events.Emitter
	log   *logging.Logger

	cmdCh chan command
	doneC chan struct{}

	// Fields below are owned exclusively by the run() goroutine.
	state             State
	authPhase         int
	authSyncWant      bool
	txServer          uint32
	backoff           bool
	safeToUnback      bool
	oosCount          int
	everAuthenticated bool
}

type command struct {
	fn   func()
	done chan struct{}
}

// New constructs a Session in StateIdle. Call Run to start its goroutine.
func New(cfg Config) *Session {
	ev := cfg.Events
	if ev == nil {
		ev = events.NopEmitter{}
	}
	firstTX := cfg.FirstTXBase
	if firstTX == 0 {
		firstTX = 1
	}
	codec := wire.NewCodec()
	codec.SetActiveKey(cfg.Key)
	return &Session{
		cfg:          cfg,
		codec:        codec,
		reasm:        wire.NewReassembler(),
		ob:           outbox.New(firstTX),
		ev:           ev,
		log:          cfg.Logger,
		cmdCh:        make(chan command),
		doneC:        make(chan struct{}),
		state:        StateIdle,
		safeToUnback: true,
	}
}

// Run drives the session's event loop until ctx is canceled. It owns the
// data-expecter timer and the outbox sender ticker; both are armed and
// disarmed here rather than inside the pure buffer/outbox types they serve.
func (s *Session) Run(ctx context.Context) {
	defer close(s.doneC)

	var dataExpecter *time.Timer
	var senderTick *time.Ticker

	armDataExpecter := func() {
		if dataExpecter == nil {
			dataExpecter = time.NewTimer(wire.DefaultDataExpecterTimeout)
		} else {
			if !dataExpecter.Stop() {
				select {
				case <-dataExpecter.C:
				default:
				}
			}
			dataExpecter.Reset(wire.DefaultDataExpecterTimeout)
		}
	}
	disarmDataExpecter := func() {
		if dataExpecter != nil && !dataExpecter.Stop() {
			select {
			case <-dataExpecter.C:
			default:
			}
		}
	}

	dataExpecterC := func() <-chan time.Time {
		if dataExpecter == nil {
			return nil
		}
		return dataExpecter.C
	}
	senderTickC := func() <-chan time.Time {
		if senderTick == nil {
			return nil
		}
		return senderTick.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmdCh:
			cmd.fn()
			if s.reasm.Pending() {
				armDataExpecter()
			} else {
				disarmDataExpecter()
			}
			if s.state == StateAuthenticated && senderTick == nil {
				senderTick = time.NewTicker(SenderTickInterval)
			} else if s.state != StateAuthenticated && senderTick != nil {
				senderTick.Stop()
				senderTick = nil
			}
			close(cmd.done)
		case <-dataExpecterC():
			s.reasm.Expire()
		case <-senderTickC():
			s.sendNextOutboxRow()
		}
	}
}

// exec runs fn on the Session goroutine and blocks until it completes.
func (s *Session) exec(fn func()) {
	done := make(chan struct{})
	select {
	case s.cmdCh <- command{fn: fn, done: done}:
		<-done
	case <-s.doneC:
	}
}

// State returns the session's current connection state.
func (s *Session) State() State {
	var st State
	s.exec(func() { st = s.state })
	return st
}

// setState transitions state and emits a state_changed event when it
// actually changes.
func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	s.ev.Emit(events.EventStateChanged, events.StateChangedData{State: st.String()})
}

// SetTransport wires the collaborator the session writes encoded frames to.
// It exists to break the construction cycle between a Session and a
// transport that needs a *Session to deliver bytes into (internal/tcplink):
// build the Session, build the transport with it, then call SetTransport
// before starting Run. Calling it after Run has started is not safe.
func (s *Session) SetTransport(t Transport) {
	s.cfg.Transport = t
}

// NotifyConnecting tells the session a dial attempt has started. The native
// firmware's link states (WiFi association, DHCP) have no equivalent on a
// host TCP client; this marks the analogous "not yet usable" period between
// disconnect and a completed handshake.
func (s *Session) NotifyConnecting() {
	s.exec(func() { s.setState(StateTCPConnecting) })
}

// NotifyConnected tells the session a fresh TCP connection is up and starts
// the authentication handshake (phase 1): send base_id under the universal
// zero key so the peer can identify this device before it knows its real
// key, seeded with a fresh random IV. Every other frame, including the rest
// of the handshake, uses the session's real key throughout — the zero key
// is a one-off bootstrap override, not a persistent mode. The sync flag
// follows the same convention as authorize() in the native stack (sync
// means "outbox has nothing unacked").
func (s *Session) NotifyConnected() {
	s.exec(func() {
		s.setState(StateAuthenticating)
		s.authPhase = 1
		s.authSyncWant = s.ob.CountUnacked() == 0
		s.txServer = 0
		s.oosCount = 0

		var iv [16]byte
		if _, err := rand.Read(iv[:]); err != nil {
			s.logError(fmt.Errorf("session: seeding auth IV: %w", err))
			return
		}
		s.codec.SeedIV(iv)

		s.ob.FlushAcked()
		s.ob.UnsendAll()

		s.sendWithKey(wire.Message{TXSender: 0, Payload: s.cfg.BaseID[:]}, ctrlcrypto.ZeroKey)
	})
}

// NotifyDisconnected tells the session the transport dropped. It resets
// in-memory authentication state; the outbox is preserved so unacked rows
// resend after the next NotifyConnected.
func (s *Session) NotifyDisconnected() {
	s.exec(func() {
		s.setState(StateDisconnected)
		s.reasm.Expire()
		s.ob.UnsendAll()
	})
}

// RecvBytes feeds raw bytes read from the transport into the reassembler
// and processes every complete frame it yields.
func (s *Session) RecvBytes(chunk []byte) {
	s.exec(func() {
		for _, frame := range s.reasm.Feed(chunk) {
			s.handleFrame(frame)
		}
	})
}

// SetBackoff asks the peer to pause (true) or resume (false) sending us
// fresh messages, mirroring ctrl_stack_backoff's safeToUnBackoff guard:
// turning backoff off is a no-op until the peer has confirmed our last
// BACKOFF ack.
func (s *Session) SetBackoff(on bool) {
	s.exec(func() {
		if on {
			s.backoff = true
			s.safeToUnback = false
		} else if s.safeToUnback {
			s.backoff = false
		}
		s.ev.Emit(events.EventBackoffChange, events.BackoffChangeData{
			Backoff:         s.backoff,
			SafeToUnBackoff: s.safeToUnback,
		})
	})
}

// SendApp submits an application payload, mirroring ctrl_stack_send's
// notification flag. A regular send (notification=false) enqueues into the
// outbox and returns its assigned tx_base; it requires the session to have
// completed authentication at least once (ErrNotSynchronized otherwise) but
// not to be connected right now — that's the point of the outbox. A
// notification send bypasses the outbox entirely: it is written to the wire
// immediately as a best-effort, non-ACKed NOTIFICATION frame with tx_sender
// irrelevant, and requires the session to be Authenticated right now
// (ErrNotConnected otherwise) since there is nowhere for it to wait.
func (s *Session) SendApp(payload []byte, notification bool) (uint32, error) {
	var tx uint32
	var err error
	s.exec(func() {
		if notification {
			if s.state != StateAuthenticated {
				err = ErrNotConnected
				return
			}
			err = s.send(wire.Message{Header: wire.HeaderNotification, TXSender: 0, Payload: payload})
			return
		}
		if !s.everAuthenticated {
			err = ErrNotSynchronized
			return
		}
		tx = s.ob.Add(payload)
	})
	return tx, err
}

// GetRTC requests the server's clock as a best-effort notification.
func (s *Session) GetRTC() {
	s.exec(func() {
		s.sendNotification(sysmsg.EncodeGetRTC())
	})
}

// Keepalive asks the server to start or stop sending keepalive pings.
func (s *Session) Keepalive(on bool) {
	s.exec(func() {
		s.sendNotification(sysmsg.EncodeKeepalive(on))
	})
}

// RequestVariable asks the server for a previously stored variable's value.
func (s *Session) RequestVariable(id [4]byte) {
	s.exec(func() {
		s.sendNotification(sysmsg.EncodeGetVar(id))
	})
}

// OutboxUnacked reports the number of rows not yet acked, useful for a host
// that wants to watch backpressure build up.
func (s *Session) OutboxUnacked() int {
	var n int
	s.exec(func() { n = s.ob.CountUnacked() })
	return n
}

// handleFrame dispatches a single decoded frame according to the session's
// current authentication phase.
func (s *Session) handleFrame(frame []byte) {
	msg, err := s.codec.Decode(frame)
	if err != nil {
		s.logError(fmt.Errorf("session: dropping frame: %w", err))
		return
	}

	if s.state == StateAuthenticating {
		s.handleAuthFrame(msg)
		return
	}
	if s.state != StateAuthenticated {
		return
	}

	if msg.Header.Has(wire.HeaderACK) {
		s.handleAck(msg)
		return
	}
	s.handleIncoming(msg)
}

// handleAuthFrame advances the two-phase challenge/response handshake.
func (s *Session) handleAuthFrame(msg *wire.Message) {
	switch s.authPhase {
	case 1:
		s.authPhase = 2
		var reply [32]byte
		if _, err := rand.Read(reply[:16]); err != nil {
			s.logError(fmt.Errorf("session: generating challenge response: %w", err))
			return
		}
		copy(reply[16:], msg.Payload)

		hdr := wire.Header(0)
		if s.authSyncWant {
			hdr |= wire.HeaderSync
		}
		s.send(wire.Message{Header: hdr, TXSender: 0, Payload: reply[:]})

	case 2:
		if msg.Header.Has(wire.HeaderSync) {
			s.txServer = 0
		} else {
			if len(msg.Payload) < 4 {
				s.logError(fmt.Errorf("session: auth phase 2 payload too short"))
				return
			}
			s.txServer = binary.LittleEndian.Uint32(msg.Payload[:4])
		}
		s.setState(StateAuthenticated)
		s.everAuthenticated = true
		if s.cfg.Callbacks.OnAuthOK != nil {
			s.cfg.Callbacks.OnAuthOK(s.txServer)
		}
		s.ev.Emit(events.EventAuthOK, events.AuthOKData{TXServer: s.txServer})
	}
}

// handleAck processes an ACK frame for a message we previously sent. A
// BACKOFF-flagged ack is the peer confirming our own backoff request and
// never reaches the application; everything else does, with OUT_OF_SYNC
// tracked across consecutive acks exactly like the native stack's
// out-of-sync counter.
func (s *Session) handleAck(msg *wire.Message) {
	if msg.Header.Has(wire.HeaderBackoff) {
		s.safeToUnback = true
		return
	}

	if msg.Header.Has(wire.HeaderOutOfSync) {
		s.oosCount++
		forced := s.oosCount >= MaxOutOfSyncReports
		s.ev.Emit(events.EventOutOfSync, events.OutOfSyncData{Count: s.oosCount, Forced: forced})
		if forced {
			s.oosCount = 0
			s.ob.DeleteAll()
			s.setState(StateDisconnected)
			if c, ok := s.cfg.Transport.(interface{ Close() error }); ok {
				c.Close()
			}
			return
		}
		s.ob.UnsendAll()
		return
	}

	s.oosCount = 0
	s.ob.Ack(msg.TXSender)
	s.ob.FlushAcked()
	if s.cfg.Callbacks.OnAck != nil {
		s.cfg.Callbacks.OnAck(msg.TXSender)
	}
	s.ev.Emit(events.EventOutboxStats, events.OutboxStatsData{Unacked: s.ob.CountUnacked()})
}

// handleIncoming processes a fresh (non-ACK) frame from the peer: build and
// send the appropriate ACK, then deliver the payload if it was accepted.
// The ordering mirrors the native stack's ctrl_stack_process_message: a
// notification is always delivered and never ACKed on the wire; anything
// else is compared against TXserver to detect duplicates and gaps before
// the ACK is built and sent.
func (s *Session) handleIncoming(msg *wire.Message) {
	ack := wire.Message{Header: wire.HeaderACK, TXSender: msg.TXSender}
	if s.backoff {
		ack.Header |= wire.HeaderBackoff
	}

	delivered := false

	if msg.Header.Has(wire.HeaderNotification) {
		delivered = true
	} else {
		switch {
		case msg.TXSender <= s.txServer:
			// Retransmit of a message we've already processed; ack without PROCESSED.
		case msg.TXSender > s.txServer+1:
			ack.Header |= wire.HeaderOutOfSync
		default:
			ack.Header |= wire.HeaderProcessed | wire.HeaderSaveTXServer
			s.txServer++
			var txServerBuf [4]byte
			binary.LittleEndian.PutUint32(txServerBuf[:], s.txServer)
			ack.Payload = txServerBuf[:]
			delivered = true
		}
		s.send(ack)
	}

	if !delivered {
		return
	}

	if msg.Header.Has(wire.HeaderSystemMessage) {
		s.handleSystemMessage(msg.Payload)
		return
	}
	if s.cfg.Callbacks.OnAppMessage != nil {
		s.cfg.Callbacks.OnAppMessage(msg.Payload)
	}
}

// handleSystemMessage routes a system payload to the matching internal
// handler rather than the application callback.
func (s *Session) handleSystemMessage(payload []byte) {
	if !sysmsg.IsSystemPayload(payload) {
		s.logError(fmt.Errorf("session: unrecognized system payload"))
		return
	}
	switch sysmsg.Marker(payload[0]) {
	case sysmsg.MarkerGetRTC:
		rtc, err := sysmsg.ParseRTC(payload)
		if err != nil {
			s.logError(fmt.Errorf("session: parsing RTC payload: %w", err))
			return
		}
		if s.cfg.Callbacks.OnRTC != nil {
			s.cfg.Callbacks.OnRTC(rtc)
		}
		s.ev.Emit(events.EventRTCSet, events.RTCSetData{
			Year: rtc.Year, Month: rtc.Month, Day: rtc.Day,
			Hour: rtc.Hour, Minute: rtc.Minute, Second: rtc.Second,
			Weekday: rtc.Weekday,
		})
	case sysmsg.MarkerGetVar:
		v, err := sysmsg.ParseVariable(payload)
		if err != nil {
			s.logError(fmt.Errorf("session: parsing variable payload: %w", err))
			return
		}
		if s.cfg.Callbacks.OnVariable != nil {
			s.cfg.Callbacks.OnVariable(v)
		}
	}
}

// sendNextOutboxRow is the outbox sender tick: send the oldest unsent row,
// if any, and mark it sent, or unsend it again if the transport write
// failed so the next tick retries it. Called directly from the run loop's
// own goroutine; it must never go through exec.
func (s *Session) sendNextOutboxRow() {
	row := s.ob.NextUnsent()
	if row == nil {
		return
	}
	if err := s.send(wire.Message{TXSender: row.TXBase, Payload: row.Payload}); err != nil {
		s.ob.Unsend(row.TXBase)
		return
	}
	s.ob.MarkSent(row.TXBase)
}

// sendNotification sends a best-effort, non-ACKed message. TXsender is
// irrelevant for notifications, matching authorize()'s "value not relevant"
// convention for fields that don't apply to the current frame.
func (s *Session) sendNotification(payload []byte) {
	s.send(wire.Message{
		Header:   wire.HeaderSystemMessage | wire.HeaderNotification,
		TXSender: 0,
		Payload:  payload,
	})
}

// send encodes msg and writes it to the transport, logging and reporting
// any failure without panicking the session goroutine.
func (s *Session) send(msg wire.Message) error {
	frame, err := s.codec.Encode(msg)
	if err != nil {
		s.logError(fmt.Errorf("session: encoding frame: %w", err))
		return err
	}
	if s.cfg.Transport == nil {
		return nil
	}
	if err := s.cfg.Transport.SendFrame(frame); err != nil {
		s.logError(fmt.Errorf("session: sending frame: %w", err))
		return err
	}
	return nil
}

// sendWithKey is send but forces a one-off key for this frame only,
// without disturbing the Codec's persistent active key. Used solely for
// the bootstrap base_id frame.
func (s *Session) sendWithKey(msg wire.Message, key [16]byte) error {
	frame, err := s.codec.EncodeWithKey(msg, key)
	if err != nil {
		s.logError(fmt.Errorf("session: encoding frame: %w", err))
		return err
	}
	if s.cfg.Transport == nil {
		return nil
	}
	if err := s.cfg.Transport.SendFrame(frame); err != nil {
		s.logError(fmt.Errorf("session: sending frame: %w", err))
		return err
	}
	return nil
}

func (s *Session) logError(err error) {
	s.ev.Emit(events.EventError, events.ErrorData{Message: err.Error()})
	if s.log != nil {
		s.log.Error("%s", err.Error())
	}
}
