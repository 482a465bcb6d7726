package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kvwatch/kvwatch-go/pkg/connection"
	"github.com/kvwatch/kvwatch-go/pkg/log"
	"github.com/kvwatch/kvwatch-go/pkg/transport"
	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// session is one physical stream. epoch matches the registry epoch that
// was current when the session was installed.
type session struct {
	ts    transport.Stream
	epoch uint64
	id    string
}

// stream owns the current session, the write path and the supervisor
// goroutine that reads, breaks and reconnects.
type stream struct {
	dialer  transport.Dialer
	reg     *registry
	ctrl    *connection.Controller
	logger  *slog.Logger
	plog    log.Logger
	metrics *Metrics

	// connMu serializes the first connect.
	connMu  sync.Mutex
	started atomic.Bool

	// writeMu serializes frames and guards sess and closing. It is taken
	// before the registry mutex, never after.
	writeMu sync.Mutex
	sess    *session
	closing bool

	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}
}

func newStream(dialer transport.Dialer, reg *registry, opts managerOptions) *stream {
	s := &stream{
		dialer:  dialer,
		reg:     reg,
		logger:  opts.logger,
		plog:    opts.protocolLogger,
		metrics: opts.metrics,
		done:    make(chan struct{}),
	}
	s.ctx, s.stop = context.WithCancel(context.Background())

	s.ctrl = connection.NewController(s.connect, connection.NewBackoffWithConfig(opts.backoff), opts.clock)
	s.ctrl.SetAttemptTimeout(opts.attemptTimeout)
	s.ctrl.OnStateChange(s.onStateChange)
	s.ctrl.OnReconnecting(func(attempt int, delay time.Duration) {
		s.logger.Info("reconnecting watch stream", "attempt", attempt, "delay", delay)
	})
	return s
}

// ensure opens the first session and starts the supervisor. Dial errors
// are returned; a later call retries.
func (s *stream) ensure(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.started.Load() {
		return nil
	}
	if err := s.ctrl.Connect(ctx); err != nil {
		if errors.Is(err, connection.ErrConnectionClosed) {
			return ErrManagerClosed
		}
		return fmt.Errorf("open watch stream: %w", err)
	}
	s.started.Store(true)
	go s.run()
	return nil
}

// connect is the controller's ConnectFunc.
func (s *stream) connect(ctx context.Context) error {
	ts, err := s.dialer.Dial(ctx)
	if err != nil {
		s.logger.Debug("dial failed", "error", err)
		return err
	}
	return s.install(ts)
}

// install makes ts the current session and replays the registry onto it.
func (s *stream) install(ts transport.Stream) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closing {
		ts.Close()
		return ErrManagerClosed
	}

	epoch, snapshot := s.reg.resetSession(true)
	sess := &session{ts: ts, epoch: epoch, id: uuid.NewString()}
	if c, ok := ts.(interface{ ConnID() string }); ok {
		sess.id = c.ConnID()
	}
	s.sess = sess

	for i, req := range replayRequests(snapshot) {
		if err := s.write(sess, req, snapshot[i].Handle); err != nil {
			s.sess = nil
			s.reg.resetSession(false)
			ts.Close()
			return fmt.Errorf("replay: %w", err)
		}
	}
	s.reg.markAllSent(epoch)

	s.logger.Debug("watch stream established", "session", sess.id, "replayed", len(snapshot))
	return nil
}

// write sends one frame on sess. Caller holds writeMu.
func (s *stream) write(sess *session, req *wire.WatchRequest, h Handle) error {
	if err := sess.ts.Send(req); err != nil {
		return err
	}
	s.metrics.sent(req)
	s.logMessage(sess, log.DirectionOut, log.RequestMessage(req, uint64(h)))
	return nil
}

// failWrite closes sess so the supervisor sees the failure. Caller holds
// writeMu.
func (s *stream) failWrite(sess *session, err error) {
	s.logger.Warn("watch stream write failed", "session", sess.id, "error", err)
	sess.ts.Close()
}

// subscribe registers sub and writes its create request when a session
// is up. Otherwise the next session's replay creates it.
func (s *stream) subscribe(sub *subscription) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closing {
		return ErrManagerClosed
	}

	_, send := s.reg.add(sub)
	s.metrics.setSubscriptions(s.reg.len())
	if !send {
		return nil
	}

	sess := s.sess
	req := createRequest(replayEntry{Handle: sub.handle, Range: sub.kr, Opts: sub.opts, First: true})
	if err := s.write(sess, req, sub.handle); err != nil {
		s.failWrite(sess, err)
		return nil
	}
	s.reg.markSent(sub)
	return nil
}

// cancel removes h and, if it is Active, writes its cancel request. It
// reports whether h was live.
func (s *stream) cancel(h Handle) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sub, watchID, ok := s.reg.remove(h)
	if !ok {
		return false
	}
	s.metrics.setSubscriptions(s.reg.len())
	sub.resolve(ErrWatchCanceled)

	if watchID == wire.InvalidWatchID || s.sess == nil {
		return true
	}
	sess := s.sess
	s.logSubscription(sess, sub.handle, StateActive, StateCancelled, "")
	if err := s.write(sess, wire.NewCancelRequest(watchID), h); err != nil {
		s.failWrite(sess, err)
	}
	return true
}

// cancelAsync cancels a watch id the registry no longer maps, off the
// read loop. It does nothing if the session changed in the meantime.
func (s *stream) cancelAsync(epoch uint64, watchID int64) {
	go func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		sess := s.sess
		if s.closing || sess == nil || sess.epoch != epoch {
			return
		}
		if err := s.write(sess, wire.NewCancelRequest(watchID), 0); err != nil {
			s.failWrite(sess, err)
		}
	}()
}

// run is the supervisor: read until the session fails, then reconnect.
func (s *stream) run() {
	defer close(s.done)

	for {
		s.writeMu.Lock()
		sess := s.sess
		s.writeMu.Unlock()

		var err error
		if sess != nil {
			err = s.readLoop(sess)
		}
		if s.isClosing() {
			return
		}

		s.abandon(sess, err)
		if err := s.ctrl.Reconnect(s.ctx); err != nil {
			s.logger.Debug("watch stream supervisor stopped", "error", err)
			s.writeMu.Lock()
			if s.sess != nil {
				s.sess.ts.Close()
				s.sess = nil
			}
			s.writeMu.Unlock()
			return
		}
		s.metrics.reconnected()
	}
}

func (s *stream) isClosing() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closing
}

// abandon drops a failed session without further I/O on it.
func (s *stream) abandon(sess *session, err error) {
	s.writeMu.Lock()
	if sess != nil && s.sess == sess {
		s.sess = nil
		s.reg.resetSession(false)
	}
	s.writeMu.Unlock()

	if sess != nil {
		sess.ts.Close()
		s.logger.Warn("watch stream lost", "session", sess.id, "error", err)
	}
	s.ctrl.ConnectionLost(err)
}

func (s *stream) readLoop(sess *session) error {
	for {
		resp, err := sess.ts.Recv()
		if err != nil {
			return err
		}
		s.metrics.received(resp)
		s.logMessage(sess, log.DirectionIn, log.ResponseMessage(resp))
		s.dispatch(sess, resp)
	}
}

// dispatch routes one response. Callbacks run here with no locks held.
func (s *stream) dispatch(sess *session, resp *wire.WatchResponse) {
	switch resp.Kind() {
	case wire.ResponseCreated:
		res, ok := s.reg.acked(resp.WatchID)
		if !ok {
			s.metrics.drop(dropUnpairedAck)
			s.logger.Debug("created ack with no outstanding create", "watch_id", resp.WatchID)
			return
		}
		if res.cancel {
			s.cancelAsync(sess.epoch, resp.WatchID)
			return
		}
		res.sub.revision.Store(resp.Header.Revision)
		s.logSubscription(sess, res.sub.handle, StatePending, StateActive, "")
		res.sub.resolve(nil)

	case wire.ResponseRejected:
		sub, ok := s.reg.rejected()
		if !ok {
			s.metrics.drop(dropUnpairedAck)
			s.logger.Debug("rejection with no outstanding create", "reason", resp.CancelReason)
			return
		}
		if sub == nil {
			return
		}
		s.metrics.setSubscriptions(s.reg.len())
		s.logger.Warn("watch rejected", "handle", sub.handle, "range", sub.kr.String(), "reason", resp.CancelReason)
		s.logSubscription(sess, sub.handle, StatePending, StateCancelled, resp.CancelReason)
		sub.resolve(fmt.Errorf("%w: %s", ErrWatchRejected, resp.CancelReason))
		sub.cb(terminalResponse(sub.handle, resp))

	case wire.ResponseCanceled:
		sub, ok := s.reg.canceledByPeer(resp.WatchID)
		if !ok {
			// Confirmation of a cancel we sent.
			return
		}
		s.metrics.setSubscriptions(s.reg.len())
		s.logger.Info("watch canceled by peer", "handle", sub.handle, "reason", resp.CancelReason)
		s.logSubscription(sess, sub.handle, StateActive, StateCancelled, resp.CancelReason)
		sub.resolve(ErrWatchCanceled)
		sub.cb(terminalResponse(sub.handle, resp))

	default:
		sub, ok := s.reg.lookup(resp.WatchID)
		if !ok {
			if len(resp.Events) == 0 {
				return
			}
			s.metrics.drop(dropUnknownWatch)
			s.logger.Debug("dropping events for unknown watch", "watch_id", resp.WatchID)
			if resp.WatchID >= 0 && s.reg.markUnknown(resp.WatchID) {
				s.cancelAsync(sess.epoch, resp.WatchID)
			}
			return
		}
		sub.revision.Store(resp.Header.Revision)
		if len(resp.Events) == 0 {
			return
		}
		s.deliver(sub, Response{
			Handle:   sub.handle,
			Revision: resp.Header.Revision,
			Events:   resp.Events,
		})
	}
}

// deliver hands resp to sub's callback unless sub was cancelled. Nothing
// runs between the check and the call.
func (s *stream) deliver(sub *subscription, resp Response) {
	if sub.cancelled.Load() {
		s.metrics.drop(dropCancelled)
		return
	}
	sub.cb(resp)
}

func terminalResponse(h Handle, resp *wire.WatchResponse) Response {
	return Response{
		Handle:          h,
		Revision:        resp.Header.Revision,
		Events:          resp.Events,
		Canceled:        true,
		CancelReason:    resp.CancelReason,
		CompactRevision: resp.CompactRevision,
	}
}

// close cancels every subscription, half-closes the stream, waits up to
// drain for the peer to finish, then releases everything.
func (s *stream) close(drain time.Duration) {
	s.writeMu.Lock()
	if s.closing {
		s.writeMu.Unlock()
		return
	}
	s.closing = true

	subs, watchIDs := s.reg.drain()
	sess := s.sess
	if sess != nil {
		for _, id := range watchIDs {
			if err := s.write(sess, wire.NewCancelRequest(id), 0); err != nil {
				s.logger.Debug("cancel on close failed", "error", err)
				break
			}
		}
		if err := sess.ts.CloseSend(); err != nil {
			s.logger.Debug("close send failed", "error", err)
		}
	}
	s.writeMu.Unlock()

	s.metrics.setSubscriptions(0)
	for _, sub := range subs {
		sub.resolve(ErrManagerClosed)
	}
	s.ctrl.Close()

	started := s.started.Load()
	if started && sess != nil && drain > 0 {
		t := time.NewTimer(drain)
		select {
		case <-s.done:
		case <-t.C:
			s.logger.Debug("watch stream drain timed out", "timeout", drain)
		}
		t.Stop()
	}

	s.stop()
	s.writeMu.Lock()
	sess = s.sess
	s.sess = nil
	s.writeMu.Unlock()
	if sess != nil {
		sess.ts.Close()
	}
	if started {
		<-s.done
	}
}

func (s *stream) onStateChange(from, to connection.State, reason error) {
	attrs := []any{"from", from.String(), "to", to.String()}
	if reason != nil {
		attrs = append(attrs, "reason", reason)
	}
	s.logger.Debug("watch stream state", attrs...)

	if s.plog == nil {
		return
	}
	sc := &log.StateChangeEvent{
		Entity:   log.StateEntitySession,
		OldState: from.String(),
		NewState: to.String(),
	}
	if reason != nil {
		sc.Reason = reason.Error()
	}
	s.plog.Log(log.Event{
		Timestamp:   time.Now(),
		Layer:       log.LayerWatch,
		Category:    log.CategoryState,
		StateChange: sc,
	})
}

func (s *stream) logSubscription(sess *session, h Handle, from, to State, reason string) {
	if s.plog == nil {
		return
	}
	if reason == "" {
		reason = fmt.Sprintf("handle %d", h)
	} else {
		reason = fmt.Sprintf("handle %d: %s", h, reason)
	}
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: sess.id,
		Layer:        log.LayerWatch,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

func (s *stream) logMessage(sess *session, dir log.Direction, msg *log.MessageEvent) {
	if s.plog == nil {
		return
	}
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: sess.id,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message:      msg,
	})
}
