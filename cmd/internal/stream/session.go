package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// State is the observable lifecycle state of a Session.
type State uint8

const (
	StateStarting State = iota
	StateActive
	StateCancelled
	StateInterrupted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateCancelled:
		return "cancelled"
	case StateInterrupted:
		return "interrupted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateInterrupted || s == StateFailed
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger (default: slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithObserver installs an Observer for lifecycle events.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithHistoryReplay makes the Sequence yield the history window before the
// live messages, so a consumer can read everything through one interface.
// Start still returns the window.
func WithHistoryReplay(replay bool) Option {
	return func(s *Session) { s.replay = replay }
}

// Session owns one room subscription: its history fetch, its live feed, and
// the controller that tears them down. Cancel and State are safe for
// concurrent use, including while Start is still running.
type Session struct {
	room     RoomID
	history  HistoryFetcher
	live     LiveFeedSource
	log      *slog.Logger
	observer Observer
	replay   bool

	ctrl *CancellationController

	mu         sync.Mutex
	startCalls int
	lifecycle  []<-chan struct{}
	state      State
	err        error
	done       chan struct{}
	stopParent func() bool
}

// NewSession prepares a session for room. Nothing is fetched or opened until
// Start.
func NewSession(room RoomID, history HistoryFetcher, live LiveFeedSource, opts ...Option) *Session {
	s := &Session{
		room:     room,
		history:  history,
		live:     live,
		log:      slog.Default(),
		observer: nopObserver{},
		ctrl:     NewCancellationController(),
		state:    StateStarting,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Room returns the session's room id.
func (s *Session) Room() RoomID { return s.room }

// Start fetches the history window and opens the live feed concurrently and
// joins both before returning. When the history source is a RangeFetcher,
// messages posted between the snapshot and the join are then fetched and
// delivered ahead of the feed. If any step fails, Start fails with an
// ErrTransport error and nothing stays open. If cancellation is requested
// before both complete, Start fails with ErrCancelled.
//
// ctx bounds the whole session: its cancellation after Start returns cancels
// the session like Cancel does.
func (s *Session) Start(ctx context.Context, credential string, historyLimit int) (HistoryWindow, *Sequence, error) {
	const op = "stream.Start"

	s.mu.Lock()
	s.startCalls++
	if s.startCalls > 1 {
		s.mu.Unlock()
		return nil, nil, &OpError{Op: op, Kind: ErrAlreadyStarted, Room: s.room}
	}
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil, nil, &OpError{Op: op, Kind: ErrCancelled, Room: s.room}
	}
	lifecycle := s.lifecycle
	s.lifecycle = nil
	s.mu.Unlock()

	for _, done := range lifecycle {
		s.watch(done)
	}

	switch {
	case s.room == "":
		return nil, nil, s.failStart(&OpError{Op: op, Kind: ErrResolution})
	case historyLimit <= 0:
		return nil, nil, s.failStart(&OpError{Op: op, Kind: ErrInvalidLimit, Room: s.room})
	case s.history == nil || s.live == nil:
		return nil, nil, s.failStart(&OpError{Op: op, Kind: ErrTransport, Room: s.room, Err: errors.New("missing history fetcher or live feed source")})
	}

	if ctx != nil {
		stop := context.AfterFunc(ctx, func() { s.cancel(ReasonContext) })
		s.mu.Lock()
		if s.state.Terminal() {
			stop()
		} else {
			s.stopParent = stop
		}
		s.mu.Unlock()
	}

	s.log.Info("stream.session.start", "room_id", s.room, "history_limit", historyLimit)

	var (
		window HistoryWindow
		feed   Feed
	)

	g, gctx := errgroup.WithContext(s.ctrl.Context())
	g.Go(func() error {
		msgs, err := s.history.FetchHistory(gctx, s.room, credential, historyLimit)
		if err != nil {
			return &OpError{Op: "stream.FetchHistory", Kind: ErrTransport, Room: s.room, Err: err}
		}
		window = normalizeWindow(msgs, historyLimit)
		return nil
	})
	g.Go(func() error {
		f, err := s.live.Open(gctx, s.room, credential)
		if err != nil {
			return &OpError{Op: "stream.OpenFeed", Kind: ErrTransport, Room: s.room, Err: err}
		}
		feed = f
		return nil
	})
	setupErr := g.Wait()

	var caught []Message
	if setupErr == nil && !s.ctrl.Requested() {
		caught, setupErr = s.catchUp(s.ctrl.Context(), credential, window)
	}

	if feed != nil {
		// Runs immediately if cancellation already fired during the handshake.
		s.ctrl.Bind(func() { _ = feed.Close() })
	}

	s.mu.Lock()
	switch {
	case s.ctrl.Requested():
		s.setTerminalLocked(StateCancelled, nil)
		s.mu.Unlock()
		s.log.Info("stream.session.start.cancelled", "room_id", s.room, "reason", s.ctrl.Reason().String())
		return nil, nil, &OpError{Op: op, Kind: ErrCancelled, Room: s.room}

	case setupErr != nil:
		s.setTerminalLocked(StateFailed, setupErr)
		s.mu.Unlock()
		s.ctrl.Cancel(reasonRelease)
		s.log.Error("stream.session.start.fail", "room_id", s.room, "err", setupErr)
		return nil, nil, setupErr

	default:
		s.state = StateActive
		s.mu.Unlock()
	}

	s.observer.SessionStarted(s.room, len(window))
	s.log.Info("stream.session.active", "room_id", s.room, "history_size", len(window))

	merge := newMergeSequencer(window, feed, s.replay, func(m Message) {
		s.observer.BoundaryDuplicate(s.room)
		s.log.Debug("stream.boundary.drop", "room_id", s.room, "message_id", m.ID, "seq", m.Seq)
	})
	merge.catchUp(caught)
	if rf, ok := s.history.(RangeFetcher); ok {
		merge.fill = func(ctx context.Context, afterSeq, beforeSeq int64) ([]Message, error) {
			msgs, err := fetchRange(ctx, rf, s.room, credential, afterSeq, beforeSeq)
			if err == nil {
				s.log.Info("stream.gap.backfill", "room_id", s.room, "after_seq", afterSeq, "before_seq", beforeSeq, "count", len(msgs))
			}
			return msgs, err
		}
	}
	return window, &Sequence{s: s, merge: merge}, nil
}

// rangePageSize bounds one FetchAfter call during catch-up and backfill.
const rangePageSize = 100

// catchUp fetches the messages posted after the window tail while the live
// feed was being joined. It only runs when the history source can page by
// seq and the window tail carries one.
func (s *Session) catchUp(ctx context.Context, credential string, window HistoryWindow) ([]Message, error) {
	rf, ok := s.history.(RangeFetcher)
	if !ok {
		return nil, nil
	}
	var after int64
	if last, ok := window.Last(); ok {
		if last.Seq <= 0 {
			return nil, nil
		}
		after = last.Seq
	}

	msgs, err := fetchRange(ctx, rf, s.room, credential, after, 0)
	if err != nil {
		return nil, &OpError{Op: "stream.CatchUp", Kind: ErrTransport, Room: s.room, Err: err}
	}
	if len(msgs) > 0 {
		s.log.Info("stream.session.catchup", "room_id", s.room, "after_seq", after, "count", len(msgs))
	}
	return msgs, nil
}

// fetchRange pages forward from afterSeq and returns the messages with
// afterSeq < Seq < beforeSeq, oldest-first. beforeSeq 0 means no upper bound.
func fetchRange(ctx context.Context, rf RangeFetcher, room RoomID, credential string, afterSeq, beforeSeq int64) ([]Message, error) {
	var out []Message
	cursor := afterSeq
	for {
		page, err := rf.FetchAfter(ctx, room, credential, cursor, rangePageSize)
		if err != nil {
			return nil, err
		}
		next := cursor
		for _, m := range page {
			if m.Seq <= afterSeq || (beforeSeq > 0 && m.Seq >= beforeSeq) {
				continue
			}
			out = append(out, m)
			next = max(next, m.Seq)
		}
		if len(page) < rangePageSize || next == cursor || (beforeSeq > 0 && next >= beforeSeq-1) {
			break
		}
		cursor = next
	}
	return normalizeWindow(out, 0), nil
}

// Cancel requests cancellation. It is idempotent and safe to call from any
// goroutine at any time, including before or during Start.
func (s *Session) Cancel() { s.cancel(ReasonCaller) }

// CancelOn cancels the session when done is closed. It is meant for external
// lifecycle signals (a closing view, a shutting-down process). Called before
// Start, the signal is only watched once Start runs; a session that is never
// started holds no goroutine. The watcher exits once the session reaches a
// terminal state.
func (s *Session) CancelOn(done <-chan struct{}) {
	if done == nil {
		return
	}
	s.mu.Lock()
	if s.startCalls == 0 && !s.state.Terminal() {
		s.lifecycle = append(s.lifecycle, done)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.watch(done)
}

func (s *Session) watch(done <-chan struct{}) {
	select {
	case <-done:
		s.cancel(ReasonLifecycle)
		return
	case <-s.done:
		return
	default:
	}
	go func() {
		select {
		case <-done:
			s.cancel(ReasonLifecycle)
		case <-s.done:
		}
	}()
}

// watching reports how many lifecycle signals wait for Start.
func (s *Session) watching() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lifecycle)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error: nil while running or after a clean
// cancellation, the setup error after StateFailed, the interruption after
// StateInterrupted.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// CancelReason returns the first cancellation reason, or ReasonNone.
func (s *Session) CancelReason() CancelReason {
	if !s.ctrl.Requested() {
		return ReasonNone
	}
	return s.ctrl.Reason()
}

func (s *Session) cancel(reason CancelReason) {
	if !s.ctrl.Cancel(reason) {
		return
	}

	s.mu.Lock()
	// A running Start settles the state itself once its setup goroutines join.
	if s.state == StateActive || (s.state == StateStarting && s.startCalls == 0) {
		s.setTerminalLocked(StateCancelled, nil)
	}
	s.mu.Unlock()

	s.log.Info("stream.session.cancel", "room_id", s.room, "reason", reason.String())
}

// endFeed settles the session after the live feed returned an error and
// reports what the sequence should surface: nil for a requested cancellation,
// an interruption otherwise.
func (s *Session) endFeed(cause error) error {
	s.mu.Lock()
	var out error
	switch {
	case s.state.Terminal():
		out = s.err
	case s.ctrl.Requested():
		s.setTerminalLocked(StateCancelled, nil)
	default:
		out = Interrupted("stream.Next", s.room, cause)
		s.setTerminalLocked(StateInterrupted, out)
	}
	s.mu.Unlock()

	if out != nil {
		s.log.Warn("stream.session.interrupted", "room_id", s.room, "err", out)
	}
	s.ctrl.Cancel(reasonRelease)
	return out
}

// endAfterFire settles the session once Next observes a fired controller and
// returns the error the sequence should report.
func (s *Session) endAfterFire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		s.setTerminalLocked(StateCancelled, nil)
	}
	if s.state == StateInterrupted {
		return s.err
	}
	return nil
}

func (s *Session) failStart(err error) error {
	s.mu.Lock()
	s.setTerminalLocked(StateFailed, err)
	s.mu.Unlock()
	s.ctrl.Cancel(reasonRelease)
	return err
}

// setTerminalLocked must be called with s.mu held.
func (s *Session) setTerminalLocked(state State, err error) {
	if s.state.Terminal() {
		return
	}
	s.state = state
	s.err = err
	close(s.done)
	if s.stopParent != nil {
		s.stopParent()
		s.stopParent = nil
	}
	s.observer.SessionEnded(s.room, state)
}
