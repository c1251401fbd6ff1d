// Package book maintains one live order-book snapshot per tracked instrument
// and broadcasts every applied update to subscribers.
package book

import (
	"context"
	"log/slog"
	"sort"

	"github.com/jlindqvist/scalpd/internal/domain"
)

const (
	inboxSize      = 256
	subscriberSize = 64
)

// Manager is a single-goroutine actor owning all BookState values. Events and
// queries arrive through its inbox; state is never shared by reference —
// subscribers and callers receive deep copies.
type Manager struct {
	events      chan domain.BookEvent
	queries     chan bookQuery
	subscribers chan chan domain.BookUpdate

	books map[string]*domain.BookState
	subs  []chan domain.BookUpdate

	logger *slog.Logger
}

type bookQuery struct {
	instID string // empty means "all books"
	reply  chan bookReply
}

type bookReply struct {
	book domain.BookState
	all  map[string]domain.BookState
	err  error
}

// NewManager creates a Manager for the given logger. Books populate lazily
// from the event stream; the manager is intentionally stateless across
// restarts since a fresh snapshot repopulates it within one update cycle.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		events:      make(chan domain.BookEvent, inboxSize),
		queries:     make(chan bookQuery),
		subscribers: make(chan chan domain.BookUpdate, 8),
		books:       make(map[string]*domain.BookState),
		logger:      logger.With(slog.String("component", "book_manager")),
	}
}

// HandleEvent enqueues a book event for processing. It blocks only when the
// inbox is full, and respects ctx cancellation.
func (m *Manager) HandleEvent(ctx context.Context, ev domain.BookEvent) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

// Subscribe registers a new subscriber and returns its update channel. Slow
// subscribers drop updates instead of blocking the manager or each other.
// Registration is buffered, so subscribing before Run starts is safe.
func (m *Manager) Subscribe() <-chan domain.BookUpdate {
	ch := make(chan domain.BookUpdate, subscriberSize)
	m.subscribers <- ch
	return ch
}

// Book returns a copy of the current book for instID, or ErrNoBook when no
// snapshot has arrived yet.
func (m *Manager) Book(ctx context.Context, instID string) (domain.BookState, error) {
	q := bookQuery{instID: instID, reply: make(chan bookReply, 1)}
	select {
	case m.queries <- q:
	case <-ctx.Done():
		return domain.BookState{}, ctx.Err()
	}
	select {
	case r := <-q.reply:
		return r.book, r.err
	case <-ctx.Done():
		return domain.BookState{}, ctx.Err()
	}
}

// AllBooks returns copies of every tracked book.
func (m *Manager) AllBooks(ctx context.Context) (map[string]domain.BookState, error) {
	q := bookQuery{reply: make(chan bookReply, 1)}
	select {
	case m.queries <- q:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-q.reply:
		return r.all, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run processes events, queries, and subscriptions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("book manager started")
	defer m.logger.Info("book manager stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-m.events:
			m.apply(ev)
			m.broadcast(ev.InstID)

		case q := <-m.queries:
			m.answer(q)

		case ch := <-m.subscribers:
			m.subs = append(m.subs, ch)
		}
	}
}

// apply mutates the book for ev.InstID. A snapshot replaces both sides
// wholesale; a delta removes any existing level at each price and inserts the
// new level unless its size is zero.
func (m *Manager) apply(ev domain.BookEvent) {
	st, ok := m.books[ev.InstID]
	if !ok {
		// Deltas are meaningless without a baseline; the book stays unknown
		// until the first snapshot arrives.
		if ev.Action != domain.BookActionSnapshot {
			m.logger.Debug("update before snapshot, ignoring",
				slog.String("inst_id", ev.InstID),
			)
			return
		}
		st = &domain.BookState{InstID: ev.InstID}
		m.books[ev.InstID] = st
	}

	switch ev.Action {
	case domain.BookActionSnapshot:
		st.Asks = append(st.Asks[:0], ev.Asks...)
		st.Bids = append(st.Bids[:0], ev.Bids...)

	case domain.BookActionDelta:
		st.Asks = applyDeltas(st.Asks, ev.Asks)
		st.Bids = applyDeltas(st.Bids, ev.Bids)

	default:
		m.logger.Warn("unknown book action, ignoring",
			slog.String("inst_id", ev.InstID),
			slog.String("action", string(ev.Action)),
		)
		return
	}

	sortSide(st.Asks, true)
	sortSide(st.Bids, false)
	st.UpdatedAt = ev.Timestamp
}

// applyDeltas merges changed levels into a side. A zero size removes the
// level at that price.
func applyDeltas(side []domain.PriceLevel, changes []domain.PriceLevel) []domain.PriceLevel {
	for _, ch := range changes {
		for i, lvl := range side {
			if lvl.Price == ch.Price {
				side = append(side[:i], side[i+1:]...)
				break
			}
		}
		if ch.Size > 0 {
			side = append(side, ch)
		}
	}
	return side
}

func sortSide(side []domain.PriceLevel, ascending bool) {
	sort.Slice(side, func(i, j int) bool {
		if ascending {
			return side[i].Price < side[j].Price
		}
		return side[i].Price > side[j].Price
	})
}

// broadcast fans the updated book out to all subscribers. Full subscriber
// queues drop the update; the next one supersedes it anyway.
func (m *Manager) broadcast(instID string) {
	st, ok := m.books[instID]
	if !ok {
		return
	}
	upd := domain.BookUpdate{InstID: instID, Book: st.Clone()}
	for _, ch := range m.subs {
		select {
		case ch <- upd:
		default:
		}
	}
}

func (m *Manager) answer(q bookQuery) {
	if q.instID == "" {
		all := make(map[string]domain.BookState, len(m.books))
		for id, st := range m.books {
			all[id] = st.Clone()
		}
		q.reply <- bookReply{all: all}
		return
	}
	st, ok := m.books[q.instID]
	if !ok {
		q.reply <- bookReply{err: domain.ErrNoBook}
		return
	}
	q.reply <- bookReply{book: st.Clone()}
}
