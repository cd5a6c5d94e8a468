// Package conversation holds the ordered message log of one client session.
//
// The log is append-only except for a single in-flight assistant message: the
// orchestrator opens it with [Store.BeginStreaming], grows it with
// [Store.UpdateLast] while the answer streams, and freezes it with
// [Store.EndStreaming]. Every other entry is immutable once appended.
package conversation

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Bhavikr1/spibot/pkg/types"
)

var (
	// ErrNotStreaming is returned by UpdateLast and EndStreaming when no
	// message is in flight.
	ErrNotStreaming = errors.New("conversation: no message is streaming")

	// ErrNotAssistant is returned when an assistant-only operation targets a
	// user message.
	ErrNotAssistant = errors.New("conversation: message is not an assistant message")

	// ErrStreamingActive is returned by Append and BeginStreaming while a
	// message is already in flight.
	ErrStreamingActive = errors.New("conversation: a message is already streaming")

	// ErrCitationsSet is returned by AttachCitations when the message already
	// carries citations.
	ErrCitationsSet = errors.New("conversation: citations already attached")
)

// EventKind identifies a store mutation.
type EventKind int

const (
	// EventAppended fires when a message is added to the log.
	EventAppended EventKind = iota
	// EventUpdated fires when the in-flight message content or citations change.
	EventUpdated
	// EventFinalized fires when the in-flight message is frozen.
	EventFinalized
)

func (k EventKind) String() string {
	switch k {
	case EventAppended:
		return "appended"
	case EventUpdated:
		return "updated"
	case EventFinalized:
		return "finalized"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event describes one mutation. Message is a copy taken after the change.
type Event struct {
	Kind    EventKind
	Index   int
	Message types.Message
}

// Store is the ordered conversation log. It is safe for concurrent use; in
// practice the turn orchestrator is the only writer and renderers read.
type Store struct {
	mu        sync.RWMutex
	msgs      []types.Message
	streaming int // index of the in-flight message, -1 when none

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// New returns an empty store.
func New() *Store {
	return &Store{streaming: -1, subs: make(map[int]func(Event))}
}

// Append adds a fully formed message to the end of the log and returns its
// index. It fails while a message is streaming, since the in-flight message
// must stay last.
func (s *Store) Append(m types.Message) (int, error) {
	if !m.Role.IsValid() {
		return -1, fmt.Errorf("conversation: append: invalid role %q", m.Role)
	}
	if m.Role == types.RoleUser && m.Citations != nil {
		return -1, fmt.Errorf("conversation: append: %w", ErrNotAssistant)
	}

	s.mu.Lock()
	if s.streaming >= 0 {
		s.mu.Unlock()
		return -1, fmt.Errorf("conversation: append: %w", ErrStreamingActive)
	}
	m = m.Clone()
	s.msgs = append(s.msgs, m)
	idx := len(s.msgs) - 1
	s.mu.Unlock()

	s.emit(Event{Kind: EventAppended, Index: idx, Message: m.Clone()})
	return idx, nil
}

// BeginStreaming appends m as the in-flight assistant message.
func (s *Store) BeginStreaming(m types.Message) (int, error) {
	if m.Role != types.RoleAssistant {
		return -1, fmt.Errorf("conversation: begin streaming: %w", ErrNotAssistant)
	}

	s.mu.Lock()
	if s.streaming >= 0 {
		s.mu.Unlock()
		return -1, fmt.Errorf("conversation: begin streaming: %w", ErrStreamingActive)
	}
	m = m.Clone()
	s.msgs = append(s.msgs, m)
	idx := len(s.msgs) - 1
	s.streaming = idx
	s.mu.Unlock()

	s.emit(Event{Kind: EventAppended, Index: idx, Message: m.Clone()})
	return idx, nil
}

// UpdateLast replaces the content of the in-flight message wholesale.
func (s *Store) UpdateLast(content string) error {
	s.mu.Lock()
	if s.streaming < 0 {
		s.mu.Unlock()
		return fmt.Errorf("conversation: update last: %w", ErrNotStreaming)
	}
	idx := s.streaming
	s.msgs[idx].Content = content
	m := s.msgs[idx].Clone()
	s.mu.Unlock()

	s.emit(Event{Kind: EventUpdated, Index: idx, Message: m})
	return nil
}

// EndStreaming freezes the in-flight message and returns its final value.
func (s *Store) EndStreaming() (types.Message, error) {
	s.mu.Lock()
	if s.streaming < 0 {
		s.mu.Unlock()
		return types.Message{}, fmt.Errorf("conversation: end streaming: %w", ErrNotStreaming)
	}
	idx := s.streaming
	s.streaming = -1
	m := s.msgs[idx].Clone()
	s.mu.Unlock()

	s.emit(Event{Kind: EventFinalized, Index: idx, Message: m.Clone()})
	return m, nil
}

// Streaming reports whether a message is in flight.
func (s *Store) Streaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming >= 0
}

// AttachCitations sets the citations of the assistant message at index. They
// may be set once; an empty slice is ignored.
func (s *Store) AttachCitations(index int, citations []types.Citation) error {
	if len(citations) == 0 {
		return nil
	}

	s.mu.Lock()
	if index < 0 || index >= len(s.msgs) {
		s.mu.Unlock()
		return fmt.Errorf("conversation: attach citations: index %d out of range", index)
	}
	if s.msgs[index].Role != types.RoleAssistant {
		s.mu.Unlock()
		return fmt.Errorf("conversation: attach citations: %w", ErrNotAssistant)
	}
	if s.msgs[index].Citations != nil {
		s.mu.Unlock()
		return fmt.Errorf("conversation: attach citations: %w", ErrCitationsSet)
	}
	s.msgs[index].Citations = slices.Clone(citations)
	m := s.msgs[index].Clone()
	s.mu.Unlock()

	s.emit(Event{Kind: EventUpdated, Index: index, Message: m})
	return nil
}

// HistoryWindow returns the {role, content} projection of the last n messages,
// oldest first, excluding the in-flight message. n <= 0 yields nil.
func (s *Store) HistoryWindow(n int) []types.HistoryEntry {
	if n <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	end := len(s.msgs)
	if s.streaming >= 0 {
		end = s.streaming
	}
	start := max(end-n, 0)
	out := make([]types.HistoryEntry, 0, end-start)
	for _, m := range s.msgs[start:end] {
		out = append(out, m.History())
	}
	return out
}

// Messages returns a copy of the whole log.
func (s *Store) Messages() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.Clone()
	}
	return out
}

// At returns a copy of the message at index.
func (s *Store) At(index int) (types.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.msgs) {
		return types.Message{}, false
	}
	return s.msgs[index].Clone(), true
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Subscribe registers fn for every subsequent mutation and returns a function
// that removes it. fn runs synchronously on the writer's goroutine after the
// store lock is released, so it may read from the store.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) emit(ev Event) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
