package takeoff

import (
	"context"
	"sync"
)

// DefaultHistoryLimit caps the number of undoable entries
const DefaultHistoryLimit = 50

// HistoryLog is the undo/redo contract the engine depends on
type HistoryLog interface {
	Push(cmd Command)
	Undo(ctx context.Context, doc *Document, store Persistence) (Command, error)
	Redo(ctx context.Context, doc *Document, store Persistence) (Command, error)
	CanUndo() bool
	CanRedo() bool
}

// History is a bounded two-stack command log. Undo and redo are serialized:
// while one is waiting on the store, a second call fails with ErrHistoryBusy.
type History struct {
	mu     sync.Mutex
	past   []Command
	future []Command
	limit  int
	busy   bool
}

// NewHistory creates a history holding at most limit entries
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Push records a committed command and clears the redo stack
func (h *History) Push(cmd Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.past = append(h.past, cmd)
	if over := len(h.past) - h.limit; over > 0 {
		h.past = append([]Command(nil), h.past[over:]...)
	}
	h.future = nil
}

// Undo reverts the most recent command. If the store rejects the inverse,
// the command goes back onto the undo stack unchanged and the error is returned.
func (h *History) Undo(ctx context.Context, doc *Document, store Persistence) (Command, error) {
	cmd, err := h.take(&h.past, ErrNothingToUndo)
	if err != nil {
		return nil, err
	}

	sub, err := Execute(ctx, cmd.Inverse(), doc, store)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.busy = false
	if err != nil {
		h.past = append(h.past, cmd)
		return nil, err
	}
	if sub != nil {
		cmd.Remap(*sub)
		h.remapLocked(*sub)
	}
	h.future = append(h.future, cmd)
	return cmd, nil
}

// Redo re-applies the most recently undone command
func (h *History) Redo(ctx context.Context, doc *Document, store Persistence) (Command, error) {
	cmd, err := h.take(&h.future, ErrNothingToRedo)
	if err != nil {
		return nil, err
	}

	sub, err := Execute(ctx, cmd, doc, store)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.busy = false
	if err != nil {
		h.future = append(h.future, cmd)
		return nil, err
	}
	if sub != nil {
		h.remapLocked(*sub)
	}
	h.past = append(h.past, cmd)
	if over := len(h.past) - h.limit; over > 0 {
		h.past = append([]Command(nil), h.past[over:]...)
	}
	return cmd, nil
}

// take pops the top of stack and marks the history busy
func (h *History) take(stack *[]Command, empty error) (Command, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.busy {
		return nil, ErrHistoryBusy
	}
	s := *stack
	if len(s) == 0 {
		return nil, empty
	}
	cmd := s[len(s)-1]
	*stack = s[:len(s)-1]
	h.busy = true
	return cmd, nil
}

// remapLocked rewrites every stored reference to a substituted id
func (h *History) remapLocked(sub Substitution) {
	for _, c := range h.past {
		c.Remap(sub)
	}
	for _, c := range h.future {
		c.Remap(sub)
	}
}

// Remap rewrites stored references after an id substitution made outside of
// undo/redo
func (h *History) Remap(sub Substitution) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remapLocked(sub)
}

// CanUndo reports whether there is anything to undo
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.past) > 0 && !h.busy
}

// CanRedo reports whether there is anything to redo
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.future) > 0 && !h.busy
}

// Past returns the undo stack, oldest first
func (h *History) Past() []Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Command, len(h.past))
	copy(out, h.past)
	return out
}

// Future returns the redo stack, oldest first
func (h *History) Future() []Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Command, len(h.future))
	copy(out, h.future)
	return out
}

// Clear drops every entry
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.past = nil
	h.future = nil
}
