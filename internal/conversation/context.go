package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultWindow = 6

// Context holds the append-only transcript of one conversation. Turns are
// ordered by Seq, which is assigned on append and never reused.
type Context struct {
	mu      sync.RWMutex
	id      string
	window  int
	turns   []Turn
	nextSeq int
}

func NewContext(window int) *Context {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Context{
		id:      uuid.NewString(),
		window:  window,
		nextSeq: 1,
	}
}

func (c *Context) ID() string { return c.id }

func (c *Context) WindowSize() int { return c.window }

// AppendUser records a user turn and returns the stored copy.
func (c *Context) AppendUser(text string) Turn {
	return c.append(Turn{Role: RoleUser, Text: text})
}

// AppendAssistant records an assistant turn. RelatedContext is dropped when the
// action is none.
func (c *Context) AppendAssistant(text string, action Action, related string) Turn {
	if action == "" {
		action = ActionNone
	}
	if action == ActionNone {
		related = ""
	}
	return c.append(Turn{Role: RoleAssistant, Text: text, Action: action, RelatedContext: strings.TrimSpace(related)})
}

func (c *Context) append(t Turn) Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.ID = uuid.NewString()
	t.Seq = c.nextSeq
	t.CreatedAt = time.Now().UTC()
	c.nextSeq++
	c.turns = append(c.turns, t)
	return t
}

// Window returns the most recent turns, at most the configured window size, in
// transcript order.
func (c *Context) Window() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return tail(c.turns, c.window)
}

// WindowBefore returns the window that precedes seq, excluding it. It is used
// to build a request around a turn that was already appended.
func (c *Context) WindowBefore(seq int) []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	end := len(c.turns)
	for end > 0 && c.turns[end-1].Seq >= seq {
		end--
	}
	return tail(c.turns[:end], c.window)
}

// Transcript returns a copy of every turn.
func (c *Context) Transcript() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

func tail(turns []Turn, n int) []Turn {
	if n > len(turns) {
		n = len(turns)
	}
	out := make([]Turn, n)
	copy(out, turns[len(turns)-n:])
	return out
}
