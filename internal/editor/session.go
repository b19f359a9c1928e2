package editor

import (
	"unicode/utf8"

	"github.com/google/uuid"

	"inkwell/internal/assist"
)

// Session tracks one AI stream into the buffer. Each chunk lands at
// Anchor+Consumed in the buffer as it is at that moment; edits made before
// the anchor while streaming are not tracked.
type Session struct {
	ID        string      `json:"id"`
	Mode      assist.Mode `json:"mode"`
	Anchor    int         `json:"anchor"`
	Consumed  int         `json:"consumed"`
	Selection *Range      `json:"selection,omitempty"`
}

func newSession(mode assist.Mode, anchor int, sel *Range) *Session {
	return &Session{ID: uuid.NewString(), Mode: mode, Anchor: anchor, Selection: sel}
}

// InsertionPoint is where the next chunk goes.
func (s *Session) InsertionPoint() int { return s.Anchor + s.Consumed }

// Apply splices chunk into b and advances Consumed. When the buffer shrank
// below the insertion point the chunk is appended at the end and the anchor
// follows it.
func (s *Session) Apply(b *Buffer, chunk string) {
	if chunk == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s.applyLocked(b, chunk)
}

func (s *Session) applyLocked(b *Buffer, chunk string) {
	at := b.insertLocked(s.InsertionPoint(), chunk)
	if at != s.InsertionPoint() {
		s.Anchor = at - s.Consumed
	}
	s.Consumed += utf8.RuneCountInString(chunk)
}
