package editor

import (
	"sync"
	"unicode/utf8"
)

// Range is a half-open rune range [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) Empty() bool { return r.End <= r.Start }

// Buffer is the single writer for chapter text. User edits, formatting and
// stream splices all go through it. Offsets are in runes.
type Buffer struct {
	mu        sync.Mutex
	text      []rune
	cursor    int
	selection Range
	version   uint64
}

func NewBuffer(text string) *Buffer {
	r := []rune(text)
	return &Buffer{text: r, cursor: len(r), selection: Range{Start: len(r), End: len(r)}}
}

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.text)
}

// Version increases on every mutation.
func (b *Buffer) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Snapshot returns text, cursor and selection read under one lock.
func (b *Buffer) Snapshot() (string, int, Range) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.text), b.cursor, b.selection
}

func (b *Buffer) Set(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text = []rune(text)
	b.cursor = clamp(b.cursor, 0, len(b.text))
	b.selection = Range{Start: b.cursor, End: b.cursor}
	b.version++
}

// Select sets the selection; start == end places the caret.
func (b *Buffer) Select(start, end int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if end < start {
		start, end = end, start
	}
	start = clamp(start, 0, len(b.text))
	end = clamp(end, 0, len(b.text))
	b.selection = Range{Start: start, End: end}
	b.cursor = end
}

// InsertAt splices s at off, clamped to the current length, and returns the
// offset actually used. Caret and selection after off shift right.
func (b *Buffer) InsertAt(off int, s string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertLocked(off, s)
}

func (b *Buffer) insertLocked(off int, s string) int {
	off = clamp(off, 0, len(b.text))
	ins := []rune(s)
	if len(ins) == 0 {
		return off
	}
	next := make([]rune, 0, len(b.text)+len(ins))
	next = append(next, b.text[:off]...)
	next = append(next, ins...)
	next = append(next, b.text[off:]...)
	b.text = next

	shift := func(p int) int {
		if p > off {
			return p + len(ins)
		}
		return p
	}
	b.cursor = shift(b.cursor)
	b.selection = Range{Start: shift(b.selection.Start), End: shift(b.selection.End)}
	b.version++
	return off
}

func (b *Buffer) deleteLocked(r Range) {
	r.Start = clamp(r.Start, 0, len(b.text))
	r.End = clamp(r.End, r.Start, len(b.text))
	if r.Empty() {
		return
	}
	n := r.End - r.Start
	b.text = append(b.text[:r.Start:r.Start], b.text[r.End:]...)

	shift := func(p int) int {
		switch {
		case p >= r.End:
			return p - n
		case p > r.Start:
			return r.Start
		}
		return p
	}
	b.cursor = shift(b.cursor)
	b.selection = Range{Start: shift(b.selection.Start), End: shift(b.selection.End)}
	b.version++
}

// replaceSelectionLocked swaps the selected text for s and puts the caret
// right after it.
func (b *Buffer) replaceSelectionLocked(s string) {
	sel := b.selection
	b.deleteLocked(sel)
	at := b.insertLocked(sel.Start, s)
	end := at + utf8.RuneCountInString(s)
	b.cursor = end
	b.selection = Range{Start: end, End: end}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
