// Package backendtest is an in-process stand-in for the novel backend. It
// serves chapters from memory and answers the stream endpoints with lorem
// ipsum or a fixed script.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"

	"inkwell/internal/backend"
)

type Options struct {
	Token string
	// Chunks is streamed verbatim when set; otherwise Sentences lorem
	// sentences are generated per request.
	Chunks     []string
	Sentences  int
	ChunkDelay time.Duration
	// FailWith, when set, is sent as an error frame after the chunks.
	FailWith string
	// Hold blocks stream handlers until it is closed.
	Hold <-chan struct{}
	// HoldBody blocks after the 200 headers are flushed and before the
	// first chunk.
	HoldBody <-chan struct{}
}

// StreamCall records one stream request.
type StreamCall struct {
	NovelID   string
	ChapterID string
	Mode      string
	Body      map[string]string
}

type Fake struct {
	opts Options
	mux  *http.ServeMux

	mu       sync.Mutex
	lorem    *loremgen.Lorem
	chapters map[string]backend.Chapter
	calls    []StreamCall
	saves    int
}

func New(opts Options) *Fake {
	if opts.Sentences <= 0 {
		opts.Sentences = 5
	}
	f := &Fake{
		opts:     opts,
		mux:      http.NewServeMux(),
		lorem:    loremgen.New(),
		chapters: make(map[string]backend.Chapter),
	}
	f.mux.HandleFunc("GET /novels/chapters/{id}", f.getChapter)
	f.mux.HandleFunc("PUT /novels/chapters/{id}", f.putChapter)
	f.mux.HandleFunc("POST /novels/{novel}/chapters/{chapter}/{action}", f.stream)
	return f
}

func (f *Fake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+f.opts.Token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		return
	}
	// Routes are mounted without the /api/v1 prefix.
	r.URL.Path = strings.TrimPrefix(r.URL.Path, "/api/v1")
	f.mux.ServeHTTP(w, r)
}

func (f *Fake) PutChapter(ch backend.Chapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chapters[strconv.FormatInt(ch.ID, 10)] = ch
}

func (f *Fake) Chapter(id string) (backend.Chapter, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.chapters[id]
	return ch, ok
}

func (f *Fake) Calls() []StreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StreamCall(nil), f.calls...)
}

func (f *Fake) Saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *Fake) getChapter(w http.ResponseWriter, r *http.Request) {
	ch, ok := f.Chapter(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Chapter not found"})
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (f *Fake) putChapter(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content *string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Content == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body", "content"}, "msg": "field required"}},
		})
		return
	}

	id := r.PathValue("id")
	f.mu.Lock()
	ch, ok := f.chapters[id]
	if ok {
		ch.Content = *in.Content
		f.chapters[id] = ch
		f.saves++
	}
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Chapter not found"})
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (f *Fake) stream(w http.ResponseWriter, r *http.Request) {
	mode, ok := strings.CutPrefix(r.PathValue("action"), "stream_")
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch mode {
	case "continue", "generate", "improve", "expand":
	default:
		http.NotFound(w, r)
		return
	}

	body := map[string]string{}
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		_ = json.Unmarshal(b, &body)
	}
	f.mu.Lock()
	f.calls = append(f.calls, StreamCall{
		NovelID:   r.PathValue("novel"),
		ChapterID: r.PathValue("chapter"),
		Mode:      mode,
		Body:      body,
	})
	chunks := f.opts.Chunks
	if chunks == nil {
		for i := 0; i < f.opts.Sentences; i++ {
			chunks = append(chunks, f.lorem.Sentence(5, 15)+" ")
		}
	}
	f.mu.Unlock()

	if f.opts.Hold != nil {
		select {
		case <-f.opts.Hold:
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	if f.opts.HoldBody != nil {
		select {
		case <-f.opts.HoldBody:
		case <-r.Context().Done():
			return
		}
	}

	for _, c := range chunks {
		b, _ := json.Marshal(map[string]string{"content": c})
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if f.opts.ChunkDelay > 0 {
			select {
			case <-time.After(f.opts.ChunkDelay):
			case <-r.Context().Done():
				return
			}
		}
	}
	if f.opts.FailWith != "" {
		b, _ := json.Marshal(map[string]string{"error": f.opts.FailWith})
		fmt.Fprintf(w, "data: %s\n\n", b)
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
