// Command fakebackend serves an in-memory novel backend that streams lorem
// ipsum, for running the editor without the real service.
package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"inkwell/internal/backend"
	"inkwell/internal/backend/backendtest"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	token := flag.String("token", "", "required bearer token, empty to accept any")
	sentences := flag.Int("sentences", 5, "lorem sentences per stream")
	delay := flag.Duration("delay", 150*time.Millisecond, "pause between streamed chunks")
	flag.Parse()

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	fake := backendtest.New(backendtest.Options{
		Token:      *token,
		Sentences:  *sentences,
		ChunkDelay: *delay,
	})
	fake.PutChapter(backend.Chapter{ID: 1, NovelID: 1, Title: "第一章", Content: "", Order: 1, Status: "draft"})

	srv := &http.Server{Addr: *addr, Handler: fake, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", *addr).Msg("fake backend listening on /api/v1")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("fake backend stopped")
	}
}
