// Package backend talks to the novel backend: chapter load/save over REST
// and the four server-side assist streams.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"inkwell/internal/assist"
	"inkwell/internal/httpx"
	"inkwell/internal/providers"
	"inkwell/internal/sse"
)

const DefaultBaseURL = "http://localhost:8000/api/v1"

var ErrUnauthorized = errors.New("authentication failed, please login again")

type Chapter struct {
	ID      int64  `json:"id"`
	NovelID int64  `json:"novel_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Order   int    `json:"order"`
	Status  string `json:"status"`
}

// APIError is a non-2xx backend response with its detail decoded.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

type Config struct {
	BaseURL string
	Token   string
	Deps    providers.Deps
	Logger  zerolog.Logger
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	cfg.Deps = cfg.Deps.WithDefaults()
	return &Client{cfg: cfg}
}

var _ assist.Assistant = (*Client)(nil)

func (c *Client) LoadChapter(ctx context.Context, chapterID string) (Chapter, error) {
	body, err := c.cfg.Deps.HTTP.Do(ctx, c.request(http.MethodGet, "/novels/chapters/"+url.PathEscape(chapterID), nil))
	if err != nil {
		return Chapter{}, c.mapError(err)
	}
	var ch Chapter
	if err := json.Unmarshal(body, &ch); err != nil {
		return Chapter{}, fmt.Errorf("decode chapter: %w", err)
	}
	return ch, nil
}

func (c *Client) SaveChapter(ctx context.Context, chapterID, content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal chapter update: %w", err)
	}
	if _, err := c.cfg.Deps.HTTP.Do(ctx, c.request(http.MethodPut, "/novels/chapters/"+url.PathEscape(chapterID), payload)); err != nil {
		return c.mapError(err)
	}
	return nil
}

// Stream runs one of the backend's stream_* endpoints.
func (c *Client) Stream(ctx context.Context, req assist.Request, onChunk func(string)) error {
	if !req.Mode.Valid() {
		return fmt.Errorf("unsupported assist mode %q", req.Mode)
	}
	var body []byte
	var err error
	switch req.Mode {
	case assist.Continue:
		body, err = json.Marshal(map[string]string{
			"preceding_text": req.PrecedingText,
			"following_text": req.FollowingText,
		})
	case assist.Improve, assist.Expand:
		body, err = json.Marshal(map[string]string{"content": req.Content})
	}
	if err != nil {
		return fmt.Errorf("marshal stream request: %w", err)
	}

	path := fmt.Sprintf("/novels/%s/chapters/%s/stream_%s", url.PathEscape(req.NovelID), url.PathEscape(req.ChapterID), req.Mode)
	r := c.request(http.MethodPost, path, body)
	r.Header.Set("Accept", "text/event-stream")
	resp, err := c.cfg.Deps.HTTP.Open(ctx, r)
	if err != nil {
		return c.mapError(err)
	}
	defer resp.Body.Close()
	return providers.ConsumeStream(ctx, resp.Body, "backend", c.cfg.Deps, decodeFrame, onChunk)
}

func (c *Client) request(method, path string, body []byte) httpx.Request {
	h := http.Header{}
	if c.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	return httpx.Request{
		Provider: "backend",
		Method:   method,
		URL:      c.cfg.BaseURL + path,
		Header:   h,
		Body:     body,
	}
}

func (c *Client) mapError(err error) error {
	var serr *httpx.StatusError
	if !errors.As(err, &serr) {
		return err
	}
	if serr.Status == http.StatusUnauthorized {
		c.cfg.Logger.Warn().Msg("backend rejected the access token")
		return ErrUnauthorized
	}
	return &APIError{Status: serr.Status, Message: errorDetail(serr.Status, serr.Body)}
}

// errorDetail reads the FastAPI-style error body: a detail string, a list of
// validation errors, a detail object, or a message field.
func errorDetail(status int, body string) string {
	if gjson.Valid(body) {
		detail := gjson.Get(body, "detail")
		switch {
		case detail.Type == gjson.String:
			return detail.String()
		case detail.IsArray():
			parts := make([]string, 0)
			detail.ForEach(func(_, item gjson.Result) bool {
				locs := make([]string, 0)
				item.Get("loc").ForEach(func(_, l gjson.Result) bool {
					locs = append(locs, l.String())
					return true
				})
				parts = append(parts, strings.Join(locs, ".")+": "+item.Get("msg").String())
				return true
			})
			return strings.Join(parts, ", ")
		case detail.IsObject():
			return detail.Raw
		}
		if msg := gjson.Get(body, "message"); msg.Exists() && msg.String() != "" {
			return msg.String()
		}
	}
	return fmt.Sprintf("HTTP Error! Status: %d", status)
}

func decodeFrame(_ sse.Event, payload string) (string, bool, error) {
	if !gjson.Valid(payload) {
		return "", false, fmt.Errorf("backend frame is not json")
	}
	if e := gjson.Get(payload, "error"); e.Exists() && e.String() != "" {
		return "", false, &providers.StreamError{Provider: "backend", Message: e.String()}
	}
	return gjson.Get(payload, "content").String(), false, nil
}
