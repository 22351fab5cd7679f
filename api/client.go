// Package api is the client of the chat request surface (HTTP/JSON).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chatstore"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultRPS     = 10
	DefaultBurst   = 20

	// responses larger than this are rejected.
	maxBodyBytes = 8 << 20
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// Client implements the request surface used by the engine.
// It is safe for concurrent use.
type Client struct {
	base    *url.URL
	creds   auth.Provider
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config, creds auth.Provider) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &Client{
		base:    base,
		creds:   creds,
		http:    &http.Client{Timeout: cfg.Timeout, Jar: jar},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
	}, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]chatstore.Conversation, error) {
	var out struct {
		Conversations []chatstore.Conversation `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) Messages(ctx context.Context, convID string) ([]chatstore.Message, error) {
	var out struct {
		Messages []chatstore.Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, convPath(convID, "messages"), nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Messages {
		fixMessage(&out.Messages[i], convID)
	}
	return out.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, convID, content string) (chatstore.Message, error) {
	in := struct {
		Content string `json:"content"`
	}{content}
	var out struct {
		Message chatstore.Message `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPost, convPath(convID, "messages"), &in, &out); err != nil {
		return chatstore.Message{}, err
	}
	fixMessage(&out.Message, convID)
	return out.Message, nil
}

// UploadAttachment posts a multipart form with fields kind, file and the
// optional content caption.
func (c *Client) UploadAttachment(ctx context.Context, convID string, a chatstore.Attachment) (chatstore.Message, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("kind", string(a.Kind)); err != nil {
		return chatstore.Message{}, err
	}
	if a.Content != "" {
		if err := w.WriteField("content", a.Content); err != nil {
			return chatstore.Message{}, err
		}
	}
	fw, err := w.CreateFormFile("file", a.FileName)
	if err != nil {
		return chatstore.Message{}, err
	}
	if _, err := fw.Write(a.Data); err != nil {
		return chatstore.Message{}, err
	}
	if err := w.Close(); err != nil {
		return chatstore.Message{}, err
	}

	var out struct {
		Message chatstore.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, convPath(convID, "attachments"), w.FormDataContentType(), &body, &out); err != nil {
		return chatstore.Message{}, err
	}
	fixMessage(&out.Message, convID)
	return out.Message, nil
}

func (c *Client) MarkRead(ctx context.Context, convID string) error {
	return c.doJSON(ctx, http.MethodPost, convPath(convID, "read"), nil, nil)
}

func (c *Client) AddReaction(ctx context.Context, convID string, msgID int64, emoji string) ([]chatstore.Reaction, error) {
	in := struct {
		Emoji string `json:"emoji"`
	}{emoji}
	var out struct {
		Reactions []chatstore.Reaction `json:"reactions"`
	}
	p := convPath(convID, "messages", strconv.FormatInt(msgID, 10), "reactions")
	if err := c.doJSON(ctx, http.MethodPost, p, &in, &out); err != nil {
		return nil, err
	}
	return out.Reactions, nil
}

func (c *Client) RemoveReaction(ctx context.Context, convID string, msgID int64, emoji string) ([]chatstore.Reaction, error) {
	var out struct {
		Reactions []chatstore.Reaction `json:"reactions"`
	}
	p := convPath(convID, "messages", strconv.FormatInt(msgID, 10), "reactions", emoji)
	if err := c.doJSON(ctx, http.MethodDelete, p, nil, &out); err != nil {
		return nil, err
	}
	return out.Reactions, nil
}

func (c *Client) DeleteMessage(ctx context.Context, convID string, msgID int64) error {
	return c.doJSON(ctx, http.MethodDelete, convPath(convID, "messages", strconv.FormatInt(msgID, 10)), nil, nil)
}

func (c *Client) CreateConversation(ctx context.Context, req chatstore.NewConversation) (chatstore.Conversation, error) {
	var out struct {
		Conversation chatstore.Conversation `json:"conversation"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations", &req, &out); err != nil {
		return chatstore.Conversation{}, err
	}
	return out.Conversation, nil
}

func (c *Client) doJSON(ctx context.Context, method, p string, in, out interface{}) error {
	var body io.Reader
	var contentType string
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, p, err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, method, p, contentType, body, out)
}

func (c *Client) do(ctx context.Context, method, p, contentType string, body io.Reader, out interface{}) error {
	err := c.limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, p, err)
	}

	// p is already escaped; keep segments such as emoji intact.
	u := *c.base
	u.RawPath = strings.TrimSuffix(c.base.EscapedPath(), "/") + p
	if u.Path, err = url.PathUnescape(u.RawPath); err != nil {
		return fmt.Errorf("bad path %q: %w", p, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if err := c.creds.Authorize(req.Header); err != nil {
		return fmt.Errorf("authorize: %w", err)
	}

	glog.V(5).Infof("api: %s %s", method, u.Path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, p, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Status: resp.StatusCode}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, e); err != nil {
				e.Message = strings.TrimSpace(string(raw))
			}
		}
		return e
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, p, err)
	}
	return nil
}

// convPath builds /api/conversations/{id}/... with escaped segments.
func convPath(convID string, parts ...string) string {
	var sb strings.Builder
	sb.WriteString("/api/conversations/")
	sb.WriteString(url.PathEscape(convID))
	for _, p := range parts {
		sb.WriteByte('/')
		sb.WriteString(url.PathEscape(p))
	}
	return sb.String()
}

func fixMessage(m *chatstore.Message, convID string) {
	if m.ConversationID == "" {
		m.ConversationID = convID
	}
	if m.Kind == "" {
		m.Kind = chatstore.KindText
	}
}
