// Package client talks to the board's HTTP and WebSocket API. A Client is the
// auth collaborator, item store and discussion transport for terminal tools.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"tracehub/internal/config"
	"tracehub/internal/models"
	"tracehub/internal/session"
	"tracehub/internal/validation"

	"github.com/gorilla/websocket"
)

const defaultTimeout = 15 * time.Second

// Client is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	domain  string

	mu        sync.RWMutex
	session   *session.Session
	listeners map[int]func(*session.Session)
	nextID    int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithInstitutionDomain sets the sign-up domain checked before any request.
func WithInstitutionDomain(domain string) Option {
	return func(c *Client) { c.domain = domain }
}

// WithSession restores a previously issued session.
func WithSession(s *session.Session) Option {
	return func(c *Client) { c.session = s }
}

// New returns a client for the API served at baseURL, e.g. "http://localhost:8375".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}
	c := &Client{
		baseURL:   u,
		http:      &http.Client{Timeout: defaultTimeout},
		dialer:    &websocket.Dialer{HandshakeTimeout: defaultTimeout},
		domain:    config.DefaultInstitutionDomain,
		listeners: make(map[int]func(*session.Session)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Session returns the held session, or nil.
func (c *Client) Session() *session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// CurrentSession returns the held session after checking it with the server.
// A token the server no longer accepts ends the session.
func (c *Client) CurrentSession(ctx context.Context) (*session.Session, error) {
	s := c.Session()
	if s == nil {
		return nil, nil
	}
	if !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt) {
		c.setSession(nil)
		return nil, nil
	}

	var out struct {
		User models.User `json:"user"`
	}
	err := c.call(ctx, http.MethodGet, "/api/auth/me", nil, &out)
	if models.HasCode(err, models.CodeUnauthorized) {
		c.setSession(nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Identity = *out.User.Identity()
	return s, nil
}

// OnSessionChange registers fn for sign-in and sign-out.
func (c *Client) OnSessionChange(fn func(*session.Session)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// SignIn exchanges credentials for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*session.Session, error) {
	return c.authenticate(ctx, "/api/auth/login", email, password)
}

// SignUp registers an account. Addresses outside the institution's domain are
// rejected here without contacting the server.
func (c *Client) SignUp(ctx context.Context, email, password string) (*session.Session, error) {
	if err := validation.ValidateInstitutionalEmail(email, c.domain); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	return c.authenticate(ctx, "/api/auth/signup", email, password)
}

// SignOut revokes the token server-side and always drops it locally.
func (c *Client) SignOut(ctx context.Context) error {
	if c.Session() == nil {
		return nil
	}
	err := c.call(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.setSession(nil)
	if models.HasCode(err, models.CodeUnauthorized) {
		return nil
	}
	return err
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*session.Session, error) {
	var s session.Session
	body := map[string]string{"email": email, "password": password}
	if err := c.call(ctx, http.MethodPost, path, body, &s); err != nil {
		return nil, err
	}
	c.setSession(&s)
	out := s
	return &out, nil
}

func (c *Client) setSession(s *session.Session) {
	c.mu.Lock()
	c.session = s
	listeners := make([]func(*session.Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		if s == nil {
			fn(nil)
			continue
		}
		cp := *s
		fn(&cp)
	}
}

// ListItems returns the board, newest first.
func (c *Client) ListItems(ctx context.Context) ([]models.Item, error) {
	items := []models.Item{}
	if err := c.call(ctx, http.MethodGet, "/api/items", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CreateItem posts an item. The owner is whoever holds the session.
func (c *Client) CreateItem(ctx context.Context, in models.NewItem) (*models.Item, error) {
	var item models.Item
	if in.Image == nil {
		if err := c.call(ctx, http.MethodPost, "/api/items", in, &item); err != nil {
			return nil, err
		}
		return &item, nil
	}

	body, contentType, err := multipartItem(in)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := c.send(ctx, http.MethodPost, "/api/items", body, contentType, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteItem removes the item. The server checks ownership against the
// session, so requestingUserID only guards against a stale caller.
func (c *Client) DeleteItem(ctx context.Context, itemID, requestingUserID uint) error {
	if s := c.Session(); s == nil || s.Identity.ID != requestingUserID {
		return models.NewUnauthorizedError("Only the owner can delete this item")
	}
	return c.call(ctx, http.MethodDelete, "/api/items/"+strconv.FormatUint(uint64(itemID), 10), nil, nil)
}

// Messages returns the item's messages newer than afterSeq.
func (c *Client) Messages(ctx context.Context, itemID uint, afterSeq uint64) ([]models.Message, error) {
	path := fmt.Sprintf("/api/items/%d/messages?after=%d", itemID, afterSeq)
	msgs := []models.Message{}
	if err := c.call(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// PostMessage sends text to the item's discussion. The server authors it from
// the session.
func (c *Client) PostMessage(ctx context.Context, itemID uint, _ models.Identity, text string) (*models.Message, error) {
	var msg models.Message
	path := fmt.Sprintf("/api/items/%d/messages", itemID)
	if err := c.call(ctx, http.MethodPost, path, map[string]string{"text": text}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// call sends an optional JSON body and decodes a JSON result into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return models.NewInternalError(err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, body, contentType, out)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return models.NewInternalError(err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s := c.Session(); s != nil {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.NewUnavailableError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.NewUnavailableError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return models.NewUnavailableError(fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

// decodeError rebuilds the server's error, falling back to the status code.
func decodeError(status int, raw []byte) error {
	var body models.ErrorResponse
	_ = json.Unmarshal(raw, &body)

	code := body.Code
	if code == "" {
		code = codeForStatus(status)
	}
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	appErr := &models.AppError{Code: code, Message: msg}
	if body.Details != "" {
		appErr.Err = errors.New(body.Details)
	}
	return appErr
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return models.CodeValidation
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return models.CodeUnauthorized
	case status == http.StatusNotFound:
		return models.CodeNotFound
	case status == http.StatusTooManyRequests, status >= 502:
		return models.CodeUnavailable
	default:
		return models.CodeInternal
	}
}

func multipartItem(in models.NewItem) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"type", in.Type},
		{"title", in.Title},
		{"description", in.Description},
		{"location", in.Location},
		{"contact_name", in.ContactName},
		{"contact_phone", in.ContactPhone},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	filename := in.Image.Filename
	if filename == "" {
		filename = "image"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	ct := in.Image.ContentType
	if ct == "" {
		ct = http.DetectContentType(in.Image.Content)
	}
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(in.Image.Content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
