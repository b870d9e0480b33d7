package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xyz-jphil/ccapis/internal/domain/entity"
	"github.com/xyz-jphil/ccapis/internal/domain/service"
	"github.com/xyz-jphil/ccapis/internal/infrastructure/txlog"
	apperrors "github.com/xyz-jphil/ccapis/pkg/errors"
)

// Options configures the upstream client. Zero timeouts fall back to the
// defaults below.
type Options struct {
	RequestTimeout time.Duration // plain JSON calls
	StreamTimeout  time.Duration // completion calls, covering the whole stream
	UserAgent      string
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultStreamTimeout  = 5 * time.Minute
)

// Client performs stateless HTTP operations against the upstream
// conversation API, authenticating each call with the credential's browser
// session cookie. Completion calls can be captured into a transaction log.
type Client struct {
	request   *http.Client
	streaming *http.Client
	userAgent string
	logger    *zap.Logger
}

var _ service.UsageFetcher = (*Client)(nil)

// NewClient builds a client with a shared connection pool. Two http.Clients
// ride on one transport: a short-deadline one for JSON calls and a
// long-deadline one for completion streams.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = defaultStreamTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		// Streaming responses may hold headers until the first token.
		ResponseHeaderTimeout: opts.StreamTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	return &Client{
		request: &http.Client{
			Transport: transport,
			Timeout:   opts.RequestTimeout,
		},
		streaming: &http.Client{
			Transport: transport,
			Timeout:   opts.StreamTimeout,
		},
		userAgent: opts.UserAgent,
		logger:    logger.With(zap.String("component", "upstream")),
	}
}

// setHeaders attaches the per-credential session cookie and the browser
// identity upstream expects. Origin and Referer mirror the base URL.
func (c *Client) setHeaders(req *http.Request, cred *entity.Credential) {
	req.Header.Set("Cookie", "sessionKey="+cred.SessionKey())
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Origin", cred.BaseURL())
	req.Header.Set("Referer", cred.BaseURL())
	req.Header.Set("Accept", "*/*")
}

// FetchUsage retrieves the credential's quota windows.
func (c *Client) FetchUsage(ctx context.Context, cred *entity.Credential) (*entity.UsageSnapshot, error) {
	url := fmt.Sprintf("%s/api/organizations/%s/usage", cred.BaseURL(), cred.OrgID())

	var raw map[string]json.RawMessage
	if err := c.doJSON(ctx, cred, "fetch_usage", http.MethodGet, url, nil, &raw); err != nil {
		return nil, err
	}

	snapshot := &entity.UsageSnapshot{
		Windows:   make(map[string]entity.WindowUsage, len(raw)),
		FetchedAt: time.Now(),
	}
	for name, payload := range raw {
		var w windowPayload
		if err := json.Unmarshal(payload, &w); err != nil {
			// Not a window object; upstream mixes in other keys.
			continue
		}
		window := entity.WindowUsage{Utilization: w.Utilization}
		if w.ResetsAt != "" {
			if t, err := time.Parse(time.RFC3339, w.ResetsAt); err == nil {
				window.ResetsAt = t
			} else {
				c.logger.Debug("Unparseable resets_at",
					zap.String("credential", cred.ID()),
					zap.String("window", name),
					zap.String("resets_at", w.ResetsAt),
				)
			}
		}
		snapshot.Windows[name] = window
	}
	return snapshot, nil
}

// ListConversations returns the credential's conversation metadata. Also
// serves as a cheap liveness probe for startup validation and pinging.
func (c *Client) ListConversations(ctx context.Context, cred *entity.Credential) ([]Conversation, error) {
	url := fmt.Sprintf("%s/api/organizations/%s/chat_conversations", cred.BaseURL(), cred.OrgID())

	var conversations []Conversation
	if err := c.doJSON(ctx, cred, "list_conversations", http.MethodGet, url, nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// CreateConversation opens a fresh upstream conversation. The credential's
// opaque conversation settings are merged into the request body without
// overriding the reserved keys.
func (c *Client) CreateConversation(ctx context.Context, cred *entity.Credential, name string, temporary bool) (*Conversation, error) {
	url := fmt.Sprintf("%s/api/organizations/%s/chat_conversations", cred.BaseURL(), cred.OrgID())

	body := map[string]interface{}{
		"uuid":                             uuid.NewString(),
		"name":                             name,
		"is_temporary":                     temporary,
		"include_conversation_preferences": true,
	}
	for k, v := range cred.ConversationSettings() {
		if _, reserved := body[k]; reserved {
			continue
		}
		body[k] = v
	}

	var conversation Conversation
	if err := c.doJSON(ctx, cred, "create_conversation", http.MethodPost, url, body, &conversation); err != nil {
		return nil, err
	}
	if conversation.UUID == "" {
		// Some deployments omit the echo; the uuid we sent is authoritative.
		conversation.UUID = body["uuid"].(string)
	}
	return &conversation, nil
}

// Complete sends a completion request and buffers the whole stream, returning
// the concatenated text. tx may be nil.
func (c *Client) Complete(ctx context.Context, cred *entity.Credential, conversationUUID, prompt string, tx *txlog.Transaction) (*CompletionResult, error) {
	return c.complete(ctx, cred, conversationUUID, prompt, nil, tx)
}

// StreamComplete sends a completion request and forwards every text delta to
// deltaCh as it arrives. The final result still carries the full text. The
// caller owns deltaCh and closes it after this returns. tx may be nil.
func (c *Client) StreamComplete(ctx context.Context, cred *entity.Credential, conversationUUID, prompt string, deltaCh chan<- StreamChunk, tx *txlog.Transaction) (*CompletionResult, error) {
	return c.complete(ctx, cred, conversationUUID, prompt, deltaCh, tx)
}

func (c *Client) complete(ctx context.Context, cred *entity.Credential, conversationUUID, prompt string, deltaCh chan<- StreamChunk, tx *txlog.Transaction) (*CompletionResult, error) {
	tx.SetMeta("credential_id", cred.ID())
	tx.SetMeta("conversation_uuid", conversationUUID)
	tx.SetMeta("prompt_chars", strconv.Itoa(len(prompt)))

	payload, err := json.Marshal(completionRequest{Prompt: prompt, Timezone: "UTC"})
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("encoding completion request", err)
	}

	url := fmt.Sprintf("%s/api/organizations/%s/chat_conversations/%s/completion",
		cred.BaseURL(), cred.OrgID(), conversationUUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("building completion request", err)
	}
	c.setHeaders(req, cred)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	tx.RecordRequest(req.Method, req.URL.String(), req.Header, payload)

	resp, err := c.streaming.Do(req)
	if err != nil {
		appErr := apperrors.NewUpstreamTransportError("completion", err)
		tx.Fail(appErr)
		return nil, appErr
	}
	defer resp.Body.Close()
	tx.RecordResponse(resp.Status, resp.Header)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		appErr := apperrors.NewUpstreamStatusError("completion", resp.StatusCode, string(body))
		tx.Fail(appErr)
		return nil, appErr
	}

	// Watchdog: a context cancel force-closes the body so the scanner
	// unblocks even when no bytes are arriving.
	streamDone := make(chan struct{})
	defer close(streamDone)
	go func() {
		select {
		case <-ctx.Done():
			resp.Body.Close()
		case <-streamDone:
		}
	}()

	var reader io.Reader = resp.Body
	if w := tx.ResponseBodyWriter(); w != nil {
		reader = io.TeeReader(resp.Body, w)
	}

	result, err := ParseCompletionStream(ctx, reader, deltaCh, c.logger)
	if err != nil {
		tx.Fail(err)
		return result, err
	}
	tx.SetMeta("completion_chars", strconv.Itoa(len(result.Text)))
	return result, nil
}

// doJSON performs a JSON request on the short-deadline client and decodes
// the 2xx response into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, cred *entity.Credential, operation, method, url string, reqBody, out interface{}) error {
	var payload []byte
	var body io.Reader
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return apperrors.NewInternalErrorWithCause("encoding "+operation+" request", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("building "+operation+" request", err)
	}
	c.setHeaders(req, cred)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.request.Do(req)
	if err != nil {
		return apperrors.NewUpstreamTransportError(operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewUpstreamBodyError(operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewUpstreamStatusError(operation, resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperrors.NewUpstreamBodyError(operation, err)
		}
	}
	return nil
}
