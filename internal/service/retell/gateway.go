package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrSessionInvalid means Retell no longer recognizes the chat handle.
	// The dispatcher recovers from this by recreating the session once.
	ErrSessionInvalid = errors.New("retell: chat session no longer valid")
	// ErrAgentNotFound means the configured agent id is unknown to Retell.
	ErrAgentNotFound = errors.New("retell: agent not found")
	// ErrBackendUnavailable covers transport failures and every other
	// non-success response.
	ErrBackendUnavailable = errors.New("retell: backend unavailable")
)

// FallbackReply is returned when a completed turn carries no usable agent
// content.
const FallbackReply = "The agent did not reply. Please try again."

const (
	defaultBaseURL = "https://api.retellai.com"
	requestTimeout = 30 * time.Second

	roleAgent = "agent"
)

// Client talks to the Retell chat-session API. It performs no retries;
// retry policy belongs to the relay dispatcher.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient builds a gateway against the given base URL (empty selects the
// public Retell endpoint).
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

type createSessionRequest struct {
	AgentID string `json:"agent_id"`
}

type createSessionResponse struct {
	ChatID string `json:"chat_id"`
}

type completionRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Messages []completionMessage `json:"messages"`
}

// StartConversation creates a fresh chat session for the agent and returns
// its handle.
func (c *Client) StartConversation(ctx context.Context, agentID string) (string, error) {
	status, body, err := c.post(ctx, "/v3/chat-session", createSessionRequest{AgentID: agentID})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if status < 200 || status >= 300 {
		if isUnknownAgent(status, body) {
			return "", fmt.Errorf("%w: status %d", ErrAgentNotFound, status)
		}
		return "", fmt.Errorf("%w: chat-session status %d", ErrBackendUnavailable, status)
	}

	var parsed createSessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: malformed chat-session response: %v", ErrBackendUnavailable, err)
	}
	if parsed.ChatID == "" {
		return "", fmt.Errorf("%w: chat-session response missing chat_id", ErrBackendUnavailable)
	}
	return parsed.ChatID, nil
}

// SendTurn posts one user message to an existing session and returns the
// most recent agent-authored reply. A response with no usable agent content
// yields FallbackReply rather than an error.
func (c *Client) SendTurn(ctx context.Context, handle, text string) (string, error) {
	status, body, err := c.post(ctx, "/v3/chat-completion", completionRequest{ChatID: handle, Message: text})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if status < 200 || status >= 300 {
		if isUnknownHandle(status, body) {
			return "", fmt.Errorf("%w: status %d", ErrSessionInvalid, status)
		}
		return "", fmt.Errorf("%w: chat-completion status %d", ErrBackendUnavailable, status)
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: malformed chat-completion response: %v", ErrBackendUnavailable, err)
	}

	for i := len(parsed.Messages) - 1; i >= 0; i-- {
		msg := parsed.Messages[i]
		if msg.Role == roleAgent && strings.TrimSpace(msg.Content) != "" {
			return msg.Content, nil
		}
	}
	return FallbackReply, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return res.StatusCode, body, nil
}

// isUnknownAgent classifies chat-session failures caused by a bad agent id.
func isUnknownAgent(status int, body []byte) bool {
	if status == http.StatusNotFound {
		return true
	}
	return status == http.StatusBadRequest && bytes.Contains(bytes.ToLower(body), []byte("agent"))
}

// isUnknownHandle classifies chat-completion failures caused by a stale or
// unknown chat handle; the only bad-request Retell raises on this call is a
// handle it does not recognize.
func isUnknownHandle(status int, body []byte) bool {
	if status == http.StatusNotFound {
		return true
	}
	return status == http.StatusBadRequest && bytes.Contains(bytes.ToLower(body), []byte("chat"))
}
