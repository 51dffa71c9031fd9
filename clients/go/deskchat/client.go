// Package deskchat provides a client for the deskchat support chat API.
package deskchat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// SessionCookie is the name of the server's session cookie.
const SessionCookie = "deskchat_session"

// Roles accepted by Login.
const (
	RoleClient  = "client"
	RoleAnalyst = "analyst"
)

// ErrNotLoggedIn is returned by calls that need a saved session.
var ErrNotLoggedIn = errors.New("not logged in")

// Client is a deskchat API client. The login session is kept in ConfigDir
// so consecutive CLI invocations share it.
type Client struct {
	BaseURL    string
	ConfigDir  string
	HTTPClient *http.Client

	session *Session
}

// Session is the persisted login.
type Session struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
}

// APIError is a non-2xx response. Code is the broker result code, if any.
type APIError struct {
	Status  int
	Message string
	Code    int
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("deskchat error %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("deskchat error %d: %s", e.Status, e.Message)
}

// NewClient creates a new client and loads any saved session.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("DESKCHAT_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".deskchat")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadSession()
	return c
}

// Session returns the saved session, or nil.
func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) sessionFile() string {
	return filepath.Join(c.ConfigDir, "session.json")
}

// LoadSession loads the saved session from disk.
func (c *Client) LoadSession() error {
	data, err := os.ReadFile(c.sessionFile())
	if err != nil {
		return err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.session = &s
	return nil
}

// SaveSession writes the session to disk.
func (c *Client) SaveSession(s *Session) error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(s, "", "  ")
	if err := os.WriteFile(c.sessionFile(), data, 0600); err != nil {
		return err
	}
	c.session = s
	return nil
}

// ClearSession forgets the saved session.
func (c *Client) ClearSession() error {
	c.session = nil
	if err := os.Remove(c.sessionFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// doRequest performs an HTTP request, decoding the JSON response into out
// when out is non-nil.
func (c *Client) doRequest(method, path string, body, out interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != nil {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: c.session.ID})
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Code  int    `json:"code"`
		}
		json.Unmarshal(respBody, &errResp)
		return resp, &APIError{Status: resp.StatusCode, Message: errResp.Error, Code: errResp.Code}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookie {
			return cookie
		}
	}
	return nil
}

// LoginResponse is the response from a login.
type LoginResponse struct {
	Message string `json:"message"`
	Room    string `json:"room,omitempty"`
}

// Login logs in as role and saves the session. A client gets its room id
// back.
func (c *Client) Login(role, nickname string) (*LoginResponse, error) {
	var out LoginResponse
	resp, err := c.doRequest("POST", "/"+role+"/login", map[string]string{"nickname": nickname}, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && role == RoleClient {
			// The server dropped the session with the failed login.
			_ = c.ClearSession()
		}
		return nil, err
	}

	cookie := sessionCookie(resp)
	if cookie == nil || cookie.Value == "" {
		return nil, errors.New("server did not issue a session")
	}
	if err := c.SaveSession(&Session{ID: cookie.Value, Nickname: nickname, Role: role}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout logs out the saved session. Analysts cannot log out while any of
// their chats is open.
func (c *Client) Logout() (*LoginResponse, error) {
	if c.session == nil {
		return nil, ErrNotLoggedIn
	}

	var out LoginResponse
	if _, err := c.doRequest("POST", "/"+c.session.Role+"/logout", nil, &out); err != nil {
		return nil, err
	}
	if err := c.ClearSession(); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendRequest is the request body for sending a message.
type SendRequest struct {
	Message string `json:"message"`
	To      string `json:"to,omitempty"`
}

// Send sends a message into the caller's room. Analysts must name the
// client in to.
func (c *Client) Send(message, to string) (*LoginResponse, error) {
	var out LoginResponse
	if _, err := c.doRequest("POST", "/send_msg", SendRequest{Message: message, To: to}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Message is a chat message read back from a room.
type Message struct {
	RoomID    string `json:"room_id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"ts"`
}

// Messages returns the history of every room the caller is in, keyed by
// room id.
func (c *Client) Messages() (map[string][]Message, error) {
	var out map[string][]Message
	if _, err := c.doRequest("GET", "/get_messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Pop returns and clears the history of every room the caller is in.
func (c *Client) Pop() (map[string][]Message, error) {
	var out map[string][]Message
	if _, err := c.doRequest("GET", "/pop_messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Identity is the caller as the server sees it.
type Identity struct {
	Nickname string `json:"nickname"`
	Role     string `json:"user_type"`
}

// Me returns the server's view of the session, or nil when it has none.
func (c *Client) Me() (*Identity, error) {
	var out *Identity
	if _, err := c.doRequest("GET", "/me", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Checks  map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var out HealthResponse
	if _, err := c.doRequest("GET", "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transcript is an archived chat.
type Transcript struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"room_id"`
	Analyst  string    `json:"analyst"`
	Client   string    `json:"client"`
	ClosedAt time.Time `json:"closed_at"`
	Messages []Message `json:"messages"`
}

// Transcripts lists the calling analyst's archived chats, newest first.
func (c *Client) Transcripts(limit int) ([]Transcript, error) {
	path := "/transcripts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var out struct {
		Transcripts []Transcript `json:"transcripts"`
	}
	if _, err := c.doRequest("GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out.Transcripts, nil
}
