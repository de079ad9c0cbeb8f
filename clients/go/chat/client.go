// Package chat provides a client for the realtime chat server: the REST
// surface over plain HTTP and the websocket protocol for live messaging.
package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client talks to a chat server. Zero value is not usable; call NewClient.
type Client struct {
	BaseURL    string
	UserID     string
	HTTPClient *http.Client

	conn *websocket.Conn
}

// NewClient creates a new chat client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second, Jar: jar},
	}
}

// Frame mirrors the server's wire envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is the server's message shape.
type Message struct {
	ID          string `json:"id"`
	ClientMsgID string `json:"clientMsgId"`
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	Seq         int64  `json:"seq"`
	Text        string `json:"text"`
}

// Signup registers (or re-registers) the user id and keeps the auth
// cookie for subsequent REST calls.
func (c *Client) Signup(userID string) error {
	if err := c.postJSON("/auth/signup", map[string]string{"userId": userID}, nil); err != nil {
		return err
	}
	c.UserID = userID
	return nil
}

// CreateRoom creates a channel owned by the logged-in user.
func (c *Client) CreateRoom(roomID string) error {
	return c.postJSON("/social/rooms", map[string]string{"roomId": roomID}, nil)
}

// Connect dials the websocket endpoint and binds the user identity.
func (c *Client) Connect() error {
	if c.UserID == "" {
		return fmt.Errorf("sign up before connecting")
	}

	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return err
	}
	c.conn = conn

	return c.writeFrame("identify", map[string]string{"userId": c.UserID})
}

// Close drops the websocket connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// JoinRoom subscribes to a room's broadcasts.
func (c *Client) JoinRoom(roomID string) error {
	return c.writeFrame("join_room", map[string]string{"roomId": roomID})
}

// Send submits a message with a fresh idempotency token and returns the
// token so the caller can match the ack.
func (c *Client) Send(roomID, text string) (string, error) {
	clientMsgID := uuid.NewString()
	err := c.writeFrame("send_message", map[string]string{
		"roomId":       roomID,
		"text":         text,
		"clientMsgId":  clientMsgID,
		"sentAtClient": time.Now().UTC().Format(time.RFC3339Nano),
	})
	return clientMsgID, err
}

// Resync requests all messages above the given sequence cursor.
func (c *Client) Resync(roomID string, afterSeq int64) error {
	return c.writeFrame("resync", map[string]any{
		"roomId":   roomID,
		"afterSeq": afterSeq,
	})
}

// ReadFrame blocks for the next server frame.
func (c *Client) ReadFrame() (*Frame, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	var frame Frame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func (c *Client) writeFrame(event string, payload any) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.conn.WriteJSON(Frame{Event: event, Data: data})
}

func (c *Client) postJSON(path string, body any, into any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Post(c.BaseURL+path, "application/json", strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s: %s", path, apiErr.Error)
		}
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}

	if into != nil {
		return json.NewDecoder(resp.Body).Decode(into)
	}
	return nil
}

