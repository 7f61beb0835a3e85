package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// GremlinMimeType is the serializer announced in every request frame
	GremlinMimeType = "application/vnd.gremlin-v3.0+json"

	// loadScript imports the document bound to graphmlFile
	loadScript = "g.io(graphmlFile).read().iterate()"

	gremlinWriteWait = 30 * time.Second

	statusSuccess        = 200
	statusNoContent      = 204
	statusPartialContent = 206
)

// Loader imports a GraphML document into a graph store
type Loader interface {
	Load(ctx context.Context, graphmlFile string) error
}

// ErrEmptyGraphDBURL is returned when a GremlinLoader has no endpoint
var ErrEmptyGraphDBURL = errors.New("graph database URL is empty")

// GremlinError is a non-success status returned by the server
type GremlinError struct {
	Code    int
	Message string
}

func (e *GremlinError) Error() string {
	return fmt.Sprintf("gremlin server returned status %d: %s", e.Code, e.Message)
}

// GremlinLoader submits a bulk GraphML import to a Gremlin Server over websocket.
// Each Load call uses its own connection.
type GremlinLoader struct {
	URL    string
	Dialer *websocket.Dialer
	// ReadTimeout bounds the wait for the import to finish. Zero leaves the
	// context as the only bound.
	ReadTimeout time.Duration
}

// NewGremlinLoader creates a loader for the given ws:// or wss:// endpoint
func NewGremlinLoader(url string) *GremlinLoader {
	return &GremlinLoader{URL: url, Dialer: websocket.DefaultDialer}
}

// GremlinRequest is a Gremlin Server eval request
type GremlinRequest struct {
	RequestID string      `json:"requestId"`
	Op        string      `json:"op"`
	Processor string      `json:"processor"`
	Args      GremlinArgs `json:"args"`
}

// GremlinArgs carries the script and its bindings
type GremlinArgs struct {
	Gremlin  string            `json:"gremlin"`
	Bindings map[string]string `json:"bindings"`
	Language string            `json:"language"`
	Aliases  map[string]string `json:"aliases,omitempty"`
}

type gremlinResponse struct {
	RequestID string `json:"requestId"`
	Status    struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
}

// NewLoadRequest builds the eval request that imports graphmlFile
func NewLoadRequest(graphmlFile string) GremlinRequest {
	return GremlinRequest{
		RequestID: uuid.NewString(),
		Op:        "eval",
		Processor: "",
		Args: GremlinArgs{
			Gremlin:  loadScript,
			Bindings: map[string]string{"graphmlFile": graphmlFile},
			Language: "gremlin-groovy",
			Aliases:  map[string]string{"g": "g"},
		},
	}
}

// EncodeFrame prefixes a JSON request with the mime type header Gremlin Server
// expects on binary frames
func EncodeFrame(req any) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 1+len(GremlinMimeType)+len(body))
	frame = append(frame, byte(len(GremlinMimeType)))
	frame = append(frame, GremlinMimeType...)
	return append(frame, body...), nil
}

// Load imports graphmlFile and waits for the server to finish
func (l *GremlinLoader) Load(ctx context.Context, graphmlFile string) error {
	if l.URL == "" {
		return ErrEmptyGraphDBURL
	}
	dialer := l.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, l.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to graph database: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the caller gives up
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	req := NewLoadRequest(graphmlFile)
	frame, err := EncodeFrame(req)
	if err != nil {
		return fmt.Errorf("failed to encode gremlin request: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(gremlinWriteWait)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send gremlin request: %w", err)
	}

	if l.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(l.ReadTimeout)); err != nil {
			return err
		}
	}

	for {
		var resp gremlinResponse
		if err := conn.ReadJSON(&resp); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read gremlin response: %w", err)
		}
		if resp.RequestID != "" && resp.RequestID != req.RequestID {
			continue
		}

		switch resp.Status.Code {
		case statusSuccess, statusNoContent:
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case statusPartialContent:
			continue
		default:
			return &GremlinError{Code: resp.Status.Code, Message: resp.Status.Message}
		}
	}
}
