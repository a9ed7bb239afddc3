package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Notifier is the live execution-status feed, adapted from the teacher's
// orphaned internal/infrastructure/websocket package (hub.go/client.go/
// auth.go/handler.go — present in the retrieval pack but never imported by
// the teacher's own cmd/server/main.go). It is repurposed here from a
// general pub/sub hub into a single-purpose per-execution status feed:
// one upgraded connection per `/v1/executions/{id}/feed` request, auth'd by
// a golang-jwt bearer token, receiving JSON status events pushed by
// Publish.
type Notifier struct {
	upgrader  websocket.Upgrader
	jwtSecret []byte
	log       zerolog.Logger

	mu   sync.Mutex
	subs map[string][]chan StatusEvent
}

// NewNotifier builds a Notifier. An empty jwtSecret disables auth (useful
// for local/dev and for tests), matching the teacher's optional-auth
// handler construction.
func NewNotifier(jwtSecret string, log zerolog.Logger) *Notifier {
	return &Notifier{
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
		jwtSecret: []byte(jwtSecret),
		log:       log.With().Str("component", "feed").Logger(),
		subs:      make(map[string][]chan StatusEvent),
	}
}

// StatusEvent is pushed to subscribers of an execution's feed.
type StatusEvent struct {
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id,omitempty"`
	Status      string `json:"status"`
	At          string `json:"at"`
}

// Publish fans out event to every live subscriber of its execution.
func (n *Notifier) Publish(event StatusEvent) {
	n.mu.Lock()
	subs := append([]chan StatusEvent(nil), n.subs[event.ExecutionID]...)
	n.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// slow subscriber: drop rather than block the publisher,
			// matching the teacher's hub non-blocking send.
		}
	}
}

// PublishStatus builds a StatusEvent stamped with the current time and
// publishes it — the convenience entry point used by internal/worker via
// the worker.StatusPublisher interface, keeping that package free of an
// import on internal/api.
func (n *Notifier) PublishStatus(executionID, stepID, status string) {
	n.Publish(StatusEvent{
		ExecutionID: executionID,
		StepID:      stepID,
		Status:      status,
		At:          time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// HandleFeed upgrades the connection and streams StatusEvents for the
// execution named by the path's {id} until the client disconnects.
func (n *Notifier) HandleFeed(w http.ResponseWriter, r *http.Request) {
	if len(n.jwtSecret) > 0 {
		if !n.checkAuth(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	executionID := r.PathValue("id")

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := make(chan StatusEvent, 16)
	n.subscribe(executionID, ch)
	defer n.unsubscribe(executionID, ch)

	for event := range ch {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

func (n *Notifier) subscribe(executionID string, ch chan StatusEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs[executionID] = append(n.subs[executionID], ch)
}

func (n *Notifier) unsubscribe(executionID string, ch chan StatusEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	subs := n.subs[executionID]
	for i, c := range subs {
		if c == ch {
			n.subs[executionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (n *Notifier) checkAuth(r *http.Request) bool {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
			tokenStr = auth[len(prefix):]
		}
	}
	if tokenStr == "" {
		return false
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		return n.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	return err == nil && token.Valid
}
