package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/models"
)

const (
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
	readTimeout       = 70 * time.Second
)

// phoenixMessage is the Supabase realtime wire envelope.
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type changePayload struct {
	Data struct {
		Type   string                 `json:"type"`
		Record map[string]interface{} `json:"record"`
	} `json:"data"`
}

// WebsocketSource streams postgres change events for one table from the
// Supabase realtime endpoint.
type WebsocketSource struct {
	projectURL  string
	apiKey      string
	schema      string
	table       string
	dialTimeout time.Duration
	logger      *zap.Logger

	conn     *websocket.Conn
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewWebsocketSource(projectURL, apiKey, schema, table string, dialTimeout time.Duration, logger *zap.Logger) *WebsocketSource {
	return &WebsocketSource{
		projectURL:  projectURL,
		apiKey:      apiKey,
		schema:      schema,
		table:       table,
		dialTimeout: dialTimeout,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

func (w *WebsocketSource) Subscribe(ctx context.Context) (<-chan models.ChatMessageEvent, <-chan error, error) {
	endpoint, err := w.endpoint()
	if err != nil {
		return nil, nil, fmt.Errorf("building realtime endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: w.dialTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing realtime endpoint: %w", err)
	}
	w.conn = conn

	if err := w.join(); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("joining realtime channel: %w", err)
	}

	events := make(chan models.ChatMessageEvent, 64)
	errs := make(chan error, 1)

	w.wg.Add(2)
	go w.readLoop(events, errs)
	go w.heartbeatLoop()

	w.logger.Info("Realtime channel joined",
		zap.String("table", w.table))

	return events, errs, nil
}

func (w *WebsocketSource) endpoint() (string, error) {
	u, err := url.Parse(w.projectURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", w.apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (w *WebsocketSource) topic() string {
	return "realtime:" + w.schema + ":" + w.table
}

func (w *WebsocketSource) join() error {
	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"postgres_changes": []map[string]string{
				{"event": "*", "schema": w.schema, "table": w.table},
			},
		},
	}
	return w.send("phx_join", payload, "1")
}

func (w *WebsocketSource) send(event string, payload interface{}, ref string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := phoenixMessage{
		Topic:   w.topic(),
		Event:   event,
		Payload: raw,
		Ref:     ref,
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(msg)
}

func (w *WebsocketSource) readLoop(events chan<- models.ChatMessageEvent, errs chan<- error) {
	defer w.wg.Done()
	defer close(events)

	for {
		if err := w.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			w.reportError(errs, err)
			return
		}

		var msg phoenixMessage
		if err := w.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("Realtime connection lost", zap.Error(err))
			}
			w.reportError(errs, err)
			return
		}

		switch msg.Event {
		case "postgres_changes", "INSERT", "UPDATE", "DELETE":
			if ev, ok := w.parseChange(msg); ok {
				select {
				case events <- ev:
				case <-w.stopChan:
					return
				}
			}
		case "phx_error":
			w.reportError(errs, fmt.Errorf("realtime channel error on %s", msg.Topic))
			return
		}
	}
}

// reportError delivers the first terminal error; a stopped source swallows
// it because teardown already decided the outcome.
func (w *WebsocketSource) reportError(errs chan<- error, err error) {
	select {
	case <-w.stopChan:
	default:
		select {
		case errs <- err:
		default:
		}
	}
}

func (w *WebsocketSource) parseChange(msg phoenixMessage) (models.ChatMessageEvent, bool) {
	var payload changePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		w.logger.Debug("Unparseable change payload", zap.Error(err))
		return models.ChatMessageEvent{}, false
	}

	changeType := payload.Data.Type
	if changeType == "" {
		changeType = msg.Event
	}

	record := payload.Data.Record
	ev := models.ChatMessageEvent{
		Change:    models.ChangeType(strings.ToUpper(changeType)),
		MessageID: stringField(record, "id"),
		ClientID:  stringField(record, "client_id"),
		Direction: stringField(record, "direction"),
		Preview:   stringField(record, "message"),
	}
	if ts := stringField(record, "created_at"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			ev.CreatedAt = parsed
		}
	}

	switch ev.Change {
	case models.ChangeInsert, models.ChangeUpdate, models.ChangeDelete:
		return ev, true
	default:
		return models.ChatMessageEvent{}, false
	}
}

func stringField(record map[string]interface{}, key string) string {
	if record == nil {
		return ""
	}
	if v, ok := record[key].(string); ok {
		return v
	}
	return ""
}

func (w *WebsocketSource) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			msg := phoenixMessage{
				Topic:   "phoenix",
				Event:   "heartbeat",
				Payload: json.RawMessage(`{}`),
				Ref:     "hb",
			}
			if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := w.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-w.stopChan:
			return
		}
	}
}

func (w *WebsocketSource) Close() error {
	w.once.Do(func() { close(w.stopChan) })
	if w.conn != nil {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err := w.conn.Close()
		w.wg.Wait()
		return err
	}
	w.wg.Wait()
	return nil
}
