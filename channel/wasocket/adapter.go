// Package wasocket implements channel.Provider over the vendor's WhatsApp
// websocket gateway. The gateway speaks JSON frames; media payloads are
// fetched on demand and persisted through fsstore.
package wasocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jyakam/proventas/channel"
	"github.com/jyakam/proventas/internal/fsstore"
)

// Frame types of the gateway protocol.
const (
	frameMessage    = "message"
	frameSendText   = "send_text"
	frameSendMedia  = "send_media"
	framePresence   = "presence"
	frameFetchMedia = "fetch_media"
	frameMedia      = "media"
)

type frame struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	To       string `json:"to,omitempty"`
	From     string `json:"from,omitempty"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Caption  string `json:"caption,omitempty"`
	State    string `json:"state,omitempty"`
	PushName string `json:"push_name,omitempty"`
	MediaID  string `json:"media_id,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Ext      string `json:"ext,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
}

var ErrNotConnected = errors.New("wasocket: not connected")

type Config struct {
	URL   string
	Token string

	Media   *fsstore.MediaStore
	Handler channel.Handler
	Logger  *slog.Logger

	// RequestTimeout bounds media fetches. Defaults to 30s.
	RequestTimeout time.Duration
}

// Adapter is the gateway connection. Outbound writes are serialized by a
// mutex (the websocket allows one concurrent writer); inbound events are
// dispatched to per-sender workers so one conversation's handler calls never
// interleave.
type Adapter struct {
	url            string
	token          string
	media          *fsstore.MediaStore
	handler        channel.Handler
	logger         *slog.Logger
	requestTimeout time.Duration

	writeMu sync.Mutex
	conn    *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan frame

	workersMu sync.Mutex
	workers   map[string]chan channel.Event
	closed    bool
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("wasocket: gateway url required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("wasocket: handler required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Adapter{
		url:            strings.TrimSpace(cfg.URL),
		token:          strings.TrimSpace(cfg.Token),
		media:          cfg.Media,
		handler:        cfg.Handler,
		logger:         cfg.Logger,
		requestTimeout: cfg.RequestTimeout,
		pending:        make(map[string]chan frame),
		workers:        make(map[string]chan channel.Event),
	}, nil
}

// Run connects to the gateway and consumes frames until ctx is canceled,
// reconnecting with a short pause after any connection loss.
func (a *Adapter) Run(ctx context.Context) error {
	defer a.shutdownWorkers()
	for {
		if ctx.Err() != nil {
			a.logger.Info("wasocket_stop", "reason", "context_canceled")
			return nil
		}
		conn, err := a.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Warn("wasocket_connect_error", "error", err.Error())
			if err := sleepWithContext(ctx, 2*time.Second); err != nil {
				return nil
			}
			continue
		}
		a.setConn(conn)
		a.logger.Info("wasocket_connected", "url", a.url)

		readErr := a.consume(ctx, conn)
		a.setConn(nil)
		_ = conn.Close()
		if readErr != nil && !errors.Is(readErr, context.Canceled) {
			a.logger.Warn("wasocket_read_error", "error", readErr.Error())
		}
	}
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	var header http.Header
	if a.token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + a.token}}
	}
	conn, _, err := dialer.DialContext(ctx, a.url, header)
	if err != nil {
		return nil, fmt.Errorf("wasocket: dial %s: %w", a.url, err)
	}
	return conn, nil
}

func (a *Adapter) consume(ctx context.Context, conn *websocket.Conn) error {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Type {
		case frameMessage:
			a.dispatch(ctx, f)
		case frameMedia:
			a.deliverPending(f)
		default:
			a.logger.Debug("wasocket_frame_ignored", "type", f.Type)
		}
	}
}

// dispatch hands the event to the sender's worker, creating it lazily. Each
// worker drains its own queue so the dialog engine sees one conversation's
// messages strictly in order.
func (a *Adapter) dispatch(ctx context.Context, f frame) {
	if strings.TrimSpace(f.From) == "" {
		a.logger.Warn("wasocket_message_dropped", "reason", "missing sender")
		return
	}
	ev := channel.Event{From: f.From, Body: f.Text, PushName: f.PushName}
	if f.MediaID != "" {
		ev.Attachment = &channel.Attachment{
			Kind:    channel.AttachmentKind(f.Kind),
			MediaID: f.MediaID,
			Caption: f.Caption,
		}
	}

	a.workersMu.Lock()
	if a.closed {
		a.workersMu.Unlock()
		return
	}
	jobs, ok := a.workers[f.From]
	if !ok {
		jobs = make(chan channel.Event, 16)
		a.workers[f.From] = jobs
		go func() {
			for ev := range jobs {
				a.handler(ctx, ev)
			}
		}()
	}
	a.workersMu.Unlock()

	select {
	case jobs <- ev:
	default:
		a.logger.Warn("wasocket_worker_overflow", "from", f.From)
	}
}

func (a *Adapter) shutdownWorkers() {
	a.workersMu.Lock()
	defer a.workersMu.Unlock()
	a.closed = true
	for from, jobs := range a.workers {
		close(jobs)
		delete(a.workers, from)
	}
}

func (a *Adapter) SendText(ctx context.Context, to, text string) error {
	return a.writeFrame(frame{Type: frameSendText, ID: uuid.NewString(), To: to, Text: text})
}

func (a *Adapter) SendMedia(ctx context.Context, to, url, caption string) error {
	return a.writeFrame(frame{Type: frameSendMedia, ID: uuid.NewString(), To: to, URL: url, Caption: caption})
}

func (a *Adapter) SendPresence(ctx context.Context, to, state string) error {
	return a.writeFrame(frame{Type: framePresence, To: to, State: state})
}

// SaveAttachment fetches the event's media payload from the gateway and
// persists it locally, returning the file path.
func (a *Adapter) SaveAttachment(ctx context.Context, ev channel.Event) (string, error) {
	if ev.Attachment == nil {
		return "", errors.New("wasocket: event has no attachment")
	}
	if a.media == nil {
		return "", errors.New("wasocket: media store not configured")
	}

	id := uuid.NewString()
	reply := make(chan frame, 1)
	a.pendingMu.Lock()
	a.pending[id] = reply
	a.pendingMu.Unlock()
	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
	}()

	if err := a.writeFrame(frame{Type: frameFetchMedia, ID: id, MediaID: ev.Attachment.MediaID}); err != nil {
		return "", err
	}

	timeout := time.NewTimer(a.requestTimeout)
	defer timeout.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timeout.C:
		return "", fmt.Errorf("wasocket: media fetch %s timed out", ev.Attachment.MediaID)
	case f := <-reply:
		if f.Error != "" {
			return "", fmt.Errorf("wasocket: media fetch %s: %s", ev.Attachment.MediaID, f.Error)
		}
		return a.media.Save(ev.From, string(ev.Attachment.Kind), f.Ext, f.Data)
	}
}

func (a *Adapter) deliverPending(f frame) {
	a.pendingMu.Lock()
	reply, ok := a.pending[f.ID]
	a.pendingMu.Unlock()
	if !ok {
		a.logger.Debug("wasocket_media_unclaimed", "id", f.ID)
		return
	}
	select {
	case reply <- f:
	default:
	}
}

func (a *Adapter) writeFrame(f frame) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.conn == nil {
		return ErrNotConnected
	}
	if err := a.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("wasocket: write %s frame: %w", f.Type, err)
	}
	return nil
}

func (a *Adapter) setConn(conn *websocket.Conn) {
	a.writeMu.Lock()
	a.conn = conn
	a.writeMu.Unlock()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
