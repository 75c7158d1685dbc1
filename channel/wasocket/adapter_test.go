package wasocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jyakam/proventas/channel"
	"github.com/jyakam/proventas/internal/fsstore"
)

// fakeGateway upgrades one websocket connection and scripts the vendor side
// of the protocol.
type fakeGateway struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received []frame
}

func (g *fakeGateway) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.t.Errorf("upgrade: %v", err)
		return
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		g.mu.Lock()
		g.received = append(g.received, f)
		g.mu.Unlock()

		// Answer media fetches with a tiny payload.
		if f.Type == frameFetchMedia {
			_ = conn.WriteJSON(frame{Type: frameMedia, ID: f.ID, Ext: "jpg", Data: []byte{0xFF, 0xD8}})
		}
	}
}

func (g *fakeGateway) push(f frame) {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		g.t.Fatal("gateway has no connection yet")
	}
	if err := conn.WriteJSON(f); err != nil {
		g.t.Errorf("push: %v", err)
	}
}

func (g *fakeGateway) frames() []frame {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]frame(nil), g.received...)
}

func startAdapter(t *testing.T, handler channel.Handler) (*Adapter, *fakeGateway) {
	t.Helper()
	gw := &fakeGateway{t: t}
	srv := httptest.NewServer(http.HandlerFunc(gw.handler))
	t.Cleanup(srv.Close)

	media, err := fsstore.NewMediaStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	adapter, err := New(Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:          "secret",
		Media:          media,
		Handler:        handler,
		RequestTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = adapter.Run(ctx) }()

	waitFor(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return gw.conn != nil
	})
	return adapter, gw
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestInboundMessageReachesHandler(t *testing.T) {
	var mu sync.Mutex
	var events []channel.Event
	_, gw := startAdapter(t, func(ctx context.Context, ev channel.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	gw.push(frame{Type: frameMessage, From: "573001112233", Text: "hola", PushName: "Maria"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if events[0].From != "573001112233" || events[0].Body != "hola" || events[0].PushName != "Maria" {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestSendTextWritesFrame(t *testing.T) {
	adapter, gw := startAdapter(t, func(ctx context.Context, ev channel.Event) {})

	if err := adapter.SendText(context.Background(), "1", "hola"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	waitFor(t, func() bool { return len(gw.frames()) == 1 })
	f := gw.frames()[0]
	if f.Type != frameSendText || f.To != "1" || f.Text != "hola" || f.ID == "" {
		t.Fatalf("frame = %+v", f)
	}
}

func TestSaveAttachmentFetchesMedia(t *testing.T) {
	adapter, _ := startAdapter(t, func(ctx context.Context, ev channel.Event) {})

	path, err := adapter.SaveAttachment(context.Background(), channel.Event{
		From:       "573001112233",
		Attachment: &channel.Attachment{Kind: channel.KindImage, MediaID: "m-1"},
	})
	if err != nil {
		t.Fatalf("SaveAttachment() error = %v", err)
	}
	if !strings.HasSuffix(path, ".jpg") {
		t.Fatalf("path = %q, want .jpg suffix", path)
	}
}

func TestSaveAttachmentWithoutAttachmentFails(t *testing.T) {
	adapter, _ := startAdapter(t, func(ctx context.Context, ev channel.Event) {})
	if _, err := adapter.SaveAttachment(context.Background(), channel.Event{From: "1"}); err == nil {
		t.Fatal("SaveAttachment() error = nil, want error")
	}
}

func TestWriteWithoutConnectionFails(t *testing.T) {
	adapter, err := New(Config{URL: "ws://127.0.0.1:1", Handler: func(ctx context.Context, ev channel.Event) {}})
	if err != nil {
		t.Fatal(err)
	}
	if err := adapter.SendText(context.Background(), "1", "hola"); err != ErrNotConnected {
		t.Fatalf("SendText() error = %v, want ErrNotConnected", err)
	}
}

func TestMessagesFromSameSenderStayOrdered(t *testing.T) {
	var mu sync.Mutex
	var got []string
	_, gw := startAdapter(t, func(ctx context.Context, ev channel.Event) {
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		got = append(got, ev.Body)
		mu.Unlock()
	})

	for _, body := range []string{"uno", "dos", "tres"} {
		gw.push(frame{Type: frameMessage, From: "1", Text: body})
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0] != "uno" || got[1] != "dos" || got[2] != "tres" {
		t.Fatalf("order = %v", got)
	}
}
