package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/jyakam/proventas/channel"
)

type fakeProvider struct {
	to   []string
	text []string
}

func (f *fakeProvider) SendText(ctx context.Context, to, text string) error {
	f.to = append(f.to, to)
	f.text = append(f.text, text)
	return nil
}

func (f *fakeProvider) SendMedia(ctx context.Context, to, url, caption string) error { return nil }
func (f *fakeProvider) SendPresence(ctx context.Context, to, state string) error     { return nil }
func (f *fakeProvider) SaveAttachment(ctx context.Context, ev channel.Event) (string, error) {
	return "", nil
}

func TestEscalateSendsOneMessageToAdvisor(t *testing.T) {
	p := &fakeProvider{}
	a, err := NewChannelAdvisor(p, "573009998877", nil)
	if err != nil {
		t.Fatalf("NewChannelAdvisor() error = %v", err)
	}

	if err := a.Escalate(context.Background(), "Maria", "573001112233", "¿tienen envío a Cali?"); err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if len(p.to) != 1 || p.to[0] != "573009998877" {
		t.Fatalf("sent to %v, want one message to the advisor", p.to)
	}
	for _, want := range []string{"Maria", "573001112233", "¿tienen envío a Cali?"} {
		if !strings.Contains(p.text[0], want) {
			t.Fatalf("message %q missing %q", p.text[0], want)
		}
	}
}

func TestEscalateDefaultsUnknownName(t *testing.T) {
	p := &fakeProvider{}
	a, _ := NewChannelAdvisor(p, "99", nil)

	if err := a.Escalate(context.Background(), "  ", "1", "ayuda"); err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if !strings.Contains(p.text[0], UnknownCustomer) {
		t.Fatalf("message %q missing %q", p.text[0], UnknownCustomer)
	}
}
