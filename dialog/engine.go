// Package dialog runs the conversation: it classifies inbound events, asks
// the model, routes the control markers the model embeds in its replies, and
// finalizes conversations that went idle.
package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jyakam/proventas/channel"
	"github.com/jyakam/proventas/contacts"
	"github.com/jyakam/proventas/llm"
	"github.com/jyakam/proventas/notify"
	"github.com/jyakam/proventas/orders"
	"github.com/jyakam/proventas/session"
	"github.com/jyakam/proventas/session/idle"
)

// HelpAck is the fixed acknowledgement sent to the customer after an
// escalation. Nothing else is sent on that turn.
const HelpAck = "Un asesor se pondrá en contacto contigo en breve. 🙌"

// maxQueryIterations bounds the re-query loop: the first model call plus at
// most one repeat when the active prompt changed mid-turn.
const maxQueryIterations = 2

// summaryMinTurns is the history size a conversation must exceed before
// idle finalization bothers the model for a summary.
const summaryMinTurns = 3

// historyWindow caps how many turns are replayed to the model per query.
const historyWindow = 20

type EngineConfig struct {
	ModelName   string
	IdleTimeout time.Duration

	Provider channel.Provider
	Contacts *contacts.Service
	Sessions *session.Registry
	Timers   *idle.Timers
	Orders   *orders.Service
	Advisor  notify.Advisor
	Model    llm.Client
	KB       *KnowledgeBase
	Logger   *slog.Logger
}

type Engine struct {
	modelName   string
	idleTimeout time.Duration

	provider channel.Provider
	contacts *contacts.Service
	sessions *session.Registry
	timers   *idle.Timers
	orders   *orders.Service
	advisor  notify.Advisor
	model    llm.Client
	kb       *KnowledgeBase
	logger   *slog.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	switch {
	case cfg.Provider == nil:
		return nil, errors.New("dialog: provider required")
	case cfg.Contacts == nil:
		return nil, errors.New("dialog: contact service required")
	case cfg.Sessions == nil:
		return nil, errors.New("dialog: session registry required")
	case cfg.Timers == nil:
		return nil, errors.New("dialog: idle timers required")
	case cfg.Model == nil:
		return nil, errors.New("dialog: model client required")
	case cfg.KB == nil:
		return nil, errors.New("dialog: knowledge base required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		modelName:   cfg.ModelName,
		idleTimeout: cfg.IdleTimeout,
		provider:    cfg.Provider,
		contacts:    cfg.Contacts,
		sessions:    cfg.Sessions,
		timers:      cfg.Timers,
		orders:      cfg.Orders,
		advisor:     cfg.Advisor,
		model:       cfg.Model,
		kb:          cfg.KB,
		logger:      cfg.Logger,
	}, nil
}

// Handle processes one inbound event end to end. The wasocket adapter calls
// it serially per sender, so session state needs no locking here.
func (e *Engine) Handle(ctx context.Context, ev channel.Event) {
	phone := contacts.NormalizePhone(ev.From)
	if phone == "" {
		e.logger.Warn("dialog_event_dropped", "reason", "missing sender")
		return
	}

	st := e.sessions.Get(phone)
	welcome := len(st.History) == 0

	var contact contacts.Contact
	if welcome {
		var err error
		contact, err = e.contacts.Ensure(ctx, phone)
		if err != nil {
			e.logger.Error("dialog_contact_ensure_failed", "phone", phone, "error", err.Error())
		}
		e.logger.Info("conversation_started", "phone", phone)
	} else {
		e.contacts.Touch(ctx, phone)
		contact, _ = e.contacts.Lookup(ctx, phone)
	}

	text := e.inboundText(ctx, st, ev)
	st.AppendTurn(session.RoleCustomer, text)
	defer e.resetIdle(phone)

	e.captureContactData(ctx, phone, contact, text)

	// The mute flag outlives the session: a finalized conversation restarts
	// as a welcome turn, and a human-handled contact must stay human-handled.
	if contact.Telefono != "" && !contact.RespBot {
		e.logger.Info("dialog_bot_muted", "phone", phone)
		return
	}

	if err := e.provider.SendPresence(ctx, phone, channel.PresenceComposing); err != nil {
		e.logger.Debug("dialog_presence_failed", "phone", phone, "error", err.Error())
	}

	reply, markers, err := e.converse(ctx, st, contact)
	if err != nil {
		e.logger.Error("dialog_model_failed", "phone", phone, "error", err.Error())
		return
	}

	if HasTag(markers, TagRequestHelp) && !HasTag(markers, TagShowProducts) && !HasTag(markers, TagShowDetails) {
		e.escalate(ctx, st, contact, reply)
		return
	}

	if HasTag(markers, TagAddToCart) {
		e.cartPass(ctx, st)
	}

	if e.sendReply(ctx, st, reply) {
		e.advanceStep(st)
	}
}

// advanceStep moves the guided script to its next block once a reply was
// actually delivered. While a section is active the script is parked; it
// resumes from where it left off when the section flow ends.
func (e *Engine) advanceStep(st *session.State) {
	if len(st.ActiveSections) > 0 {
		return
	}
	if _, ok := e.kb.Steps[st.Step+1]; !ok {
		return
	}
	if st.SetStep(st.Step + 1) {
		e.logger.Debug("dialog_step_advanced", "phone", st.Phone, "step", st.Step)
	}
}

// converse runs the model query loop: ask, apply the control directive,
// and when the directive changed the active prompt run exactly one re-query
// whose response replaces the first one. Data markers are folded in from the
// final response only.
func (e *Engine) converse(ctx context.Context, st *session.State, contact contacts.Contact) (string, []Marker, error) {
	var (
		reply   string
		markers []Marker
	)
	for iter := 1; iter <= maxQueryIterations; iter++ {
		res, err := e.model.Chat(ctx, llm.Request{
			Model:    e.modelName,
			Messages: e.messages(st, contact),
		})
		if err != nil {
			return "", nil, fmt.Errorf("dialog: model query: %w", err)
		}

		markers, reply = ParseMarkers(res.Text)

		if !e.applyControl(st, markers) || iter == maxQueryIterations {
			break
		}
		e.logger.Info("dialog_requery", "phone", st.Phone, "sections", strings.Join(st.ActiveSections, ","))
	}
	// Only the response that will be shown contributes data: payloads from a
	// discarded first response never reach the session.
	e.applyDataMarkers(st, markers)
	return reply, markers, nil
}

// applyDataMarkers folds producto_ofrecido and forma_pago payloads into the
// session. Malformed payloads are logged and skipped.
func (e *Engine) applyDataMarkers(st *session.State, markers []Marker) {
	for _, m := range markers {
		switch m.Tag {
		case TagProductOffered:
			p, ok := parseOffered(m.Payload)
			if !ok {
				e.logger.Warn("dialog_offered_payload_invalid", "phone", st.Phone, "payload", m.Payload)
				continue
			}
			st.AddOffered(session.OfferedProduct{
				SKU:       p.sku(),
				Nombre:    p.name(),
				Precio:    p.Precio,
				Categoria: p.Categoria,
			})
		case TagPaymentMethod:
			if method := parsePaymentMethod(m.Payload); method != "" {
				st.PaymentMethod = method
			}
		}
	}
}

// applyControl resolves the single control directive by priority and reports
// whether it changed the active prompt (which triggers the re-query).
func (e *Engine) applyControl(st *session.State, markers []Marker) bool {
	switch {
	case HasTag(markers, TagShowProducts):
		return e.activateSection(st, SectionProducts)
	case HasTag(markers, TagShowDetails):
		return e.activateSection(st, SectionDetails)
	}
	return false
}

func (e *Engine) activateSection(st *session.State, name string) bool {
	if len(st.ActiveSections) == 1 && st.ActiveSections[0] == name {
		return false
	}
	st.ActiveSections = []string{name}
	return true
}

func (e *Engine) escalate(ctx context.Context, st *session.State, contact contacts.Contact, query string) {
	name := ""
	if contact.HasRealName() {
		name = contact.Nombre
	}
	if e.advisor != nil {
		if err := e.advisor.Escalate(ctx, name, st.Phone, query); err != nil {
			e.logger.Error("dialog_escalation_failed", "phone", st.Phone, "error", err.Error())
		}
	}
	e.sendReply(ctx, st, HelpAck)
}

// sendReply delivers the cleaned reply unless it duplicates the previous one
// for this conversation, and reports whether anything went out.
func (e *Engine) sendReply(ctx context.Context, st *session.State, reply string) bool {
	if reply == "" {
		return false
	}
	if st.IsDuplicateReply(reply) {
		e.logger.Info("dialog_reply_suppressed", "phone", st.Phone, "reason", "duplicate")
		return false
	}
	if err := e.provider.SendText(ctx, st.Phone, reply); err != nil {
		e.logger.Error("dialog_send_failed", "phone", st.Phone, "error", err.Error())
		return false
	}
	st.RememberReply(reply)
	st.AppendTurn(session.RoleAssistant, reply)
	return true
}

// inboundText resolves the prompt text of the event. Attachments are saved
// locally; an image additionally runs through classification so the model
// knows about payment receipts and recognized products.
func (e *Engine) inboundText(ctx context.Context, st *session.State, ev channel.Event) string {
	text := strings.TrimSpace(ev.Text())
	if ev.Attachment == nil {
		return text
	}

	path, err := e.provider.SaveAttachment(ctx, ev)
	if err != nil {
		e.logger.Warn("dialog_attachment_save_failed", "phone", st.Phone, "error", err.Error())
	} else {
		e.logger.Info("dialog_attachment_saved", "phone", st.Phone, "kind", string(ev.Attachment.Kind), "path", path)
	}

	if ev.Attachment.Kind == channel.KindImage {
		e.classifyImage(ctx, st, text)
	}

	if text == "" {
		switch ev.Attachment.Kind {
		case channel.KindImage:
			text = "El cliente envió una imagen."
		case channel.KindVoice:
			text = "El cliente envió una nota de voz."
		default:
			text = "El cliente envió un archivo."
		}
	}
	return text
}

// classifyImage asks the model whether the image the customer sent looks
// like a payment receipt or a product photo, based on its caption. A model
// failure just leaves the flags unset.
func (e *Engine) classifyImage(ctx context.Context, st *session.State, caption string) {
	if strings.TrimSpace(caption) == "" {
		return
	}
	res, err := e.model.Chat(ctx, llm.Request{
		Model:     e.modelName,
		ForceJSON: true,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: `Un cliente envió una imagen con la siguiente descripción. Clasifícala y responde solo JSON: {"tipo":"comprobante"|"producto"|"otro","producto":"nombre si aplica"}`},
			{Role: llm.RoleUser, Content: caption},
		},
	})
	if err != nil {
		e.logger.Warn("dialog_image_classify_failed", "phone", st.Phone, "error", err.Error())
		return
	}
	var out struct {
		Tipo     string `json:"tipo"`
		Producto string `json:"producto"`
	}
	if err := json.Unmarshal([]byte(res.Text), &out); err != nil {
		e.logger.Warn("dialog_image_classify_unparseable", "phone", st.Phone)
		return
	}
	switch strings.ToLower(out.Tipo) {
	case "comprobante":
		st.ReceiptDetected = true
	case "producto":
		st.RecognizedProduct = out.Producto
	}
}

func (e *Engine) messages(st *session.State, contact contacts.Contact) []llm.Message {
	msgs := make([]llm.Message, 0, historyWindow+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: BuildPrompt(e.kb, st, contact)})
	for _, turn := range st.LastTurns(historyWindow) {
		role := llm.RoleUser
		if turn.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: turn.Content})
	}
	return msgs
}

func (e *Engine) resetIdle(phone string) {
	e.timers.Reset(phone, e.idleTimeout, func() {
		e.Finalize(context.Background(), phone)
	})
}

// Finalize closes an idle conversation: summarize when there is enough
// history, persist the summary, materialize the cart into an order, then
// drop the session. Every step fails independently; a broken summary never
// blocks the order.
func (e *Engine) Finalize(ctx context.Context, phone string) {
	st, ok := e.sessions.Peek(phone)
	if !ok {
		return
	}

	if len(st.History) > summaryMinTurns {
		summary, err := e.summarize(ctx, st)
		if err != nil {
			e.logger.Warn("finalize_summary_failed", "phone", phone, "error", err.Error())
		} else if err := e.contacts.SaveSummary(ctx, phone, summary); err != nil {
			e.logger.Warn("finalize_summary_save_failed", "phone", phone, "error", err.Error())
		}
	}

	if len(st.Cart) > 0 && e.orders != nil {
		if orderID, err := e.orders.CreateFromCart(ctx, phone, st.Cart); err != nil {
			e.logger.Warn("finalize_order_failed", "phone", phone, "error", err.Error())
		} else {
			e.logger.Info("finalize_order_created", "phone", phone, "order", orderID)
		}
	}

	e.sessions.Clear(phone)
	e.timers.Stop(phone)
	e.logger.Info("conversation_finalized", "phone", phone, "turns", len(st.History))
}

func (e *Engine) summarize(ctx context.Context, st *session.State) (string, error) {
	var b strings.Builder
	for _, turn := range st.History {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	res, err := e.model.Chat(ctx, llm.Request{
		Model: e.modelName,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Resume esta conversación de ventas en un párrafo corto, en tercera persona, mencionando productos de interés y acuerdos. Responde solo el resumen."},
			{Role: llm.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("dialog: summarize: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}
