package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jyakam/proventas/internal/taskqueue"
	"github.com/jyakam/proventas/sheetdb"
)

var (
	ErrMissingPhone    = errors.New("contacts: contact has no phone")
	ErrSummaryRejected = errors.New("contacts: summary rejected")
)

// minSummaryLen filters out degenerate model output ("ok", "...") before it
// can displace a real stored summary.
const minSummaryLen = 10

// ServiceConfig carries the collaborators a Service needs. Table is the
// remote contact table name.
type ServiceConfig struct {
	Table  string
	Cache  *Cache
	Queue  *taskqueue.Queue
	Writer *sheetdb.Writer
	Logger *slog.Logger

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// Service is the contact persistence front. Reads come from the in-memory
// cache; every remote mutation is enqueued on the serial task queue so writes
// keep a total order process-wide. The cache is updated optimistically: a
// remote failure degrades the record to cache-only, it never blocks the
// conversation.
type Service struct {
	table  string
	cache  *Cache
	queue  *taskqueue.Queue
	writer *sheetdb.Writer
	logger *slog.Logger
	now    func() time.Time
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Table == "" {
		return nil, errors.New("contacts: table name required")
	}
	if cfg.Cache == nil || cfg.Queue == nil || cfg.Writer == nil {
		return nil, errors.New("contacts: cache, queue and writer are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		table:  cfg.Table,
		cache:  cfg.Cache,
		queue:  cfg.Queue,
		writer: cfg.Writer,
		logger: cfg.Logger,
		now:    cfg.Now,
	}, nil
}

// Reload replaces the whole cache from the remote table. It runs on startup
// and as the lookup-miss fallback; it is also where earlier ambiguous writes
// reconcile against whatever the remote actually stored.
func (s *Service) Reload(ctx context.Context) error {
	rows, err := s.writer.Read(ctx, s.table)
	if err != nil {
		return fmt.Errorf("contacts: reload: %w", err)
	}
	list := make([]Contact, 0, len(rows))
	for _, row := range rows {
		list = append(list, FromRow(row))
	}
	s.cache.Replace(list)
	return nil
}

// Lookup returns the cached contact, falling back to one full reload on a
// miss before giving up.
func (s *Service) Lookup(ctx context.Context, phone string) (Contact, bool) {
	if c, ok := s.cache.Get(phone); ok {
		return c, true
	}
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("contact_lookup_reload_failed", "phone", NormalizePhone(phone), "error", err.Error())
		return Contact{}, false
	}
	return s.cache.Get(phone)
}

// Ensure returns the contact for phone, creating a placeholder record on
// first contact: "Sin Nombre", tag "Nuevo", bot replies enabled, first and
// last contact dates set to today. The create is cached immediately and the
// remote Add is enqueued behind it.
func (s *Service) Ensure(ctx context.Context, phone string) (Contact, error) {
	key := NormalizePhone(phone)
	if key == "" {
		return Contact{}, ErrMissingPhone
	}
	if c, ok := s.Lookup(ctx, key); ok {
		return c, nil
	}

	today := s.today()
	fresh := Contact{
		Telefono:            key,
		Nombre:              PlaceholderName,
		Etiqueta:            DefaultTag,
		RespBot:             true,
		FechaPrimerContacto: today,
		FechaUltimoContacto: today,
	}
	s.cache.Upsert(fresh)
	s.logger.Info("contact_created", "phone", key)

	s.enqueueWrite(ctx, "contact_add", fresh, sheetdb.ActionAdd)
	c, _ := s.cache.Get(key)
	return c, nil
}

// Touch refreshes the contact dates: first-contact date is preserved once
// set, last-contact date becomes today. Unknown phones are created via
// Ensure instead.
func (s *Service) Touch(ctx context.Context, phone string) {
	existing, ok := s.cache.Get(phone)
	if !ok {
		if _, err := s.Ensure(ctx, phone); err != nil {
			s.logger.Warn("contact_touch_failed", "phone", NormalizePhone(phone), "error", err.Error())
		}
		return
	}

	today := s.today()
	if existing.FechaPrimerContacto == "" {
		existing.FechaPrimerContacto = today
	}
	existing.FechaUltimoContacto = today
	s.cache.Upsert(existing)

	s.enqueueWrite(ctx, "contact_touch", existing, actionFor(existing))
}

// SaveSummary stores a conversation summary with rolling retention: the new
// text lands in the primary slot and the previous ones shift down, keeping
// at most three. Summaries too short to mean anything, or that look like raw
// JSON leaking out of the model, are rejected before touching anything.
func (s *Service) SaveSummary(ctx context.Context, phone, summary string) error {
	summary = strings.TrimSpace(summary)
	if len([]rune(summary)) < minSummaryLen || looksLikeJSON(summary) {
		s.logger.Warn("contact_summary_rejected", "phone", NormalizePhone(phone), "len", len(summary))
		return ErrSummaryRejected
	}

	existing, ok := s.cache.Get(phone)
	if !ok {
		var err error
		existing, err = s.Ensure(ctx, phone)
		if err != nil {
			return err
		}
	}

	existing.Resumen3 = existing.Resumen2
	existing.Resumen2 = existing.Resumen
	existing.Resumen = summary

	if err := s.enqueueWrite(ctx, "contact_summary", existing, actionFor(existing)); err != nil {
		return err
	}
	s.cache.Upsert(existing)
	return nil
}

// SaveContact persists an updated contact record: Add when the record never
// got an external row reference, Edit otherwise. The cache is updated
// optimistically before the remote write runs.
func (s *Service) SaveContact(ctx context.Context, c Contact) error {
	c.Telefono = NormalizePhone(c.Telefono)
	if c.Telefono == "" {
		return ErrMissingPhone
	}
	s.cache.Upsert(c)
	merged, _ := s.cache.Get(c.Telefono)

	s.enqueueWrite(ctx, "contact_save", merged, actionFor(merged))
	return nil
}

// enqueueWrite funnels a contact mutation through the serial queue and the
// retrying writer. A confirmed response is merged back into the cache, which
// is how a fresh Add picks up its external row reference. A final failure is
// logged and the record stays cache-only.
func (s *Service) enqueueWrite(ctx context.Context, name string, c Contact, action sheetdb.Action) error {
	row := ToRow(c, action)
	result, err := s.queue.Submit(name, func() (any, error) {
		res, err := s.writer.Write(ctx, s.table, []sheetdb.Row{row}, action)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		s.logger.Error("contact_write_failed",
			"phone", c.Telefono, "action", string(action), "error", err.Error())
		return fmt.Errorf("contacts: write %s: %w", c.Telefono, err)
	}

	res, ok := result.(sheetdb.WriteResult)
	if !ok {
		return nil
	}
	switch res.Outcome {
	case sheetdb.OutcomeConfirmed:
		for _, returned := range res.Rows {
			remote := FromRow(returned)
			if remote.Telefono == "" {
				remote.Telefono = c.Telefono
			}
			s.cache.Upsert(remote)
		}
	case sheetdb.OutcomeAmbiguous:
		// Local state stands; the next full Reload reconciles.
		s.logger.Info("contact_write_ambiguous", "phone", c.Telefono, "action", string(action))
	}
	return nil
}

func (s *Service) today() string {
	return s.now().Format("2006-01-02")
}

func actionFor(c Contact) sheetdb.Action {
	if c.RowNumber == "" {
		return sheetdb.ActionAdd
	}
	return sheetdb.ActionEdit
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}
