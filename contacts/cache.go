package contacts

import (
	"log/slog"
	"sync"
)

// Cache is the process-wide contact map, keyed by normalized phone. It is the
// single owner of in-memory CRM state: every mutation goes through Upsert or
// Replace, both mutex-guarded.
//
// The only business rule living here is the name guard: a verified name is
// never silently overwritten by the placeholder or by the bot's own display
// name. That corruption class (the assistant's name leaking into the customer
// field) is exactly what the guard exists for. Everything else is per-field
// last-write-wins.
type Cache struct {
	botName string
	logger  *slog.Logger

	mu      sync.RWMutex
	byPhone map[string]Contact
}

func NewCache(botName string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		botName: botName,
		logger:  logger,
		byPhone: make(map[string]Contact),
	}
}

// Get looks up a contact by phone, normalizing first.
func (c *Cache) Get(phone string) (Contact, bool) {
	key := NormalizePhone(phone)
	c.mu.RLock()
	defer c.mu.RUnlock()
	contact, ok := c.byPhone[key]
	return contact, ok
}

// Upsert merges incoming into the cache. A record without a phone is rejected
// locally: logged and dropped, never stored.
func (c *Cache) Upsert(incoming Contact) {
	key := NormalizePhone(incoming.Telefono)
	if key == "" {
		c.logger.Error("contact_upsert_rejected", "reason", "missing phone")
		return
	}
	incoming.Telefono = key

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.byPhone[key]
	if !ok {
		c.byPhone[key] = incoming
		c.logger.Debug("contact_cached", "phone", key, "size", len(c.byPhone))
		return
	}

	if existing.HasRealName() {
		name := incoming.Nombre
		if name == PlaceholderName || (c.botName != "" && name == c.botName) {
			c.logger.Warn("contact_name_guard_blocked",
				"phone", key, "kept", existing.Nombre, "rejected", name)
			incoming.Nombre = existing.Nombre
		}
	}

	c.byPhone[key] = merge(existing, incoming)
	c.logger.Debug("contact_cached", "phone", key, "size", len(c.byPhone))
}

// Replace swaps the whole cache contents, used on startup and on full reloads
// from the external store.
func (c *Cache) Replace(list []Contact) {
	next := make(map[string]Contact, len(list))
	for _, contact := range list {
		key := NormalizePhone(contact.Telefono)
		if key == "" {
			continue
		}
		contact.Telefono = key
		next[key] = contact
	}

	c.mu.Lock()
	c.byPhone = next
	size := len(next)
	c.mu.Unlock()

	c.logger.Info("contact_cache_replaced", "size", size)
}

// Snapshot returns a copy of every cached contact.
func (c *Cache) Snapshot() []Contact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Contact, 0, len(c.byPhone))
	for _, contact := range c.byPhone {
		out = append(out, contact)
	}
	return out
}

// Len reports the cache size.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byPhone)
}

// merge applies per-field last-write-wins: a non-empty incoming field
// overwrites the stored one. The row reference is kept once known, even when
// the incoming record lost it.
func merge(existing, incoming Contact) Contact {
	out := existing

	setString(&out.Nombre, incoming.Nombre)
	setString(&out.Email, incoming.Email)
	setString(&out.Identificacion, incoming.Identificacion)
	setString(&out.Direccion, incoming.Direccion)
	setString(&out.Direccion2, incoming.Direccion2)
	setString(&out.Ciudad, incoming.Ciudad)
	setString(&out.Pais, incoming.Pais)
	setString(&out.EstadoDepartamento, incoming.EstadoDepartamento)
	setString(&out.CodigoPostal, incoming.CodigoPostal)
	setString(&out.Etiqueta, incoming.Etiqueta)
	setString(&out.TipoDeCliente, incoming.TipoDeCliente)
	setString(&out.TelefonoSecundario, incoming.TelefonoSecundario)
	setString(&out.FechaPrimerContacto, incoming.FechaPrimerContacto)
	setString(&out.FechaUltimoContacto, incoming.FechaUltimoContacto)
	setString(&out.FechaCumpleanos, incoming.FechaCumpleanos)
	setString(&out.Resumen, incoming.Resumen)
	setString(&out.Resumen2, incoming.Resumen2)
	setString(&out.Resumen3, incoming.Resumen3)
	setString(&out.RowNumber, incoming.RowNumber)
	out.RespBot = incoming.RespBot

	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
