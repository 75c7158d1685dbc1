package dialog

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jyakam/proventas/contacts"
)

// Self-reported identity in the customer's own words. The second name word is
// only taken when it is capitalized, so "me llamo Maria y quiero..." captures
// just the name.
var (
	captureNameRe  = regexp.MustCompile(`(?:[Mm]e llamo|[Mm]i nombre es)\s+(\p{Lu}?\p{L}+(?:\s+\p{Lu}\p{L}+)?)`)
	captureEmailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// captureContactData pulls a self-reported name or email address out of the
// inbound message and persists it to the CRM. A name is only taken while the
// contact still carries the placeholder; the cache's name guard applies on
// top of that, so nothing captured here can displace a real name.
func (e *Engine) captureContactData(ctx context.Context, phone string, contact contacts.Contact, text string) {
	updated := contact
	updated.Telefono = phone
	changed := false

	if !contact.HasRealName() {
		if m := captureNameRe.FindStringSubmatch(text); m != nil {
			// A Caser is stateful, so it is built per call.
			updated.Nombre = cases.Title(language.Spanish).String(strings.TrimSpace(m[1]))
			changed = true
		}
	}
	if contact.Email == "" {
		if email := captureEmailRe.FindString(text); email != "" {
			updated.Email = strings.ToLower(email)
			changed = true
		}
	}
	if !changed {
		return
	}

	if err := e.contacts.SaveContact(ctx, updated); err != nil {
		e.logger.Warn("contact_capture_save_failed", "phone", phone, "error", err.Error())
		return
	}
	e.logger.Info("contact_data_captured", "phone", phone,
		"name", updated.Nombre != contact.Nombre, "email", updated.Email != contact.Email)
}
