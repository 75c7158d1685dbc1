package contacts

import "strings"

// PlaceholderName marks a contact whose real name is still unknown. The cache
// merge guard treats it as worthless against any real name.
const PlaceholderName = "Sin Nombre"

// DefaultTag is assigned to contacts created locally on first inbound message.
const DefaultTag = "Nuevo"

// Contact is one CRM record, keyed by phone. RowNumber is the opaque
// external-row reference; it is empty until the remote store assigned one and
// must survive every merge afterwards.
type Contact struct {
	Telefono            string
	Nombre              string
	Email               string
	Identificacion      string
	Direccion           string
	Direccion2          string
	Ciudad              string
	Pais                string
	EstadoDepartamento  string
	CodigoPostal        string
	Etiqueta            string
	TipoDeCliente       string
	TelefonoSecundario  string
	RespBot             bool
	FechaPrimerContacto string
	FechaUltimoContacto string
	FechaCumpleanos     string
	Resumen             string
	Resumen2            string
	Resumen3            string
	RowNumber           string
}

// HasRealName reports whether the contact carries a verified customer name
// rather than the placeholder.
func (c Contact) HasRealName() bool {
	name := strings.TrimSpace(c.Nombre)
	return name != "" && name != PlaceholderName
}

// NormalizePhone strips one leading "+" so every lookup and every stored key
// agree on the same form.
func NormalizePhone(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), "+")
}
