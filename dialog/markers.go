package dialog

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Tag identifies a control marker embedded by the model in its reply,
// delimited by 🧩. Tags are matched case-insensitively.
type Tag string

const (
	TagShowProducts   Tag = "mostrarproductos"
	TagShowDetails    Tag = "mostrardetalles"
	TagRequestHelp    Tag = "solicitarayuda"
	TagProductOffered Tag = "producto_ofrecido"
	TagPaymentMethod  Tag = "forma_pago"
	TagAddToCart      Tag = "agregar_carrito"
)

// Marker is one parsed control marker. Payload holds the bracketed body
// verbatim (without the brackets), empty for bare markers.
type Marker struct {
	Tag     Tag
	Payload string
}

var markerRe = regexp.MustCompile(`🧩\s*([A-Za-zÀ-ÿ_]+)\s*(?:\[((?s:.*?))\])?\s*🧩`)

// ParseMarkers extracts every marker from a model reply and returns them in
// order of appearance together with the customer-visible text, markers
// stripped and whitespace collapsed. Unknown tags are parsed too; the router
// ignores what it does not handle.
func ParseMarkers(text string) ([]Marker, string) {
	matches := markerRe.FindAllStringSubmatch(text, -1)
	markers := make([]Marker, 0, len(matches))
	for _, m := range matches {
		markers = append(markers, Marker{
			Tag:     Tag(strings.ToLower(m[1])),
			Payload: strings.TrimSpace(m[2]),
		})
	}
	return markers, cleanText(markerRe.ReplaceAllString(text, " "))
}

var spaceRe = regexp.MustCompile(`[ \t]{2,}`)
var blankLinesRe = regexp.MustCompile(`\n{3,}`)

func cleanText(s string) string {
	s = spaceRe.ReplaceAllString(s, " ")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// HasTag reports whether any marker in the list carries tag.
func HasTag(markers []Marker, tag Tag) bool {
	for _, m := range markers {
		if m.Tag == tag {
			return true
		}
	}
	return false
}

// offeredPayload is the JSON body of a producto_ofrecido marker. The model
// is not perfectly consistent about field names, so aliases are accepted.
type offeredPayload struct {
	SKU       string  `json:"sku"`
	Codigo    string  `json:"codigo"`
	Nombre    string  `json:"nombre"`
	Producto  string  `json:"producto"`
	Precio    float64 `json:"precio"`
	Categoria string  `json:"categoria"`
}

func (p offeredPayload) sku() string {
	if p.SKU != "" {
		return p.SKU
	}
	return p.Codigo
}

func (p offeredPayload) name() string {
	if p.Nombre != "" {
		return p.Nombre
	}
	return p.Producto
}

// parseOffered decodes one producto_ofrecido payload. A malformed payload
// returns false; the caller logs and moves on, it never aborts the turn.
func parseOffered(payload string) (offeredPayload, bool) {
	var p offeredPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return offeredPayload{}, false
	}
	if p.name() == "" && p.sku() == "" {
		return offeredPayload{}, false
	}
	return p, true
}

// parsePaymentMethod accepts either a bare string payload or a JSON object
// with a "metodo" field.
func parsePaymentMethod(payload string) string {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return ""
	}
	if strings.HasPrefix(payload, "{") {
		var p struct {
			Metodo string `json:"metodo"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err == nil {
			if p.Metodo != "" {
				return p.Metodo
			}
			return p.Method
		}
		return ""
	}
	return strings.Trim(payload, `"' `)
}
