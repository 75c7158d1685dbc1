package dialog

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jyakam/proventas/contacts"
	"github.com/jyakam/proventas/session"
)

// Section names the sub-flow markers activate.
const (
	SectionProducts = "productos"
	SectionDetails  = "detalles"
)

// KnowledgeBase is the prompt material: the base block that opens every
// prompt, named sections for sub-flows, and numbered step blocks for the
// guided sales script.
type KnowledgeBase struct {
	BotName  string
	Base     string
	Sections map[string]string
	Steps    map[int]string
}

type kbFile struct {
	BotName  string            `yaml:"bot_name"`
	Base     string            `yaml:"base"`
	Sections map[string]string `yaml:"sections"`
	Steps    map[string]string `yaml:"steps"`
}

// LoadKnowledgeBase reads the YAML prompt file. Step keys are numeric
// strings in the file.
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dialog: read knowledge base: %w", err)
	}
	var f kbFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("dialog: parse knowledge base: %w", err)
	}
	if strings.TrimSpace(f.Base) == "" {
		return nil, fmt.Errorf("dialog: knowledge base %s has no base block", path)
	}

	kb := &KnowledgeBase{
		BotName:  f.BotName,
		Base:     f.Base,
		Sections: make(map[string]string, len(f.Sections)),
		Steps:    make(map[int]string, len(f.Steps)),
	}
	for name, content := range f.Sections {
		kb.Sections[strings.ToLower(name)] = content
	}
	for key, content := range f.Steps {
		n, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("dialog: knowledge base step key %q is not a number", key)
		}
		kb.Steps[n] = content
	}
	return kb, nil
}

// BuildPrompt assembles the system prompt for the current turn: the base
// block always, then either the active sections (they take priority) or the
// current step block, then the client context.
func BuildPrompt(kb *KnowledgeBase, st *session.State, contact contacts.Contact) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(kb.Base))

	if len(st.ActiveSections) > 0 {
		for _, name := range st.ActiveSections {
			if content, ok := kb.Sections[strings.ToLower(name)]; ok {
				b.WriteString("\n\n")
				b.WriteString(strings.TrimSpace(content))
			}
		}
	} else if content, ok := kb.Steps[st.Step]; ok {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(content))
	}

	if ctx := clientContext(st, contact); ctx != "" {
		b.WriteString("\n\n")
		b.WriteString(ctx)
	}
	return b.String()
}

// clientContext renders what the assistant already knows about this
// customer. Technical fields (row refs, flags, dates) stay out; this is
// conversational context, not a CRM dump.
func clientContext(st *session.State, contact contacts.Contact) string {
	var lines []string
	add := func(label, v string) {
		if strings.TrimSpace(v) != "" {
			lines = append(lines, label+": "+strings.TrimSpace(v))
		}
	}

	if contact.HasRealName() {
		add("Nombre", contact.Nombre)
	}
	add("Ciudad", contact.Ciudad)
	add("País", contact.Pais)
	add("Tipo de cliente", contact.TipoDeCliente)
	add("Resumen de la conversación anterior", contact.Resumen)
	add("Método de pago elegido", st.PaymentMethod)
	if st.ReceiptDetected {
		lines = append(lines, "El cliente envió una imagen que parece un comprobante de pago.")
	}
	if st.RecognizedProduct != "" {
		add("Producto reconocido en imagen", st.RecognizedProduct)
	}

	if len(lines) == 0 {
		return ""
	}
	return "DATOS DEL CLIENTE:\n" + strings.Join(lines, "\n")
}
