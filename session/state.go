// Package session holds per-conversation state: dialogue step, offered
// products, cart, history and the reply-dedup memory. A State is owned by its
// conversation's handler goroutine; only the registry map is shared.
package session

import (
	"strings"

	"github.com/jyakam/proventas/orders"
)

// Turn roles mirror the two sides of the conversation.
const (
	RoleCustomer  = "customer"
	RoleAssistant = "assistant"
)

// Turn is one utterance in the conversation history.
type Turn struct {
	Role    string
	Content string
}

// OfferedProduct is a product the assistant put in front of the customer
// during this conversation. The list is what numbered-list cart selection
// resolves against, so it is deduplicated by SKU and never truncated.
type OfferedProduct struct {
	SKU       string
	Nombre    string
	Precio    float64
	Categoria string
}

// State is one conversation's working memory. ActiveSections, when non-empty,
// takes priority over Step for prompt assembly.
type State struct {
	Phone          string
	Step           int
	ActiveSections []string
	Cart           []orders.LineItem
	Offered        []OfferedProduct
	History        []Turn
	PaymentMethod  string
	PaymentStatus  string

	// Image-recognition flags set by attachment handling.
	ReceiptDetected   bool
	RecognizedProduct string

	lastReply string
}

// AppendTurn records one utterance.
func (s *State) AppendTurn(role, content string) {
	s.History = append(s.History, Turn{Role: role, Content: content})
}

// LastTurns returns up to n most recent turns, oldest first.
func (s *State) LastTurns(n int) []Turn {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// AddOffered merges products into the offered list, deduplicating by SKU.
// Products without a SKU dedup by name instead. The list only grows; a
// repeat offer refreshes the stored entry in place.
func (s *State) AddOffered(products ...OfferedProduct) {
	for _, p := range products {
		key := offeredKey(p)
		if key == "" {
			continue
		}
		replaced := false
		for i := range s.Offered {
			if offeredKey(s.Offered[i]) == key {
				s.Offered[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			s.Offered = append(s.Offered, p)
		}
	}
}

func offeredKey(p OfferedProduct) string {
	if sku := strings.TrimSpace(p.SKU); sku != "" {
		return strings.ToLower(sku)
	}
	return strings.ToLower(strings.TrimSpace(p.Nombre))
}

// AddToCart appends a line item.
func (s *State) AddToCart(item orders.LineItem) {
	s.Cart = append(s.Cart, item)
}

// IsDuplicateReply reports whether text, compared case-insensitively, equals
// the previous reply sent in this conversation.
func (s *State) IsDuplicateReply(text string) bool {
	norm := normalizeReply(text)
	return norm != "" && norm == s.lastReply
}

// RememberReply records the reply just sent for future dedup.
func (s *State) RememberReply(text string) {
	s.lastReply = normalizeReply(text)
}

func normalizeReply(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// SetStep moves the knowledge-base step and reports whether it changed.
func (s *State) SetStep(step int) bool {
	if s.Step == step {
		return false
	}
	s.Step = step
	return true
}
