package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jyakam/proventas/llm"
	"github.com/jyakam/proventas/orders"
	"github.com/jyakam/proventas/session"
)

// cartHistoryWindow is how many recent turns the fallback extraction reads.
const cartHistoryWindow = 4

// cartPass resolves an agregar_carrito marker into a line item. Selection
// against the offered-products list runs first; when the model cannot pick
// one, a free-form extraction over the recent history is the fallback.
func (e *Engine) cartPass(ctx context.Context, st *session.State) {
	item, ok := e.selectFromOffered(ctx, st)
	if !ok {
		item, ok = e.extractFromHistory(ctx, st)
	}
	if !ok {
		e.logger.Warn("cart_add_unresolved", "phone", st.Phone)
		return
	}
	st.AddToCart(item)
	e.logger.Info("cart_item_added", "phone", st.Phone, "product", item.Nombre, "qty", item.Cantidad)
}

// selectFromOffered shows the model the numbered offered-products list and
// asks which entry the customer chose. Index 0 means the model is unsure and
// the fallback takes over.
func (e *Engine) selectFromOffered(ctx context.Context, st *session.State) (orders.LineItem, bool) {
	if len(st.Offered) == 0 {
		return orders.LineItem{}, false
	}

	var list strings.Builder
	for i, p := range st.Offered {
		fmt.Fprintf(&list, "%d. %s", i+1, p.Nombre)
		if p.SKU != "" {
			fmt.Fprintf(&list, " (SKU %s)", p.SKU)
		}
		if p.Precio > 0 {
			fmt.Fprintf(&list, " - $%.0f", p.Precio)
		}
		list.WriteString("\n")
	}

	res, err := e.model.Chat(ctx, llm.Request{
		Model:     e.modelName,
		ForceJSON: true,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: `El cliente quiere agregar un producto al carrito. Según la conversación, elige el número del producto de la lista. Responde solo JSON: {"seleccion":N,"cantidad":M}. Usa 0 en "seleccion" si no estás seguro.`},
			{Role: llm.RoleUser, Content: "Productos ofrecidos:\n" + list.String() + "\nConversación reciente:\n" + renderTurns(st.LastTurns(cartHistoryWindow))},
		},
	})
	if err != nil {
		e.logger.Warn("cart_selection_failed", "phone", st.Phone, "error", err.Error())
		return orders.LineItem{}, false
	}

	var pick struct {
		Seleccion int `json:"seleccion"`
		Cantidad  int `json:"cantidad"`
	}
	if err := json.Unmarshal([]byte(res.Text), &pick); err != nil {
		e.logger.Warn("cart_selection_unparseable", "phone", st.Phone)
		return orders.LineItem{}, false
	}
	if pick.Seleccion < 1 || pick.Seleccion > len(st.Offered) {
		return orders.LineItem{}, false
	}

	p := st.Offered[pick.Seleccion-1]
	qty := pick.Cantidad
	if qty <= 0 {
		qty = 1
	}
	return orders.LineItem{
		SKU:            p.SKU,
		Nombre:         p.Nombre,
		Cantidad:       qty,
		PrecioUnitario: p.Precio,
		Categoria:      p.Categoria,
	}, true
}

// extractFromHistory asks the model to pull a line item out of the recent
// turns when nothing from the offered list matched.
func (e *Engine) extractFromHistory(ctx context.Context, st *session.State) (orders.LineItem, bool) {
	turns := st.LastTurns(cartHistoryWindow)
	if len(turns) == 0 {
		return orders.LineItem{}, false
	}

	res, err := e.model.Chat(ctx, llm.Request{
		Model:     e.modelName,
		ForceJSON: true,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: `Extrae el producto que el cliente quiere comprar de esta conversación. Responde solo JSON: {"nombre":"","cantidad":0,"precio":0,"color":"","talla":"","tamano":"","sabor":""}. Deja "nombre" vacío si no hay producto claro.`},
			{Role: llm.RoleUser, Content: renderTurns(turns)},
		},
	})
	if err != nil {
		e.logger.Warn("cart_extraction_failed", "phone", st.Phone, "error", err.Error())
		return orders.LineItem{}, false
	}

	var out struct {
		Nombre   string  `json:"nombre"`
		Cantidad int     `json:"cantidad"`
		Precio   float64 `json:"precio"`
		Color    string  `json:"color"`
		Talla    string  `json:"talla"`
		Tamano   string  `json:"tamano"`
		Sabor    string  `json:"sabor"`
	}
	if err := json.Unmarshal([]byte(res.Text), &out); err != nil {
		e.logger.Warn("cart_extraction_unparseable", "phone", st.Phone)
		return orders.LineItem{}, false
	}
	if strings.TrimSpace(out.Nombre) == "" {
		return orders.LineItem{}, false
	}

	qty := out.Cantidad
	if qty <= 0 {
		qty = 1
	}
	return orders.LineItem{
		Nombre:         strings.TrimSpace(out.Nombre),
		Cantidad:       qty,
		PrecioUnitario: out.Precio,
		Color:          out.Color,
		Talla:          out.Talla,
		Tamano:         out.Tamano,
		Sabor:          out.Sabor,
	}, true
}

func renderTurns(turns []session.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}
