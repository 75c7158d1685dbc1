// Package orders materializes a conversation cart into pending order rows in
// the external store, one row per line item sharing the order id.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jyakam/proventas/internal/taskqueue"
	"github.com/jyakam/proventas/sheetdb"
)

// Column names of the remote order table.
const (
	ColIDPedido       = "ID_PEDIDO"
	ColTelefono       = "TELEFONO"
	ColFecha          = "FECHA"
	ColSKU            = "SKU"
	ColProducto       = "PRODUCTO"
	ColCantidad       = "CANTIDAD"
	ColPrecioUnitario = "PRECIO_UNITARIO"
	ColTotal          = "TOTAL"
	ColColor          = "COLOR"
	ColTalla          = "TALLA"
	ColTamano         = "TAMANO"
	ColSabor          = "SABOR"
	ColNota           = "NOTA"
	ColEstado         = "ESTADO"
)

// EstadoPendiente is the state every freshly materialized order starts in;
// fulfillment moves it forward outside this system.
const EstadoPendiente = "Pendiente"

// LineItem is one cart entry. The option slots (color, talla, tamaño, sabor)
// are free-form and only serialized when set.
type LineItem struct {
	SKU            string
	Nombre         string
	Cantidad       int
	PrecioUnitario float64
	Categoria      string
	Color          string
	Talla          string
	Tamano         string
	Sabor          string
	Nota           string
}

func (li LineItem) total() float64 {
	qty := li.Cantidad
	if qty <= 0 {
		qty = 1
	}
	return float64(qty) * li.PrecioUnitario
}

type ServiceConfig struct {
	Table  string
	Queue  *taskqueue.Queue
	Writer *sheetdb.Writer
	Logger *slog.Logger
	Now    func() time.Time
}

type Service struct {
	table  string
	queue  *taskqueue.Queue
	writer *sheetdb.Writer
	logger *slog.Logger
	now    func() time.Time
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Table == "" {
		return nil, errors.New("orders: table name required")
	}
	if cfg.Queue == nil || cfg.Writer == nil {
		return nil, errors.New("orders: queue and writer are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		table:  cfg.Table,
		queue:  cfg.Queue,
		writer: cfg.Writer,
		logger: cfg.Logger,
		now:    cfg.Now,
	}, nil
}

// CreateFromCart writes one pending order for the cart and returns its id.
// Empty carts and nameless line items are rejected before anything is sent.
func (s *Service) CreateFromCart(ctx context.Context, phone string, items []LineItem) (string, error) {
	if len(items) == 0 {
		return "", errors.New("orders: empty cart")
	}
	phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if phone == "" {
		return "", errors.New("orders: phone required")
	}

	orderID := uuid.NewString()
	date := s.now().Format("2006-01-02")

	rows := make([]sheetdb.Row, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Nombre) == "" {
			s.logger.Warn("order_item_skipped", "order", orderID, "reason", "missing product name")
			continue
		}
		rows = append(rows, itemRow(orderID, phone, date, item))
	}
	if len(rows) == 0 {
		return "", errors.New("orders: no usable line items in cart")
	}

	_, err := s.queue.Submit("order_create", func() (any, error) {
		res, err := s.writer.Write(ctx, s.table, rows, sheetdb.ActionAdd)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return "", fmt.Errorf("orders: create %s: %w", orderID, err)
	}

	s.logger.Info("order_created", "order", orderID, "phone", phone, "items", len(rows))
	return orderID, nil
}

func itemRow(orderID, phone, date string, item LineItem) sheetdb.Row {
	qty := item.Cantidad
	if qty <= 0 {
		qty = 1
	}
	row := sheetdb.Row{
		ColIDPedido: orderID,
		ColTelefono: phone,
		ColFecha:    date,
		ColProducto: item.Nombre,
		ColCantidad: strconv.Itoa(qty),
		ColEstado:   EstadoPendiente,
	}
	put := func(col, v string) {
		if v != "" {
			row[col] = v
		}
	}
	put(ColSKU, item.SKU)
	put(ColColor, item.Color)
	put(ColTalla, item.Talla)
	put(ColTamano, item.Tamano)
	put(ColSabor, item.Sabor)
	put(ColNota, item.Nota)
	if item.PrecioUnitario > 0 {
		row[ColPrecioUnitario] = formatPrice(item.PrecioUnitario)
		row[ColTotal] = formatPrice(item.total())
	}
	return row
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
