// Package notify escalates conversations to a human advisor.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jyakam/proventas/channel"
)

// UnknownCustomer labels escalations for contacts whose name is still the
// placeholder.
const UnknownCustomer = "Desconocido"

// Advisor receives escalation requests from the dialog layer.
type Advisor interface {
	Escalate(ctx context.Context, customerName, phone, query string) error
}

// ChannelAdvisor delivers escalations as one message to a configured advisor
// number over the same messaging channel the customers use.
type ChannelAdvisor struct {
	provider channel.Provider
	phone    string
	logger   *slog.Logger
}

func NewChannelAdvisor(provider channel.Provider, advisorPhone string, logger *slog.Logger) (*ChannelAdvisor, error) {
	if provider == nil {
		return nil, errors.New("notify: provider required")
	}
	advisorPhone = strings.TrimSpace(advisorPhone)
	if advisorPhone == "" {
		return nil, errors.New("notify: advisor phone required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelAdvisor{provider: provider, phone: advisorPhone, logger: logger}, nil
}

func (a *ChannelAdvisor) Escalate(ctx context.Context, customerName, phone, query string) error {
	if strings.TrimSpace(customerName) == "" {
		customerName = UnknownCustomer
	}
	msg := fmt.Sprintf("🔔 Solicitud de ayuda\nCliente: %s\nTeléfono: %s\nConsulta: %s",
		customerName, phone, strings.TrimSpace(query))

	if err := a.provider.SendText(ctx, a.phone, msg); err != nil {
		a.logger.Error("advisor_notify_failed", "phone", phone, "error", err.Error())
		return fmt.Errorf("notify: escalate %s: %w", phone, err)
	}
	a.logger.Info("advisor_notified", "phone", phone, "customer", customerName)
	return nil
}
