package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jyakam/proventas/channel"
	"github.com/jyakam/proventas/channel/wasocket"
	"github.com/jyakam/proventas/contacts"
	"github.com/jyakam/proventas/dialog"
	"github.com/jyakam/proventas/internal/fsstore"
	"github.com/jyakam/proventas/internal/logutil"
	"github.com/jyakam/proventas/internal/taskqueue"
	"github.com/jyakam/proventas/notify"
	"github.com/jyakam/proventas/orders"
	"github.com/jyakam/proventas/providers/uniai"
	"github.com/jyakam/proventas/session"
	"github.com/jyakam/proventas/session/idle"
	"github.com/jyakam/proventas/sheetdb"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sales assistant against the WhatsApp gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}

			store, err := sheetdb.NewClient(sheetdb.Config{
				BaseURL:     viper.GetString("sheetdb.base_url"),
				AppID:       viper.GetString("sheetdb.app_id"),
				AccessKey:   viper.GetString("sheetdb.access_key"),
				HTTPTimeout: viper.GetDuration("sheetdb.http_timeout"),
			})
			if err != nil {
				return err
			}

			queue := taskqueue.New(logger)
			defer queue.Close()
			writer := sheetdb.NewWriter(store, logger, sheetdb.WriterOptions{
				MaxRetries: viper.GetInt("sheetdb.max_retries"),
				RetryDelay: viper.GetDuration("sheetdb.retry_delay"),
			})

			kb, err := dialog.LoadKnowledgeBase(viper.GetString("prompts.path"))
			if err != nil {
				return err
			}
			botName := strings.TrimSpace(viper.GetString("bot.name"))
			if botName == "" {
				botName = kb.BotName
			}

			cache := contacts.NewCache(botName, logger)
			contactSvc, err := contacts.NewService(contacts.ServiceConfig{
				Table:  viper.GetString("sheetdb.contacts_table"),
				Cache:  cache,
				Queue:  queue,
				Writer: writer,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			orderSvc, err := orders.NewService(orders.ServiceConfig{
				Table:  viper.GetString("sheetdb.orders_table"),
				Queue:  queue,
				Writer: writer,
				Logger: logger,
			})
			if err != nil {
				return err
			}

			media, err := fsstore.NewMediaStore(viper.GetString("media.dir"))
			if err != nil {
				return err
			}

			model := uniai.New(uniai.Config{
				Provider:       viper.GetString("llm.provider"),
				Endpoint:       viper.GetString("llm.endpoint"),
				APIKey:         viper.GetString("llm.api_key"),
				Model:          viper.GetString("llm.model"),
				RequestTimeout: viper.GetDuration("llm.request_timeout"),
				Debug:          viper.GetBool("trace"),
			})

			sessions := session.NewRegistry()
			timers := idle.NewTimers(logger)
			defer timers.StopAll()

			// The engine and the adapter reference each other; the handler
			// closure breaks the cycle.
			var engine *dialog.Engine
			adapter, err := wasocket.New(wasocket.Config{
				URL:     viper.GetString("gateway.url"),
				Token:   viper.GetString("gateway.token"),
				Media:   media,
				Logger:  logger,
				Handler: func(ctx context.Context, ev channel.Event) { engine.Handle(ctx, ev) },
			})
			if err != nil {
				return err
			}

			var advisor notify.Advisor
			if phone := strings.TrimSpace(viper.GetString("advisor.phone")); phone != "" {
				advisor, err = notify.NewChannelAdvisor(adapter, phone, logger)
				if err != nil {
					return err
				}
			} else {
				logger.Warn("serve_no_advisor_configured")
			}

			engine, err = dialog.NewEngine(dialog.EngineConfig{
				ModelName:   viper.GetString("llm.model"),
				IdleTimeout: viper.GetDuration("session.idle_timeout"),
				Provider:    adapter,
				Contacts:    contactSvc,
				Sessions:    sessions,
				Timers:      timers,
				Orders:      orderSvc,
				Advisor:     advisor,
				Model:       model,
				KB:          kb,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := contactSvc.Reload(ctx); err != nil {
				// The cache fills lazily on lookup misses; keep serving.
				logger.Warn("serve_contact_reload_failed", "error", err.Error())
			} else {
				logger.Info("serve_contacts_loaded", "count", cache.Len())
			}

			logger.Info("serve_start",
				"bot", botName,
				"gateway", viper.GetString("gateway.url"),
				"idle_timeout", viper.GetDuration("session.idle_timeout").String(),
			)
			if err := adapter.Run(ctx); err != nil {
				return fmt.Errorf("gateway: %w", err)
			}
			logger.Info("serve_stop")
			return nil
		},
	}

	cmd.Flags().String("gateway-url", "", "WhatsApp vendor gateway websocket URL.")
	cmd.Flags().String("gateway-token", "", "Gateway bearer token.")
	cmd.Flags().String("sheetdb-base-url", "", "Tabular store base URL.")
	cmd.Flags().String("sheetdb-app-id", "", "Tabular store application id.")
	cmd.Flags().String("sheetdb-access-key", "", "Tabular store access key.")
	cmd.Flags().String("kb-path", "kb.yaml", "Knowledge-base YAML path.")
	cmd.Flags().String("media-dir", "media", "Directory for inbound attachments.")
	cmd.Flags().String("advisor-phone", "", "Phone that receives help escalations.")
	cmd.Flags().String("bot-name", "", "Assistant display name (defaults to the knowledge base's).")
	cmd.Flags().Duration("idle-timeout", 10*time.Minute, "Inactivity window before a conversation is finalized.")
	cmd.Flags().String("llm-provider", "openai", "LLM provider: openai|anthropic|gemini.")
	cmd.Flags().String("llm-model", "", "LLM model name.")
	cmd.Flags().String("llm-api-key", "", "LLM API key.")
	cmd.Flags().String("llm-endpoint", "", "LLM API base URL (optional).")

	_ = viper.BindPFlag("gateway.url", cmd.Flags().Lookup("gateway-url"))
	_ = viper.BindPFlag("gateway.token", cmd.Flags().Lookup("gateway-token"))
	_ = viper.BindPFlag("sheetdb.base_url", cmd.Flags().Lookup("sheetdb-base-url"))
	_ = viper.BindPFlag("sheetdb.app_id", cmd.Flags().Lookup("sheetdb-app-id"))
	_ = viper.BindPFlag("sheetdb.access_key", cmd.Flags().Lookup("sheetdb-access-key"))
	_ = viper.BindPFlag("prompts.path", cmd.Flags().Lookup("kb-path"))
	_ = viper.BindPFlag("media.dir", cmd.Flags().Lookup("media-dir"))
	_ = viper.BindPFlag("advisor.phone", cmd.Flags().Lookup("advisor-phone"))
	_ = viper.BindPFlag("bot.name", cmd.Flags().Lookup("bot-name"))
	_ = viper.BindPFlag("session.idle_timeout", cmd.Flags().Lookup("idle-timeout"))
	_ = viper.BindPFlag("llm.provider", cmd.Flags().Lookup("llm-provider"))
	_ = viper.BindPFlag("llm.model", cmd.Flags().Lookup("llm-model"))
	_ = viper.BindPFlag("llm.api_key", cmd.Flags().Lookup("llm-api-key"))
	_ = viper.BindPFlag("llm.endpoint", cmd.Flags().Lookup("llm-endpoint"))

	viper.SetDefault("sheetdb.contacts_table", "CONTACTOS")
	viper.SetDefault("sheetdb.orders_table", "PEDIDOS")
	viper.SetDefault("sheetdb.max_retries", 3)
	viper.SetDefault("sheetdb.retry_delay", time.Second)
	viper.SetDefault("sheetdb.http_timeout", 30*time.Second)
	viper.SetDefault("llm.request_timeout", 60*time.Second)

	return cmd
}
