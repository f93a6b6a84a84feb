// Package engine wires the coordination core to its boundaries: calendar,
// ledger, journal, broker, sleeves, monitoring and notifications.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rs/zerolog"

	"github.com/Pythefnos/Topstep-quant/internal/broker"
	"github.com/Pythefnos/Topstep-quant/internal/calendar"
	"github.com/Pythefnos/Topstep-quant/internal/config"
	"github.com/Pythefnos/Topstep-quant/internal/errors"
	"github.com/Pythefnos/Topstep-quant/internal/gate"
	"github.com/Pythefnos/Topstep-quant/internal/ledger"
	"github.com/Pythefnos/Topstep-quant/internal/monitoring"
	"github.com/Pythefnos/Topstep-quant/internal/notifications"
	"github.com/Pythefnos/Topstep-quant/internal/payout"
	"github.com/Pythefnos/Topstep-quant/internal/risk"
	"github.com/Pythefnos/Topstep-quant/internal/sleeve"
)

// Engine assembles and runs the whole coordination stack
type Engine struct {
	cfg    *config.EngineConfig
	logger zerolog.Logger

	cal      *calendar.Calendar
	led      *ledger.Ledger
	journal  *ledger.SQLiteJournal
	coord    *risk.Coordinator
	gate     *gate.Gate
	exec     broker.ExecutionBroker
	notifier notifications.Notifier
	health   *monitoring.HealthChecker

	sleeves map[string]sleeve.Sleeve
	handles map[string]*sleeve.Handle

	servers []*http.Server
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds the engine from a validated configuration
func New(cfg *config.EngineConfig, logger zerolog.Logger) (*Engine, error) {
	cal, err := calendar.New(cfg.Session.Timezone, cfg.Session.RolloverHour, cfg.Session.RolloverMinute)
	if err != nil {
		return nil, err
	}
	led := ledger.New(cal, cfg.Account.InitialBalance, time.Now())

	var journal *ledger.SQLiteJournal
	if cfg.Journal.Enabled {
		journal, err = ledger.NewSQLiteJournal(cfg.Journal.Path, logger)
		if err != nil {
			return nil, err
		}
		led.SetJournal(journal)
	}

	var notifier notifications.Notifier = notifications.NoopNotifier{}
	if cfg.Notifications != nil && cfg.Notifications.Enabled {
		notifier = notifications.NewTelegramNotifier(
			cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChat)
	}

	var exec broker.ExecutionBroker
	switch cfg.Broker.Mode {
	case "bybit":
		exec = broker.NewBybitBroker(broker.BybitConfig{
			APIKey:    cfg.Broker.APIKey,
			APISecret: cfg.Broker.APISecret,
			Category:  cfg.Broker.Category,
			Testnet:   cfg.Broker.Testnet,
			Demo:      cfg.Broker.Demo,
		}, logger)
	default:
		exec = broker.NewSimBroker()
	}

	coord, err := risk.New(risk.Config{
		InitialBalance:  cfg.Account.InitialBalance,
		Limits:          cfg.Limits,
		Params:          cfg.Params,
		Retry:           cfg.Retry,
		DisabledSleeves: cfg.DisabledSleeveIDs(),
	}, cal, led, exec, payout.New(cfg.Payout), notifier, logger)
	if err != nil {
		return nil, err
	}
	if journal != nil {
		coord.SetJournal(journal)
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.With().Str("component", "engine").Logger(),
		cal:      cal,
		led:      led,
		journal:  journal,
		coord:    coord,
		gate:     gate.New(cfg.Limits, coord.Snapshot, logger),
		exec:     exec,
		notifier: notifier,
		health:   monitoring.NewHealthChecker(),
		sleeves:  make(map[string]sleeve.Sleeve),
		handles:  make(map[string]*sleeve.Handle),
	}

	for _, sc := range cfg.Sleeves {
		s, err := e.buildSleeve(sc, logger)
		if err != nil {
			return nil, err
		}
		h, err := coord.RegisterSleeve(sc.ID)
		if err != nil {
			return nil, err
		}
		e.sleeves[sc.ID] = s
		e.handles[sc.ID] = h
	}

	return e, nil
}

func (e *Engine) buildSleeve(sc config.SleeveConfig, logger zerolog.Logger) (sleeve.Sleeve, error) {
	switch sc.Kind {
	case "", "paper":
		return newPaperSleeve(sc, e.coord, e.gate, logger), nil
	default:
		return nil, errors.NewConfigError("engine", "build_sleeve",
			fmt.Sprintf("unknown sleeve kind %q for sleeve %q", sc.Kind, sc.ID), nil)
	}
}

// Coordinator exposes the risk coordinator, mainly for status commands
func (e *Engine) Coordinator() *risk.Coordinator {
	return e.coord
}

// Gate exposes the admission gate sleeves consult
func (e *Engine) Gate() *gate.Gate {
	return e.gate
}

// Start launches the coordinator, sleeves and observability endpoints
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	if err := e.coord.Start(ctx); err != nil {
		return err
	}

	e.printStartupSummary()

	if e.cfg.Monitoring.Enabled {
		e.startObservability()
	}

	events := e.coord.Subscribe(64)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				e.health.RecordActivity(e.coord.Snapshot().State.String(), ev.TradingDay)
				e.logger.Info().
					Str("type", string(ev.Type)).
					Str("trading_day", ev.TradingDay).
					Float64("daily_pnl", ev.DailyPnL).
					Float64("drawdown", ev.Drawdown).
					Str("reason", ev.Reason).
					Msg("risk event")
			}
		}
	}()

	for id, s := range e.sleeves {
		h := e.handles[id]
		e.wg.Add(1)
		go func(id string, s sleeve.Sleeve, h *sleeve.Handle) {
			defer e.wg.Done()
			if err := s.Run(ctx, h); err != nil && ctx.Err() == nil {
				e.logger.Error().Err(err).Str("sleeve", id).Msg("sleeve stopped with error")
			}
		}(id, s, h)
	}

	return nil
}

// Stop shuts everything down in dependency order
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.coord.Stop()

	for _, srv := range e.servers {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	if e.journal != nil {
		_ = e.journal.Close()
	}
	e.logger.Info().Msg("👋 Engine stopped")
}

func (e *Engine) startObservability() {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", monitoring.NewMetricsHandler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", e.cfg.Monitoring.PrometheusPort),
		Handler: metricsMux,
	}

	healthMux := http.NewServeMux()
	healthMux.Handle("/health", e.health)
	healthSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", e.cfg.Monitoring.HealthPort),
		Handler: healthMux,
	}

	e.servers = append(e.servers, metricsSrv, healthSrv)
	for _, srv := range e.servers {
		e.wg.Add(1)
		go func(srv *http.Server) {
			defer e.wg.Done()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				e.logger.Error().Err(err).Str("addr", srv.Addr).Msg("observability server failed")
			}
		}(srv)
	}
}

func (e *Engine) printStartupSummary() {
	snap := e.coord.Snapshot()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("RISK ENGINE")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"💰 Initial Balance", fmt.Sprintf("$%.2f", e.cfg.Account.InitialBalance)},
		{"📉 Max Daily Loss", fmt.Sprintf("$%.2f", e.cfg.Limits.MaxDailyLoss)},
		{"📉 Max Trailing DD", fmt.Sprintf("$%.2f", e.cfg.Limits.MaxTrailingDrawdown)},
		{"⚠️ Warn Fraction", fmt.Sprintf("%.0f%%", e.cfg.Params.WarnFraction*100)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"📅 Trading Day", snap.TradingDay},
		{"🕔 Rollover", fmt.Sprintf("%02d:%02d %s",
			e.cfg.Session.RolloverHour, e.cfg.Session.RolloverMinute, e.cfg.Session.Timezone)},
		{"🏪 Broker", e.cfg.Broker.Mode},
		{"🧩 Sleeves", fmt.Sprintf("%d", len(e.sleeves))},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 40, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}
