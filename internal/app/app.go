package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pool-liquidity-alerts/internal/alerting"
	"pool-liquidity-alerts/internal/config"
	"pool-liquidity-alerts/internal/fetcher"
	"pool-liquidity-alerts/internal/monitor"
	"pool-liquidity-alerts/internal/scheduler"
	"pool-liquidity-alerts/internal/storage"
	"pool-liquidity-alerts/internal/telemetry"
	"pool-liquidity-alerts/internal/version"
)

// Alert channel names accepted in alerting.channels.
const (
	ChannelLog      = "log"
	ChannelTelegram = "telegram"
	ChannelPushover = "pushover"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() *fetcher.Chain {
	eth := a.Config.Ethereum
	return fetcher.NewChain(fetcher.ChainOptions{
		RPCURL:          eth.RPCURL,
		Timeout:         eth.RequestTimeout,
		RateLimitRPS:    eth.RateLimitRPS,
		RateLimitBurst:  eth.RateLimitBurst,
		BreakerFailures: eth.BreakerFailures,
		BreakerTimeout:  eth.BreakerTimeout,
	}, a.Logger)
}

// newNotifier builds the fan-out over every enabled channel. A channel is
// enabled by listing it in alerting.channels or by its own enabled flag.
func (a *App) newNotifier() (alerting.Notifier, error) {
	cfg := a.Config.Alerting
	enabled := map[string]bool{
		ChannelTelegram: cfg.Telegram.Enabled,
		ChannelPushover: cfg.Pushover.Enabled,
	}
	for _, ch := range cfg.Channels {
		name := strings.ToLower(strings.TrimSpace(ch))
		switch name {
		case "":
			continue
		case ChannelLog, ChannelTelegram, ChannelPushover:
			enabled[name] = true
		default:
			return nil, fmt.Errorf("unknown alert channel %q", ch)
		}
	}

	var out alerting.Broadcast
	if enabled[ChannelLog] {
		out = append(out, alerting.NewLogNotifier(a.Logger))
	}
	if enabled[ChannelTelegram] {
		tg := cfg.Telegram
		if tg.BotToken == "" || len(tg.ChatIDs) == 0 {
			return nil, errors.New("telegram channel requires alerting.telegram.bot_token and chat_ids")
		}
		out = append(out, alerting.NewTelegramNotifier(tg.BotToken, tg.ChatIDs, tg.APIBase, tg.ParseMode, tg.Timeout, a.Logger))
	}
	if enabled[ChannelPushover] {
		po := cfg.Pushover
		if po.ApplicationKey == "" || po.UserKey == "" {
			return nil, errors.New("pushover channel requires alerting.pushover.application_key and user_key")
		}
		out = append(out, alerting.NewPushoverNotifier(po.ApplicationKey, po.UserKey, po.APIBase, po.Timeout, a.Logger))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	backend, err := storage.Open(ctx, a.Config)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.Config.ResolveBackend(), err)
	}
	return backend, nil
}

// resolvePools returns the requested pool, or every configured pool when empty.
func (a *App) resolvePools(pool string) ([]string, error) {
	if pool != "" {
		return []string{storage.NormalizePoolID(pool)}, nil
	}
	out := make([]string, 0, len(a.Config.Monitor.Pools))
	for _, p := range a.Config.Monitor.Pools {
		out = append(out, storage.NormalizePoolID(p.Address))
	}
	if len(out) == 0 {
		return nil, errors.New("no pools configured; pass --pool")
	}
	return out, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(a.Config.Monitor.Pools) == 0 {
		return errors.New("monitor.pools is empty; nothing to watch")
	}

	backend, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()
	if a.Config.ResolveBackend() == config.BackendMemory {
		a.Logger.Warn().Msg("using in-memory store; sample history is lost on restart")
	}

	metrics := telemetry.NewMetrics()
	if a.Config.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, a.Config.Metrics.ListenAddr, a.Config.Metrics.Path, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		a.Logger.Warn().Msg("no alert channels configured; alerts are only recorded")
	}
	dispatcher := alerting.NewDispatcher(notifier, backend, metrics, a.Logger)

	source := a.newSource()
	defer source.Close()

	mon := monitor.New(monitor.OptionsFromConfig(a.Config), source, backend, dispatcher, metrics, a.Logger)
	if err := mon.RegisterConfigured(ctx, a.Config); err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		Immediate:     true,
	}, a.Logger)

	a.Logger.Info().
		Str("version", version.Version).
		Int("pools", len(mon.Pools())).
		Dur("interval", a.Config.Scheduler.Interval).
		Dur("window", a.Config.Monitor.Window).
		Dur("cooldown", a.Config.Alerting.Cooldown).
		Msg("starting pool monitor")
	err = mon.Run(ctx, sched)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("pool monitor stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Pool      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Pool   string
	Limit  int
	Alerts bool
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	Pool   string
	Blocks uint64
	Step   uint64
	DryRun bool
}

// SimulateOptions describe one synthetic price move.
type SimulateOptions struct {
	FromPrice float64
	ToPrice   float64
	Token0    string
	Token1    string
}
