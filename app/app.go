/*
app.go - Process wiring shared by the server and the admin CLI

PURPOSE:
  Builds the store, notification dispatcher, event publishers, outbox relay
  and engine from a loaded configuration. Both binaries call Build so the CLI
  runs the exact same engine the server does.

STORE SELECTION:
  database.path "memory"  -> generic/store.TxMemory (lost on exit)
  anything else           -> store/sqlite at that path

DELIVERY SELECTION:
  mail.enabled / sms.enabled pick the real senders; otherwise messages are
  logged. events.drivers lists the publishers the relay fans out to.

SEE ALSO:
  - cmd/server/main.go
  - cmd/allocctl/main.go
*/
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/allocation-engine/config"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/generic/store"
	"github.com/warp/allocation-engine/notify"
	"github.com/warp/allocation-engine/store/sqlite"

	// Register resource kinds.
	_ "github.com/warp/allocation-engine/hostel"
	_ "github.com/warp/allocation-engine/library"
)

// Store is everything the process needs from persistence.
type Store interface {
	generic.TxStore
	generic.OutboxStore
	Reset(ctx context.Context) error
}

// App is a wired engine with its collaborators.
type App struct {
	Store      Store
	Engine     *generic.Engine
	Relay      *notify.Relay
	Dispatcher *notify.Dispatcher
	Logger     *zap.Logger

	closers []func() error
}

// Build wires an App. Close releases what it opened.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Logger: logger}

	if err := a.openStore(cfg.Database); err != nil {
		return nil, err
	}

	senders, err := buildSenders(ctx, cfg, logger.Named("notify"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Dispatcher = notify.NewDispatcher(a.Store, senders, logger.Named("notify"))

	publisher, err := buildPublisher(cfg.Events, logger.Named("events"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Relay = notify.NewRelay(a.Store, publisher, logger.Named("relay"))

	rt := &generic.Runtime{
		Store:         a.Store,
		Notifications: a.Dispatcher,
		Outbox:        a.Relay,
		Logger:        logger.Named("engine"),
	}
	a.Engine = generic.NewEngine(rt, nil)
	return a, nil
}

func (a *App) openStore(cfg config.DatabaseConfig) error {
	if cfg.Path == "memory" || cfg.Path == "" {
		a.Store = store.NewTxMemory()
		a.Logger.Warn("using in-memory store; data is lost on exit")
		return nil
	}
	db, err := sqlite.New(cfg.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.Path, err)
	}
	a.Store = db
	a.closers = append(a.closers, db.Close)
	a.Logger.Info("database opened", zap.String("path", cfg.Path))
	return nil
}

func buildSenders(ctx context.Context, cfg *config.Config, logger *zap.Logger) (map[generic.Channel]notify.Sender, error) {
	senders := map[generic.Channel]notify.Sender{
		generic.ChannelEmail: notify.LogSender{Channel: generic.ChannelEmail, Logger: logger},
		generic.ChannelSMS:   notify.LogSender{Channel: generic.ChannelSMS, Logger: logger},
	}
	if cfg.Mail.Enabled {
		email, err := notify.NewEmailSender(notify.MailConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
		if err != nil {
			return nil, fmt.Errorf("email sender: %w", err)
		}
		senders[generic.ChannelEmail] = email
	}
	if cfg.SMS.Enabled {
		sms, err := notify.NewSMSSender(ctx, cfg.SMS.Region, cfg.SMS.SenderID)
		if err != nil {
			return nil, fmt.Errorf("sms sender: %w", err)
		}
		senders[generic.ChannelSMS] = sms
	}
	return senders, nil
}

func buildPublisher(cfg config.EventsConfig, logger *zap.Logger) (generic.Publisher, error) {
	var fan notify.Fanout
	for _, driver := range cfg.Drivers {
		switch driver {
		case "log":
			fan = append(fan, notify.LogPublisher{Logger: logger})
		case "redis":
			p, err := notify.NewRedisPublisher(cfg.Redis.URL, cfg.Redis.Channel)
			if err != nil {
				return nil, fmt.Errorf("redis publisher: %w", err)
			}
			fan = append(fan, p)
		case "pusher":
			fan = append(fan, notify.NewPusherPublisher(notify.PusherConfig{
				AppID:   cfg.Pusher.AppID,
				Key:     cfg.Pusher.Key,
				Secret:  cfg.Pusher.Secret,
				Cluster: cfg.Pusher.Cluster,
				Channel: cfg.Pusher.Channel,
			}))
		default:
			return nil, fmt.Errorf("unknown events driver %q", driver)
		}
	}
	if len(fan) == 0 {
		return notify.LogPublisher{Logger: logger}, nil
	}
	if len(fan) == 1 {
		return fan[0], nil
	}
	return fan, nil
}

// Close waits for queued notifications and closes the store.
func (a *App) Close() error {
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
