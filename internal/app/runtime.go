package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/skobkin/devlink/internal/bus"
	"github.com/skobkin/devlink/internal/config"
	"github.com/skobkin/devlink/internal/link"
	"github.com/skobkin/devlink/internal/logging"
	"github.com/skobkin/devlink/internal/notifications"
	"github.com/skobkin/devlink/internal/platform"
)

// Options adjusts how the runtime is assembled. The zero value resolves the
// user config directory and logs to stderr.
type Options struct {
	Paths Paths
	// ConfigPath overrides Paths.ConfigFile.
	ConfigPath string
	// Override is applied to the loaded config before validation, e.g. for
	// command-line flags.
	Override  func(cfg *config.AppConfig)
	LogOutput io.Writer
	// Sender replaces the desktop notification backend.
	Sender notifications.Sender
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths      Paths
	ConfigPath string
	Config     config.AppConfig

	LogManager    *logging.Manager
	Bus           *bus.PubSubBus
	Link          *link.Link
	Notifications *NotificationService

	deviceLock platform.DeviceLock
	closeOnce  sync.Once
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths := opts.Paths
	if paths.RootDir == "" {
		resolved, err := ResolvePaths()
		if err != nil {
			return nil, err
		}
		paths = resolved
	}
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = paths.ConfigFile
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if opts.Override != nil {
		opts.Override(&cfg)
		cfg.FillMissingDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:        ctx,
		cancel:     cancel,
		Paths:      paths,
		ConfigPath: configPath,
		Config:     cfg,
	}

	logMgr := logging.NewManager()
	if opts.LogOutput != nil {
		logMgr = logging.NewManagerWithOutput(opts.LogOutput)
	}
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting devlink runtime", "version", BuildVersion(), "build_date", BuildDateYMD())

	target := ConnectionTarget(cfg.Connection)
	lock, err := platform.AcquireDeviceLock(Name, target)
	switch {
	case errors.Is(err, platform.ErrDeviceLockUnsupported):
		slog.Warn("device lock unavailable", "error", err)
	case err != nil:
		_ = rt.Close()
		return nil, fmt.Errorf("lock %s: %w", target, err)
	}
	rt.deviceLock = lock

	rt.Bus = bus.New(logMgr.Logger("bus"))

	factory, err := NewTransportFactory(cfg.Connection)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize transport: %w", err)
	}

	l, err := link.New(link.Options{
		NewTransport:      factory,
		Bus:               rt.Bus,
		Logger:            logMgr.Logger("link"),
		TransportName:     TransportNameFromConnector(cfg.Connection.Connector),
		Target:            target,
		ReconnectDelay:    cfg.Link.ReconnectDelay.Std(),
		HeartbeatInterval: cfg.Link.HeartbeatInterval.Std(),
		HeartbeatTimeout:  cfg.Link.HeartbeatTimeout.Std(),
		DialTimeout:       cfg.Connection.DialTimeout.Std(),
		WriteTimeout:      cfg.Link.WriteTimeout.Std(),
	})
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize link: %w", err)
	}
	rt.Link = l

	sender := opts.Sender
	if sender == nil {
		sender = notifications.NewDesktopSender(Name, logMgr.Logger("notifications"))
	}
	rt.Notifications = NewNotificationService(rt.Bus, rt.CurrentConfig, sender, logMgr.Logger("app.notifications"))
	rt.Notifications.Start(ctx)

	rt.Link.Start(ctx)

	return rt, nil
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

// SaveConfig persists the effective config, flag overrides included.
func (r *Runtime) SaveConfig() error {
	r.mu.RLock()
	cfg := r.Config
	path := r.ConfigPath
	r.mu.RUnlock()

	if err := config.Save(path, cfg); err != nil {
		return err
	}
	slog.Info("config saved", "path", path)

	return nil
}

func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		// The link goes first so its final status still reaches the bus.
		if r.Link != nil {
			_ = r.Link.Close()
		}
		if r.cancel != nil {
			r.cancel()
		}
		if r.Bus != nil {
			r.Bus.Close()
		}
		if r.deviceLock != nil {
			if err := r.deviceLock.Release(); err != nil {
				slog.Warn("release device lock", "error", err)
			}
		}
		if r.LogManager != nil {
			_ = r.LogManager.Close()
		}
	})

	return nil
}
