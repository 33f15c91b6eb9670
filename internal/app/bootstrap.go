package app

import (
	"log/slog"

	"essim_battery/internal/engine"
	"essim_battery/internal/esdl"
	"essim_battery/internal/event"
	"essim_battery/internal/infra"
	"essim_battery/internal/infra/influx"
	"essim_battery/internal/infra/monitor"
	"essim_battery/internal/infra/mqtt"
	"essim_battery/internal/infra/storage"
)

const defaultConfigPath = "configs/config.yaml"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config     *infra.Config
	Storage    *storage.Storage
	Recorder   *MultiRecorder
	Monitor    *monitor.Hub
	Transport  *mqtt.Client
	Controller *engine.Controller
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{ConfigPath: defaultConfigPath}
}

// Initialize loads the configuration and builds every component. Nothing
// connects or listens until the caller starts them.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping ESSIM battery node...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// 3. Result stores
	b.Recorder = &MultiRecorder{}
	if cfg.Storage.SQLitePath != "" {
		store, err := storage.NewStorage(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		b.Storage = store
		b.Recorder.Add("sqlite", store)
		slog.Info("✅ Run archive initialized", slog.String("path", cfg.Storage.SQLitePath))
	}
	b.Recorder.Add("influx", influx.NewRecorder(influx.RecorderConfig{
		DefaultURL: cfg.Influx.DefaultURL,
		Username:   cfg.Influx.Username,
		Password:   cfg.Influx.Password,
		Retries:    cfg.Influx.WriteRetries,
	}))

	// 4. Model loading (runs on the transport goroutine, before the inbox)
	profiles := influx.NewProfileSource(
		influx.ParseCredentials(cfg.Influx.Credentials),
		cfg.Influx.Username, cfg.Influx.Password, cfg.Influx.WriteRetries)
	decoder := event.NewDecoder(esdl.NewLoader(cfg.ESSIM.ModelID, profiles), cfg.ESSIM.SimulationID)

	// 5. Transport and controller share the inbox
	inbox := make(chan event.Event, 256)
	b.Transport = mqtt.NewClient(mqtt.Options{
		Host:           cfg.MQTT.Host,
		Port:           cfg.MQTT.Port,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		BaseTopic:      cfg.MQTT.BaseTopic,
		NodeID:         cfg.ESSIM.ModelID,
		QoS:            byte(cfg.MQTT.QoS),
		ConnectTimeout: cfg.ConnectTimeout(),
		Metrics:        infra.GlobalMetrics,
	}, decoder, inbox)

	var onUpdate func(engine.Snapshot)
	if cfg.Monitor.ListenAddr != "" {
		b.Monitor = monitor.NewHub(infra.GlobalMetrics)
		if b.Storage != nil {
			b.Monitor.SetArchive(b.Storage)
		}
		onUpdate = b.Monitor.Publish
	}

	b.Controller = engine.NewController(engine.Options{
		NodeID:        cfg.ESSIM.ModelID,
		BaseTopic:     cfg.MQTT.BaseTopic,
		Inbox:         inbox,
		Publisher:     b.Transport,
		Recorder:      b.Recorder,
		Location:      loc,
		Metrics:       infra.GlobalMetrics,
		OnStateUpdate: onUpdate,
	})
	slog.Info("✅ Controller ready",
		slog.String("node", cfg.ESSIM.ModelID),
		slog.String("topic", b.Transport.Topic()),
		slog.Int("recorders", b.Recorder.Len()))

	return nil
}

// Close releases resources held after shutdown.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close storage", slog.Any("error", err))
		}
	}
}
