// Command gobbledegook runs the sample GATT server standalone: a device
// information service, a fake battery that drains once per second, a current
// time service, a mutable text string, and CPU information.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	ggk "github.com/rivermoonlight/gobbledegook"
)

// config is the optional YAML configuration file. Command-line flags
// override file values.
type config struct {
	ServiceName          string `yaml:"service_name"`
	AdvertisingName      string `yaml:"advertising_name"`
	AdvertisingShortName string `yaml:"advertising_short_name"`
	LogLevel             string `yaml:"log_level"`

	EnableBREDR            bool `yaml:"enable_bredr"`
	EnableSecureConnection bool `yaml:"enable_secure_connection"`
	EnableBondable         bool `yaml:"enable_bondable"`

	InitTimeoutSeconds int `yaml:"init_timeout_seconds"`
}

func defaultConfig() config {
	return config{
		ServiceName:          "gobbledegook",
		AdvertisingName:      "Gobbledegook",
		AdvertisingShortName: "GGK",
		LogLevel:             "info",
		InitTimeoutSeconds:   30,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// hostData is the standalone host's server-side data store. The getter and
// setter are called from the server's main loop while the battery updater
// runs on its own goroutine, so access is guarded.
type hostData struct {
	mu           sync.Mutex
	batteryLevel byte
	textString   string
}

func (h *hostData) get(name string) interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch name {
	case "battery/level":
		return h.batteryLevel
	case "text/string":
		return h.textString
	}
	logrus.Warnf("Unknown name for server data getter request: '%s'", name)
	return nil
}

func (h *hostData) set(name string, value interface{}) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch name {
	case "battery/level":
		if level, ok := value.(byte); ok {
			h.batteryLevel = level
			logrus.Debugf("Server data: battery level set to %d", level)
			return true
		}
	case "text/string":
		if text, ok := value.(string); ok {
			h.textString = text
			logrus.Debugf("Server data: text string set to '%s'", text)
			return true
		}
	}
	logrus.Warnf("Unknown name for server data setter request: '%s'", name)
	return false
}

// drainBattery walks the battery level down once per second, wrapping back
// to full, and pushes an update for each change.
func (h *hostData) drainBattery(stop <-chan struct{}, batteryPath string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.mu.Lock()
			if h.batteryLevel > 0 {
				h.batteryLevel--
			} else {
				h.batteryLevel = 100
			}
			h.mu.Unlock()
			ggk.NotifyUpdatedCharacteristic(batteryPath)
		case <-stop:
			return
		}
	}
}

func parseLevel(s string) (logrus.Level, error) {
	switch s {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", s)
}

func run(cfg config) error {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	ggk.Log.SetOutput(os.Stderr)
	ggk.Log.SetLevel(level)

	data := &hostData{batteryLevel: 78, textString: "Hello, world!"}
	srv := ggk.NewSampleServer(cfg.ServiceName, cfg.AdvertisingName, cfg.AdvertisingShortName, data.get, data.set)
	srv.SetEnableBREDR(cfg.EnableBREDR)
	srv.SetEnableSecureConnection(cfg.EnableSecureConnection)
	srv.SetEnableBondable(cfg.EnableBondable)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		logrus.Infof("%v received, shutting down", sig)
		ggk.TriggerShutdown()
	}()

	if err := ggk.Start(srv, time.Duration(cfg.InitTimeoutSeconds)*time.Second); err != nil {
		return fmt.Errorf("server failed to start: %w (health: %v)", err, ggk.GetServerHealth())
	}

	daemon.SdNotify(false, daemon.SdNotifyReady)

	stop := make(chan struct{})
	batteryPath := "/com/" + srv.ServiceName() + "/battery/level"
	go data.drainBattery(stop, batteryPath)

	err = ggk.Wait()
	close(stop)
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err != nil {
		return fmt.Errorf("server stopped with an error: %w (health: %v)", err, ggk.GetServerHealth())
	}
	if health := ggk.GetServerHealth(); health != ggk.HealthOk {
		return fmt.Errorf("server stopped unhealthy: %v", health)
	}
	return nil
}

func main() {
	var (
		configPath string
		logLevel   string
		name       string
	)

	root := &cobra.Command{
		Use:   "gobbledegook",
		Short: "Run the sample BLE GATT peripheral",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("name") {
				cfg.ServiceName = name
			}
			return run(cfg)
		},
		SilenceUsage: true,
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.Flags().StringVar(&name, "name", "gobbledegook", "service name (forms the owned bus name)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
