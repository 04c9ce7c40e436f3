package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every boot-time constant of the daemon. It is read once at
// startup and never mutated; there is no runtime reconfiguration surface.
type Config struct {
	Adapter     string            `yaml:"adapter"` // BlueZ adapter name, e.g. "hci0"
	Logger      LoggerConfig      `yaml:"logger"`
	Gadget      GadgetConfig      `yaml:"gadget"`
	Wake        WakeConfig        `yaml:"wake"`
	Advertising AdvertisingConfig `yaml:"advertising"`
	Power       PowerConfig       `yaml:"power"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// GadgetConfig is the USB identity the host sees after enumeration.
type GadgetConfig struct {
	Name         string `yaml:"name"`       // configfs gadget directory name
	HIDDevice    string `yaml:"hid_device"` // gadget character device
	UDC          string `yaml:"udc"`        // controller name; empty picks the first one
	VendorID     uint16 `yaml:"vendor_id"`
	ProductID    uint16 `yaml:"product_id"`
	Manufacturer string `yaml:"manufacturer"`
	Product      string `yaml:"product"`
	Serial       string `yaml:"serial"`
}

// WakeConfig covers the wake service and the keystroke it emits.
type WakeConfig struct {
	DeviceName     string `yaml:"device_name"` // advertised local name
	ServiceUUID    string `yaml:"service_uuid"`
	CharUUID       string `yaml:"char_uuid"`
	Description    string `yaml:"description"` // user-description descriptor value
	Keycode        uint8  `yaml:"keycode"`
	HoldMs         int    `yaml:"hold_ms"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	PollBudget     int    `yaml:"poll_budget"` // host-ready polls before a keystroke is dropped
}

func (w WakeConfig) hold() time.Duration {
	return time.Duration(w.HoldMs) * time.Millisecond
}

func (w WakeConfig) pollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

type AdvertisingConfig struct {
	MinIntervalMs uint32 `yaml:"min_interval_ms"`
	MaxIntervalMs uint32 `yaml:"max_interval_ms"`
}

// PowerConfig bounds the CPU clock and opts into the powersave governor.
// Applied once at boot; never fatal if the platform lacks cpufreq.
type PowerConfig struct {
	MaxFreqKHz  int  `yaml:"max_freq_khz"` // 0 leaves the platform bound untouched
	MinFreqKHz  int  `yaml:"min_freq_khz"`
	SleepEnable bool `yaml:"sleep_enable"`
}

func Defaults() Config {
	return Config{
		Adapter: "hci0",
		Logger:  LoggerConfig{Level: "info", Format: "text"},
		Gadget: GadgetConfig{
			Name:         "pentawake",
			HIDDevice:    "/dev/hidg0",
			VendorID:     0x303a,
			ProductID:    0x1001,
			Manufacturer: "pentawake",
			Product:      "Penta Power Button",
			Serial:       "PB-001",
		},
		Wake: WakeConfig{
			DeviceName:  "Penta Power Btn",
			ServiceUUID: "000000ff-0000-1000-8000-00805f9b34fb",
			CharUUID:    "0000ff01-0000-1000-8000-00805f9b34fb",
			Description: "Power button Penta",
			// Space wakes a PC from S3 reliably; held for 20 ms so the host
			// debounces it without registering a repeat.
			Keycode:        0x2c,
			HoldMs:         20,
			PollIntervalMs: 10,
			PollBudget:     100,
		},
		Advertising: AdvertisingConfig{MinIntervalMs: 20, MaxIntervalMs: 100},
		Power:       PowerConfig{SleepEnable: true},
	}
}

// loadConfig overlays an optional YAML file on top of Defaults().
func loadConfig(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Adapter == "":
		return fmt.Errorf("adapter must be set")
	case c.Gadget.Name == "" || c.Gadget.HIDDevice == "":
		return fmt.Errorf("gadget name and hid_device must be set")
	case c.Wake.ServiceUUID == "" || c.Wake.CharUUID == "":
		return fmt.Errorf("wake service and characteristic UUIDs must be set")
	case c.Wake.Keycode == 0:
		return fmt.Errorf("wake keycode must be non-zero")
	case c.Wake.HoldMs <= 0:
		return fmt.Errorf("wake hold_ms must be positive")
	case c.Wake.PollIntervalMs <= 0 || c.Wake.PollBudget <= 0:
		return fmt.Errorf("wake poll_interval_ms and poll_budget must be positive")
	case c.Advertising.MinIntervalMs == 0 || c.Advertising.MinIntervalMs > c.Advertising.MaxIntervalMs:
		return fmt.Errorf("advertising intervals must satisfy 0 < min <= max")
	}
	return nil
}
