package main

import (
	"log/slog"
	"path/filepath"
	"strconv"
)

const cpufreqRoot = "/sys/devices/system/cpu"

// applyPowerPolicy writes the boot-time clock bounds and, when sleep is
// enabled, switches the scaling governor to powersave. Applied once at boot.
// Failures are logged and ignored; a platform without cpufreq only costs
// idle power, never correctness.
func applyPowerPolicy(cfg PowerConfig, log *slog.Logger) {
	applyPowerPolicyAt(cpufreqRoot, cfg, log)
}

func applyPowerPolicyAt(root string, cfg PowerConfig, log *slog.Logger) {
	dirs, err := filepath.Glob(filepath.Join(root, "cpu[0-9]*", "cpufreq"))
	if err != nil || len(dirs) == 0 {
		log.Warn("no cpufreq policies found, skipping power policy")
		return
	}
	for _, dir := range dirs {
		if cfg.MinFreqKHz > 0 {
			if err := writeAttr(dir, "scaling_min_freq", strconv.Itoa(cfg.MinFreqKHz)); err != nil {
				log.Warn("set min frequency failed", "err", err)
			}
		}
		if cfg.MaxFreqKHz > 0 {
			if err := writeAttr(dir, "scaling_max_freq", strconv.Itoa(cfg.MaxFreqKHz)); err != nil {
				log.Warn("set max frequency failed", "err", err)
			}
		}
		if cfg.SleepEnable {
			if err := writeAttr(dir, "scaling_governor", "powersave"); err != nil {
				log.Warn("set powersave governor failed", "err", err)
			}
		}
	}
	log.Info("power policy applied",
		"policies", len(dirs),
		"min_khz", cfg.MinFreqKHz,
		"max_khz", cfg.MaxFreqKHz,
		"sleep", cfg.SleepEnable)
}
