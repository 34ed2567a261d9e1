// Package daemon adjusts process limits before the proxy starts serving.
package daemon

import (
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Setup raises the open file limit and, on OpenWrt, protects the process
// from the OOM killer. Failures are logged and never fatal.
func Setup() {
	if n, err := RaiseNoFile(); err != nil {
		slog.Warn("RaiseNoFile", slog.Any("error", err))
	} else {
		slog.Debug("Open file limit", slog.Uint64("limit", n))
	}
	if IsOpenWrt() {
		if err := SetOOMScoreAdj(-900); err != nil {
			slog.Warn("SetOOMScoreAdj", slog.Any("error", err))
		}
	}
}

func IsOpenWrt() bool {
	if _, err := os.Stat("/etc/openwrt_release"); err == nil {
		return true
	}
	data, err := os.ReadFile("/etc/os-release")
	if err == nil && strings.Contains(string(data), "OpenWrt") {
		return true
	}
	_, err = exec.LookPath("opkg")
	return err == nil
}
