package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const xvfbReadyTimeout = 5 * time.Second

// displaySocket is the X11 socket of display ":N".
func displaySocket(display string) string {
	n := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	return "/tmp/.X11-unix/X" + n
}

// ensureDisplay makes the headful display available. A display already
// served (typically an operator's Xvfb paired with a VNC server) is reused;
// otherwise Xvfb is started once per Manager and awaited until its socket
// appears.
func (m *Manager) ensureDisplay(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.xvfb != nil {
		return nil
	}

	display := m.cfg.XvfbDisplay
	sock := displaySocket(display)
	if _, err := os.Stat(sock); err == nil {
		m.cfg.Logger.Debug("browser: reusing display", "display", display)
		return nil
	}

	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}

	deadline := time.Now().Add(xvfbReadyTimeout)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return fmt.Errorf("xvfb %s: socket %s not ready", display, sock)
		}
		time.Sleep(50 * time.Millisecond)
	}
	m.xvfb = cmd
	m.cfg.Logger.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

// stopDisplay kills the Xvfb started by ensureDisplay. A reused display is
// left alone. Caller holds m.mu.
func (m *Manager) stopDisplay() {
	if m.xvfb == nil || m.xvfb.Process == nil {
		return
	}
	m.xvfb.Process.Kill()
	m.xvfb.Wait()
	m.cfg.Logger.Info("browser: xvfb stopped", "display", m.cfg.XvfbDisplay)
	m.xvfb = nil
}
