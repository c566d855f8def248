// Package platform wraps the porting-layer surface the logging and clock
// subsystems need from the underlying OS: NTP client daemon supervision,
// kernel clock-sync sampling, and device identity.
package platform

import (
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// NtpSyncStatus is the judged state of kernel time synchronization.
type NtpSyncStatus int

const (
	// SyncNotYet means no usable sample has been observed.
	SyncNotYet NtpSyncStatus = iota
	// SyncSuccess means the kernel clock is NTP-disciplined.
	SyncSuccess
	// SyncFailure means sampling worked but the clock is unsynchronized.
	SyncFailure
)

// NtpOps is the NTP daemon supervision surface used by the clock
// manager's monitor loop.
type NtpOps interface {
	// IsDaemonActive reports whether the NTP client daemon is running.
	IsDaemonActive() bool

	// StartDaemon starts the NTP client daemon.
	StartDaemon() error

	// RestartDaemon restarts a dead NTP client daemon.
	RestartDaemon() error

	// StopDaemon stops the NTP client daemon.
	StopDaemon() error

	// SampleSyncStatus samples the kernel clock discipline state.
	SampleSyncStatus() NtpSyncStatus
}

// LinuxNtp supervises an ntpd-style daemon through its pid file and a
// service control command, and samples sync state via adjtimex(2).
type LinuxNtp struct {
	// PidFile is the daemon's pid file path.
	PidFile string
	// Service is the service unit name handed to the control command.
	Service string
}

// NewLinuxNtp returns the default supervision config.
func NewLinuxNtp() *LinuxNtp {
	return &LinuxNtp{
		PidFile: "/run/ntpd.pid",
		Service: "ntpd",
	}
}

// IsDaemonActive implements NtpOps. A daemon is active when its pid file
// names a live process (signal 0 probe).
func (n *LinuxNtp) IsDaemonActive() bool {
	data, err := os.ReadFile(n.PidFile)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// StartDaemon implements NtpOps.
func (n *LinuxNtp) StartDaemon() error {
	return exec.Command("systemctl", "start", n.Service).Run()
}

// RestartDaemon implements NtpOps.
func (n *LinuxNtp) RestartDaemon() error {
	return exec.Command("systemctl", "restart", n.Service).Run()
}

// StopDaemon implements NtpOps.
func (n *LinuxNtp) StopDaemon() error {
	return exec.Command("systemctl", "stop", n.Service).Run()
}

// SampleSyncStatus implements NtpOps using adjtimex(2). STA_UNSYNC in
// the timex status means the clock is not NTP-disciplined.
func (n *LinuxNtp) SampleSyncStatus() NtpSyncStatus {
	var tx unix.Timex
	state, err := unix.Adjtimex(&tx)
	if err != nil {
		return SyncNotYet
	}
	if state == unix.TIME_ERROR || tx.Status&unix.STA_UNSYNC != 0 {
		return SyncFailure
	}
	return SyncSuccess
}
