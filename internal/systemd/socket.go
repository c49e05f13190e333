package systemd

import (
	"fmt"
	"net"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Listeners holds all systemd-activated listeners
type Listeners struct {
	Events    net.Listener
	Metrics   net.Listener
	DNSUdp    net.PacketConn
	DNSTcp    net.Listener
	Activated bool
}

// GetListeners retrieves systemd socket-activated file descriptors.
// Returns nil listeners if not running under socket activation.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{
		Activated: false,
	}

	fds := activation.Files(false) // false = don't unset env vars
	if len(fds) == 0 {
		return listeners, nil
	}

	listeners.Activated = true

	// Named listeners are defined in tabtime.socket via
	// FileDescriptorName= directives: events, metrics, dns-udp, dns-tcp.
	listenersMap, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	if lns, ok := listenersMap["events"]; ok && len(lns) > 0 {
		listeners.Events = lns[0]
	}

	if lns, ok := listenersMap["metrics"]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}

	if lns, ok := listenersMap["dns-tcp"]; ok && len(lns) > 0 {
		listeners.DNSTcp = lns[0]
	}

	// UDP sockets arrive as PacketConns, not Listeners.
	packetConns, err := activation.PacketConns()
	if err == nil && len(packetConns) > 0 {
		for _, pc := range packetConns {
			if _, ok := pc.LocalAddr().(*net.UDPAddr); ok {
				listeners.DNSUdp = pc
				break
			}
		}
	}

	return listeners, nil
}

// NotifyReady sends READY=1 notification to systemd.
// This tells systemd that the service has finished starting up.
func NotifyReady() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		return fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 notification to systemd.
// This tells systemd that the service is shutting down.
func NotifyStopping() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}
