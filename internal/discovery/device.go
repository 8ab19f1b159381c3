package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/muurk/pulsemeter/internal/config"
)

// Bridge represents a discovered meter bridge on the network
type Bridge struct {
	// ID is the hex identifier from the hostname (e.g., "a1b2c3")
	ID string

	// Hostname is the mDNS hostname (e.g., "tibber-host-a1b2c3.local.")
	Hostname string

	// IP is the preferred address, IPv4 when the bridge has one
	IP string

	// Port is the HTTP port (typically 80)
	Port int

	// Metadata contains the mDNS TXT record data
	Metadata map[string]string

	// DiscoveredAt is when the bridge was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the bridge
func (b *Bridge) String() string {
	return fmt.Sprintf("Meter bridge %s (%s) at %s", b.ID, b.Hostname, b.Host())
}

// Host returns the address to connect to, with the port only when it is
// not the default.
func (b *Bridge) Host() string {
	if b.Port == 0 || b.Port == DefaultPort {
		if ip := net.ParseIP(b.IP); ip != nil && ip.To4() == nil {
			return "[" + b.IP + "]"
		}
		return b.IP
	}
	return net.JoinHostPort(b.IP, strconv.Itoa(b.Port))
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (b *Bridge) GetMetadata(key string) string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[key]
}

// Meter returns a configuration entry for this bridge. The password is
// left empty and has to be filled in or prompted.
func (b *Bridge) Meter(name string) *config.Meter {
	if name == "" {
		name = "bridge-" + b.ID
	}
	m := &config.Meter{Name: name, Host: b.Host()}
	m.ApplyDefaults()
	return m
}
