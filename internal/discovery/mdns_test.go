package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantID   string
		wantIP   string
		wantPort int
	}{
		{
			name: "bridge with IPv4",
			entry: &zeroconf.ServiceEntry{
				HostName: "tibber-host-a1b2c3.local.",
				Port:     80,
				AddrIPv4: []net.IP{net.ParseIP("192.168.4.16")},
				Text:     []string{"path=/"},
			},
			wantID:   "a1b2c3",
			wantIP:   "192.168.4.16",
			wantPort: 80,
		},
		{
			name: "bridge hostname without trailing dot",
			entry: &zeroconf.ServiceEntry{
				HostName: "tibber-bridge-00FF10.local",
				Port:     80,
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.5")},
			},
			wantID:   "00ff10",
			wantIP:   "10.0.0.5",
			wantPort: 80,
		},
		{
			name: "no port specified defaults to 80",
			entry: &zeroconf.ServiceEntry{
				HostName: "tibber-host-1.local",
				AddrIPv4: []net.IP{net.ParseIP("172.16.0.1")},
			},
			wantID:   "1",
			wantIP:   "172.16.0.1",
			wantPort: 80,
		},
		{
			name: "custom port",
			entry: &zeroconf.ServiceEntry{
				HostName: "tibber-host-beef.local",
				Port:     8080,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.100")},
			},
			wantID:   "beef",
			wantIP:   "192.168.1.100",
			wantPort: 8080,
		},
		{
			name: "other http service",
			entry: &zeroconf.ServiceEntry{
				HostName: "printer.local",
				Port:     80,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.1")},
			},
			wantNil: true,
		},
		{
			name:    "empty hostname",
			entry:   &zeroconf.ServiceEntry{AddrIPv4: []net.IP{net.ParseIP("192.168.1.1")}},
			wantNil: true,
		},
		{
			name:    "no IP address",
			entry:   &zeroconf.ServiceEntry{HostName: "tibber-host-a1.local"},
			wantNil: true,
		},
		{
			name: "IPv6 only",
			entry: &zeroconf.ServiceEntry{
				HostName: "tibber-host-a2.local",
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
			},
			wantID:   "a2",
			wantIP:   "fe80::1",
			wantPort: 80,
		},
		{
			name: "prefers IPv4",
			entry: &zeroconf.ServiceEntry{
				HostName: "tibber-host-a3.local",
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.50")},
				AddrIPv6: []net.IP{net.ParseIP("fe80::2")},
			},
			wantID:   "a3",
			wantIP:   "192.168.1.50",
			wantPort: 80,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := parseServiceEntry(tt.entry)

			if tt.wantNil {
				if bridge != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", bridge)
				}
				return
			}
			if bridge == nil {
				t.Fatal("parseServiceEntry() = nil, want bridge")
			}
			if bridge.ID != tt.wantID {
				t.Errorf("bridge.ID = %v, want %v", bridge.ID, tt.wantID)
			}
			if bridge.IP != tt.wantIP {
				t.Errorf("bridge.IP = %v, want %v", bridge.IP, tt.wantIP)
			}
			if bridge.Port != tt.wantPort {
				t.Errorf("bridge.Port = %v, want %v", bridge.Port, tt.wantPort)
			}
			if time.Since(bridge.DiscoveredAt) > time.Second {
				t.Errorf("bridge.DiscoveredAt is not recent: %v", bridge.DiscoveredAt)
			}
		})
	}
}

func TestParseServiceEntry_Metadata(t *testing.T) {
	bridge := parseServiceEntry(&zeroconf.ServiceEntry{
		HostName: "tibber-host-a1b2c3.local",
		AddrIPv4: []net.IP{net.ParseIP("192.168.4.16")},
		Text:     []string{"path=/", "fw=1.1.0", "flag"},
	})
	if bridge == nil {
		t.Fatal("parseServiceEntry() = nil, want bridge")
	}

	want := map[string]string{"path": "/", "fw": "1.1.0", "flag": ""}
	if len(bridge.Metadata) != len(want) {
		t.Errorf("bridge.Metadata has %d entries, want %d", len(bridge.Metadata), len(want))
	}
	for key, value := range want {
		if got := bridge.GetMetadata(key); got != value {
			t.Errorf("GetMetadata(%q) = %q, want %q", key, got, value)
		}
	}
}

func TestNewScanner(t *testing.T) {
	if scanner := NewScanner(); scanner.Timeout != DefaultScanTimeout {
		t.Errorf("scanner.Timeout = %v, want %v", scanner.Timeout, DefaultScanTimeout)
	}
}

func TestHostnamePattern(t *testing.T) {
	tests := []struct {
		hostname    string
		shouldMatch bool
		id          string
	}{
		{"tibber-host-a1b2c3.local", true, "a1b2c3"},
		{"tibber-host-a1b2c3.local.", true, "a1b2c3"},
		{"tibber-bridge-ABCDEF.local", true, "ABCDEF"},
		{"tibber-host-.local", false, ""},    // no id
		{"tibber-host-xyz.local", false, ""}, // non-hex id
		{"tibber-pulse-a1.local", false, ""}, // wrong infix
		{"tibber-host-a1", false, ""},        // missing .local
		{"", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			matches := hostnamePattern.FindStringSubmatch(tt.hostname)
			if !tt.shouldMatch {
				if matches != nil {
					t.Errorf("hostnamePattern matched %q, want no match", tt.hostname)
				}
				return
			}
			if len(matches) < 2 {
				t.Fatalf("hostnamePattern did not match %q", tt.hostname)
			}
			if matches[1] != tt.id {
				t.Errorf("hostnamePattern matched %q with id %q, want %q", tt.hostname, matches[1], tt.id)
			}
		})
	}
}
