package discovery

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type bridges advertise their web UI under
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for bridge discovery
	DefaultScanTimeout = 10 * time.Second

	// DefaultPort is the default HTTP port of a bridge
	DefaultPort = 80
)

// hostnamePattern matches bridge hostnames (e.g., "tibber-host-a1b2c3.local.")
var hostnamePattern = regexp.MustCompile(`^tibber-(?:host|bridge)-([0-9a-fA-F]+)\.local\.?$`)

// Scanner handles mDNS bridge discovery
type Scanner struct {
	// Timeout is the maximum time to wait for bridges to answer
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan discovers all bridges on the local network until the timeout
// expires or ctx is cancelled. Bridges are returned sorted by ID, each
// reported once.
func (s *Scanner) Scan(ctx context.Context) ([]*Bridge, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu    sync.Mutex
		found = make(map[string]*Bridge)
		done  = make(chan struct{})
	)
	go func() {
		defer close(done)
		for entry := range entries {
			if bridge := parseServiceEntry(entry); bridge != nil {
				mu.Lock()
				found[bridge.ID] = bridge
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// zeroconf closes entries once the browse context ends.
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	bridges := make([]*Bridge, 0, len(found))
	for _, b := range found {
		bridges = append(bridges, b)
	}
	sort.Slice(bridges, func(i, j int) bool { return bridges[i].ID < bridges[j].ID })
	return bridges, nil
}

// WaitForBridge returns the bridge with the given ID as soon as it answers.
func (s *Scanner) WaitForBridge(ctx context.Context, id string) (*Bridge, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	bridgeChan := make(chan *Bridge, 1)
	go func() {
		for entry := range entries {
			bridge := parseServiceEntry(entry)
			if bridge != nil && strings.EqualFold(bridge.ID, id) {
				select {
				case bridgeChan <- bridge:
				default:
				}
				cancel()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case bridge := <-bridgeChan:
		return bridge, nil
	case <-ctx.Done():
		select {
		case bridge := <-bridgeChan:
			return bridge, nil
		default:
		}
		return nil, fmt.Errorf("bridge %s not found within %s", id, s.Timeout)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Bridge.
// Returns nil if the entry is not a meter bridge.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Bridge {
	hostname := entry.HostName
	if hostname == "" {
		return nil
	}

	matches := hostnamePattern.FindStringSubmatch(hostname)
	if len(matches) < 2 {
		return nil
	}

	// Prefer IPv4
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	// TXT records are in "key=value" format
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	return &Bridge{
		ID:           strings.ToLower(matches[1]),
		Hostname:     hostname,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
