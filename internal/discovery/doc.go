// Package discovery finds meter bridges on the local network via mDNS.
//
// Bridges advertise their web interface as an "_http._tcp" service under a
// hostname of the form "tibber-host-<hex id>.local". The scanner browses
// that service type and keeps only entries whose hostname matches.
//
// # Usage Example
//
//	scanner := discovery.NewScanner()
//	scanner.Timeout = 5 * time.Second
//	bridges, err := scanner.Scan(ctx)
//	if err != nil {
//	    return err
//	}
//	for _, b := range bridges {
//	    fmt.Println(b, b.Meter("").RedactedURL())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Bridges must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
