// Package discovery advertises and locates boardsync services on the local
// network via mDNS.
package discovery

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/mdns"
)

const serviceType = "_boardsync._tcp"

// Advertise publishes this service instance on the LAN. The returned server
// must be shut down on exit.
func Advertise(port int) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	service, err := mdns.NewMDNSService(
		host,
		serviceType,
		"", // domain, defaults to .local
		"", // hostname, defaults to the OS hostname
		port,
		nil, // IPs auto-detected
		[]string{"boardsync"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Browse looks up advertised services and calls found for each host:port
// discovered.
func Browse(found func(addr string)) error {
	entries := make(chan *mdns.ServiceEntry, 8)
	go func() {
		for e := range entries {
			if e.AddrV4 == nil || e.Port == 0 {
				continue
			}
			found(fmt.Sprintf("%s:%d", e.AddrV4.String(), e.Port))
		}
	}()
	return mdns.Lookup(serviceType, entries)
}

// First resolves the first advertised service within the lookup window, or
// an error when none answers.
func First(wait time.Duration) (string, error) {
	ch := make(chan string, 1)
	if err := Browse(func(addr string) {
		select {
		case ch <- addr:
		default:
		}
	}); err != nil {
		return "", err
	}
	select {
	case addr := <-ch:
		return addr, nil
	case <-time.After(wait):
		return "", fmt.Errorf("no %s service found", serviceType)
	}
}
