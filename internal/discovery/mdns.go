// Package discovery advertises boards on the local network over mDNS and
// finds them again from the CLI.
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD service boards register under.
const ServiceType = "_inkboard._tcp"

// Board is one advertised board server.
type Board struct {
	Instance string
	Host     string
	Addr     string // host:port to dial
	Info     []string
}

// URL returns the board's WebSocket endpoint.
func (b Board) URL() string {
	return "ws://" + b.Addr + "/ws"
}

// Advertise registers a board listening on port. Close the returned
// server to withdraw the advertisement. An empty instance uses the
// hostname.
func Advertise(instance string, port int, info []string) (*mdns.Server, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("discovery: hostname: %w", err)
		}
		instance = host
	}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("discovery: create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("discovery: start responder: %w", err)
	}
	log.Printf("discovery: advertising %s.%s port=%d", instance, ServiceType, port)
	return server, nil
}

// Browse collects the boards answering within timeout or until ctx ends.
// Duplicate answers for the same address are reported once.
func Browse(ctx context.Context, timeout time.Duration) ([]Board, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})

	var boards []Board
	seen := make(map[string]bool)
	go func() {
		defer close(done)
		for e := range entries {
			b, ok := boardFromEntry(e)
			if !ok || seen[b.Addr] {
				continue
			}
			seen[b.Addr] = true
			boards = append(boards, b)
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.QueryContext(ctx, params)
	close(entries)
	<-done

	if err != nil && ctx.Err() == nil {
		return boards, fmt.Errorf("discovery: query: %w", err)
	}
	return boards, nil
}

func boardFromEntry(e *mdns.ServiceEntry) (Board, bool) {
	if e == nil || e.Port == 0 {
		return Board{}, false
	}
	var ip net.IP
	switch {
	case e.AddrV4 != nil:
		ip = e.AddrV4
	case e.AddrV6 != nil:
		ip = e.AddrV6
	default:
		return Board{}, false
	}
	instance := strings.TrimSuffix(e.Name, "."+ServiceType+".local.")
	return Board{
		Instance: instance,
		Host:     e.Host,
		Addr:     net.JoinHostPort(ip.String(), fmt.Sprint(e.Port)),
		Info:     e.InfoFields,
	}, true
}
