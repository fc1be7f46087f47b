// Package discovery advertises a hub on the local network over mDNS and
// finds advertised hubs from the client.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// Service identifiers.
const (
	Service = "_coderoom._tcp"
	Domain  = "local."

	pathKey = "path="
)

// ErrNoHub is returned when browsing found nothing.
var ErrNoHub = errors.New("no hub found on the local network")

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise registers the hub listening on port, with its WebSocket
// endpoint at path.
func Advertise(instance string, port int, path string) (*Advertisement, error) {
	server, err := zeroconf.Register(instance, Service, Domain, port, []string{pathKey + path}, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}

	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the registration.
func (a *Advertisement) Shutdown() {
	a.server.Shutdown()
}

// Hub is one advertised hub.
type Hub struct {
	Instance string
	URL      string
}

// Browse collects hubs answering within wait.
func Browse(ctx context.Context, wait time.Duration) ([]Hub, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	found := make(chan []Hub, 1)

	go func() {
		var hubs []Hub

		defer func() { found <- hubs }()

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}

				if url, ok := URLFor(entry); ok {
					hubs = append(hubs, Hub{Instance: entry.Instance, URL: url})
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()

	hubs := <-found
	if len(hubs) == 0 {
		return nil, ErrNoHub
	}

	return hubs, nil
}

// URLFor builds the WebSocket URL of an advertised hub.
func URLFor(entry *zeroconf.ServiceEntry) (string, bool) {
	var host string

	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return "", false
	}

	path := "/ws"

	for _, txt := range entry.Text {
		if p, ok := strings.CutPrefix(txt, pathKey); ok && strings.HasPrefix(p, "/") {
			path = p
		}
	}

	return "ws://" + net.JoinHostPort(host, strconv.Itoa(entry.Port)) + path, true
}

// PortOf returns the port of a listen address such as ":8080".
func PortOf(addr string) (int, error) {
	_, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(portText)
}
