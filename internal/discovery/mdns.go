// ABOUTME: mDNS service discovery for lc3cast broadcasts
// ABOUTME: Advertises a broadcast with its ID in TXT records and browses for others
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service type of an lc3cast broadcaster
const ServiceType = "_lc3cast._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string
	BroadcastID uint32
	Channels    int
}

// Manager handles mDNS operations
type Manager struct {
	config     Config
	ctx        context.Context
	cancel     context.CancelFunc
	broadcasts chan *BroadcastInfo
}

// BroadcastInfo describes a discovered broadcast
type BroadcastInfo struct {
	Name        string
	Host        string
	Port        int
	Path        string
	BroadcastID uint32
	Channels    int
}

// Addr returns host:port for dialing
func (b *BroadcastInfo) Addr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		broadcasts: make(chan *BroadcastInfo, 10),
	}
}

// Advertise publishes this broadcast via mDNS until Stop is called
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(m.config),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (broadcast ID 0x%06X)",
		m.config.ServiceName, m.config.Port, m.config.BroadcastID)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for lc3cast broadcasts until Stop is called
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for broadcasts
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				info := parseEntry(entry)

				log.Printf("Discovered broadcast: %s (ID 0x%06X) at %s", info.Name, info.BroadcastID, info.Addr())

				select {
				case m.broadcasts <- info:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: ServiceType,
			Domain:  "local",
			Timeout: 3 * time.Second,
			Entries: entries,
		}

		if err := mdns.Query(params); err != nil {
			log.Printf("mDNS query failed: %v", err)
		}
		close(entries)
	}
}

// Broadcasts returns the channel of discovered broadcasts
func (m *Manager) Broadcasts() <-chan *BroadcastInfo {
	return m.broadcasts
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// txtRecords builds the TXT records advertised for a broadcast
func txtRecords(config Config) []string {
	path := config.Path
	if path == "" {
		path = "/"
	}
	return []string{
		"path=" + path,
		"name=" + config.ServiceName,
		fmt.Sprintf("broadcast_id=%06X", config.BroadcastID),
		"channels=" + strconv.Itoa(config.Channels),
	}
}

// parseEntry converts a service entry, reading broadcast details from TXT
func parseEntry(entry *mdns.ServiceEntry) *BroadcastInfo {
	info := &BroadcastInfo{
		Name: entry.Name,
		Port: entry.Port,
		Path: "/",
	}
	if entry.AddrV4 != nil {
		info.Host = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		info.Host = entry.AddrV6.String()
	} else {
		info.Host = strings.TrimSuffix(entry.Host, ".")
	}

	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "path":
			info.Path = value
		case "name":
			if value != "" {
				info.Name = value
			}
		case "broadcast_id":
			if id, err := strconv.ParseUint(value, 16, 32); err == nil {
				info.BroadcastID = uint32(id)
			}
		case "channels":
			if n, err := strconv.Atoi(value); err == nil {
				info.Channels = n
			}
		}
	}

	return info
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
