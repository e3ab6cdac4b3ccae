package network

import (
	"context"
	"net"
	"strings"
	"time"

	"live_spaces/internal/domain"
	"live_spaces/pkg/logger"
)

const DefaultPollInterval = 5 * time.Second

// Prober answers whether the device can currently reach the network.
type Prober interface {
	Probe(ctx context.Context) error
}

// DialProber opens and closes a TCP connection to Addr.
type DialProber struct {
	Addr    string
	Timeout time.Duration
}

func (p DialProber) Probe(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// TypeResolver classifies the active link.
type TypeResolver interface {
	Resolve() domain.NetworkType
}

// FixedType always reports the same type. Used when the user tells us.
type FixedType domain.NetworkType

func (t FixedType) Resolve() domain.NetworkType { return domain.NetworkType(t) }

// InterfaceResolver guesses from the names of the interfaces that are up.
type InterfaceResolver struct {
	interfaces func() ([]net.Interface, error)
}

func NewInterfaceResolver() *InterfaceResolver {
	return &InterfaceResolver{interfaces: net.Interfaces}
}

var cellularPrefixes = []string{"wwan", "rmnet", "ccmni", "pdp_ip", "ppp"}
var wifiPrefixes = []string{"wl", "wifi", "ath", "ra"}

func (r *InterfaceResolver) Resolve() domain.NetworkType {
	ifaces, err := r.interfaces()
	if err != nil {
		return domain.NetworkUnknown
	}
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		names = append(names, iface.Name)
	}
	return ClassifyInterfaces(names)
}

// ClassifyInterfaces prefers wifi over cellular when both are up, the way
// phones route traffic.
func ClassifyInterfaces(names []string) domain.NetworkType {
	cellular := false
	for _, name := range names {
		name = strings.ToLower(name)
		if hasAnyPrefix(name, wifiPrefixes) {
			return domain.NetworkWifi
		}
		if hasAnyPrefix(name, cellularPrefixes) {
			cellular = true
		}
	}
	if cellular {
		return domain.NetworkCellular
	}
	return domain.NetworkUnknown
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Poller feeds a Monitor from periodic probes.
type Poller struct {
	monitor  *Monitor
	prober   Prober
	types    TypeResolver
	interval time.Duration
	log      logger.Logger
}

func NewPoller(monitor *Monitor, prober Prober, types TypeResolver, interval time.Duration, log logger.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		monitor:  monitor,
		prober:   prober,
		types:    types,
		interval: interval,
		log:      log,
	}
}

// Check probes once and publishes the result.
func (p *Poller) Check(ctx context.Context) domain.NetworkStatus {
	status := domain.NetworkStatus{Connected: true, Type: p.types.Resolve()}
	if err := p.prober.Probe(ctx); err != nil {
		if ctx.Err() != nil {
			return p.monitor.Current()
		}
		p.log.Debug("Network probe failed", "error", err)
		status = domain.NetworkStatus{Connected: false, Type: domain.NetworkNone}
	}

	if p.monitor.Set(status) {
		p.log.Info("Network changed", "connected", status.Connected, "type", status.Type)
	}
	return p.monitor.Current()
}

// Run checks immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
