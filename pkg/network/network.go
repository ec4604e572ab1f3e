// Package network checks the node's static link identity before the
// acquisition loop starts.
package network

import (
	"bytes"
	"context"
	"net"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ericogr/envnode/pkg/config"
)

var ErrLinkNotReady = errors.New("network link not ready")

// Config is the static addressing of the node.
type Config struct {
	Interface string
	MAC       net.HardwareAddr
	IP        net.IP
	Subnet    net.IPMask
	Gateway   net.IP
	DNS       net.IP
}

// ParseConfig converts the textual network settings. Empty fields stay nil.
func ParseConfig(c config.NetworkConfig) (Config, error) {
	out := Config{Interface: c.Interface}
	var err error
	if c.MAC != "" {
		if out.MAC, err = net.ParseMAC(c.MAC); err != nil {
			return out, errors.Wrap(err, "mac")
		}
	}
	for _, f := range []struct {
		name string
		in   string
		dst  *net.IP
	}{
		{"ip", c.IP, &out.IP},
		{"gateway", c.Gateway, &out.Gateway},
		{"dns", c.DNS, &out.DNS},
	} {
		if f.in == "" {
			continue
		}
		ip := net.ParseIP(f.in).To4()
		if ip == nil {
			return out, errors.Errorf("%s: invalid IPv4 address %q", f.name, f.in)
		}
		*f.dst = ip
	}
	if c.Subnet != "" {
		ip := net.ParseIP(c.Subnet).To4()
		if ip == nil {
			return out, errors.Errorf("subnet: invalid mask %q", c.Subnet)
		}
		mask := net.IPMask(ip)
		if ones, bits := mask.Size(); ones == 0 && bits == 0 {
			return out, errors.Errorf("subnet: non-canonical mask %q", c.Subnet)
		}
		out.Subnet = mask
	}
	if out.IP != nil && out.Subnet != nil && out.Gateway != nil {
		n := net.IPNet{IP: out.IP.Mask(out.Subnet), Mask: out.Subnet}
		if !n.Contains(out.Gateway) {
			return out, errors.Errorf("gateway %s outside %s", out.Gateway, n.String())
		}
	}
	return out, nil
}

// Initializer brings up the link once before the loop runs.
type Initializer interface {
	Init(ctx context.Context, cfg Config) error
}

// Noop accepts any configuration. Used in simulation mode.
type Noop struct{}

func (Noop) Init(ctx context.Context, cfg Config) error { return nil }

type hostInterface struct {
	Name  string
	MAC   net.HardwareAddr
	Addrs []*net.IPNet
}

// HostInitializer verifies that the host already carries the configured
// identity: an interface with the MAC (or name) holding the static address.
type HostInitializer struct {
	list func() ([]hostInterface, error)
	log  *log.Entry
}

func NewHostInitializer() *HostInitializer {
	return &HostInitializer{list: systemInterfaces, log: log.WithField("component", "network")}
}

func (h *HostInitializer) Init(ctx context.Context, cfg Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ifaces, err := h.list()
	if err != nil {
		return errors.Wrap(err, "list interfaces")
	}
	iface, ok := match(ifaces, cfg)
	if !ok {
		return errors.Wrapf(ErrLinkNotReady, "no interface for mac=%s name=%q", cfg.MAC, cfg.Interface)
	}
	if cfg.IP != nil {
		found := false
		for _, a := range iface.Addrs {
			if a.IP.Equal(cfg.IP) && (cfg.Subnet == nil || maskEqual(a.Mask, cfg.Subnet)) {
				found = true
				break
			}
		}
		if !found {
			return errors.Wrapf(ErrLinkNotReady, "%s does not carry %s", iface.Name, cfg.IP)
		}
	}
	h.log.WithFields(log.Fields{
		"interface": iface.Name,
		"ip":        cfg.IP.String(),
		"gateway":   cfg.Gateway.String(),
		"dns":       cfg.DNS.String(),
	}).Info("network link ready")
	return nil
}

func match(ifaces []hostInterface, cfg Config) (hostInterface, bool) {
	for _, i := range ifaces {
		if cfg.MAC != nil && !bytes.Equal(i.MAC, cfg.MAC) {
			continue
		}
		if cfg.Interface != "" && i.Name != cfg.Interface {
			continue
		}
		if cfg.MAC == nil && cfg.Interface == "" && len(i.MAC) == 0 {
			// skip loopback when nothing pins the interface
			continue
		}
		return i, true
	}
	return hostInterface{}, false
}

// maskEqual compares masks of different lengths (4 vs 16 byte forms).
func maskEqual(a, b net.IPMask) bool {
	ao, ab := a.Size()
	bo, bb := b.Size()
	return ab != 0 && bb != 0 && ao == bo
}

func systemInterfaces() ([]hostInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]hostInterface, 0, len(ifaces))
	for _, i := range ifaces {
		hi := hostInterface{Name: i.Name, MAC: i.HardwareAddr}
		addrs, err := i.Addrs()
		if err != nil {
			return nil, errors.Wrapf(err, "addrs of %s", i.Name)
		}
		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok {
				hi.Addrs = append(hi.Addrs, n)
			}
		}
		out = append(out, hi)
	}
	return out, nil
}
