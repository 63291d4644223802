package config

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/DrC0ns0le/ripd/internal/route"
)

// ConfigError is returned for unreadable or invalid configuration.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Neighbor is a router that receives our advertisements. Via selects the
// local interface address used as the advertisement originator.
type Neighbor struct {
	Address netip.Addr
	Via     netip.Addr
}

type Config struct {
	Interfaces []route.Interface
	Neighbors  []Neighbor
	// Bind is the address the router sockets bind to. Invalid means unset.
	Bind netip.Addr
}

type interfaceEntry struct {
	Device string `yaml:"device"`
	IP     string `yaml:"ip"`
	Mask   int    `yaml:"mask"`
}

// interfaceWrapper is one element of the flat list form:
//
//	- interface:
//	    device: eth0
//	    ip: 10.0.1.1
//	    mask: 24
type interfaceWrapper struct {
	Interface interfaceEntry `yaml:"interface"`
}

type neighborEntry struct {
	Address string `yaml:"address"`
	Via     string `yaml:"via"`
}

type document struct {
	Bind       string           `yaml:"bind"`
	Interfaces []interfaceEntry `yaml:"interfaces"`
	Neighbors  []neighborEntry  `yaml:"neighbors"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			cerr.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse accepts either a top-level list of interface wrappers or a document
// with interfaces, neighbors and bind keys.
func Parse(data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ConfigError{Err: errors.Wrap(err, "parse yaml")}
	}
	if len(root.Content) == 0 {
		return nil, &ConfigError{Err: errors.New("empty document")}
	}

	var doc document
	switch node := root.Content[0]; node.Kind {
	case yaml.SequenceNode:
		var wrappers []interfaceWrapper
		if err := node.Decode(&wrappers); err != nil {
			return nil, &ConfigError{Err: errors.Wrap(err, "decode interface list")}
		}
		for _, w := range wrappers {
			doc.Interfaces = append(doc.Interfaces, w.Interface)
		}
	case yaml.MappingNode:
		if err := node.Decode(&doc); err != nil {
			return nil, &ConfigError{Err: errors.Wrap(err, "decode document")}
		}
	default:
		return nil, &ConfigError{Err: errors.Errorf("unexpected yaml node at line %d", node.Line)}
	}

	cfg, err := doc.build()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

func (d *document) build() (*Config, error) {
	cfg := &Config{}

	if len(d.Interfaces) == 0 {
		return nil, errors.New("no interfaces configured")
	}
	local := make(map[netip.Addr]bool)
	for i, entry := range d.Interfaces {
		addr, err := parseIPv4(entry.IP)
		if err != nil {
			return nil, errors.Wrapf(err, "interface %d (%s)", i, entry.Device)
		}
		if entry.Mask < 0 || entry.Mask > 32 {
			return nil, errors.Errorf("interface %d (%s): mask %d out of range", i, entry.Device, entry.Mask)
		}
		cfg.Interfaces = append(cfg.Interfaces, route.Interface{
			Device:    entry.Device,
			Address:   addr,
			PrefixLen: entry.Mask,
		})
		local[addr] = true
	}

	for i, entry := range d.Neighbors {
		addr, err := parseIPv4(entry.Address)
		if err != nil {
			return nil, errors.Wrapf(err, "neighbor %d", i)
		}
		via, err := parseIPv4(entry.Via)
		if err != nil {
			return nil, errors.Wrapf(err, "neighbor %d via", i)
		}
		if !local[via] {
			return nil, errors.Errorf("neighbor %d: %s is not a local interface address", i, via)
		}
		cfg.Neighbors = append(cfg.Neighbors, Neighbor{Address: addr, Via: via})
	}

	if d.Bind != "" {
		bind, err := parseIPv4(d.Bind)
		if err != nil {
			return nil, errors.Wrap(err, "bind")
		}
		cfg.Bind = bind
	}

	return cfg, nil
}

func parseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "invalid address %q", s)
	}
	if !addr.Is4() {
		return netip.Addr{}, errors.Errorf("%s is not an IPv4 address", addr)
	}
	return addr, nil
}
