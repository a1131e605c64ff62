// Package config resolves STREAM_PROTOCOL_PATH search-path lookups and
// loads the YAML channel registry, grounded on the teacher's
// internal/config/config.go (findProjectRoot/env-override shape),
// generalized from a single .env device config to a directory search
// list plus a structured registry file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// pathListSeparator matches os.PathListSeparator on the build platform,
// named explicitly so STREAM_PROTOCOL_PATH parsing reads the same way on
// every OS this repo targets (':' on Unix, ';' on Windows).
const pathListSeparator = string(os.PathListSeparator)

// SearchPath is an ordered list of directories to look for protocol
// files in, taken from STREAM_PROTOCOL_PATH.
type SearchPath []string

// LoadSearchPath reads STREAM_PROTOCOL_PATH from the environment and
// splits it on the platform's path-list separator. An empty or unset
// variable yields a SearchPath containing only the current directory,
// mirroring findProjectRoot's cwd-first fallback.
func LoadSearchPath() SearchPath {
	raw := os.Getenv("STREAM_PROTOCOL_PATH")
	if raw == "" {
		return SearchPath{"."}
	}
	var dirs SearchPath
	for _, p := range strings.Split(raw, pathListSeparator) {
		p = strings.TrimSpace(p)
		if p != "" {
			dirs = append(dirs, p)
		}
	}
	if len(dirs) == 0 {
		dirs = SearchPath{"."}
	}
	return dirs
}

// Resolve searches the path for name, returning the first existing
// match. name may already be an absolute or relative path containing
// separators, in which case it is tried directly first.
func (sp SearchPath) Resolve(name string) (string, error) {
	if filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	for _, dir := range sp {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("config: %q not found on search path %v", name, sp)
}

// ChannelKind names the transport a registry entry opens.
type ChannelKind string

const (
	KindSerial ChannelKind = "serial"
	KindTCP    ChannelKind = "tcp"
	KindUSB    ChannelKind = "usb"
)

// ChannelEntry describes one bus binding: which transport to open and
// with what parameters, keyed by channel name in the registry file.
// Fields are flattened rather than split into per-kind sub-structs,
// matching the teacher's flat DeviceConfig shape, since most fields
// apply to exactly one Kind and the YAML file is hand-edited, not
// generated.
type ChannelEntry struct {
	Kind ChannelKind `yaml:"kind"`

	// serial
	Device   string `yaml:"device,omitempty"`
	Baud     int    `yaml:"baud,omitempty"`
	DataBits int    `yaml:"dataBits,omitempty"`
	StopBits int    `yaml:"stopBits,omitempty"`
	Parity   string `yaml:"parity,omitempty"`

	// tcp
	Address     string `yaml:"address,omitempty"`
	DialTimeout string `yaml:"dialTimeout,omitempty"`

	// usb
	VendorID     string `yaml:"vendorId,omitempty"`
	ProductID    string `yaml:"productId,omitempty"`
	InterfaceNum int    `yaml:"interfaceNum,omitempty"`
	EndpointOut  int    `yaml:"endpointOut,omitempty"`
	EndpointIn   int    `yaml:"endpointIn,omitempty"`
}

// Registry maps channel name to its bus binding.
type Registry struct {
	Channels map[string]ChannelEntry `yaml:"channels"`
}

// LoadRegistry reads and parses a channel registry file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read registry %s: %w", path, err)
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("config: parse registry %s: %w", path, err)
	}
	return &reg, nil
}

// Channel looks up a named entry, reporting whether it exists.
func (r *Registry) Channel(name string) (ChannelEntry, bool) {
	if r == nil {
		return ChannelEntry{}, false
	}
	e, ok := r.Channels[name]
	return e, ok
}
