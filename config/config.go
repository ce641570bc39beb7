// Package config loads connection settings from a YAML document or a
// tarantool:// URI, the way the reference proxy daemon loaded its own
// startup configuration with gopkg.in/yaml.v2. It produces plain
// values rather than depending on the tnt package directly, so the
// caller decides how to turn a File into tnt.Opts.
package config

import (
	"fmt"
	"io/ioutil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPort is the server's default listening port.
const DefaultPort = 3301

// File is the YAML shape this package understands. Field names follow
// the reference daemon's flow-style config conventions.
type File struct {
	Address        string        `yaml:"address"`
	User           string        `yaml:"user,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	DNSTimeout     time.Duration `yaml:"dns_timeout,omitempty"`
	ReadTimeout    time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout   time.Duration `yaml:"write_timeout,omitempty"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*File, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if f.Address == "" {
		return nil, fmt.Errorf("config: %s: 'address' is required", path)
	}
	return &f, nil
}

// URI is the parsed form of a tarantool://[user[:password]@]host[:port]
// connection string.
type URI struct {
	Host     string
	Port     int
	User     string
	Password string
}

// ParseURI parses a tarantool:// connection string. An absent port
// defaults to DefaultPort; an absent user means anonymous.
func ParseURI(raw string) (*URI, error) {
	result := &URI{Port: DefaultPort}

	if !strings.Contains(raw, "://") {
		// A bare host[:port], with no scheme for url.Parse to find —
		// parsing it as a URL would misread the port as an opaque
		// scheme-specific part.
		hostPart, portPart, err := splitHostPort(raw)
		if err != nil {
			return nil, err
		}
		result.Host = hostPart
		if portPart != "" {
			port, err := strconv.Atoi(portPart)
			if err != nil {
				return nil, fmt.Errorf("config: bad port %q: %w", portPart, err)
			}
			result.Port = port
		}
		return result, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: parse uri: %w", err)
	}
	if u.Scheme != "tarantool" {
		return nil, fmt.Errorf("config: unsupported scheme %q", u.Scheme)
	}

	host := u.Host
	if u.User != nil {
		result.User = u.User.Username()
		result.Password, _ = u.User.Password()
	}

	hostPart, portPart, err := splitHostPort(host)
	if err != nil {
		return nil, err
	}
	result.Host = hostPart
	if portPart != "" {
		port, err := strconv.Atoi(portPart)
		if err != nil {
			return nil, fmt.Errorf("config: bad port %q: %w", portPart, err)
		}
		result.Port = port
	}
	return result, nil
}

func splitHostPort(hostport string) (host, port string, err error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return hostport, "", nil
	}
	return hostport[:idx], hostport[idx+1:], nil
}
