package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrInvalidConfig is returned when a configuration file parses but cannot be served.
var ErrInvalidConfig = errors.New("invalid config")

// Route maps a request path to an instrument, either a WASM file or a builtin.
type Route struct {
	Path       string `json:"path"`
	WasmFile   string `json:"wasm_file,omitempty"`
	Builtin    string `json:"builtin,omitempty"`
	Cache      bool   `json:"cache"`
	TTL        int    `json:"ttl"`
	Filesystem Mount  `json:"filesystem"`
}

// Mount exposes a host directory to a WASM instrument.
type Mount struct {
	Mount string `json:"mount"`
	Path  string `json:"path"`
}

// Target names what the route runs, for logging.
func (r Route) Target() string {
	if r.Builtin != "" {
		return "builtin:" + r.Builtin
	}
	return r.WasmFile
}

// Config holds the server configuration. It is safe for concurrent use so
// the watcher can swap it while requests are in flight.
type Config struct {
	Port      string           `json:"port"`
	CacheTTL  int              `json:"cache_ttl"`
	CacheSize int              `json:"cache_size"`
	Timeout   int              `json:"timeout"`
	Routes    map[string]Route `json:"routes"`
	mu        sync.RWMutex
}

// LoadConfig reads and validates a JSON configuration file.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates JSON configuration data.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("%w: port is required", ErrInvalidConfig)
	}
	if c.CacheTTL < 0 || c.CacheSize < 0 || c.Timeout < 0 {
		return fmt.Errorf("%w: cache_ttl, cache_size and timeout must not be negative", ErrInvalidConfig)
	}
	if c.Routes == nil {
		c.Routes = make(map[string]Route)
	}
	for key, route := range c.Routes {
		if (route.WasmFile == "") == (route.Builtin == "") {
			return fmt.Errorf("%w: route %s needs exactly one of wasm_file or builtin", ErrInvalidConfig, key)
		}
		if route.TTL < 0 {
			return fmt.Errorf("%w: route %s has a negative ttl", ErrInvalidConfig, key)
		}
		if route.Path == "" {
			route.Path = key
			c.Routes[key] = route
		}
	}
	return nil
}

// Update replaces the current config with a new one.
func (c *Config) Update(newConfig *Config) {
	newConfig.mu.RLock()
	port, ttl, size, timeout, routes := newConfig.Port, newConfig.CacheTTL, newConfig.CacheSize, newConfig.Timeout, newConfig.Routes
	newConfig.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Port = port
	c.CacheTTL = ttl
	c.CacheSize = size
	c.Timeout = timeout
	c.Routes = routes
}

// Route looks up the route for a request path.
func (c *Config) Route(path string) (Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	route, ok := c.Routes[path]
	return route, ok
}

// GetRoutes returns a copy of the routes.
func (c *Config) GetRoutes() map[string]Route {
	c.mu.RLock()
	defer c.mu.RUnlock()
	routesCopy := make(map[string]Route, len(c.Routes))
	for k, v := range c.Routes {
		routesCopy[k] = v
	}
	return routesCopy
}

// TTL returns the cache lifetime in seconds for a route.
func (c *Config) TTL(route Route) int {
	if route.TTL > 0 {
		return route.TTL
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.CacheTTL
}

// RunTimeout returns the per-request instrument timeout in seconds, 0 for none.
func (c *Config) RunTimeout() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Timeout
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ":" + c.Port
}
