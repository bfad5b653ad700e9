package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"simonwaldherr.de/go/fibo/fibonacci"
)

// Server routes requests to instruments and caches their output.
type Server struct {
	config *Config
	runner Runner
	cache  *ResponseCache
}

func NewServer(config *Config, runner Runner, cache *ResponseCache) *Server {
	return &Server{
		config: config,
		runner: runner,
		cache:  cache,
	}
}

// ServeHTTP is the main entry point for handling HTTP requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, exists := s.config.Route(r.URL.Path)
	if !exists {
		http.Error(w, "404 - Not Found", http.StatusNotFound)
		return
	}
	s.handleRoute(w, r, route)
}

// handleRoute runs the instrument behind route, serving from cache when allowed.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request, route Route) {
	cacheKey := cacheKeyPrefix(r.URL.Path) + r.URL.RawQuery
	if route.Cache {
		if cached, found := s.cache.Get(cacheKey); found {
			w.Header().Set("X-Cache", "HIT")
			w.Write(cached)
			return
		}
	}

	payload := RequestPayload{Params: map[string]string{}}
	for key, values := range r.URL.Query() {
		payload.Params[key] = values[0]
	}

	ctx := r.Context()
	if timeout := s.config.RunTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	startTime := time.Now()
	output := &bytes.Buffer{}
	err := s.runner.Run(ctx, route, payload, output)
	duration := time.Since(startTime)
	if err != nil {
		log.Printf("Route: %s | Target: %s | Duration: %v | Error: %v", route.Path, route.Target(), duration, err)
		http.Error(w, fmt.Sprintf("Error running module: %v", err), statusFor(err))
		return
	}
	log.Printf("Route: %s | Target: %s | Duration: %v", route.Path, route.Target(), duration)

	response := output.Bytes()
	if route.Cache {
		s.cache.Set(cacheKey, response, s.config.TTL(route))
		w.Header().Set("X-Cache", "MISS")
	}
	w.Write(response)
}

// cacheKeyPrefix is the prefix shared by all cached responses of a route.
func cacheKeyPrefix(path string) string {
	return path + "?"
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, fibonacci.ErrInvalidIndex), errors.Is(err, fibonacci.ErrIndexOutOfRange),
		errors.Is(err, ErrMissingParam), errors.Is(err, ErrBadInput):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
