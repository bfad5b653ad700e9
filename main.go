// Command fibo serves WASI instruments, the Fibonacci one among them, over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/fatih/color"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config.json", "path to the JSON configuration file")
	flag.Usage = func() {
		fmt.Println("Usage:", os.Args[0], "[options]")
		fmt.Println("Options:")
		flag.PrintDefaults()
	}
	flag.Parse()

	config, err := LoadConfig(configFile)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	moduleCache := NewModuleCache(ctx)
	defer moduleCache.Close(context.Background())

	responseCache := NewResponseCache(config.CacheSize)

	watcher, err := NewConfigWatcher(configFile, config, moduleCache, responseCache)
	if err != nil {
		log.Fatalf("Error watching config: %v", err)
	}
	defer watcher.Close()
	go watcher.Run(ctx)

	server := NewServer(config, NewInstruments(moduleCache, DefaultBuiltins()), responseCache)
	httpServer := &http.Server{Addr: config.Addr(), Handler: server}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	printBanner(config)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}

func printBanner(config *Config) {
	routes := config.GetRoutes()
	paths := make([]string, 0, len(routes))
	for path := range routes {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	color.New(color.FgGreen, color.Bold).Printf("Starting fibo on %s\n", config.Addr())
	for _, path := range paths {
		color.Cyan("  %-20s -> %s", path, routes[path].Target())
	}
}
