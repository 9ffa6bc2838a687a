// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/petervdpas/dialdesk/internal/app"
	"github.com/petervdpas/dialdesk/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	cfgFlag  = flag.String("config", "dialdesk.json", "Path to the configuration file (created with defaults if missing)")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("dialdesk v%s\n", appVersion)
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	cfgPath, err := filepath.Abs(*cfgFlag)
	if err != nil {
		log.Fatalf("Invalid config path: %v", err)
	}
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	printBanner(cfgPath, created, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Options{CfgPath: cfgPath, Cfg: cfg}); err != nil {
		log.Fatalf("dialdesk failed: %v", err)
	}
	log.Println("Shut down cleanly")
}

func showUsage() {
	fmt.Println("dialdesk - agent call desk")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dialdesk [-config dialdesk.json]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config   Configuration file (default dialdesk.json)")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println()
	fmt.Println("The agent's browser loads /sdk/dialdesk-bridge.js after the vendor")
	fmt.Println("voice SDK and calls DialDesk.attach(); the device then comes up with")
	fmt.Println("identity.default, or on POST /api/device/connect.")
}

func printBanner(cfgPath string, created bool, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                     dialdesk agent                     ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Config File:    %s", cfgPath)
	if created {
		fmt.Print(" (created with defaults)")
	}
	fmt.Println()
	fmt.Printf("Token Server:   %s\n", cfg.Token.BaseURL)
	if cfg.Identity.Default != "" {
		fmt.Printf("Identity:       %s\n", cfg.Identity.Default)
	}
	viewerURL := cfg.Viewer.HTTPAddr
	if viewerURL != "" && viewerURL[0] == ':' {
		viewerURL = "127.0.0.1" + viewerURL
	}
	fmt.Printf("Agent API:      http://%s\n", viewerURL)
	fmt.Println()
	fmt.Println("Starting... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
