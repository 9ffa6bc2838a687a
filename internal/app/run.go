package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/petervdpas/dialdesk/internal/call"
	"github.com/petervdpas/dialdesk/internal/config"
	"github.com/petervdpas/dialdesk/internal/realtime"
	"github.com/petervdpas/dialdesk/internal/signal"
	"github.com/petervdpas/dialdesk/internal/storage"
	"github.com/petervdpas/dialdesk/internal/token"
	"github.com/petervdpas/dialdesk/internal/util"
	"github.com/petervdpas/dialdesk/internal/viewer"
)

type Options struct {
	CfgPath string
	Cfg     config.Config

	// Stderr receives a copy of the log; nil means os.Stderr.
	Stderr io.Writer
}

// Run wires the desk together and serves until ctx is done.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	stderr := opt.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logBuf := viewer.NewLogBuffer(cfg.Viewer.LogLines)
	log.SetOutput(io.MultiWriter(stderr, logBuf))

	baseDir := filepath.Dir(opt.CfgPath)
	logBanner(baseDir, opt.CfgPath)

	// ── Lead directory
	db, err := storage.Open(util.ResolvePath(baseDir, cfg.Directory.DBPath))
	if err != nil {
		return fmt.Errorf("lead directory: %w", err)
	}
	defer db.Close()
	log.Printf("DIRECTORY: leads at %s", db.Path())

	if cfg.Directory.SeedFile != "" {
		seed := util.ResolvePath(baseDir, cfg.Directory.SeedFile)
		if err := db.LoadSeed(ctx, seed); err != nil {
			log.Printf("DIRECTORY: %v", err)
		}
		if cfg.Directory.Watch {
			if err := db.Watch(ctx, seed, nil); err != nil {
				log.Printf("DIRECTORY: hot reload disabled: %v", err)
			}
		}
	}

	// ── Signaling
	tokens := token.NewProvider(cfg.Token.BaseURL, time.Duration(cfg.Token.TimeoutSeconds)*time.Second)
	reg := call.NewRegistry()
	bridge := realtime.New()
	adapter := signal.New(bridge, tokens, reg, db, cfg.SignalOptions())
	defer adapter.Close()

	if identity := cfg.Identity.Default; identity != "" {
		bridge.OnAttach(func() {
			cctx, cancel := context.WithTimeout(ctx, util.DefaultSetupTimeout)
			defer cancel()
			if err := adapter.Connect(cctx, identity); err != nil {
				log.Printf("SIGNAL: automatic connect for %s failed: %v", identity, err)
			}
		})
	}

	// ── Viewer
	addr, err := localViewer(cfg.Viewer.HTTPAddr)
	if err != nil {
		return err
	}
	go func() {
		wctx, cancel := context.WithTimeout(ctx, util.DefaultSetupTimeout)
		defer cancel()
		if err := WaitListening(wctx, addr.Listen); err != nil {
			log.Printf("VIEWER: %v", err)
			return
		}
		log.Printf("VIEWER: agent API at %s, shim at %s/sdk/dialdesk-bridge.js", addr.URL, addr.URL)
	}()

	return viewer.Start(ctx, addr.Listen, viewer.Viewer{
		Calls:           reg,
		Control:         adapter,
		Logs:            logBuf,
		Leads:           db,
		Creds:           tokens,
		Bridge:          bridge,
		DefaultIdentity: cfg.Identity.Default,
	})
}
