package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"
)

// viewerAddr is where the agent API listens and how the log banner names it.
type viewerAddr struct {
	Listen string
	URL    string
}

// localViewer pins wildcard or empty hosts to loopback: the desk serves the
// agent sitting at this machine. Explicit hosts are kept.
func localViewer(cfgAddr string) (viewerAddr, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(cfgAddr))
	if err != nil {
		return viewerAddr{}, fmt.Errorf("viewer address %q: %w", cfgAddr, err)
	}
	switch host {
	case "", "0.0.0.0", "::", "localhost":
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, port)
	return viewerAddr{Listen: addr, URL: "http://" + addr}, nil
}

// WaitListening polls addr until it accepts a TCP connection or ctx ends.
func WaitListening(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: 200 * time.Millisecond}
	for {
		c, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = c.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", addr, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func logBanner(baseDir, cfgPath string) {
	log.Println("────────────────────────────────────────")
	log.Println("dialdesk agent desk")
	log.Printf(" Data folder : %s", baseDir)
	log.Printf(" Config file : %s", cfgPath)
	log.Println("")
	log.Println(" One process serves one agent.")
	log.Println(" Attach the browser shim to bring the device up.")
	log.Println("────────────────────────────────────────")
}
