// Package sdk serves the browser shim that hosts the vendor voice SDK.
// Files are available at /sdk/dialdesk-*.js.
package sdk

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"
)

//go:embed *.js
var rawFS embed.FS

var (
	minified map[string][]byte
	etags    map[string]string
)

func init() {
	m := minify.New()
	m.AddFunc("application/javascript", js.Minify)

	minified = make(map[string][]byte)
	etags = make(map[string]string)

	_ = fs.WalkDir(rawFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.ToLower(filepath.Ext(path)) != ".js" {
			return nil
		}
		raw, err := rawFS.ReadFile(path)
		if err != nil {
			return nil
		}
		out, err := m.Bytes("application/javascript", raw)
		if err != nil {
			log.Printf("SDK: minify warning: %s: %v (using original)", path, err)
			minified[path] = raw
			return nil
		}
		minified[path] = out
		return nil
	})

	for name, data := range minified {
		sum := sha256.Sum256(data)
		etags[name] = `"` + hex.EncodeToString(sum[:8]) + `"`
	}
}

// Files lists the served file names.
func Files() []string {
	names := make([]string, 0, len(minified))
	for name := range minified {
		names = append(names, name)
	}
	return names
}

// Handler returns an http.Handler that serves the shim files.
// Mount it at /sdk/ with a StripPrefix.
//
// Browsers must revalidate on every load so a page reattaching after a
// restart runs the shim this binary embeds; unchanged files answer 304.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		path := strings.TrimPrefix(r.URL.Path, "/")
		data, ok := minified[path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		etag := etags[path]
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("ETag", etag)
		if matchesETag(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(data)
	})
}

func matchesETag(header, etag string) bool {
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
		if tag == "*" || tag == etag {
			return true
		}
	}
	return false
}
