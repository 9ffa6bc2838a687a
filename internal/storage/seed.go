package storage

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/petervdpas/dialdesk/internal/util"
)

// Editors often emit several writes per save.
const reloadDebounce = 200 * time.Millisecond

// LoadSeed replaces the directory with the JSON array of leads at path.
func (d *DB) LoadSeed(ctx context.Context, path string) error {
	var leads []Lead
	if err := util.ReadJSONFile(path, &leads); err != nil {
		return fmt.Errorf("read seed %s: %w", path, err)
	}
	loaded, skipped, err := d.ReplaceAll(ctx, leads)
	if err != nil {
		return fmt.Errorf("load seed %s: %w", path, err)
	}
	if skipped > 0 {
		log.Printf("DIRECTORY: %d leads loaded from %s, %d skipped (malformed number or missing lead_id)", loaded, path, skipped)
	} else {
		log.Printf("DIRECTORY: %d leads loaded from %s", loaded, path)
	}
	return nil
}

// Watch reloads the seed file whenever it changes until ctx is done. The
// parent directory is watched so atomic rename-on-save is picked up too.
// onReload, if non-nil, is called after each reload attempt.
func (d *DB) Watch(ctx context.Context, path string, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				err := d.LoadSeed(ctx, abs)
				if err != nil {
					log.Printf("DIRECTORY: hot reload failed: %v", err)
				}
				if onReload != nil {
					onReload(err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("DIRECTORY: watcher error: %v", err)
			}
		}
	}()
	return nil
}
