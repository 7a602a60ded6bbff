package safety

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// PolicyWatcher reloads a policy file when it changes and installs the
// rebuilt guard into a SwitchableGuard. A policy that fails to load leaves
// the previous guard in place.
type PolicyWatcher struct {
	path     string
	mode     string
	target   *SwitchableGuard
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once
	debounce time.Duration

	mu          sync.Mutex
	lastModTime time.Time
	onReload    func(Guard)
}

// NewPolicyWatcher creates a watcher for path. mode is the configured guard
// mode used when the policy does not set one.
func NewPolicyWatcher(path, mode string, target *SwitchableGuard) (*PolicyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	pw := &PolicyWatcher{
		path:     path,
		mode:     mode,
		target:   target,
		watcher:  watcher,
		stopChan: make(chan struct{}),
		debounce: 100 * time.Millisecond,
	}
	if stat, err := os.Stat(path); err == nil {
		pw.lastModTime = stat.ModTime()
	}
	return pw, nil
}

// OnReload registers a callback invoked after each successful reload.
func (pw *PolicyWatcher) OnReload(fn func(Guard)) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.onReload = fn
}

// Start begins watching the policy file's directory. Editors often replace
// files by rename, so the directory is watched rather than the file.
func (pw *PolicyWatcher) Start() error {
	dir := filepath.Dir(pw.path)
	if err := pw.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch policy directory, falling back to polling")
		go pw.pollForChanges()
		return nil
	}

	go pw.watchForChanges()
	log.Info().Str("policy_path", pw.path).Msg("Started watching command policy for changes")
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (pw *PolicyWatcher) Stop() {
	pw.stopOnce.Do(func() {
		close(pw.stopChan)
		pw.watcher.Close()
	})
}

// Reload reads the policy file now and swaps the guard.
func (pw *PolicyWatcher) Reload() error {
	policy, err := LoadPolicyFile(pw.path)
	if err != nil {
		return err
	}
	guard, err := BuildGuard(pw.mode, policy)
	if err != nil {
		return err
	}
	pw.target.Swap(guard)

	pw.mu.Lock()
	fn := pw.onReload
	pw.mu.Unlock()
	if fn != nil {
		fn(guard)
	}

	log.Info().
		Str("policy_path", pw.path).
		Int("extra_patterns", len(policy.ExtraPatterns)).
		Int("extra_rules", len(policy.Rules)).
		Msg("Reloaded command policy")
	return nil
}

func (pw *PolicyWatcher) watchForChanges() {
	target := filepath.Clean(pw.path)
	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			// wait for the writer to finish
			time.Sleep(pw.debounce)

			log.Info().Str("event", event.Op.String()).Msg("Detected command policy change")
			if err := pw.Reload(); err != nil {
				log.Error().Err(err).Str("policy_path", pw.path).Msg("Failed to reload command policy, keeping previous guard")
			}

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Policy watcher error")

		case <-pw.stopChan:
			return
		}
	}
}

func (pw *PolicyWatcher) pollForChanges() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stat, err := os.Stat(pw.path)
			if err != nil || !stat.ModTime().After(pw.lastModTime) {
				continue
			}
			pw.lastModTime = stat.ModTime()
			log.Info().Msg("Detected command policy change via polling")
			if err := pw.Reload(); err != nil {
				log.Error().Err(err).Str("policy_path", pw.path).Msg("Failed to reload command policy, keeping previous guard")
			}

		case <-pw.stopChan:
			return
		}
	}
}
