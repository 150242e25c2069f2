package conscience

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/reasond/internal/logging"
	"go.uber.org/zap"
)

// RuleWatcher holds the current rule set and reloads it when the rule file
// changes. A file that fails to parse leaves the previous rules in force.
type RuleWatcher struct {
	file    string
	current atomic.Pointer[RuleSet]
	logger  *logging.Logger

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	reloaded chan struct{}
}

// NewRuleWatcher loads file. An empty file name serves DefaultRules and
// never reloads.
func NewRuleWatcher(file string, logger *logging.Logger) (*RuleWatcher, error) {
	w := &RuleWatcher{
		file:     file,
		logger:   logging.OrNop(logger).Named("rules"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		reloaded: make(chan struct{}, 1),
	}
	if file == "" {
		w.current.Store(DefaultRules())
		return w, nil
	}
	rs, err := LoadRules(file)
	if err != nil {
		return nil, err
	}
	w.current.Store(rs)
	return w, nil
}

// Rules returns the rule set in force.
func (w *RuleWatcher) Rules() *RuleSet { return w.current.Load() }

// Reloaded receives a value after every successful reload.
func (w *RuleWatcher) Reloaded() <-chan struct{} { return w.reloaded }

// Start watches the rule file's directory until ctx ends or Stop is called.
func (w *RuleWatcher) Start(ctx context.Context) error {
	if w.file == "" {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rule watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	if err := fw.Add(filepath.Dir(w.file)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.file), err)
	}
	w.watcher = fw
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the watch goroutine to exit.
func (w *RuleWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.watcher != nil {
		<-w.done
	}
}

func (w *RuleWatcher) loop(ctx context.Context) {
	defer close(w.done)
	defer func() { _ = w.watcher.Close() }()

	target := filepath.Clean(w.file)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.reload(ctx)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "rule watcher error", zap.Error(err))
		}
	}
}

func (w *RuleWatcher) reload(ctx context.Context) {
	rs, err := LoadRules(w.file)
	if err != nil {
		w.logger.Warn(ctx, "rule reload failed, keeping previous rules", zap.String("file", w.file), zap.Error(err))
		return
	}
	w.current.Store(rs)
	w.logger.Info(ctx, "protected rules reloaded", zap.String("file", w.file), zap.Int("rules", len(rs.Rules)))
	select {
	case w.reloaded <- struct{}{}:
	default:
	}
}
