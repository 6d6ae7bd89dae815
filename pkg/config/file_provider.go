package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileProvider loads the bus document from disk and republishes a fresh
// snapshot whenever the file changes. A snapshot that fails to parse is
// logged and dropped; subscribers keep the last good one.
type FileProvider struct {
	path   string
	logger *slog.Logger

	mu         sync.Mutex
	current    *Snapshot
	subs       []chan *Snapshot
	generation int64
	closed     bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileProvider reads the document once (failing fast on errors) and
// starts watching the containing directory for changes. Watching the
// directory rather than the file survives editor rename-and-replace saves.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p := &FileProvider{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}

	snapshot, err := p.load()
	if err != nil {
		return nil, err
	}
	p.current = snapshot

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	p.watcher = watcher

	go p.watch()

	return p, nil
}

// Subscribe returns a channel that immediately carries the current snapshot
// and then every subsequent reload. The channel closes when the provider
// closes.
func (p *FileProvider) Subscribe() <-chan *Snapshot {
	ch := make(chan *Snapshot, 1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		close(ch)
		return ch
	}
	if p.current != nil {
		ch <- p.current
	}
	p.subs = append(p.subs, ch)
	return ch
}

// Current returns the most recent snapshot.
func (p *FileProvider) Current() *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Close stops the watcher and closes all subscriber channels.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	close(p.done)
	for _, ch := range subs {
		close(ch)
	}
	return p.watcher.Close()
}

func (p *FileProvider) load() (*Snapshot, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read bus document: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.generation++
	generation := p.generation
	p.mu.Unlock()

	return &Snapshot{
		Generation: generation,
		ReceivedAt: time.Now().UTC(),
		Document:   doc,
	}, nil
}

func (p *FileProvider) watch() {
	// Editors fire bursts of events for a single save; debounce them.
	const settle = 100 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(settle)
				timerC = timer.C
			} else {
				timer.Reset(settle)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("config watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			p.reload()
		}
	}
}

func (p *FileProvider) reload() {
	snapshot, err := p.load()
	if err != nil {
		p.logger.Error("bus document reload failed; keeping previous snapshot",
			"path", p.path,
			"error", err,
		)
		return
	}

	p.mu.Lock()
	p.current = snapshot
	subs := make([]chan *Snapshot, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	p.logger.Info("bus document reloaded",
		"path", p.path,
		"generation", snapshot.Generation,
	)

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
			// Subscriber still holds an undelivered snapshot. Displace it:
			// only the newest generation matters, and the file may never
			// change again.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}
