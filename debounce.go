package kueri

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid key changes (e.g. keystroke-driven search) into
// a single downstream commit: each proposed key restarts the quiet-period
// timer, and only a key that survives the full delay uninterrupted is
// committed. After Stop no commit ever fires.
type Debouncer struct {
	delay  time.Duration
	commit func(Key)

	logger Logger
	debug  *DebugConfig

	mu    sync.Mutex
	timer *time.Timer
	// gen invalidates a timer that has already fired but not yet committed:
	// Stop on such a timer reports false, so the flag alone cannot keep an
	// in-progress fire from committing a key set after it.
	gen          uint64
	pending      Key
	hasPending   bool
	committed    Key
	hasCommitted bool
	stopped      bool
}

// Debouncer creates a controller with the client's configured delay that
// invokes commit for each committed key.
func (c *Client) Debouncer(commit func(Key)) *Debouncer {
	d := NewDebouncer(c.debounceDelay, commit)
	d.logger = c.logger
	d.debug = c.debug
	return d
}

// NewDebouncer creates a debouncer with an explicit delay.
func NewDebouncer(delay time.Duration, commit func(Key)) *Debouncer {
	return &Debouncer{delay: delay, commit: commit}
}

// Set proposes a new key, cancelling any pending commit and restarting the
// quiet-period timer.
func (d *Debouncer) Set(key Key) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending = key
	d.hasPending = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Flush commits a pending key immediately instead of waiting out the delay.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.fire(gen)
}

// Stop cancels any pending timer; no commit will fire afterwards. Safe to
// call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.hasPending = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Committed returns the most recently committed key, if any.
func (d *Debouncer) Committed() (Key, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.committed, d.hasCommitted
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || !d.hasPending || gen != d.gen {
		d.mu.Unlock()
		return
	}
	key := d.pending
	d.hasPending = false
	d.committed = key
	d.hasCommitted = true
	commit := d.commit
	d.mu.Unlock()

	if d.debug.logDebounce() && d.logger != nil {
		d.logger.Debug("committing debounced key", "key", key.Canonical())
	}
	if commit != nil {
		commit(key)
	}
}
