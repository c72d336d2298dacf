// Package dispatcher implements the load-admit dispatcher: a
// per-request deterministic splitter that, given a target split ratio
// R, emits a stream of cache/backend decisions whose empirical ratio
// tracks R with low discrepancy at steady state.
package dispatcher

import (
	"sync"

	"github.com/netsplitcas/hybridcache/pkg/request"
)

// WindowSize is the dispatcher's request window over which quotas are
// reconciled.
const WindowSize = 10_000

// MaxPatternSize caps the repeating pattern built at each window
// boundary.
const MaxPatternSize = 10

// Dispatcher holds the splitter's counters and pattern state,
// serialized to a single logical context by a mutex: the decision is
// O(1) and non-blocking so a single lock is sufficient and call sites
// need not build a dedicated single-threaded queue.
type Dispatcher struct {
	mu sync.Mutex

	requestCounter uint64
	total          uint64
	cacheCount     uint64
	backendCount   uint64
	cacheQuota     uint64
	backendQuota   uint64
	patternPos     uint64
	patternSize    uint64
	patternCache   uint64
	patternBackend uint64
	lastToCache    bool

	// splitRatio is R, rescaled to the WindowSize unit scale: the
	// caller publishes a 0-100 percent value via SetSplitRatioPercent
	// and the dispatcher holds R*WindowSize/100 internally so all
	// arithmetic in Decide stays in one scale.
	splitRatio uint64
}

// New returns a Dispatcher with split ratio 0 (all requests to
// backend) until SetSplitRatioPercent is called.
func New() *Dispatcher {
	return &Dispatcher{}
}

// SetSplitRatioPercent updates R, given as a 0-100 percent value (the
// scale the split controller publishes on). The pattern and quotas
// rebuild from the new value at the next window boundary.
func (d *Dispatcher) SetSplitRatioPercent(percent uint64) {
	if percent > 100 {
		percent = 100
	}
	d.mu.Lock()
	d.splitRatio = percent * WindowSize / 100
	d.mu.Unlock()
}

// Decide returns the cache/backend decision for the next request,
// advancing DispatcherState. It is safe for concurrent use; calls are
// serialized internally.
func (d *Dispatcher) Decide(_ *request.Request) request.Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.requestCounter == 0 || d.total >= WindowSize {
		d.resetWindowLocked()
	}
	d.requestCounter++
	d.total++

	expectedCache := d.total * d.splitRatio / WindowSize
	expectedBackend := d.total - expectedCache

	var decision request.Decision
	switch {
	case d.cacheCount < expectedCache:
		decision = request.ToCache
	case d.backendCount < expectedBackend:
		decision = request.ToBackend
	default:
		decision = d.patternOrQuotaDecisionLocked()
	}

	if decision == request.ToCache {
		d.cacheCount++
		if d.cacheQuota > 0 {
			d.cacheQuota--
		}
		d.lastToCache = true
	} else {
		d.backendCount++
		if d.backendQuota > 0 {
			d.backendQuota--
		}
		d.lastToCache = false
	}

	return decision
}

// patternOrQuotaDecisionLocked implements the pattern phase and the
// quota-exhaustion phase. Caller holds d.mu.
func (d *Dispatcher) patternOrQuotaDecisionLocked() request.Decision {
	if d.patternPos < d.patternSize {
		decision := request.ToCache
		if d.patternPos >= d.patternCache {
			decision = request.ToBackend
		}
		d.patternPos = (d.patternPos + 1) % d.patternSize
		return decision
	}

	switch {
	case d.cacheQuota == 0:
		return request.ToBackend
	case d.backendQuota == 0:
		return request.ToCache
	case d.lastToCache:
		return request.ToBackend
	default:
		return request.ToCache
	}
}

// resetWindowLocked rebuilds the repeating pattern and resets counters
// at a window boundary. Caller holds d.mu.
func (d *Dispatcher) resetWindowLocked() {
	r := d.splitRatio
	a := r
	b := WindowSize - r
	g := gcd(orOne(a), orOne(b))

	patternSize := WindowSize / g
	if patternSize > MaxPatternSize {
		patternSize = MaxPatternSize
	}
	if patternSize == 0 {
		patternSize = 1
	}

	d.patternSize = patternSize
	d.patternCache = r * patternSize / WindowSize
	d.patternBackend = patternSize - d.patternCache

	d.total = 0
	d.cacheCount = 0
	d.backendCount = 0
	d.patternPos = 0
	d.cacheQuota = r
	d.backendQuota = WindowSize - r
}

// gcd returns the greatest common divisor of a and b.
func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// orOne treats a zero gcd operand as 1.
func orOne(x uint64) uint64 {
	if x == 0 {
		return 1
	}
	return x
}
