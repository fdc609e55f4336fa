// Package telescope holds the shared mutable rendezvous between the core
// pipeline and the external protocol adapters (LX200, Alpaca): the
// telescope's current boresight, any active slew target, pending sync
// request, and observer site. Two independent wire protocols and a single
// core writer converge on this state, so it uses a short, synchronous mutex
// rather than message passing — "the latest coord wins" is the only
// invariant that matters, and nothing here ever suspends while holding the
// lock.
package telescope

import "sync"

// Position is the full shared state. All fields are read/written only
// through Record's accessor methods.
type Position struct {
	BoresightRa, BoresightDec float64
	BoresightValid            bool

	SlewTargetRa, SlewTargetDec float64
	SlewActive                  bool

	SyncRa, SyncDec float64
	SyncPending      bool

	SiteLat, SiteLon float64
	SiteValid         bool

	UtcDateSet bool
}

// Record is the synchronized holder of Position.
type Record struct {
	mu  sync.Mutex
	pos Position
}

// New returns an empty Record (no boresight, no slew, no site).
func New() *Record {
	return &Record{}
}

// Snapshot returns a copy of the current state.
func (r *Record) Snapshot() Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// SetBoresight is called by the core (via the integration callback) after
// every successful solve.
func (r *Record) SetBoresight(ra, dec float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos.BoresightRa = ra
	r.pos.BoresightDec = dec
	r.pos.BoresightValid = true
}

// InvalidateBoresight is called by the core when a frame produces no
// solution.
func (r *Record) InvalidateBoresight() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos.BoresightValid = false
}

// RequestSlew is called by a protocol adapter (LX200 MS, Alpaca SlewToCoordinates)
// to start a goto.
func (r *Record) RequestSlew(ra, dec float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos.SlewTargetRa = ra
	r.pos.SlewTargetDec = dec
	r.pos.SlewActive = true
}

// AbortSlew clears slew_active; called by a protocol adapter (LX200 Q,
// Alpaca AbortSlew). The core never calls it.
func (r *Record) AbortSlew() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos.SlewActive = false
}

// SlewTarget returns the current target and whether a slew is active. The
// core only ever reads the target; it never clears SlewActive.
func (r *Record) SlewTarget() (ra, dec float64, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos.SlewTargetRa, r.pos.SlewTargetDec, r.pos.SlewActive
}

// RequestSync is called by a protocol adapter (LX200 CM) to ask the core to
// treat the current boresight as actually being at (ra, dec).
func (r *Record) RequestSync(ra, dec float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos.SyncRa = ra
	r.pos.SyncDec = dec
	r.pos.SyncPending = true
}

// ConsumeSync returns and clears a pending sync request, if any.
func (r *Record) ConsumeSync() (ra, dec float64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pos.SyncPending {
		return 0, 0, false
	}
	r.pos.SyncPending = false
	return r.pos.SyncRa, r.pos.SyncDec, true
}

// SetSite is called by a protocol adapter (LX200 St/Sg, Alpaca SiteLatitude/
// SiteLongitude) to post the observer's location.
func (r *Record) SetSite(lat, lon float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos.SiteLat = lat
	r.pos.SiteLon = lon
	r.pos.SiteValid = true
}

// Site returns the currently known observer location.
func (r *Record) Site() (lat, lon float64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos.SiteLat, r.pos.SiteLon, r.pos.SiteValid
}
