package pairing

import (
	"sync"
	"time"
)

// replayGuard deduplicates inbound session messages per sender with a
// TTL, so a sync retry re-delivering an already-handled event is not
// handed to ListenForEncryptedMessage listeners twice (spec §4.4.7:
// "idempotent per sender"). Channel-open messages do not pass through
// it. Adapted from the teacher's nonce-cache replay guard, keyed
// by (sender, eventID) instead of (keyid, nonce).
type replayGuard struct {
	ttl  time.Duration
	data sync.Map // sender -> *sync.Map (eventID -> expiryUnix)
	tick *time.Ticker
	stop chan struct{}
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	g := &replayGuard{
		ttl:  ttl,
		stop: make(chan struct{}),
		tick: time.NewTicker(time.Minute),
	}
	go g.gcLoop()
	return g
}

// seen reports whether (sender, eventID) was already observed within the
// TTL window; if not, it records it and returns false.
func (g *replayGuard) seen(sender, eventID string) bool {
	if sender == "" || eventID == "" {
		return false
	}
	now := time.Now().Unix()
	exp := now + int64(g.ttl/time.Second)

	v, _ := g.data.LoadOrStore(sender, &sync.Map{})
	m := v.(*sync.Map)

	if old, ok := m.Load(eventID); ok {
		if prevExp, _ := old.(int64); prevExp >= now {
			return true
		}
	}
	m.Store(eventID, exp)
	return false
}

func (g *replayGuard) forgetSender(sender string) {
	g.data.Delete(sender)
}

func (g *replayGuard) close() {
	close(g.stop)
	g.tick.Stop()
}

func (g *replayGuard) gcLoop() {
	for {
		select {
		case <-g.tick.C:
			now := time.Now().Unix()
			g.data.Range(func(k, v any) bool {
				m := v.(*sync.Map)
				empty := true
				m.Range(func(ek, ev any) bool {
					if exp, _ := ev.(int64); exp < now {
						m.Delete(ek)
					} else {
						empty = false
					}
					return true
				})
				if empty {
					g.data.Delete(k)
				}
				return true
			})
		case <-g.stop:
			return
		}
	}
}
