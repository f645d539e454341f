package pairing

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/sync/singleflight"

	"github.com/tzconnect/beacon-core/crypto/box"
)

// peerSession holds the directional session keys for one paired peer
// (spec §4.4.6: role asymmetry means the client's send key is the
// server's receive key and vice versa, so a single symmetric key would
// let either side's own echoed ciphertext be misread as the peer's).
type peerSession struct {
	peerID     string
	createdAt  time.Time
	lastUsedAt time.Time
	msgCount   int

	txKey [32]byte
	rxKey [32]byte
}

// deriveSessionKeys expands the X25519 shared secret between two
// identities into two 32-byte keys, one per direction. Both sides derive
// the same (clientKey, serverKey) pair from the same canonically-ordered
// public material; isInitiator picks which one is this side's send key.
func deriveSessionKeys(sharedSecret []byte, selfPub, peerPub []byte, isInitiator bool) (tx, rx [32]byte, err error) {
	if len(sharedSecret) == 0 {
		return tx, rx, fmt.Errorf("pairing: empty shared secret")
	}

	lo, hi := canonicalOrder(selfPub, peerPub)
	salt := sha256.New()
	salt.Write([]byte("beacon-core/pairing-session/v1"))
	salt.Write(lo)
	salt.Write(hi)

	kdf := hkdf.New(sha256.New, sharedSecret, salt.Sum(nil), []byte("session-keys"))
	var clientKey, serverKey [32]byte
	if _, err := io.ReadFull(kdf, clientKey[:]); err != nil {
		return tx, rx, fmt.Errorf("pairing: derive client key: %w", err)
	}
	if _, err := io.ReadFull(kdf, serverKey[:]); err != nil {
		return tx, rx, fmt.Errorf("pairing: derive server key: %w", err)
	}

	if isInitiator {
		return clientKey, serverKey, nil
	}
	return serverKey, clientKey, nil
}

// canonicalOrder returns a and b in lexicographic order so both peers
// derive an identical salt regardless of who is "self" locally.
func canonicalOrder(a, b []byte) (lo, hi []byte) {
	if bytes.Compare(a, b) <= 0 {
		return a, b
	}
	return b, a
}

func newPeerSession(peerID string, sharedSecret, selfPub, peerPub []byte, isInitiator bool) (*peerSession, error) {
	tx, rx, err := deriveSessionKeys(sharedSecret, selfPub, peerPub, isInitiator)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &peerSession{
		peerID:     peerID,
		createdAt:  now,
		lastUsedAt: now,
		txKey:      tx,
		rxKey:      rx,
	}, nil
}

// Encrypt seals plaintext under this session's send key.
func (s *peerSession) Encrypt(plaintext []byte) ([]byte, error) {
	out, err := box.Encrypt(plaintext, s.txKey)
	if err != nil {
		return nil, err
	}
	s.lastUsedAt = time.Now()
	s.msgCount++
	return out, nil
}

// Decrypt opens ciphertext produced by the peer's Encrypt call. Failure
// is the expected, non-fatal outcome for traffic on a shared room that
// wasn't addressed to us (spec §4.4.7, §7 DECRYPTION_MISMATCH).
func (s *peerSession) Decrypt(ciphertext []byte) ([]byte, error) {
	out, err := box.Decrypt(ciphertext, s.rxKey)
	if err != nil {
		return nil, err
	}
	s.lastUsedAt = time.Now()
	return out, nil
}

const (
	sessionIdleTimeout = 30 * time.Minute
	sessionMaxAge      = 24 * time.Hour
)

func (s *peerSession) expired(now time.Time) bool {
	return now.After(s.createdAt.Add(sessionMaxAge)) || now.After(s.lastUsedAt.Add(sessionIdleTimeout))
}

// sessionStore caches one peerSession per paired identity, evicting
// idle/aged-out entries in the background. Grounded on the teacher's
// session manager's map-plus-sweep-ticker shape, trimmed to the single
// per-peer cache key the pairing core needs (no keyid indirection, no
// per-session Config override).
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*peerSession
	derive   singleflight.Group

	stop chan struct{}
	once sync.Once
}

func newSessionStore() *sessionStore {
	st := &sessionStore{
		sessions: make(map[string]*peerSession),
		stop:     make(chan struct{}),
	}
	go st.sweepLoop()
	return st
}

// getOrCreate returns the cached session for peerID, deriving a fresh one
// on a cache miss or expiry. Concurrent callers for the same peerID (e.g.
// a channel-open and a replayed sync event racing in) collapse onto a
// single derivation via singleflight, so HKDF only runs once per peer.
func (st *sessionStore) getOrCreate(peerID string, sharedSecret, selfPub, peerPub []byte, isInitiator bool) (*peerSession, error) {
	st.mu.RLock()
	if s, ok := st.sessions[peerID]; ok && !s.expired(time.Now()) {
		st.mu.RUnlock()
		return s, nil
	}
	st.mu.RUnlock()

	v, err, _ := st.derive.Do(peerID, func() (interface{}, error) {
		st.mu.RLock()
		if s, ok := st.sessions[peerID]; ok && !s.expired(time.Now()) {
			st.mu.RUnlock()
			return s, nil
		}
		st.mu.RUnlock()

		s, err := newPeerSession(peerID, sharedSecret, selfPub, peerPub, isInitiator)
		if err != nil {
			return nil, err
		}

		st.mu.Lock()
		st.sessions[peerID] = s
		st.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*peerSession), nil
}

func (st *sessionStore) get(peerID string) (*peerSession, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[peerID]
	if !ok || s.expired(time.Now()) {
		return nil, false
	}
	return s, true
}

func (st *sessionStore) remove(peerID string) {
	st.mu.Lock()
	delete(st.sessions, peerID)
	st.mu.Unlock()
}

func (st *sessionStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st.sweepExpired()
		case <-st.stop:
			return
		}
	}
}

func (st *sessionStore) sweepExpired() {
	now := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, s := range st.sessions {
		if s.expired(now) {
			delete(st.sessions, id)
		}
	}
}

func (st *sessionStore) close() {
	st.once.Do(func() { close(st.stop) })
}
