package pairing

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tzconnect/beacon-core/chat"
	"github.com/tzconnect/beacon-core/crypto/box"
	"github.com/tzconnect/beacon-core/crypto/hash"
	"github.com/tzconnect/beacon-core/crypto/keys"
	"github.com/tzconnect/beacon-core/internal/logger"
	"github.com/tzconnect/beacon-core/internal/metrics"
	"github.com/tzconnect/beacon-core/relay"
	"github.com/tzconnect/beacon-core/routing"
	"github.com/tzconnect/beacon-core/statestore"
	"github.com/tzconnect/beacon-core/storage"
)

const (
	// loginDigestBucket is the width, in seconds, of the time bucket the
	// login password is signed over (spec §6 "Login credential").
	loginDigestBucket = 300

	// joinRetryDelay and joinRetryMax bound tryJoinRooms (spec §4.4.2).
	joinRetryDelay = 200 * time.Millisecond
	joinRetryMax   = 10

	// waitForJoin bounds (spec §4.4.5, §5): ~5s of fast polling, then
	// slow polling, up to 200 attempts total (~155s aggregate).
	waitFastInterval = 100 * time.Millisecond
	waitFastAttempts = 50
	waitSlowInterval = time.Second
	waitMaxAttempts  = 200

	// initialReplayWindow bounds how stale a captured startup message
	// may be before listenForEncryptedMessage skips the replay (spec
	// §4.4.7, §8 S6).
	initialReplayWindow = 5 * time.Minute
)

// ChatFactory builds a chat.Client against the given relay server
// hostname (without scheme). The default talks HTTP.
type ChatFactory func(relayServer string) chat.Client

func defaultChatFactory(relayServer string) chat.Client {
	return chat.NewHTTPClient("https://" + relayServer)
}

// Config configures a Client. Identity and KV are required; everything
// else has a workable zero value or default.
type Config struct {
	Identity *keys.Ed25519KeyPair
	KV       storage.KV

	Role Role

	// Name/Version/IconURL/AppURL populate outgoing PeerDescriptors
	// (spec §4.4.3, §6).
	Name    string
	Version string
	IconURL string
	AppURL  string

	RelayServers []string
	RelayNonce   string // defaults to "0" (spec §4.4.1 step 3)

	Metrics     *metrics.Collectors
	ChatFactory ChatFactory
}

func (c *Config) applyDefaults() {
	if c.RelayNonce == "" {
		c.RelayNonce = "0"
	}
	if c.ChatFactory == nil {
		c.ChatFactory = defaultChatFactory
	}
	if c.Role == "" {
		c.Role = RoleDApp
	}
}

// capturedEvent is the most-recent Message event seen by the
// initial-message listener, along with the wall-clock time it was
// captured (spec §4.4.1 step 4, §4.4.7).
type capturedEvent struct {
	msg        chat.Message
	capturedAt time.Time
}

// Client is the pairing & messaging core (spec §4.4): it owns a chat
// client logged into one relay, a routing table from recipient address
// to room, and per-peer session key caches.
type Client struct {
	cfg      Config
	identity *keys.Ed25519KeyPair
	x25519   *keys.X25519KeyPair

	chat   chat.Client
	router *routing.Router
	store  *statestore.Store

	sessions *sessionStore
	replay   *replayGuard

	relayServer string

	// nowFunc is overridable so tests can freeze the clock for the
	// login-digest time bucket (spec §8 S2).
	nowFunc func() time.Time

	startMu sync.Mutex
	started bool

	initialMu      sync.Mutex
	initialEvent   *capturedEvent
	initialUnsub   func()
	inviteUnsub    func()
	trackUnsub1    func()
	trackUnsub2    func()

	listenMu        sync.Mutex
	activeListeners map[string]func()
}

// New constructs a Client. Call Start before any other method.
func New(cfg Config) (*Client, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("pairing: Config.Identity is required")
	}
	if cfg.KV == nil {
		return nil, fmt.Errorf("pairing: Config.KV is required")
	}
	cfg.applyDefaults()

	priv, ok := cfg.Identity.PrivateKey().(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("pairing: identity key pair has no Ed25519 private key")
	}
	x25519, err := keys.X25519KeyPairFromEd25519(priv)
	if err != nil {
		return nil, fmt.Errorf("pairing: derive X25519 identity: %w", err)
	}

	return &Client{
		cfg:             cfg,
		identity:        cfg.Identity,
		x25519:          x25519,
		sessions:        newSessionStore(),
		replay:          newReplayGuard(initialReplayWindow),
		activeListeners: make(map[string]func()),
		nowFunc:         time.Now,
	}, nil
}

// Start performs login to a deterministically-selected relay and begins
// the background sync loop (spec §4.4.1).
func (c *Client) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return nil
	}

	bucket := c.nowFunc().Unix() / loginDigestBucket
	digest := hash.Sum([]byte(fmt.Sprintf("login:%d", bucket)))
	sig, err := c.identity.Sign(digest)
	if err != nil {
		return fmt.Errorf("pairing: sign login digest: %w", err)
	}

	relayServer, err := relay.Select(c.identity.ID(), c.cfg.RelayNonce, c.cfg.RelayServers)
	if err != nil {
		return fmt.Errorf("pairing: select relay: %w", err)
	}
	c.relayServer = relayServer
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RelaySelections.WithLabelValues(relayServer).Inc()
	}

	c.chat = c.cfg.ChatFactory(relayServer)
	c.store = statestore.New(ctx, c.cfg.KV)
	c.router = routing.New(c.cfg.KV, c.chat)

	c.initialUnsub = c.chat.Subscribe(chat.EventMessage, c.captureInitialMessage)
	c.inviteUnsub = c.chat.Subscribe(chat.EventInvite, func(ev chat.Event) {
		go c.tryJoinRooms(context.Background(), ev.RoomID, 1)
	})
	c.trackUnsub1 = c.chat.Subscribe(chat.EventMessage, func(ev chat.Event) { go c.trackRoomState(ev) })
	c.trackUnsub2 = c.chat.Subscribe(chat.EventInvite, func(ev chat.Event) { go c.trackRoomState(ev) })

	password := "ed:" + hex.EncodeToString(sig) + ":" + c.identity.PublicKeyHex()
	err = c.chat.Start(ctx, chat.StartOptions{
		UserID:   c.identity.ID(),
		Password: password,
		DeviceID: c.identity.PublicKeyHex(),
	})
	if err != nil {
		return fmt.Errorf("pairing: chat login failed: %w", err)
	}

	for _, roomID := range c.chat.InvitedRooms() {
		if err := c.chat.JoinRooms(ctx, roomID); err != nil {
			logger.Warn("pairing: failed to join already-invited room", logger.RoomID(roomID), logger.Error(err))
		}
	}

	if c.cfg.Role == RoleWallet {
		if err := c.router.EnsureStandbyRoom(ctx); err != nil {
			logger.Warn("pairing: failed to provision standby room", logger.Error(err))
		}
	}

	c.started = true
	return nil
}

// Stop halts the sync loop and background housekeeping goroutines.
func (c *Client) Stop(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if !c.started {
		return nil
	}

	if c.initialUnsub != nil {
		c.initialUnsub()
	}
	if c.inviteUnsub != nil {
		c.inviteUnsub()
	}
	if c.trackUnsub1 != nil {
		c.trackUnsub1()
	}
	if c.trackUnsub2 != nil {
		c.trackUnsub2()
	}

	c.listenMu.Lock()
	for _, unsub := range c.activeListeners {
		unsub()
	}
	c.activeListeners = make(map[string]func())
	c.listenMu.Unlock()

	c.sessions.close()
	c.replay.close()

	c.started = false
	return c.chat.Stop(ctx)
}

func (c *Client) isStarted() bool {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	return c.started
}

// captureInitialMessage remembers the most-recent Message event so a
// channel-open that races a caller's listenForEncryptedMessage
// registration isn't lost (spec §4.4.1 step 4).
func (c *Client) captureInitialMessage(ev chat.Event) {
	if ev.Message == nil {
		return
	}
	c.initialMu.Lock()
	defer c.initialMu.Unlock()
	if c.initialEvent == nil || ev.Message.Timestamp.After(c.initialEvent.msg.Timestamp) {
		c.initialEvent = &capturedEvent{msg: *ev.Message, capturedAt: time.Now()}
	}
}

// trackRoomState mirrors a room's current snapshot into the persisted
// state store after every message/invite event, so room state survives
// a restart (spec §1, §4.3). Only rooms are written; nothing in this
// package writes the sync token to the store.
func (c *Client) trackRoomState(ev chat.Event) {
	room, ok := c.chat.GetRoomByID(ev.RoomID)
	if !ok {
		return
	}
	sr := statestore.Room{ID: room.ID, Status: room.Status, Members: room.Members}
	if ev.Message != nil {
		sr.Messages = []chat.Message{*ev.Message}
	}
	if _, err := c.store.Update(context.Background(), statestore.Partial{
		Rooms: map[string]statestore.Room{room.ID: sr},
	}); err != nil {
		logger.Warn("pairing: failed to persist room state", logger.RoomID(room.ID), logger.Error(err))
	}
}

// tryJoinRooms retries a join on "forbidden" up to joinRetryMax times,
// 200ms apart, accommodating a race where a freshly-invited user is
// momentarily rejected by a federated server (spec §4.4.2).
func (c *Client) tryJoinRooms(ctx context.Context, roomID string, attempt int) {
	err := c.chat.JoinRooms(ctx, roomID)
	if err == nil {
		return
	}
	if chat.IsForbidden(err) && attempt < joinRetryMax {
		time.Sleep(joinRetryDelay)
		c.tryJoinRooms(ctx, roomID, attempt+1)
		return
	}
	logger.Warn("pairing: failed to join room", logger.RoomID(roomID), logger.Error(err))
}

// GetPairingRequestInfo builds the outbound pairing-request descriptor a
// dApp ships out-of-band (spec §4.4.3).
func (c *Client) GetPairingRequestInfo() (PeerDescriptor, error) {
	relayServer, err := relay.Select(c.identity.ID(), c.cfg.RelayNonce, c.cfg.RelayServers)
	if err != nil {
		return PeerDescriptor{}, fmt.Errorf("pairing: select relay: %w", err)
	}
	return PeerDescriptor{
		ID:          uuid.NewString(),
		Type:        typePairingRequest,
		Name:        c.cfg.Name,
		Version:     c.cfg.Version,
		PublicKey:   c.identity.PublicKeyHex(),
		RelayServer: relayServer,
		Icon:        c.cfg.IconURL,
		AppURL:      c.cfg.AppURL,
	}, nil
}

// getPairingResponseInfo builds this identity's response to an inbound
// pairing request (spec §4.4.5).
func (c *Client) getPairingResponseInfo() PeerDescriptor {
	return PeerDescriptor{
		ID:          uuid.NewString(),
		Type:        typePairingResponse,
		Name:        c.cfg.Name,
		Version:     c.cfg.Version,
		PublicKey:   c.identity.PublicKeyHex(),
		RelayServer: c.relayServer,
		Icon:        c.cfg.IconURL,
		AppURL:      c.cfg.AppURL,
	}
}

const channelOpenPrefix = "@channel-open:"

// ListenForChannelOpening subscribes for inbound pairing requests (spec
// §4.4.4, wallet role): text messages addressed to our own
// publicKeyHash via the "@channel-open:" tag, sealed-box-decrypted under
// our long-term key.
func (c *Client) ListenForChannelOpening(cb func(PairingResponse)) (unsubscribe func(), err error) {
	if !c.isStarted() {
		return nil, ErrNotReady
	}

	tag := channelOpenPrefix + "@" + c.identity.ID()
	unsub := c.chat.Subscribe(chat.EventMessage, func(ev chat.Event) {
		if ev.Message == nil || !strings.HasPrefix(ev.Message.Body, tag) {
			return
		}
		resp, ok := c.decodeChannelOpen(ev.Message.Body)
		if !ok {
			return
		}
		cb(resp)
	})
	return unsub, nil
}

func (c *Client) decodeChannelOpen(body string) (PairingResponse, bool) {
	parts := strings.Split(body, ":")
	if len(parts) < 3 {
		return PairingResponse{}, false
	}
	sealedHex := parts[len(parts)-1]
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return PairingResponse{}, false
	}

	var selfPub, selfPriv [32]byte
	copy(selfPub[:], c.x25519.PublicBytes())
	copy(selfPriv[:], c.x25519.PrivateBytes())

	plaintext, err := box.OpenAnonymous(sealed, selfPub, selfPriv)
	if err != nil {
		return PairingResponse{}, false
	}

	var desc PeerDescriptor
	if err := json.Unmarshal(plaintext, &desc); err != nil {
		return PairingResponse{}, false
	}
	senderID, err := deriveSenderID(desc.PublicKey)
	if err != nil {
		return PairingResponse{}, false
	}
	return PairingResponse{PeerDescriptor: desc, SenderID: senderID}, true
}

// SendPairingResponse answers an inbound pairing request (spec §4.4.5):
// resolve a room, wait for the peer to join it, then sealed-box-encrypt
// and send the response descriptor.
func (c *Client) SendPairingResponse(ctx context.Context, request PeerDescriptor) error {
	if !c.isStarted() {
		return ErrNotReady
	}

	start := time.Now()
	peerHash, err := deriveSenderID(request.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	recipient := recipientAddress(peerHash, request.RelayServer)

	roomID, err := c.router.GetRelevantRoom(ctx, recipient)
	if err != nil {
		c.recordHandshake("failure")
		return fmt.Errorf("pairing: resolve room for %s: %w", recipient, err)
	}

	if err := c.waitForRoomMembers(ctx, roomID, 2); err != nil {
		c.recordHandshake("timeout")
		return err
	}

	response := c.getPairingResponseInfo()
	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("pairing: encode pairing response: %w", err)
	}

	peerPubBytes, err := hex.DecodeString(request.PublicKey)
	if err != nil || len(peerPubBytes) != ed25519.PublicKeySize {
		c.recordHandshake("failure")
		return ErrInvalidPublicKey
	}
	peerX25519Pub, err := keys.ConvertEd25519PublicKey(ed25519.PublicKey(peerPubBytes))
	if err != nil {
		c.recordHandshake("failure")
		return fmt.Errorf("pairing: convert peer public key: %w", err)
	}
	var peerPubArr [32]byte
	copy(peerPubArr[:], peerX25519Pub)

	sealed, err := box.SealAnonymous(payload, peerPubArr)
	if err != nil {
		c.recordHandshake("failure")
		return fmt.Errorf("pairing: seal pairing response: %w", err)
	}

	body := channelOpenPrefix + recipient + ":" + hex.EncodeToString(sealed)
	if err := c.chat.SendTextMessage(ctx, roomID, body); err != nil {
		c.recordHandshake("failure")
		return fmt.Errorf("pairing: send pairing response: %w", err)
	}

	c.recordHandshake("success")
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.HandshakeLatency.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (c *Client) recordHandshake(outcome string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.HandshakeResults.WithLabelValues(outcome).Inc()
	}
}

// waitForRoomMembers polls GetRoomByID until roomID has at least min
// members: every 100ms for the first ~5s, then every 1s, failing after
// waitMaxAttempts (spec §4.4.5, §5).
func (c *Client) waitForRoomMembers(ctx context.Context, roomID string, min int) error {
	for attempt := 1; attempt <= waitMaxAttempts; attempt++ {
		if room, ok := c.chat.GetRoomByID(roomID); ok && len(room.Members) >= min {
			return nil
		}

		interval := waitSlowInterval
		if attempt <= waitFastAttempts {
			interval = waitFastInterval
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ErrTimeout
}

// isInitiator resolves the role-asymmetric half of the session key
// derivation (spec §4.4.6): the dApp originates pairing and plays the
// "client" role; the wallet answers and plays "server".
func (c *Client) isInitiator() bool {
	return c.cfg.Role == RoleDApp
}

// sessionFor derives (or fetches the cached) session keys with a peer
// identified by its raw Ed25519 public key, keyed by peerHash.
func (c *Client) sessionFor(peerHash string, peerPubBytes []byte) (*peerSession, error) {
	peerX25519Pub, err := keys.ConvertEd25519PublicKey(ed25519.PublicKey(peerPubBytes))
	if err != nil {
		return nil, fmt.Errorf("pairing: convert peer public key: %w", err)
	}
	sharedSecret, err := c.x25519.DeriveSharedSecret(peerX25519Pub)
	if err != nil {
		return nil, fmt.Errorf("pairing: derive shared secret: %w", err)
	}
	return c.sessions.getOrCreate(peerHash, sharedSecret, c.x25519.PublicBytes(), peerX25519Pub, c.isInitiator())
}

// decodeSessionMessage implements steps (a)-(d) of spec §4.4.7. It
// returns errSenderMismatch for traffic not addressed to senderPrefix
// (never counted as a decryption mismatch), and box.ErrDecryptionFailed
// for anything that fails to authenticate.
func (c *Client) decodeSessionMessage(msg chat.Message, senderPrefix string, session *peerSession) ([]byte, error) {
	if !strings.HasPrefix(msg.Sender, senderPrefix) {
		return nil, errSenderMismatch
	}
	raw, err := hex.DecodeString(msg.Body)
	if err != nil {
		return nil, box.ErrDecryptionFailed
	}
	if len(raw) < box.NonceSize+box.Overhead {
		return nil, box.ErrDecryptionFailed
	}
	return session.Decrypt(raw)
}

var errSenderMismatch = errors.New("pairing: message not addressed to this sender")

// ListenForEncryptedMessage installs a decrypt-and-dispatch listener for
// one peer's session traffic (spec §4.4.7). Idempotent per sender: a
// second call for the same sender while the first is still active is a
// no-op.
func (c *Client) ListenForEncryptedMessage(senderPublicKeyHex string, cb func(plaintext []byte)) error {
	if !c.isStarted() {
		return ErrNotReady
	}

	peerPubBytes, err := hex.DecodeString(senderPublicKeyHex)
	if err != nil || len(peerPubBytes) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}
	senderHash := hash.SumHex(peerPubBytes)

	c.listenMu.Lock()
	if _, active := c.activeListeners[senderHash]; active {
		c.listenMu.Unlock()
		return nil
	}
	c.listenMu.Unlock()

	session, err := c.sessionFor(senderHash, peerPubBytes)
	if err != nil {
		return err
	}

	senderPrefix := "@" + senderHash
	unsub := c.chat.Subscribe(chat.EventMessage, func(ev chat.Event) {
		if ev.Message == nil {
			return
		}
		if !c.replay.seen(senderHash, hash.SumHex([]byte(ev.Message.Body), []byte(ev.Message.Sender))) {
			c.dispatchSessionMessage(*ev.Message, senderPrefix, session, ev.RoomID, cb)
		}
	})

	c.listenMu.Lock()
	c.activeListeners[senderHash] = unsub
	c.listenMu.Unlock()

	c.replayInitialEvent(senderPrefix, session, cb)
	return nil
}

func (c *Client) dispatchSessionMessage(msg chat.Message, senderPrefix string, session *peerSession, roomID string, cb func([]byte)) {
	plaintext, err := c.decodeSessionMessage(msg, senderPrefix, session)
	if err != nil {
		if errors.Is(err, box.ErrDecryptionFailed) {
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.DecryptionMismatches.Inc()
			}
			logger.Warn("pairing: session message failed to authenticate", logger.PeerHash(strings.TrimPrefix(senderPrefix, "@")), logger.RoomID(roomID))
		}
		return
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SessionMessagesReceived.WithLabelValues(roomID).Inc()
	}
	cb(plaintext)
}

// replayInitialEvent consumes the captured startup message exactly once
// (regardless of outcome), matching spec §4.4.7's "replay, then
// uninstall the initial-message listener and clear the remembered
// event."
func (c *Client) replayInitialEvent(senderPrefix string, session *peerSession, cb func([]byte)) {
	c.initialMu.Lock()
	captured := c.initialEvent
	unsub := c.initialUnsub
	c.initialEvent = nil
	c.initialUnsub = nil
	c.initialMu.Unlock()

	if unsub != nil {
		unsub()
	}
	if captured == nil || time.Since(captured.capturedAt) > initialReplayWindow {
		return
	}

	plaintext, err := c.decodeSessionMessage(captured.msg, senderPrefix, session)
	if err != nil {
		return
	}
	cb(plaintext)
}

// SendMessage encrypts plaintext under the sender's half of the session
// key and delivers it to peer's room, rebinding once on "forbidden"
// (spec §4.4.8, §8 invariant 8).
func (c *Client) SendMessage(ctx context.Context, plaintext []byte, peer PeerDescriptor) error {
	if !c.isStarted() {
		return ErrNotReady
	}

	peerPubBytes, err := hex.DecodeString(peer.PublicKey)
	if err != nil || len(peerPubBytes) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}
	peerHash := hash.SumHex(peerPubBytes)
	recipient := recipientAddress(peerHash, peer.RelayServer)

	session, err := c.sessionFor(peerHash, peerPubBytes)
	if err != nil {
		return err
	}
	ciphertext, err := session.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("pairing: encrypt session message: %w", err)
	}
	body := hex.EncodeToString(ciphertext)

	roomID, err := c.router.GetRelevantRoom(ctx, recipient)
	if err != nil {
		return fmt.Errorf("pairing: resolve room for %s: %w", recipient, err)
	}

	err = c.chat.SendTextMessage(ctx, roomID, body)
	if err == nil {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.SessionMessagesSent.WithLabelValues(roomID).Inc()
		}
		return nil
	}
	if !chat.IsForbidden(err) {
		return fmt.Errorf("pairing: send session message: %w", err)
	}

	if err := c.router.DeleteRoomIDFromRooms(ctx, roomID); err != nil {
		logger.Warn("pairing: failed to evict stale room binding", logger.Error(err))
	}
	freshRoomID, err := c.router.GetRelevantRoom(ctx, recipient)
	if err != nil {
		logger.Warn("pairing: failed to resolve fresh room on retry", logger.Recipient(recipient), logger.Error(err))
		return nil
	}
	if err := c.chat.SendTextMessage(ctx, freshRoomID, body); err != nil {
		logger.Warn("pairing: retry send failed", logger.Recipient(recipient), logger.Error(err))
		return nil
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SessionMessagesSent.WithLabelValues(freshRoomID).Inc()
	}
	return nil
}
