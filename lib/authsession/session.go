package authsession

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/klpod221/kerminal/lib/cryptoutil"
	"github.com/klpod221/kerminal/lib/eventbus"
	"github.com/klpod221/kerminal/lib/vault/keyhierarchy"
	"github.com/klpod221/kerminal/lib/vault/store"
)

// State names a position in the session state machine described for the
// auth session: Uninitialized -> Initialized -> Unlocked <-> Locked.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateUnlocked      State = "unlocked"
	StateLocked        State = "locked"
)

// Config configures a Session.
type Config struct {
	Store *store.Store
	Cache *keyhierarchy.Cache
	Bus   *eventbus.Bus
	Clock clockwork.Clock
	Log   logrus.FieldLogger

	// DeviceID is this process's device identifier, used as the active
	// device for field sealing and as the key under which the device key is
	// cached and wrapped.
	DeviceID     string
	DeviceName   string
	OSDescriptor string

	// Keystore is the OS-keychain abstraction used by TryAutoUnlock. A nil
	// Keystore disables auto-unlock entirely; Setup still succeeds, and
	// TryAutoUnlock returns nil without unlocking, reporting
	// ErrKeystoreUnavailable only through its AutoUnlockAttempted event.
	Keystore Keystore

	// IdleTimeout is how long the session stays Unlocked with no activity
	// before Lock(LockReasonIdleTimeout) fires. Zero disables the timer.
	IdleTimeout time.Duration
}

func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("authsession.Config: Store is required")
	}
	if c.Cache == nil {
		return trace.BadParameter("authsession.Config: Cache is required")
	}
	if c.Bus == nil {
		return trace.BadParameter("authsession.Config: Bus is required")
	}
	if c.DeviceID == "" {
		return trace.BadParameter("authsession.Config: DeviceID is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return nil
}

// Session is the auth session state machine for one device. It satisfies
// store.ActiveDevice, so it can be handed directly to a store.FieldSealer.
type Session struct {
	Config
	log logrus.FieldLogger

	mu         sync.Mutex
	state      State
	idleTimer  clockwork.Timer
	idleCancel chan struct{}
}

// New constructs a Session in the Uninitialized state. Call Bootstrap before
// the first Verify/TryAutoUnlock so a restarted process recognizes a vault
// that was already set up in a previous run.
func New(cfg Config) (*Session, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Session{
		Config: cfg,
		log:    cfg.Log.WithField(trace.Component, "authsession"),
		state:  StateUninitialized,
	}, nil
}

// ActiveDeviceID implements store.ActiveDevice.
func (s *Session) ActiveDeviceID() string { return s.DeviceID }

// Status returns the current state, matching the getStatus operation.
func (s *Session) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Bootstrap inspects the vault store for an existing master record for this
// device and moves to Initialized if one is found.
func (s *Session) Bootstrap(ctx context.Context) error {
	_, err := s.Store.FindDeviceMasterRecord(ctx, s.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	s.state = StateInitialized
	s.mu.Unlock()
	return nil
}

// Setup creates the master password entry and device encryption key for a
// brand new vault, registers the device, and leaves the session Unlocked.
func (s *Session) Setup(ctx context.Context, passphrase []byte, deviceName string, autoUnlock bool) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return trace.Wrap(ErrAlreadyInitialized)
	}
	s.mu.Unlock()

	rec, deviceKey, err := keyhierarchy.Setup(s.DeviceID, passphrase)
	if err != nil {
		return trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(deviceKey[:])

	now := s.Clock.Now().UTC()
	if err := s.Store.SaveDevice(ctx, store.Device{
		ID:           s.DeviceID,
		DisplayName:  deviceName,
		OSDescriptor: s.OSDescriptor,
		CreatedAt:    now,
		LastSeenAt:   now,
		IsCurrent:    true,
	}); err != nil {
		return trace.Wrap(err)
	}
	if err := s.Store.SaveMasterPasswordEntry(ctx, rec, autoUnlock, now); err != nil {
		return trace.Wrap(err)
	}
	if err := s.Store.SaveDeviceEncryptionKey(ctx, rec); err != nil {
		return trace.Wrap(err)
	}

	if err := s.Cache.Insert(s.DeviceID, deviceKey); err != nil {
		return trace.Wrap(err)
	}

	if autoUnlock && s.Keystore != nil {
		if err := s.saveAutoUnlockMaterial(rec, passphrase); err != nil {
			s.log.WithError(err).Warn("failed to save auto-unlock material to keystore")
		}
	}

	s.setState(StateUnlocked)
	s.resetIdleTimer()
	s.Bus.Publish(TopicSessionSetup, SessionSetup{DeviceID: s.DeviceID})
	s.Bus.Publish(TopicSessionUnlocked, SessionUnlocked{ViaAutoUnlock: false})
	return nil
}

// Verify derives the master key from the stored salt and the given
// passphrase and, on a match, opens the device key and caches it.
func (s *Session) Verify(ctx context.Context, passphrase []byte) error {
	rec, err := s.Store.FindDeviceMasterRecord(ctx, s.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return trace.Wrap(ErrNotInitialized)
	}
	if err != nil {
		return trace.Wrap(err)
	}

	deviceKey, err := keyhierarchy.Verify(rec, passphrase)
	if err != nil {
		if errors.Is(err, keyhierarchy.ErrInvalidPassphrase) {
			return trace.Wrap(ErrInvalidPassphrase)
		}
		return trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(deviceKey[:])

	s.Cache.Unlock()
	if err := s.Cache.Insert(s.DeviceID, deviceKey); err != nil {
		return trace.Wrap(err)
	}

	if err := s.Store.TouchMasterPasswordVerification(ctx, s.DeviceID, s.Clock.Now().UTC()); err != nil {
		s.log.WithError(err).Warn("failed to record verification timestamp")
	}

	s.setState(StateUnlocked)
	s.resetIdleTimer()
	s.Bus.Publish(TopicSessionUnlocked, SessionUnlocked{ViaAutoUnlock: false})
	return nil
}

// TryAutoUnlock loads the wrap key and wrapped device key from the OS
// keystore and unlocks without prompting for a passphrase. It fails
// silently from the caller's perspective -- errors are reported only via
// the AutoUnlockAttempted event, per the spec's "fails silently if
// unavailable" contract -- and always returns nil.
func (s *Session) TryAutoUnlock(ctx context.Context) error {
	if s.Keystore == nil {
		s.Bus.Publish(TopicAutoUnlockAttempted, AutoUnlockAttempted{OK: false, Error: ErrKeystoreUnavailable.Error()})
		return nil
	}

	wrapKey, blob, ok, err := s.Keystore.Load(s.DeviceID)
	if err != nil || !ok {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		s.Bus.Publish(TopicAutoUnlockAttempted, AutoUnlockAttempted{OK: false, Error: msg})
		return nil
	}
	defer cryptoutil.ZeroBytes(wrapKey[:])

	plain, err := cryptoutil.Open(wrapKey, blob)
	if err != nil {
		s.Bus.Publish(TopicAutoUnlockAttempted, AutoUnlockAttempted{OK: false, Error: err.Error()})
		return nil
	}
	defer cryptoutil.ZeroBytes(plain)

	var deviceKey [cryptoutil.KeySize]byte
	copy(deviceKey[:], plain)
	defer cryptoutil.ZeroBytes(deviceKey[:])

	s.Cache.Unlock()
	if err := s.Cache.Insert(s.DeviceID, deviceKey); err != nil {
		s.Bus.Publish(TopicAutoUnlockAttempted, AutoUnlockAttempted{OK: false, Error: err.Error()})
		return nil
	}

	s.setState(StateUnlocked)
	s.resetIdleTimer()
	s.Bus.Publish(TopicAutoUnlockAttempted, AutoUnlockAttempted{OK: true})
	s.Bus.Publish(TopicSessionUnlocked, SessionUnlocked{ViaAutoUnlock: true})
	return nil
}

// Lock wipes the key cache and arms the next-unlock prompt.
func (s *Session) Lock(reason LockReason) {
	s.Cache.Lock()
	s.stopIdleTimer()
	s.setState(StateLocked)
	s.Bus.Publish(TopicSessionLocked, SessionLocked{Reason: reason})
}

// ChangePassphrase verifies old, re-wraps the device key under new, and
// atomically updates the stored verification tag and wrapped key so a
// failure partway through leaves the vault exactly as it was.
func (s *Session) ChangePassphrase(ctx context.Context, old, newPassphrase []byte) error {
	rec, err := s.Store.FindDeviceMasterRecord(ctx, s.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return trace.Wrap(ErrNotInitialized)
	}
	if err != nil {
		return trace.Wrap(err)
	}

	newRec, err := keyhierarchy.ChangePassphrase(rec, old, newPassphrase)
	if err != nil {
		if errors.Is(err, keyhierarchy.ErrInvalidPassphrase) {
			return trace.Wrap(ErrInvalidPassphrase)
		}
		return trace.Wrap(err)
	}

	if err := s.Store.ReplaceDeviceMasterRecord(ctx, newRec); err != nil {
		return trace.Wrap(err)
	}

	deviceKey, err := keyhierarchy.Verify(newRec, newPassphrase)
	if err != nil {
		return trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(deviceKey[:])

	s.Cache.Unlock()
	if err := s.Cache.Insert(s.DeviceID, deviceKey); err != nil {
		return trace.Wrap(err)
	}
	s.setState(StateUnlocked)
	s.resetIdleTimer()
	return nil
}

// AddDeviceKey implements cross-device federation: given a foreign device's
// master record (copied over out-of-band or via sync) and its passphrase,
// it opens that device's key and caches it under its own device id, then
// persists the device and its master record locally so future opens and
// syncs recognize it without repeating the exchange.
func (s *Session) AddDeviceKey(ctx context.Context, deviceID string, passphrase []byte, entry *keyhierarchy.DeviceMasterRecord) error {
	foreignKey, err := keyhierarchy.AddDeviceKey(entry, passphrase)
	if err != nil {
		if errors.Is(err, keyhierarchy.ErrInvalidPassphrase) {
			return trace.Wrap(ErrInvalidPassphrase)
		}
		return trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(foreignKey[:])

	now := s.Clock.Now().UTC()
	if err := s.Store.SaveDevice(ctx, store.Device{
		ID:         deviceID,
		CreatedAt:  now,
		LastSeenAt: now,
		IsCurrent:  false,
	}); err != nil {
		return trace.Wrap(err)
	}
	if err := s.Store.SaveMasterPasswordEntry(ctx, entry, false, now); err != nil {
		return trace.Wrap(err)
	}
	if err := s.Store.SaveDeviceEncryptionKey(ctx, entry); err != nil {
		return trace.Wrap(err)
	}

	return trace.Wrap(s.Cache.Insert(deviceID, foreignKey))
}

// Touch resets the idle-lock timer, called on any vault read/write or
// terminal creation per the session timeout rule.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUnlocked {
		s.resetIdleTimerLocked()
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) resetIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetIdleTimerLocked()
}

func (s *Session) resetIdleTimerLocked() {
	s.stopIdleTimerLocked()
	if s.IdleTimeout <= 0 {
		return
	}
	s.idleTimer = s.Clock.NewTimer(s.IdleTimeout)
	cancel := make(chan struct{})
	s.idleCancel = cancel
	go s.watchIdle(s.idleTimer, cancel)
}

func (s *Session) watchIdle(timer clockwork.Timer, cancel chan struct{}) {
	select {
	case <-timer.Chan():
		s.Lock(LockReasonIdleTimeout)
	case <-cancel:
	}
}

func (s *Session) stopIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopIdleTimerLocked()
}

func (s *Session) stopIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.idleCancel != nil {
		close(s.idleCancel)
		s.idleCancel = nil
	}
}

// saveAutoUnlockMaterial independently re-derives the wrap key (rather than
// threading it out of keyhierarchy.Setup, which zeroes it before returning)
// so the OS keystore can later skip passphrase entry entirely.
func (s *Session) saveAutoUnlockMaterial(rec *keyhierarchy.DeviceMasterRecord, passphrase []byte) error {
	masterKey, err := cryptoutil.DeriveMasterKey(passphrase, rec.Salt, rec.ArgonParams)
	if err != nil {
		return trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(masterKey[:])

	wrapKey, err := cryptoutil.DeriveWrapKey(masterKey, rec.WrapSalt, rec.PBKDF2Params)
	if err != nil {
		return trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(wrapKey[:])

	return trace.Wrap(s.Keystore.Save(rec.DeviceID, wrapKey, rec.WrappedDeviceKeyBlob))
}
