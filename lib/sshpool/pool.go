package sshpool

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/klpod221/kerminal/lib/vault/store"
)

// Config configures a Pool.
type Config struct {
	Profiles ProfileLookup
	Keys     KeySource

	// IdleTTL is how long an unused transport is kept cached before
	// eviction. Zero or negative selects the default of 10 minutes.
	IdleTTL time.Duration
	// SweepInterval is how often the eviction loop checks for idle entries.
	SweepInterval time.Duration

	DialTimeout time.Duration
	Clock       clockwork.Clock
	Log         logrus.FieldLogger

	// HostKeyCallback verifies the host key presented by each hop. Defaults
	// to ssh.InsecureIgnoreHostKey, since this package has no known_hosts
	// store yet.
	//
	// TODO: back this with a persisted known_hosts-style trust store
	// (fingerprint-on-first-use, prompt-on-change) once the vault has a
	// place to keep it.
	HostKeyCallback ssh.HostKeyCallback
}

func (c *Config) CheckAndSetDefaults() error {
	if c.Profiles == nil {
		return trace.BadParameter("sshpool.Config: Profiles is required")
	}
	if c.Keys == nil {
		return trace.BadParameter("sshpool.Config: Keys is required")
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	if c.HostKeyCallback == nil {
		c.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return nil
}

// entry is one cached transport plus the channels currently open over it.
type entry struct {
	client     *ssh.Client
	lastUsed   time.Time
	refCount   int
}

// Pool multiplexes SSH channels over reused transports, keyed by
// (host, port, username, auth, proxy, jump chain).
type Pool struct {
	Config
	log logrus.FieldLogger

	mu      sync.Mutex
	entries map[poolKey]*entry
	closed  bool

	stopSweep chan struct{}
}

// New constructs a Pool and starts its idle-eviction sweep.
func New(cfg Config) (*Pool, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	p := &Pool{
		Config:    cfg,
		log:       cfg.Log.WithField(trace.Component, "sshpool"),
		entries:   make(map[poolKey]*entry),
		stopSweep: make(chan struct{}),
	}
	go p.sweepLoop()
	return p, nil
}

func (p *Pool) sweepLoop() {
	ticker := p.Clock.NewTicker(p.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopSweep:
			return
		case <-ticker.Chan():
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.Clock.Now()
	for key, e := range p.entries {
		if e.refCount == 0 && now.Sub(e.lastUsed) >= p.IdleTTL {
			e.client.Close()
			delete(p.entries, key)
		}
	}
}

// Dial returns a live *ssh.Client for profile's target host, reusing a
// cached transport when the pool key matches, or establishing a fresh one
// by resolving the jump-host chain and proxy wrapping of the terminal hop.
func (p *Pool) Dial(ctx context.Context, profile *store.SSHProfile) (*ssh.Client, error) {
	key := newPoolKey(profile)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, trace.Wrap(ErrPoolClosed)
	}
	if e, ok := p.entries[key]; ok {
		e.lastUsed = p.Clock.Now()
		e.refCount++
		p.mu.Unlock()
		return e.client, nil
	}
	p.mu.Unlock()

	chain, err := resolveJumpChain(ctx, p.Profiles, profile)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	client, err := p.dialChain(ctx, chain)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		client.Close()
		return nil, trace.Wrap(ErrPoolClosed)
	}
	p.entries[key] = &entry{client: client, lastUsed: p.Clock.Now(), refCount: 1}
	p.mu.Unlock()

	return client, nil
}

// dialChain dials each hop in order, tunneling hop N through hop N-1's SSH
// connection, and wraps the final (terminal) hop's stream through its proxy
// configuration before the SSH handshake if one is set.
func (p *Pool) dialChain(ctx context.Context, chain []*store.SSHProfile) (*ssh.Client, error) {
	var prevClient *ssh.Client
	var built []*ssh.Client
	closeBuilt := func() {
		for i := len(built) - 1; i >= 0; i-- {
			built[i].Close()
		}
	}

	for i, hop := range chain {
		isTerminal := i == len(chain)-1
		addr := net.JoinHostPort(hop.Host, portString(hop.Port))

		dial := dialFunc(func(ctx context.Context, network, addr string) (net.Conn, error) {
			if prevClient == nil {
				d := net.Dialer{Timeout: p.DialTimeout}
				conn, err := d.DialContext(ctx, network, addr)
				if err != nil {
					return nil, newDialError(FailureConnect, err)
				}
				return conn, nil
			}
			conn, err := prevClient.Dial(network, addr)
			if err != nil {
				return nil, newDialError(FailureConnect, err)
			}
			return conn, nil
		})

		var conn net.Conn
		var err error
		if isTerminal && hop.Proxy != nil {
			conn, err = dialViaProxy(ctx, dial, hop.Proxy, addr)
		} else {
			conn, err = dial(ctx, "tcp", addr)
		}
		if err != nil {
			closeBuilt()
			return nil, trace.Wrap(err)
		}

		clientConfig, err := p.clientConfigFor(ctx, hop)
		if err != nil {
			conn.Close()
			closeBuilt()
			return nil, trace.Wrap(err)
		}

		sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
		if err != nil {
			conn.Close()
			closeBuilt()
			return nil, newDialError(FailureSSHHandshake, err)
		}
		client := ssh.NewClient(sshConn, chans, reqs)

		prevClient = client
		built = append(built, client)
	}

	return prevClient, nil
}

func (p *Pool) clientConfigFor(ctx context.Context, hop *store.SSHProfile) (*ssh.ClientConfig, error) {
	methods, err := buildAuthMethods(ctx, hop.Auth, p.Keys)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	timeout := p.DialTimeout
	if hop.TimeoutSeconds > 0 {
		timeout = time.Duration(hop.TimeoutSeconds) * time.Second
	}
	return &ssh.ClientConfig{
		User:            hop.Username,
		Auth:            methods,
		Timeout:         timeout,
		HostKeyCallback: p.HostKeyCallback,
	}, nil
}

// Release marks one channel opened through Dial's returned client as
// closed, allowing the transport to become idle-eviction eligible again.
func (p *Pool) Release(profile *store.SSHProfile) {
	key := newPoolKey(profile)
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok && e.refCount > 0 {
		e.refCount--
		e.lastUsed = p.Clock.Now()
	}
}

// ClearPool closes and drops every cached transport regardless of refcount,
// matching the external clearConnectionPool operation.
func (p *Pool) ClearPool() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		e.client.Close()
		delete(p.entries, key)
	}
}

// Close stops the eviction sweep and clears every cached transport.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopSweep)
	p.ClearPool()
}

func portString(port int) string {
	if port == 0 {
		port = 22
	}
	return strconv.Itoa(port)
}
