// Command kerminald is the kerminal daemon process: it assembles one
// configuration tree from flags and environment variables, constructs the
// full dependency graph, and runs until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/klpod221/kerminal/internal/logutil"
	"github.com/klpod221/kerminal/lib/kerminal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, trace.DebugReport(err))
		os.Exit(1)
	}
}

func run() error {
	cfg, purpose, level, err := parseFlags(os.Args[1:])
	if err != nil {
		return trace.Wrap(err)
	}
	logutil.InitLogger(purpose, level)
	log := logrus.StandardLogger()
	cfg.Log = log

	svc, err := kerminal.New(cfg)
	if err != nil {
		return trace.Wrap(err, "constructing service")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return trace.Wrap(err, "starting service")
	}
	log.WithField("vault_path", cfg.VaultPath).WithField("device_id", cfg.DeviceID).Info("kerminald started")

	<-ctx.Done()
	log.Info("shutdown signal received, stopping")

	if err := svc.Stop(); err != nil {
		return trace.Wrap(err, "stopping service")
	}
	return nil
}

// parseFlags builds a kerminal.Config from command-line flags, falling back
// to environment variables and then to defaults derived from the user's home
// directory and hostname, matching the explicit flags/environment wiring the
// process entry point is responsible for.
func parseFlags(args []string) (kerminal.Config, logutil.Purpose, logrus.Level, error) {
	fs := flag.NewFlagSet("kerminald", flag.ContinueOnError)

	defaultVaultPath, defaultDeviceID, defaultDeviceName, defaultOSDescriptor := defaultsFromEnvironment()

	vaultPath := fs.String("vault", envOrDefault("KERMINAL_VAULT_PATH", defaultVaultPath), "path to the vault SQLite database")
	deviceID := fs.String("device-id", envOrDefault("KERMINAL_DEVICE_ID", defaultDeviceID), "stable identifier for this device")
	deviceName := fs.String("device-name", envOrDefault("KERMINAL_DEVICE_NAME", defaultDeviceName), "human-readable device name")
	osDescriptor := fs.String("os-descriptor", envOrDefault("KERMINAL_OS_DESCRIPTOR", defaultOSDescriptor), "operating system descriptor for this device")
	idleLockSecs := fs.Int("idle-lock-seconds", 0, "auto-lock the vault after this many seconds of inactivity; 0 disables idle locking")
	sshIdleSecs := fs.Int("ssh-idle-seconds", 0, "evict idle SSH connections after this many seconds; 0 uses the pool default")
	sshSweepSecs := fs.Int("ssh-sweep-seconds", 0, "interval between SSH pool eviction sweeps; 0 uses the pool default")
	sshDialSecs := fs.Int("ssh-dial-timeout-seconds", 0, "SSH dial timeout in seconds; 0 uses the pool default")
	headless := fs.Bool("headless", envOrDefault("KERMINAL_HEADLESS", "") == "1", "emit JSON logs instead of text, for running under a log collector")
	debug := fs.Bool("debug", envOrDefault("KERMINAL_DEBUG", "") == "1", "enable debug-level logging")

	if err := fs.Parse(args); err != nil {
		return kerminal.Config{}, 0, 0, trace.Wrap(err)
	}

	cfg := kerminal.Config{
		VaultPath:        *vaultPath,
		DeviceID:         *deviceID,
		DeviceName:       *deviceName,
		OSDescriptor:     *osDescriptor,
		IdleLockTimeout:  time.Duration(*idleLockSecs) * time.Second,
		SSHIdleTTL:       time.Duration(*sshIdleSecs) * time.Second,
		SSHSweepInterval: time.Duration(*sshSweepSecs) * time.Second,
		SSHDialTimeout:   time.Duration(*sshDialSecs) * time.Second,
		Clock:            clockwork.NewRealClock(),
	}

	purpose := logutil.ForDaemon
	if *headless {
		purpose = logutil.ForHeadless
	}
	level := logrus.InfoLevel
	if *debug {
		level = logrus.DebugLevel
	}

	return cfg, purpose, level, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// defaultsFromEnvironment derives a vault path under the user's home
// directory and a device identity from the local hostname, so kerminald runs
// out of the box without any flags on a fresh machine.
func defaultsFromEnvironment() (vaultPath, deviceID, deviceName, osDescriptor string) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	vaultPath = filepath.Join(home, ".kerminal", "vault.db")

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	deviceID = host
	deviceName = host
	osDescriptor = fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	return
}
