// Package emuconfig is the flat configuration struct named in the design
// notes: every recognized option is a field here, populated from the
// process's command line and environment in the same
// flag-with-env-default style the teacher's cmd/provider/main.go uses.
package emuconfig

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"
)

// Config is the process-wide configuration. There is no module-level
// mutable state other than the single instance of this struct built at
// startup.
type Config struct {
	ListenAddress            string
	StorageRoot              string
	DatabaseURL              string
	SyncInterval             time.Duration
	LifecycleInterval        time.Duration
	ResumableSessionTTL      time.Duration
	ContainerRuntimeEndpoint string
	AutoModeSupernet         string
	HostNetworkSupernet      string
	DefaultProject           string
	Debug                    bool
}

// Parse builds a Config from args (typically os.Args[1:]), honoring the
// environment-variable defaults named in spec.md §6.
func Parse(appName string, args []string) (*Config, error) {
	app := kingpin.New(appName, "Local control-plane emulator core.")
	cfg := &Config{}

	app.Flag("listen-address", "Address the thin HTTP wire adapter listens on.").
		Envar("LISTEN_ADDRESS").Default(":8080").StringVar(&cfg.ListenAddress)
	app.Flag("storage-root", "Filesystem root for object payloads.").
		Envar("STORAGE_ROOT").Default(filepath.Join(os.TempDir(), "cloudlocal", "blobs")).StringVar(&cfg.StorageRoot)
	app.Flag("database-url", "Metadata store DSN.").
		Envar("DATABASE_URL").Default(filepath.Join(os.TempDir(), "cloudlocal", "emulator.db")).StringVar(&cfg.DatabaseURL)
	app.Flag("sync-interval", "Reconciler loop period.").
		Envar("SYNC_INTERVAL").Default("5s").DurationVar(&cfg.SyncInterval)
	app.Flag("lifecycle-interval", "Object lifecycle sweep period.").
		Envar("LIFECYCLE_INTERVAL").Default("5m").DurationVar(&cfg.LifecycleInterval)
	app.Flag("resumable-session-ttl", "Age after which an abandoned resumable upload session is swept.").
		Envar("RESUMABLE_SESSION_TTL").Default("168h").DurationVar(&cfg.ResumableSessionTTL)
	app.Flag("container-runtime-endpoint", "Host container runtime address (Docker daemon socket).").
		Envar("CONTAINER_RUNTIME_ENDPOINT").Default("unix:///var/run/docker.sock").StringVar(&cfg.ContainerRuntimeEndpoint)
	app.Flag("auto-mode-supernet", "CIDR supernet auto-mode VPCs fan out subnets from.").
		Envar("AUTO_MODE_SUPERNET").Default("10.128.0.0/9").StringVar(&cfg.AutoModeSupernet)
	app.Flag("host-network-supernet", "Reserved range for deterministic per-VPC host network CIDRs.").
		Envar("HOST_NETWORK_SUPERNET").Default("172.30.0.0/16").StringVar(&cfg.HostNetworkSupernet)
	app.Flag("default-project", "Project used when a request does not specify one.").
		Envar("DEFAULT_PROJECT").Default("local-project").StringVar(&cfg.DefaultProject)
	app.Flag("debug", "Run with debug logging.").Short('d').BoolVar(&cfg.Debug)

	if _, err := app.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
