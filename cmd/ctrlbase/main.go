// ctrlbase is a standalone CTRL client: it authenticates to a CTRL server
// over TCP, keeps a persistent outbox of application messages, and reports
// protocol events as JSON Lines.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/elektronika-ba/ctrlbase/internal/config"
	"github.com/elektronika-ba/ctrlbase/internal/events"
	"github.com/elektronika-ba/ctrlbase/internal/logging"
	"github.com/elektronika-ba/ctrlbase/internal/session"
	"github.com/elektronika-ba/ctrlbase/internal/sysmsg"
	"github.com/elektronika-ba/ctrlbase/internal/tcplink"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ctrlbase",
		Short: "CTRL protocol client",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newConfigureCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ctrlbase %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newConfigureCmd() *cobra.Command {
	var baseID, key, address string
	var watchVars []string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Write the persistent identity, key, and server address",
		Long: `configure writes ~/.ctrlbase/config.json with the values needed to
authenticate: a 16-byte base id, a 16-byte pre-shared key, and the CTRL
server's address. Run it once before "run"; re-run it to change any field,
omitted flags keep their previously saved value.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading existing config: %w", err)
			}

			if baseID != "" {
				b, err := decodeHex16(baseID)
				if err != nil {
					return fmt.Errorf("--base-id: %w", err)
				}
				cfg.BaseID = b
			}
			if key != "" {
				k, err := decodeHex16(key)
				if err != nil {
					return fmt.Errorf("--key: %w", err)
				}
				cfg.Key = k
			}
			if address != "" {
				host, port, err := splitHostPort(address)
				if err != nil {
					return fmt.Errorf("--address: %w", err)
				}
				cfg.ServerIP = host
				cfg.ServerPort = port
			}
			for _, v := range watchVars {
				id, err := decodeHex4(v)
				if err != nil {
					return fmt.Errorf("--watch-var %q: %w", v, err)
				}
				cfg.WatchedVariables = append(cfg.WatchedVariables, id)
			}

			if err := cfg.Save(); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			path, _ := config.DefaultConfigPath()
			fmt.Printf("Saved configuration to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseID, "base-id", "", "16-byte base id, hex-encoded (32 hex chars)")
	cmd.Flags().StringVar(&key, "key", "", "16-byte pre-shared key, hex-encoded (32 hex chars)")
	cmd.Flags().StringVar(&address, "address", "", "CTRL server address, host:port")
	cmd.Flags().StringSliceVar(&watchVars, "watch-var", nil, "4-byte variable id to request once after run starts, hex-encoded (repeatable)")
	return cmd
}

func newRunCmd() *cobra.Command {
	var address, key, logLevel, eventsOutput string
	var statsInterval int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect and stay connected to a CTRL server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(runOpts{
				address:       address,
				key:           key,
				logLevel:      logLevel,
				eventsOutput:  eventsOutput,
				statsInterval: time.Duration(statsInterval) * time.Second,
			})
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "CTRL server address, host:port (overrides saved config)")
	cmd.Flags().StringVar(&key, "key", "", "16-byte pre-shared key, hex-encoded (overrides saved config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: error|warn|info|debug|trace")
	cmd.Flags().IntVar(&statsInterval, "stats-interval", 30, "Seconds between outbox stats log lines (0 to disable)")
	cmd.Flags().StringVar(&eventsOutput, "events-output", "", "Write JSON Line events to: stdout, stderr, or a file path")
	return cmd
}

type runOpts struct {
	address       string
	key           string
	logLevel      string
	eventsOutput  string
	statsInterval time.Duration
}

func runClient(opts runOpts) error {
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(level)

	emitter, err := createEmitter(opts.eventsOutput)
	if err != nil {
		return fmt.Errorf("creating event emitter: %w", err)
	}
	defer emitter.Close()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.key != "" {
		k, err := decodeHex16(opts.key)
		if err != nil {
			return fmt.Errorf("--key: %w", err)
		}
		cfg.Key = k
	}
	addr := cfg.ServerAddr()
	if opts.address != "" {
		host, port, err := splitHostPort(opts.address)
		if err != nil {
			return fmt.Errorf("--address: %w", err)
		}
		cfg.ServerIP = host
		cfg.ServerPort = port
		addr = opts.address
	}
	if cfg.BaseID == [16]byte{} || cfg.Key == [16]byte{} {
		return fmt.Errorf("no base id / key configured; run %q first", "ctrlbase configure")
	}

	logger.Info("ctrlbase %s starting, server %s", Version, addr)

	sess := session.New(session.Config{
		BaseID: cfg.BaseID,
		Key:    cfg.Key,
		Events: emitter,
		Logger: logger,
		Callbacks: session.Callbacks{
			OnAppMessage: func(payload []byte) {
				logger.Info("app message (%d bytes)", len(payload))
			},
			OnAuthOK: func(txServer uint32) {
				logger.Info("authenticated, resuming from tx_server=%d", txServer)
			},
			OnRTC: func(rtc sysmsg.RTC) {
				logger.Info("rtc: %04d-%02d-%02d %02d:%02d:%02d weekday=%d",
					rtc.Year, rtc.Month, rtc.Day, rtc.Hour, rtc.Minute, rtc.Second, rtc.Weekday)
			},
		},
	})
	link := tcplink.New(addr, sess, logger)
	sess.SetTransport(link)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()
	defer signal.Stop(sigCh)

	go requestWatchedVariablesOnAuth(sess, cfg.WatchedVariables)

	if opts.statsInterval > 0 {
		go logOutboxStats(ctx, sess, logger, opts.statsInterval)
	}

	go link.Run(ctx)
	sess.Run(ctx)
	return nil
}

// requestWatchedVariablesOnAuth asks for every configured variable once,
// two seconds after start. It does not wait for authentication and does
// not repeat the requests after a reconnect.
func requestWatchedVariablesOnAuth(sess *session.Session, vars [][4]byte) {
	if len(vars) == 0 {
		return
	}
	time.Sleep(2 * time.Second)
	for _, id := range vars {
		sess.RequestVariable(id)
	}
}

func logOutboxStats(ctx context.Context, sess *session.Session, logger *logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Stats("state=%s outbox_unacked=%d", sess.State(), sess.OutboxUnacked())
		}
	}
}

// createEmitter creates an Emitter based on the --events-output flag value.
// Returns a NopEmitter if the value is empty.
func createEmitter(output string) (events.Emitter, error) {
	switch output {
	case "":
		return events.NopEmitter{}, nil
	case "stdout":
		return events.NewJSONLineWriter(os.Stdout), nil
	case "stderr":
		return events.NewJSONLineWriter(os.Stderr), nil
	default:
		flags := os.O_WRONLY | os.O_APPEND
		if _, err := os.Stat(output); os.IsNotExist(err) {
			flags |= os.O_CREATE
		}
		f, err := os.OpenFile(output, flags, 0644)
		if err != nil {
			return nil, fmt.Errorf("open events output %q: %w", output, err)
		}
		return events.NewJSONLineWriter(f), nil
	}
}

func decodeHex16(s string) ([16]byte, error) {
	var out [16]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 16 {
		return out, fmt.Errorf("want 16 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func decodeHex4(s string) ([4]byte, error) {
	var out [4]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 4 {
		return out, fmt.Errorf("want 4 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func splitHostPort(addr string) ([4]byte, uint16, error) {
	var ip [4]byte
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return ip, 0, fmt.Errorf("expected host:port, got %q", addr)
	}
	host, portStr := addr[:idx], addr[idx+1:]
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return ip, 0, fmt.Errorf("expected IPv4 host, got %q", host)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return ip, 0, fmt.Errorf("invalid IPv4 octet %q", p)
		}
		ip[i] = byte(n)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return ip, 0, fmt.Errorf("invalid port %q", portStr)
	}
	return ip, uint16(port), nil
}
