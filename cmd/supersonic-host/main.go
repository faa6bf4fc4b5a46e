// Command supersonic-host runs a standalone host loop around a fake audio
// engine, for exercising the shared-memory transport and reply pipeline
// without a browser.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	supersonic "github.com/supersonic-audio/supersonic"
	"github.com/supersonic-audio/supersonic/internal/inbound"
	"github.com/supersonic-audio/supersonic/internal/logging"
)

// modeFlag restricts --mode to the two channel modes the adaptor supports.
type modeFlag string

func (m *modeFlag) String() string { return string(*m) }
func (m *modeFlag) Type() string   { return "mode" }
func (m *modeFlag) Set(v string) error {
	switch v {
	case "shared", "message":
		*m = modeFlag(v)
		return nil
	default:
		return fmt.Errorf("must be \"shared\" or \"message\", got %q", v)
	}
}

var _ pflag.Value = (*modeFlag)(nil)

type cmdArgs struct {
	mode        modeFlag
	verbose     bool
	inRing      string
	outRing     string
	initTimeout time.Duration
}

var args = cmdArgs{mode: "shared"}

var rootCmd = &cobra.Command{
	Use:   "supersonic-host",
	Short: "Run a standalone SuperSonic host over a fake audio engine",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(args)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.VarP(&args.mode, "mode", "m", "channel mode: shared or message")
	flags.BoolVarP(&args.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&args.inRing, "in-ring", "1M", "inbound ring size (e.g. 1M, 256K)")
	flags.StringVar(&args.outRing, "out-ring", "256K", "reply ring size")
	flags.DurationVar(&args.initTimeout, "init-timeout", 5*time.Second, "time to wait for the audio clock to start")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(args cmdArgs) error {
	logConfig := logging.DefaultConfig()
	if args.verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)

	var inRing, outRing datasize.ByteSize
	if err := inRing.UnmarshalText([]byte(args.inRing)); err != nil {
		return fmt.Errorf("invalid --in-ring: %w", err)
	}
	if err := outRing.UnmarshalText([]byte(args.outRing)); err != nil {
		return fmt.Errorf("invalid --out-ring: %w", err)
	}

	cfg := supersonic.DefaultConfig()
	cfg.InRingSize = inRing
	cfg.OutRingSize = outRing
	cfg.WorkerInitTimeout = args.initTimeout
	switch args.mode {
	case "shared":
		cfg.Mode = supersonic.ModeShared
	case "message":
		cfg.Mode = supersonic.ModeMessage
	default:
		return fmt.Errorf("unknown mode %q, want shared or message", args.mode)
	}

	engine := supersonic.NewFakeEngine()
	engine.SetContextTime(1.0)
	engine.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adaptor, err := supersonic.NewAdaptor(ctx, cfg, &supersonic.Options{
		Engine: engine,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to start adaptor", "error", err)
		return err
	}
	defer func() {
		logger.Info("stopping adaptor")
		if err := adaptor.Close(); err != nil {
			logger.Error("error stopping adaptor", "error", err)
		}
	}()

	adaptor.On("message", func(e inbound.Event) {
		logger.Debugf("reply delivered: %d bytes", len(e.Bytes))
	})
	adaptor.On("debug", func(e inbound.Event) {
		logger.Debugf("debug log: %s", e.Text)
	})

	info := adaptor.Info()
	fmt.Printf("adaptor running: mode=%s state=%s\n", info.Mode, info.State)
	fmt.Printf("node tree capacity: %d\n", info.NodeTreeCapacity)
	fmt.Printf("\nPress Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	return nil
}
