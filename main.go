// mkoc builds an OpenCore boot disk: it erases a removable drive, lays down
// a GPT with one FAT32 volume labelled OPENCORE and copies EFI/BOOT and
// EFI/OC onto it. The restore command puts a fresh payload onto an existing
// volume after backing up what is there.
//
// Build:
//
//	go build -o mkoc .
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mkoc/backend"
	"mkoc/config"
	"mkoc/disk"
	"mkoc/payload"
	"mkoc/precheck"
	"mkoc/safety"
	"mkoc/screen"
	"mkoc/workflow"
)

// Exit codes. An operator abort is not a failure.
const (
	exitOK     = 0
	exitFailed = 1
)

type options struct {
	configPath string
	logLevel   string
	payloadDir string
	imagePath  string
	ui         string
}

func (o *options) load() (*config.Config, error) {
	cfg, err := config.Read(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.payloadDir != "" {
		cfg.PayloadDir = o.payloadDir
	}
	if o.imagePath != "" {
		cfg.Backend = config.BackendDirect
		cfg.ImagePath = o.imagePath
	}
	if o.ui != "" {
		if o.ui != config.UIPlain && o.ui != config.UITUI {
			return nil, errors.Errorf("unknown ui %q", o.ui)
		}
		cfg.UI = o.ui
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core).Sugar(), nil
}

// newBackend picks the backend. With create set a missing image file is
// made first; listing never creates one.
func newBackend(cfg *config.Config, log *zap.SugaredLogger, create bool) (backend.Backend, error) {
	if cfg.Backend == config.BackendDirect {
		if !create {
			return backend.NewDirect(cfg.ImagePath, log), nil
		}
		if err := backend.EnsureImage(cfg.ImagePath, cfg.ImageBytes()); err != nil {
			return nil, errors.Wrapf(err, "preparing image %s", cfg.ImagePath)
		}
		return backend.NewDirect(cfg.ImagePath, log), nil
	}
	return backend.Native(&backend.ExecRunner{Logger: log}, log)
}

func newEnv(cfg *config.Config, log *zap.SugaredLogger, guard *workflow.Guard) (*workflow.Env, error) {
	b, err := newBackend(cfg, log, true)
	if err != nil {
		return nil, err
	}
	var rep screen.Reporter = &screen.Plain{Out: os.Stdout}
	if cfg.UI == config.UITUI {
		rep = &screen.TUI{Fallback: os.Stdout, OnInterrupt: guard.Interrupt}
	}
	guard.Reporter = rep
	return &workflow.Env{
		Backend:   b,
		Source:    payload.Source{Root: cfg.PayloadDir},
		Prompter:  safety.NewLinePrompter(os.Stdin, os.Stdout),
		Out:       os.Stdout,
		Reporter:  rep,
		Finalizer: &workflow.ConsoleFinalizer{Out: os.Stdout},
		Checker: &precheck.Checker{
			// an image file needs no elevation; a raw device does
			SkipPrivileges: cfg.Backend == config.BackendDirect && !backend.IsRawDevice(cfg.ImagePath),
		},
		Logger:         log,
		Guard:          guard,
		SettleTimeout:  cfg.SettleTimeout,
		SettleInterval: cfg.SettleInterval,
	}, nil
}

// signalGuard hands every interrupt signal to a guard. The full-screen
// display feeds Ctrl+C into the same guard.
func signalGuard() (*workflow.Guard, context.Context, func()) {
	guard, ctx := workflow.NewGuard(context.Background())
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigChan {
			guard.Interrupt()
		}
	}()
	return guard, ctx, func() { signal.Stop(sigChan) }
}

// exitCode maps a workflow error to the process exit status and prints it.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, safety.ErrAborted) {
		fmt.Fprintln(os.Stderr, "aborted, nothing was changed")
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	var fe *workflow.FailedError
	if errors.As(err, &fe) && fe.LastGood >= workflow.StateConfirmed {
		fmt.Fprintln(os.Stderr, "the target may be partially modified; nothing was rolled back")
	}
	return exitFailed
}

func runWorkflow(o *options, kind workflow.Kind) int {
	cfg, err := o.load()
	if err != nil {
		return exitCode(err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return exitCode(err)
	}
	defer log.Sync()

	guard, ctx, stop := signalGuard()
	defer stop()
	env, err := newEnv(cfg, log, guard)
	if err != nil {
		return exitCode(err)
	}

	var run *workflow.Run
	switch kind {
	case workflow.KindCreate:
		run, err = env.Create(ctx)
	case workflow.KindRestore:
		run, err = env.Restore(ctx)
	}
	if run != nil {
		log.Debugw("run finished", "run", run.ID, "path", run.Path())
		if err == nil && kind == workflow.KindCreate {
			fmt.Printf("\nDone: %s now holds the OpenCore volume.\n", run.Target.ID())
		}
	}
	return exitCode(err)
}

// newRootCmd builds the command tree. Workflow commands store their exit
// status in code.
func newRootCmd(code *int) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "mkoc",
		Short:         "OpenCore boot disk builder",
		Long:          "Erase a removable disk into a single FAT32 OPENCORE volume and install the OpenCore payload, or restore the payload on an existing volume",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			*code = runWorkflow(o, workflow.KindCreate)
		},
	}
	root.PersistentFlags().StringVar(&o.configPath, "config", "", "settings file (yaml)")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "debug|info|warn|error (logs go to stderr)")
	root.PersistentFlags().StringVar(&o.payloadDir, "payload", "", "directory containing EFI/BOOT and EFI/OC (default: next to the executable)")
	root.PersistentFlags().StringVar(&o.imagePath, "image", "", "work on this disk image file instead of real disks")
	root.PersistentFlags().StringVar(&o.ui, "ui", "", "progress display: plain|tui")

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Erase a removable disk and install OpenCore on it [DESTRUCTIVE, the default]",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			*code = runWorkflow(o, workflow.KindCreate)
		},
	}
	root.AddCommand(createCmd)

	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "Back up and replace EFI/BOOT and EFI/OC on an existing volume",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			*code = runWorkflow(o, workflow.KindRestore)
		},
	}
	root.AddCommand(restoreCmd)

	var listAll, listParts bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List candidate disks (read-only)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()
			b, err := newBackend(cfg, log, false)
			if err != nil {
				return err
			}
			filter := disk.OnlyRemovable
			if listAll {
				filter = disk.All
			}
			handles, err := disk.ListCandidates(context.Background(), b, filter)
			if err != nil {
				return err
			}
			fmt.Printf("OS: %s  Backend: %s\n", runtime.GOOS, b.Name())
			fmt.Println("This is a SAFE, read-only listing. Nothing is changed.")
			fmt.Println()
			workflow.PrintDisks(os.Stdout, handles, listParts)
			if !listAll {
				fmt.Println("\nNotes:\n  Internal and unknown-bus disks are hidden; use --all to show them.")
			}
			return nil
		},
	}
	listCmd.Flags().BoolVar(&listAll, "all", false, "include internal disks")
	listCmd.Flags().BoolVar(&listParts, "partitions", false, "show partitions under each disk")
	root.AddCommand(listCmd)
	return root
}

func main() {
	code := exitOK
	if err := newRootCmd(&code).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitFailed)
	}
	os.Exit(code)
}
