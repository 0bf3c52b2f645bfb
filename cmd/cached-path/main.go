// Command cached-path resolves a resource (a local path or an HTTP(S)
// URL) to a path on the local filesystem, downloading and caching it if
// needed (spec.md §6). Its signal handling and supervised-context shape
// is adapted from cmd/go-apt-mirror/main.go and mirror.control.Run in
// cybozu-go/aptutil; its flag surface is built with cobra/pflag,
// grounded on trywpm-cli's CLI layout, standing in for the richer
// structopt-based CLI of the original Rust implementation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cybozu-go/log"
	"github.com/cybozu-go/well"
	"github.com/krajole/cachedpath/cachedpath"
	"github.com/krajole/cachedpath/cachedpath/progress"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.ErrorExit(err)
	}
}

type cliOptions struct {
	dir            string
	subdir         string
	extract        bool
	timeout        time.Duration
	connectTimeout time.Duration
	maxRetries     uint32
	maxBackoff     time.Duration
	offline        bool
	logLevel       string
	noProgress     bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:   "cached-path RESOURCE",
		Short: "Get the cached path to a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCLI(cmd, args[0], opts)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.dir, "dir", "", "the cache directory (also read from RUST_CACHED_PATH_ROOT)")
	flags.StringVar(&opts.subdir, "subdir", "", "subdirectory, relative to the cache root, to use")
	flags.BoolVar(&opts.extract, "extract", false, "extract the resource as an archive")
	flags.DurationVar(&opts.timeout, "timeout", 0, "request timeout, e.g. 30s (default: none)")
	flags.DurationVar(&opts.connectTimeout, "connect-timeout", 0, "connect-phase timeout, e.g. 10s (default: none)")
	flags.Uint32Var(&opts.maxRetries, "max-retries", 3, "maximum number of times to retry an HTTP request")
	flags.DurationVar(&opts.maxBackoff, "max-backoff", 5*time.Second, "maximum backoff delay between retries")
	flags.BoolVar(&opts.offline, "offline", false, "only use cached versions; never make a network call")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level [critical/error/warning/info/debug]")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "disable the progress indicator")

	return cmd
}

func runCLI(cmd *cobra.Command, resource string, opts *cliOptions) error {
	if err := log.DefaultLogger().SetThresholdByName(opts.logLevel); err != nil {
		return err
	}

	builder := cachedpath.NewConfigBuilder().
		MaxRetries(opts.maxRetries).
		MaxBackoff(opts.maxBackoff).
		Offline(opts.offline).
		Timeout(opts.timeout).
		ConnectTimeout(opts.connectTimeout)

	if opts.dir != "" {
		builder = builder.Dir(opts.dir)
	}
	if opts.noProgress {
		builder = builder.ProgressBar(progress.None)
	} else if !isTerminal(os.Stdout) {
		builder = builder.ProgressBar(progress.Light)
	}

	cfg, err := builder.Build()
	if err != nil {
		return err
	}
	cache := cachedpath.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	var resolved string
	env := well.NewEnvironment(ctx)
	env.Go(func(ctx context.Context) error {
		var err error
		resolved, err = cache.CachedPath(ctx, resource, cachedpath.Options{
			Subdir:  opts.subdir,
			Extract: opts.extract,
		})
		return err
	})
	env.Stop()

	done := make(chan error, 1)
	go func() { done <- env.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-sig:
		cancel()
		<-done
		return fmt.Errorf("interrupted")
	}

	fmt.Fprintln(cmd.OutOrStdout(), resolved)
	return nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
