// Command studip-fuse mounts a Stud.IP account's files as a read-only FUSE
// file system at a user-chosen path, shaped by a configurable path template.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/N-Coder/studip-fuse/internal/config"
	"github.com/N-Coder/studip-fuse/internal/contentcache"
	"github.com/N-Coder/studip-fuse/internal/crawler"
	"github.com/N-Coder/studip-fuse/internal/fusefs"
	"github.com/N-Coder/studip-fuse/internal/restapi"
	"github.com/N-Coder/studip-fuse/internal/status"
	"github.com/N-Coder/studip-fuse/internal/template"
	"github.com/N-Coder/studip-fuse/internal/vnode"
)

var opts config.Options

func main() {
	log := logrus.New()

	root := &cobra.Command{
		Use:   "studip-fuse MOUNTPOINT",
		Short: "Mount a Stud.IP account's files as a read-only FUSE file system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Mountpoint = args[0]
			return run(cmd.Context(), log.WithField("cmd", "studip-fuse"))
		},
	}
	registerFlags(root.Flags())

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("studip-fuse exited with an error")
	}
}

func registerFlags(flags *pflag.FlagSet) {
	flags.StringVar(&opts.APIBaseURL, "api-url", "", "Stud.IP REST API base URL (required)")
	flags.StringVar(&opts.CacheDir, "cache-dir", "", "content cache directory (required)")
	flags.StringVar(&opts.StatusDir, "status-dir", "", "directory to write studip-status.txt into (defaults to cache-dir)")
	flags.StringVar(&opts.Template, "template", config.DefaultTemplate, "virtual path template")
	flags.StringSliceVar(&opts.GenericRoots, "generic-root", []string{"Hauptordner", "Allgemeiner Dateiordner"}, "course top-folder names short-path strips")
	flags.IntVar(&opts.Concurrency, "concurrency", crawler.DefaultConcurrency, "max concurrent folder requests per folder-tree walk")
}

// run wires every component per spec.md section 4 and blocks serving the
// mount until the process receives an interrupt.
func run(ctx context.Context, log *logrus.Entry) error {
	if opts.APIBaseURL == "" {
		return errors.New("--api-url is required")
	}
	if opts.CacheDir == "" {
		return errors.New("--cache-dir is required")
	}
	statusDir := opts.StatusDir
	if statusDir == "" {
		statusDir = opts.CacheDir
	}

	reporter, err := status.Open(filepath.Join(statusDir, "studip-status.txt"))
	if err != nil {
		return errors.Wrap(err, "opening status reporter")
	}
	defer reporter.Close()
	_ = reporter.Event("session open")

	segments, err := template.Compile(opts.Template)
	if err != nil {
		return errors.Wrap(err, "compiling path template")
	}

	timeouts := config.DefaultTimeouts()
	client := restapi.NewHTTPClient(opts.APIBaseURL, http.DefaultTransport, timeouts, log)
	if err := client.CheckReachable(ctx); err != nil {
		return errors.Wrap(err, "Stud.IP API is not reachable")
	}

	cr := crawler.New(client, opts.Concurrency, log)
	tree := vnode.New(cr, segments, opts.GenericRootSet())
	_ = reporter.Event("resolver root ready")

	cache, err := contentcache.Open(opts.CacheDir, client, log)
	if err != nil {
		return errors.Wrap(err, "opening content cache")
	}

	dispatcher := fusefs.New(tree, cache, client, log)

	conn, err := fuse.Mount(
		opts.Mountpoint,
		fuse.FSName("studip-fuse"),
		fuse.Subtype("studip-fuse"),
		fuse.ReadOnly(),
	)
	if err != nil {
		return errors.Wrap(err, "mounting FUSE file system")
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received interrupt, unmounting")
		_ = fuse.Unmount(opts.Mountpoint)
	}()

	_ = reporter.Event("mount ready")
	log.WithField("mountpoint", opts.Mountpoint).Info("serving")

	serveErr := fs.Serve(conn, dispatcher)
	_ = reporter.Event("shutdown")
	if serveErr != nil {
		return errors.Wrap(serveErr, "serving FUSE requests")
	}

	<-conn.Ready
	if err := conn.MountError; err != nil {
		return fmt.Errorf("mount error: %w", err)
	}
	return nil
}
