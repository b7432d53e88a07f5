// Package main is the entry point for azdls-put, which uploads local files to
// ADLS Gen2 in a single write and lists files left behind by failed writes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bleepstore/azdls/internal/auth"
	"github.com/bleepstore/azdls/internal/azdls"
	"github.com/bleepstore/azdls/internal/blobcheck"
	"github.com/bleepstore/azdls/internal/buffer"
	"github.com/bleepstore/azdls/internal/config"
	dlserr "github.com/bleepstore/azdls/internal/errors"
	"github.com/bleepstore/azdls/internal/journal"
	"github.com/bleepstore/azdls/internal/logging"
)

const usage = "Usage: azdls-put <put|orphans> [flags]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "put":
		os.Exit(runPut(os.Args[2:], os.Stdin, os.Stdout, os.Stderr))
	case "orphans":
		os.Exit(runOrphans(os.Args[2:], os.Stdout, os.Stderr))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
}

func runPut(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.yaml", "Config file path")
	contentType := fs.String("content-type", "", "Content type stored with the file")
	cacheControl := fs.String("cache-control", "", "Cache-Control stored with the file")
	verify := fs.Bool("verify", false, "Read the file size back over the Blob endpoint after writing")
	timeout := fs.Duration("timeout", 10*time.Minute, "Overall deadline for the write")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(stderr, "Usage: azdls-put put [flags] <remote-path> <local-file|->...")
		return 2
	}
	remote, locals := fs.Arg(0), fs.Args()[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, stderr)

	signer, err := auth.NewSigner(cfg.Azdls)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	core, err := azdls.NewCore(cfg.Azdls, signer)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	writer, err := azdls.NewWriter(core, remote, azdls.OpWrite{
		ContentType:  *contentType,
		CacheControl: *cacheControl,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	body, err := readLocal(locals, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	size := body.Remaining()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	err = writer.WriteOnce(ctx, body)
	recordAttempt(ctx, cfg, remote, size, err, stderr)
	if err != nil {
		if phase, ok := dlserr.PhaseOf(err); ok {
			fmt.Fprintf(stderr, "Error: %s phase failed: %v\n", phase, err)
		} else if dlserr.Created(err) {
			fmt.Fprintf(stderr, "Error: %v (%s was created but not written)\n", err, remote)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	if *verify {
		api, err := blobcheck.NewClient(cfg.Azdls)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := blobcheck.NewChecker(api, core).Verify(ctx, remote, int64(size)); err != nil {
			fmt.Fprintf(stderr, "Error: verify: %v\n", err)
			return 1
		}
	}

	fmt.Fprintf(stdout, "wrote %d bytes to %s/%s\n", size, cfg.Azdls.Filesystem, core.AbsPath(remote))
	return 0
}

// readLocal reads every named file ("-" for stdin) in order and joins them
// into one buffer without copying them together.
func readLocal(names []string, stdin io.Reader) (buffer.WriteBuf, error) {
	parts := make([]buffer.WriteBuf, 0, len(names))
	for _, name := range names {
		part, err := readOne(name, stdin)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return buffer.Concat(parts...), nil
}

func readOne(name string, stdin io.Reader) (buffer.Buffers, error) {
	if name == "-" {
		return buffer.ReadBuffers(stdin, 0, 0)
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := buffer.ReadBuffers(f, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return b, nil
}

// recordAttempt journals the write when the journal is enabled. Journal
// errors are reported but do not change the exit status.
func recordAttempt(ctx context.Context, cfg *config.Config, path string, size int, err error, stderr io.Writer) {
	if !cfg.Journal.Enabled {
		return
	}
	store, jerr := journal.NewStore(cfg.Journal.Path)
	if jerr != nil {
		fmt.Fprintf(stderr, "Warning: journal: %v\n", jerr)
		return
	}
	defer store.Close()

	// The write deadline may already have passed.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	entry := journal.NewEntry(cfg.Azdls.Filesystem, path, int64(size), azdls.Outcome(err), err)
	if jerr := store.Record(rctx, entry); jerr != nil {
		fmt.Fprintf(stderr, "Warning: journal: %v\n", jerr)
	}
}

func runOrphans(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("orphans", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.yaml", "Config file path")
	dbPath := fs.String("db", "", "Journal database path (overrides config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := *dbPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		path = cfg.Journal.Path
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "Error: journal not found: %s\n", path)
		return 1
	}

	store, err := journal.NewStore(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	orphans, err := store.Orphans(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	for _, o := range orphans {
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", o.Filesystem, o.Path, o.Code, o.AttemptedAt.Format(time.RFC3339))
	}
	return 0
}
