package zipkit

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
)

// PathFilter decides whether a filesystem path should be skipped during a
// directory walk, based on include/exclude glob patterns.
type PathFilter struct {
	Includes []string
	Excludes []string
}

// SkipOnSlash matches slash-separated archive-relative paths (as opposed to
// OS-specific filesystem paths); used while deciding which archive entries
// to extract.
func (p PathFilter) SkipOnSlash(path string) bool {
	if len(p.Includes) > 0 {
		in := false
		for _, pattern := range p.Includes {
			ok, _ := doublestar.Match(pattern, path)
			if ok {
				in = true
				break
			}
		}
		if !in {
			return true
		}
	}
	for _, pattern := range p.Excludes {
		ok, _ := doublestar.Match(pattern, path)
		if ok {
			return true
		}
	}

	return false
}

// Skip matches OS-specific filesystem paths; used while walking a
// directory tree to decide which files to add to an archive.
func (p PathFilter) Skip(path string) bool {
	if len(p.Includes) > 0 {
		in := false
		for _, pattern := range p.Includes {
			ok, _ := doublestar.PathMatch(pattern, path)
			if ok {
				in = true
				break
			}
		}
		if !in {
			return true
		}
	}
	for _, pattern := range p.Excludes {
		ok, _ := doublestar.PathMatch(pattern, path)
		if ok {
			return true
		}
	}

	return false
}

// SetupSignalContext returns a context cancelled on SIGINT/SIGQUIT/SIGTERM,
// with a second signal forcing an immediate exit.
func SetupSignalContext() context.Context {
	shutdownHandler := make(chan os.Signal, 2)
	ctx, cancel := context.WithCancel(context.Background())
	signal.Notify(shutdownHandler, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		s := <-shutdownHandler
		_, _ = fmt.Fprintf(os.Stderr, "\nReceived signal: %s, stopping...\n", s.String())
		cancel()
		<-shutdownHandler
		os.Exit(1) // second signal. Exit directly.
	}()
	return ctx
}
