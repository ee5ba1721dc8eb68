package main

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	gopkgversion "github.com/zdz1715/go-pkg-version"

	"github.com/gozipkit/zipkit"
)

type options struct {
	excludes []string
	includes []string
	quiet    bool
	comment  string
	stored   bool
}

func (o *options) addFlags(flags *pflag.FlagSet) {
	flags.BoolVarP(&o.quiet, "quiet", "q", false, "suppress per-file output")
	flags.StringSliceVarP(&o.excludes, "exclude", "x", o.excludes, "exclude files matching pattern, repeatable")
	flags.StringSliceVarP(&o.includes, "include", "i", o.includes, "include only files matching pattern, repeatable")
	flags.StringVarP(&o.comment, "comment", "z", "", "set the archive-level comment")
	flags.BoolVar(&o.stored, "stored", false, "store files verbatim instead of deflating them")
}

func newCommand() *cobra.Command {
	ver := gopkgversion.NewVersionInfo()
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "zkcreate [flags] archive.zip file [file...]",
		Short:         "build a zip archive from files and directories",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s %s", ver.Version, ver.Platform),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return cmd.Help()
			}
			return run(opts, args[0], args[1:])
		},
	}
	opts.addFlags(cmd.Flags())
	return cmd
}

func run(opts *options, archivePath string, paths []string) error {
	if !strings.HasSuffix(archivePath, ".zip") {
		archivePath += ".zip"
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := zipkit.NewWriter(out)
	if opts.comment != "" {
		if err := w.SetComment(opts.comment); err != nil {
			return err
		}
	}

	filter := zipkit.PathFilter{Includes: opts.includes, Excludes: opts.excludes}

	for _, root := range paths {
		if err := addPath(w, filter, root, opts); err != nil {
			_ = w.Close()
			return fmt.Errorf("%s: %w", root, err)
		}
	}

	return w.Close()
}

func addPath(w *zipkit.Writer, filter zipkit.PathFilter, root string, opts *options) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if filter.Skip(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := filepath.ToSlash(path)
		if info.IsDir() {
			if err := w.CreateDir(name, info.ModTime()); err != nil {
				return err
			}
			report(opts, name, "stored", 0)
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		method := "deflated"
		var wc io.WriteCloser
		if opts.stored {
			method = "stored"
			sum, size, err := crc32File(f)
			if err != nil {
				return err
			}
			wc, err = w.CreateStored(name, info.ModTime(), sum, size)
			if err != nil {
				return err
			}
		} else {
			wc, err = w.Create(name, info.ModTime())
			if err != nil {
				return err
			}
		}

		n, err := io.Copy(wc, f)
		if err != nil {
			_ = wc.Close()
			return err
		}
		if err := wc.Close(); err != nil {
			return err
		}
		report(opts, name, method, n)
		return nil
	})
}

// crc32File computes f's CRC-32 and size, then rewinds f so its content can
// be copied into the archive afterward.
func crc32File(f *os.File) (uint32, uint64, error) {
	h := crc32.NewIEEE()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}
	return h.Sum32(), uint64(n), nil
}

func report(opts *options, name, method string, size int64) {
	if opts.quiet {
		return
	}
	fmt.Printf("  adding: %s (%s, %s)\n", name, method, humanize.Bytes(uint64(size)))
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "zkcreate error: %s\n", err)
		os.Exit(1)
	}
}
