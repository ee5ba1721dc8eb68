package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	gopkgversion "github.com/zdz1715/go-pkg-version"

	"github.com/gozipkit/zipkit"
)

type options struct {
	concurrency int
	list        bool
	quiet       bool
	dir         string
	includes    []string
	excludes    []string
}

func (o *options) addFlags(flags *pflag.FlagSet) {
	flags.IntVar(&o.concurrency, "concurrency", runtime.GOMAXPROCS(0), "number of entries to extract concurrently")
	flags.BoolVarP(&o.quiet, "quiet", "q", false, "suppress per-file output")
	flags.StringVarP(&o.dir, "dir", "d", "", "target directory for extraction")
	flags.BoolVarP(&o.list, "list", "l", false, "list the archive's entries instead of extracting")
	flags.StringSliceVarP(&o.excludes, "exclude", "x", o.excludes, "exclude entries matching pattern, repeatable")
	flags.StringSliceVarP(&o.includes, "include", "i", o.includes, "extract only entries matching pattern, repeatable")
}

func newCommand(ctx context.Context) *cobra.Command {
	ver := gopkgversion.NewVersionInfo()
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "zkextract [flags] archive.zip",
		Short:         "extract or list the contents of a zip archive",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s %s", ver.Version, ver.Platform),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || args[0] == "" {
				return cmd.Help()
			}
			return run(ctx, opts, args[0])
		},
	}
	opts.addFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, opts *options, archivePath string) error {
	r, err := zipkit.OpenIndexed(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	if opts.list {
		return printList(os.Stdout, archivePath, r)
	}

	filter := zipkit.PathFilter{Includes: opts.includes, Excludes: opts.excludes}

	fmt.Printf("Archive: %s\n", archivePath)
	if r.Comment != "" {
		fmt.Printf("Comment: %s\n", r.Comment)
	}

	entries := r.Entries()
	var bar *progressbar.ProgressBar
	if !opts.quiet {
		bar = progressbar.Default(int64(len(entries)), "extracting")
	}

	worker := zipkit.NewFailFastWorker[zipkit.IndexedEntry](func(entry *zipkit.IndexedEntry) error {
		defer func() {
			if bar != nil {
				_ = bar.Add(1)
			}
		}()
		return extractEntry(opts, filter, entry)
	}, opts.concurrency, opts.concurrency)

	worker.Start(ctx)
	for _, entry := range entries {
		if err := worker.Submit(entry); err != nil {
			break
		}
	}
	return worker.Wait()
}

func extractEntry(opts *options, filter zipkit.PathFilter, entry *zipkit.IndexedEntry) error {
	if filter.SkipOnSlash(entry.Name) {
		return nil
	}
	target := filepath.Join(opts.dir, filepath.FromSlash(entry.Name))

	if entry.IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return err
		}
		if !opts.quiet {
			fmt.Printf("  creating: %s\n", target)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("%s: %w", entry.Name, err)
	}
	defer rc.Close()

	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return fmt.Errorf("%s: %w", entry.Name, err)
	}

	if !opts.quiet {
		verb := "extracting"
		if entry.Method == zipkit.Deflated {
			verb = "inflating"
		}
		fmt.Printf("  %s: %s\n", verb, target)
	}
	return nil
}

func printList(w io.Writer, archivePath string, r *zipkit.IndexedReader) error {
	fmt.Fprintf(w, "Archive: %s\n", archivePath)
	if r.Comment != "" {
		fmt.Fprintf(w, "Comment: %s\n", r.Comment)
	}

	header := []string{"Length", "Method", "Size", "Cmpr", "Date", "Time", "CRC-32", "Name"}
	var data [][]string
	var totalLength, totalSize uint64
	fileCount, dirCount := 0, 0

	for _, e := range r.Entries() {
		if e.IsDir() {
			dirCount++
		} else {
			fileCount++
		}

		var ratio float64
		if e.UncompressedSize > e.CompressedSize && e.UncompressedSize > 0 {
			ratio = math.Round(float64(e.UncompressedSize-e.CompressedSize) / float64(e.UncompressedSize) * 100)
		}
		totalLength += e.UncompressedSize
		totalSize += e.CompressedSize

		data = append(data, []string{
			strconv.FormatUint(e.UncompressedSize, 10),
			e.Method.String(),
			strconv.FormatUint(e.CompressedSize, 10),
			fmt.Sprintf("%.0f%%", ratio),
			e.ModTime.Local().Format("2006-01-02"),
			e.ModTime.Local().Format("15:04:05"),
			fmt.Sprintf("%08x", e.CRC32),
			e.Name,
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetColumnSeparator("")
	table.SetAlignment(tablewriter.ALIGN_DEFAULT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	table.AppendBulk(data)
	table.Append([]string{
		strings.Repeat("-", len(strconv.FormatUint(totalLength, 10))),
		"",
		strings.Repeat("-", len(strconv.FormatUint(totalSize, 10))),
		"",
		"",
		"",
		"",
		strings.Repeat("-", 10),
	})
	table.Append([]string{
		strconv.FormatUint(totalLength, 10),
		"",
		strconv.FormatUint(totalSize, 10),
		"",
		"",
		"",
		"",
		fmt.Sprintf("%d files, %d folders (%s)", fileCount, dirCount, humanize.Bytes(totalLength)),
	})
	table.Render()
	return nil
}

func main() {
	ctx := zipkit.SetupSignalContext()
	if err := newCommand(ctx).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "zkextract error: %s\n", err)
		os.Exit(1)
	}
}
