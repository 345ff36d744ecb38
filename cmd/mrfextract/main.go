// Package main implements the mrfextract CLI: a front-end over internal/mrf's
// extraction pipeline, fanning out across source URLs via internal/worker.Pool
// and writing rows through one of internal/sink's Sink implementations.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyeh/mrf-extractor/internal/mrf"
	"github.com/gyeh/mrf-extractor/internal/npi"
	"github.com/gyeh/mrf-extractor/internal/progress"
	"github.com/gyeh/mrf-extractor/internal/sink"
	"github.com/gyeh/mrf-extractor/internal/toc"
	"github.com/gyeh/mrf-extractor/internal/worker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mrfextract",
		Short: "Extract negotiated rates from CMS Price Transparency MRF files",
	}

	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newTOCCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the error taxonomy to the CLI exit codes: 0 success,
// 2 InvalidSource, 3 InvalidMRF, 1 anything else.
func exitCodeFor(err error) int {
	var invalidSource *mrf.ErrInvalidSource
	var invalidMRF *mrf.ErrInvalidMRF
	switch {
	case errors.As(err, &invalidSource):
		return 2
	case errors.As(err, &invalidMRF):
		return 3
	default:
		return 1
	}
}

func newExtractCmd() *cobra.Command {
	var (
		urlsFile      string
		urlsList      []string
		npiList       string
		codeList      string
		outDir        string
		sinkKind      string
		s3Bucket      string
		s3Region      string
		workers       int
		noProgress    bool
		logProgress   bool
		noSimd        bool
		emitBundled   bool
		skipNPILookup bool
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract in-network rates from one or more MRF URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if noSimd {
				mrf.DisableSimd()
			}

			var npis []int64
			if npiList != "" {
				var err error
				npis, err = parseNPIs(npiList)
				if err != nil {
					return fmt.Errorf("parsing --npi: %w", err)
				}
			}
			npiSet := make(map[int64]struct{}, len(npis))
			for _, n := range npis {
				npiSet[n] = struct{}{}
			}

			codeSet, err := parseCodeSet(codeList)
			if err != nil {
				return fmt.Errorf("parsing --code: %w", err)
			}

			var urls []string
			switch {
			case len(urlsList) > 0:
				urls = urlsList
			case urlsFile != "":
				urls, err = readURLs(urlsFile)
				if err != nil {
					return fmt.Errorf("reading --urls-file: %w", err)
				}
			default:
				return fmt.Errorf("either --url or --urls-file is required")
			}
			if len(urls) == 0 {
				return fmt.Errorf("no URLs to process")
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				fmt.Fprintf(os.Stderr, "\nReceived %s, shutting down... (^C again to force quit)\n", sig)
				cancel()
				sig = <-sigCh
				fmt.Fprintf(os.Stderr, "\nReceived %s, force quit.\n", sig)
				os.Exit(1)
			}()

			if !skipNPILookup && len(npis) > 0 {
				printProviderInfo(ctx, npis)
			}

			if outDir == "" {
				outDir = "."
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("creating out-dir: %w", err)
			}

			var mgr progress.Manager
			switch {
			case logProgress:
				mgr = progress.NewLogManager()
			case noProgress:
				mgr = &progress.NoopManager{}
			default:
				mgr = progress.NewMPBManager()
			}

			newSink, err := sinkFactory(ctx, sinkKind, s3Bucket, s3Region)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Sources: %d  Sink: %s  Workers: %d\n\n", len(urls), sinkKind, workers)

			startTime := time.Now()
			pool := &worker.Pool{
				Workers:          workers,
				OutDir:           outDir,
				NPISet:           npiSet,
				CodeSet:          codeSet,
				UseStdGzip:       noSimd,
				EmitBundledCodes: emitBundled,
				NewSink:          newSink,
				Progress:         mgr,
			}
			results := pool.Run(ctx, urls)
			mgr.Wait()

			var failed int
			var totalRows int
			var firstErr error
			for _, r := range results {
				if r.Err != nil {
					failed++
					if firstErr == nil {
						firstErr = r.Err
					}
					fmt.Fprintf(os.Stderr, "Error processing %s: %v\n", worker.FileNameFromURL(r.Source), r.Err)
					continue
				}
				totalRows += r.RowsEmitted
			}

			duration := time.Since(startTime)
			fmt.Fprintf(os.Stderr, "\nDone: %d source(s), %d failed, %d in_network rows written in %.1fs\n",
				len(urls), failed, totalRows, duration.Seconds())

			if failed > 0 && failed == len(urls) {
				return fmt.Errorf("all %d source(s) failed: %w", failed, firstErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&urlsFile, "urls-file", "", "File containing MRF URLs (one per line)")
	cmd.Flags().StringSliceVar(&urlsList, "url", nil, "MRF URL(s) to extract (repeatable or comma-separated)")
	cmd.Flags().StringVar(&npiList, "npi", "", "Comma-separated NPI numbers to filter on (default: all)")
	cmd.Flags().StringVar(&codeList, "code", "", "Comma-separated type:code pairs to filter on, e.g. CPT:99213,HCPCS:J1100")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Output directory for sink files (default: current directory)")
	cmd.Flags().StringVar(&sinkKind, "sink", "csv", "Row sink: csv or parquet")
	cmd.Flags().StringVar(&s3Bucket, "s3-bucket", "", "If set, upload sink output to this S3 bucket after each source completes")
	cmd.Flags().StringVar(&s3Region, "s3-region", "us-east-1", "AWS region for --s3-bucket")
	cmd.Flags().IntVar(&workers, "workers", 3, "Number of concurrent source extractions")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bars")
	cmd.Flags().BoolVar(&logProgress, "log-progress", false, "Use line-based progress logging (for non-TTY environments)")
	cmd.Flags().BoolVar(&noSimd, "no-simd", false, "Disable simdjson and gzip acceleration, use stdlib equivalents")
	cmd.Flags().BoolVar(&emitBundled, "emit-bundled-codes", false, "Emit bundled_codes rows, one per entry of an item's bundled_codes array")
	cmd.Flags().BoolVar(&skipNPILookup, "no-npi-lookup", false, "Skip NPPES registry lookup of --npi before starting")

	return cmd
}

// sinkFactory builds the per-URL SinkFactory matching --sink and --s3-bucket.
func sinkFactory(ctx context.Context, kind, bucket, region string) (worker.SinkFactory, error) {
	var base func(outDir string) (sink.Sink, error)
	switch kind {
	case "csv":
		base = func(outDir string) (sink.Sink, error) { return sink.NewCSVSink(outDir) }
	case "parquet":
		base = func(outDir string) (sink.Sink, error) { return sink.NewParquetSink(outDir) }
	default:
		return nil, fmt.Errorf("unknown --sink %q (want csv or parquet)", kind)
	}
	if bucket == "" {
		return base, nil
	}
	return func(outDir string) (sink.Sink, error) {
		local, err := base(outDir)
		if err != nil {
			return nil, err
		}
		prefix := strings.TrimPrefix(outDir, "/")
		return sink.NewS3Sink(ctx, local, outDir, bucket, prefix, region)
	}, nil
}

func newTOCCmd() *cobra.Command {
	var planID string

	cmd := &cobra.Command{
		Use:   "toc <table-of-contents-url>",
		Short: "Resolve in-network MRF URLs for a plan ID from a payor table-of-contents file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if planID == "" {
				return fmt.Errorf("--plan-id is required")
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			fmt.Fprintf(os.Stderr, "Resolving plan %q against %s ...\n", planID, args[0])
			result, err := toc.FetchAndResolve(ctx, args[0], planID, nil)
			if err != nil {
				return fmt.Errorf("resolving TOC: %w", err)
			}

			fmt.Fprintf(os.Stderr, "%s: %d matching structure(s), %d URL(s)\n",
				result.ReportingEntityName, result.MatchedStructures, len(result.URLs))
			for _, u := range result.URLs {
				fmt.Println(u)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&planID, "plan-id", "", "Plan ID to match within the table-of-contents file")
	return cmd
}

func parseNPIs(s string) ([]int64, error) {
	var npis []int64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid NPI %q: %w", p, err)
		}
		npis = append(npis, n)
	}
	return npis, nil
}

func parseCodeSet(s string) (mrf.CodeSet, error) {
	set := mrf.CodeSet{}
	if s == "" {
		return set, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --code entry %q (want TYPE:CODE)", pair)
		}
		set[mrf.CodeKey{Type: strings.ToUpper(parts[0]), Code: parts[1]}] = struct{}{}
	}
	return set, nil
}

func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func printProviderInfo(ctx context.Context, npis []int64) {
	lookupCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	results, errs := npi.LookupAll(lookupCtx, npis)
	for i, info := range results {
		if errs[i] != nil {
			fmt.Fprintf(os.Stderr, "NPI %d: lookup failed (%v)\n", npis[i], errs[i])
			continue
		}
		if info == nil {
			fmt.Fprintf(os.Stderr, "NPI %d: not found in NPPES registry\n", npis[i])
			continue
		}
		fmt.Fprintf(os.Stderr, "NPI %d: %s", info.NPI, info.Name)
		if info.Credential != "" {
			fmt.Fprintf(os.Stderr, ", %s", info.Credential)
		}
		fmt.Fprintln(os.Stderr)
	}
	fmt.Fprintln(os.Stderr)
}
