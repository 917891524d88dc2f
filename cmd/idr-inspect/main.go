// Command idr-inspect fetches diagnostic data from a running process that
// embeds an idr.Idr and serves its SnapshotHandler, and prints it either as
// pretty text or JSON. It supports periodic watch mode and pprof snapshot
// download, mirroring arena-cache-inspect almost line-for-line — relabeled
// for IDR's stat fields instead of cache hit/miss/arena_bytes.
//
// The target Go service is expected to expose:
//   - GET /debug/idr/snapshot          – JSON payload from idr.Stats().
//   - GET /debug/pprof/{heap,goroutine} – standard pprof handlers (net/http/pprof).
//
// © 2025 idr authors. MIT License.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var version = "dev"

type options struct {
	target           string
	json             bool
	watch            bool
	interval         time.Duration
	heapProfile      string
	goroutineProfile string
	version          bool
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.target, "target", "http://127.0.0.1:6060", "base URL of the target process")
	flag.BoolVar(&opts.json, "json", false, "print the raw JSON snapshot instead of a formatted summary")
	flag.BoolVar(&opts.watch, "watch", false, "poll the snapshot endpoint repeatedly")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "poll interval when -watch is set")
	flag.StringVar(&opts.heapProfile, "heap-profile", "", "download /debug/pprof/heap to this path and exit")
	flag.StringVar(&opts.goroutineProfile, "goroutine-profile", "", "download /debug/pprof/goroutine to this path and exit")
	flag.BoolVar(&opts.version, "version", false, "print the inspector's own version and exit")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	// pprof dump takes precedence over watch/json.
	if opts.heapProfile != "" {
		if err := downloadProfile(ctx, opts.target, "heap", opts.heapProfile); err != nil {
			fatal(err)
		}
		return
	}
	if opts.goroutineProfile != "" {
		if err := downloadProfile(ctx, opts.target, "goroutine", opts.goroutineProfile); err != nil {
			fatal(err)
		}
		return
	}

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	// one-shot
	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

func dumpOnce(ctx context.Context, opts *options) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/idr/snapshot"
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(data map[string]any) error {
	fmt.Printf("Len:         %v\n", data["len"])
	fmt.Printf("Capacity:    %v\n", data["capacity"])
	fmt.Printf("Shard count: %v\n", data["shard_count"])
	shards, _ := data["shards"].([]any)
	for _, s := range shards {
		shard, ok := s.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("  shard %v: %v / %v occupied\n", shard["index"], shard["occupied"], shard["capacity"])
	}
	return nil
}

func downloadProfile(ctx context.Context, base, name, path string) error {
	url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		return err
	}
	fmt.Printf("%s profile saved to %s\n", name, path)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "idr-inspect:", err)
	os.Exit(1)
}
