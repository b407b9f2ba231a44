package main

// main.go implements the lfc inspector CLI: it fetches diagnostic data from
// a target process exposing the cache debug endpoints and prints it either
// as pretty text or JSON.  It also supports periodic watch mode and dumping
// the full resident-page table.
//
// The target service is expected to expose:
//   • GET /debug/lfc/snapshot – JSON cache counters (lfc.Stats).
//   • GET /debug/lfc/pages    – JSON array of resident pages (lfc.PageInfo).
//
// © 2025 pagecache authors. MIT License.

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var version = "dev"

type options struct {
	target   string
	json     bool
	pages    bool
	watch    bool
	interval time.Duration
	version  bool
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.target, "target", "http://localhost:6060", "base URL of the target process")
	flag.BoolVar(&opts.json, "json", false, "emit raw JSON instead of pretty text")
	flag.BoolVar(&opts.pages, "pages", false, "dump the resident-page table instead of counters")
	flag.BoolVar(&opts.watch, "watch", false, "refresh periodically")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "watch refresh interval")
	flag.BoolVar(&opts.version, "version", false, "print version and exit")
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

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

/* -------------------------------------------------------------------------
   Helpers
   ------------------------------------------------------------------------- */

func dumpOnce(ctx context.Context, opts *options) error {
	if opts.pages {
		return dumpPages(ctx, opts)
	}
	snap, err := fetchJSON(ctx, opts.target+"/debug/lfc/snapshot")
	if err != nil {
		return err
	}
	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	fmt.Printf("Hits:       %v\n", snap["hits_total"])
	fmt.Printf("Misses:     %v\n", snap["misses_total"])
	fmt.Printf("Evictions:  %v\n", snap["evictions_total"])
	fmt.Printf("Used MB:    %v\n", snap["used_chunks"])
	fmt.Printf("Size MB:    %v\n", snap["size_chunks"])
	fmt.Printf("Limit MB:   %v\n", snap["size_limit_mb"])
	return nil
}

func dumpPages(ctx context.Context, opts *options) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, opts.target+"/debug/lfc/pages", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}
	var pages []map[string]any
	if err := json.NewDecoder(res.Body).Decode(&pages); err != nil {
		return err
	}
	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pages)
	}
	fmt.Printf("%10s %12s %12s %12s %5s %12s %6s\n",
		"pageoffs", "relfilenode", "tablespace", "database", "fork", "block", "pins")
	for _, p := range pages {
		fmt.Printf("%10v %12v %12v %12v %5v %12v %6v\n",
			p["page_offset"], p["relfilenode"], p["reltablespace"],
			p["reldatabase"], p["forknum"], p["blocknum"], p["access_count"])
	}
	return nil
}

func fetchJSON(ctx context.Context, url string) (map[string]any, error) {
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

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "lfc-inspect:", err)
	os.Exit(1)
}
