// cache-inspect is a tiny, dependency-free viewer for the mdsaad file cache.
// It reads the cache directory directly, so it works on a cache left behind
// by any mdsaad run without starting the CLI or touching the network.
//
// Modes:
//   - list:  one line per entry with namespace, size, age and TTL state
//   - show:  print a single entry's payload (pretty-printed when JSON)
//   - prune: delete entries whose TTL has lapsed
//   - clear: delete one namespace, or everything with -all
//
// Usage examples:
//
//	cache-inspect -mode=list
//	cache-inspect -mode=show -ns=currency -hash=9f14b7c012de88aa
//	cache-inspect -mode=prune
//	cache-inspect -mode=clear -ns=weather
//
// Notes:
//   - The default directory follows the CLI: $MDSAAD_HOME/cache when set,
//     otherwise $HOME/.mdsaad/cache. Point -dir anywhere else as needed.
//   - Entry files mirror internal/cache.PersistedEntry: one JSON document
//     per entry at <dir>/<namespace>/<hash>.json.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

type modeType string

const (
	modeList  modeType = "list"
	modeShow  modeType = "show"
	modePrune modeType = "prune"
	modeClear modeType = "clear"
)

// persistedEntry mirrors the file backend's on-disk document.
type persistedEntry struct {
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"created_at"` // wall clock, unix ms
	TTLMillis int64           `json:"ttl_ms"`
}

func (e persistedEntry) expiresAt() time.Time {
	return time.UnixMilli(e.CreatedAt).Add(time.Duration(e.TTLMillis) * time.Millisecond)
}

// cacheEntry is one decoded file plus where it came from.
type cacheEntry struct {
	ns   string
	hash string
	path string
	e    persistedEntry
}

func main() {
	var (
		dir   = flag.String("dir", "", "Cache directory (default: $MDSAAD_HOME/cache or $HOME/.mdsaad/cache)")
		modeS = flag.String("mode", string(modeList), "Mode: list|show|prune|clear")
		ns    = flag.String("ns", "", "Namespace filter (required for show and clear)")
		hash  = flag.String("hash", "", "Entry hash (required for show)")
		all   = flag.Bool("all", false, "With -mode=clear: delete every namespace")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	switch m {
	case modeList, modePrune:
	case modeShow:
		if *ns == "" || *hash == "" {
			fmt.Fprintln(os.Stderr, "-mode=show requires -ns and -hash")
			os.Exit(2)
		}
	case modeClear:
		if *ns == "" && !*all {
			fmt.Fprintln(os.Stderr, "-mode=clear requires -ns, or -all to delete everything")
			os.Exit(2)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want list|show|prune|clear)\n", *modeS)
		os.Exit(2)
	}

	root := *dir
	if root == "" {
		root = defaultDir()
	}

	start := time.Now()
	entries, skipped, err := loadEntries(root, *ns)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read cache at %s: %v\n", root, err)
		os.Exit(1)
	}

	now := time.Now()
	switch m {
	case modeList:
		listEntries(entries, now)
		total, expired, bytesTotal := tally(entries, now)
		fmt.Printf("CacheInspect: mode=list dir=%s entries=%d expired=%d bytes=%d skipped=%d Duration=%s\n",
			root, total, expired, bytesTotal, skipped, time.Since(start).Truncate(time.Millisecond))

	case modeShow:
		for _, ce := range entries {
			if ce.hash != *hash {
				continue
			}
			showEntry(ce, now)
			return
		}
		fmt.Fprintf(os.Stderr, "no entry %s/%s under %s\n", *ns, *hash, root)
		os.Exit(1)

	case modePrune:
		removed, reclaimed := 0, 0
		for _, ce := range entries {
			if now.Before(ce.e.expiresAt()) {
				continue
			}
			if err := os.Remove(ce.path); err != nil {
				fmt.Fprintf(os.Stderr, "remove %s: %v\n", ce.path, err)
				continue
			}
			removed++
			reclaimed += len(ce.e.Payload)
		}
		fmt.Printf("CacheInspect: mode=prune dir=%s removed=%d reclaimed_bytes=%d Duration=%s\n",
			root, removed, reclaimed, time.Since(start).Truncate(time.Millisecond))

	case modeClear:
		target := root
		if !*all {
			target = filepath.Join(root, *ns)
		}
		if err := os.RemoveAll(target); err != nil {
			fmt.Fprintf(os.Stderr, "clear %s: %v\n", target, err)
			os.Exit(1)
		}
		fmt.Printf("CacheInspect: mode=clear removed=%s Duration=%s\n",
			target, time.Since(start).Truncate(time.Millisecond))
	}
}

// defaultDir resolves the cache directory the same way the CLI does,
// without importing it: MDSAAD_HOME wins, then the home dot-directory.
func defaultDir() string {
	if home := os.Getenv("MDSAAD_HOME"); home != "" {
		return filepath.Join(home, "cache")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve home directory: %v (pass -dir)\n", err)
		os.Exit(1)
	}
	return filepath.Join(home, ".mdsaad", "cache")
}

// loadEntries walks <root>/<ns>/<hash>.json, optionally filtered to one
// namespace. Files that fail to decode are counted, not deleted; pruning
// corrupt entries is the CLI's job on its next startup.
func loadEntries(root, nsFilter string) ([]cacheEntry, int, error) {
	dirs, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	var out []cacheEntry
	skipped := 0
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		ns := d.Name()
		if nsFilter != "" && ns != nsFilter {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, ns))
		if err != nil {
			continue
		}
		for _, fi := range files {
			name := fi.Name()
			if fi.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			path := filepath.Join(root, ns, name)
			raw, err := os.ReadFile(path)
			if err != nil {
				skipped++
				continue
			}
			var pe persistedEntry
			if err := json.Unmarshal(raw, &pe); err != nil || pe.TTLMillis <= 0 {
				skipped++
				continue
			}
			out = append(out, cacheEntry{ns: ns, hash: strings.TrimSuffix(name, ".json"), path: path, e: pe})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ns != out[j].ns {
			return out[i].ns < out[j].ns
		}
		return out[i].e.CreatedAt > out[j].e.CreatedAt
	})
	return out, skipped, nil
}

func listEntries(entries []cacheEntry, now time.Time) {
	if len(entries) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAMESPACE\tHASH\tBYTES\tAGE\tTTL\tSTATE")
	for _, ce := range entries {
		state := "fresh"
		if !now.Before(ce.e.expiresAt()) {
			state = "expired"
		}
		age := now.Sub(time.UnixMilli(ce.e.CreatedAt))
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			ce.ns, ce.hash, len(ce.e.Payload),
			age.Truncate(time.Second),
			(time.Duration(ce.e.TTLMillis) * time.Millisecond).Truncate(time.Second),
			state)
	}
	_ = w.Flush()
}

// tally computes the list-mode footer: entry count, how many have
// lapsed (same predicate as listEntries), and total payload bytes.
func tally(entries []cacheEntry, now time.Time) (total, expired, bytesTotal int) {
	total = len(entries)
	for _, ce := range entries {
		if !now.Before(ce.e.expiresAt()) {
			expired++
		}
		bytesTotal += len(ce.e.Payload)
	}
	return total, expired, bytesTotal
}

func showEntry(ce cacheEntry, now time.Time) {
	remaining := ce.e.expiresAt().Sub(now).Truncate(time.Second)
	state := fmt.Sprintf("fresh, expires in %s", remaining)
	if remaining <= 0 {
		state = fmt.Sprintf("expired %s ago", -remaining)
	}
	fmt.Printf("namespace: %s\nhash:      %s\ncreated:   %s\nstate:     %s\n\n",
		ce.ns, ce.hash, time.UnixMilli(ce.e.CreatedAt).Format(time.RFC3339), state)

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, ce.e.Payload, "", "  "); err == nil {
		fmt.Println(pretty.String())
		return
	}
	os.Stdout.Write(ce.e.Payload)
	fmt.Println()
}
