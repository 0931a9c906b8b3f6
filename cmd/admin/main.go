package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	persistlog "structcraft.ai/internal/persistence/log"
	"structcraft.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "reload":
			reloadCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd lists the audit files under the data directory.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	names, err := auditFiles(filepath.Join(*dataDir, "audit"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	structureID := fs.String("structure", "", "structure id filter (optional)")
	since := fs.String("since", "", "RFC3339 lower bound on entry time (optional)")
	onlyComplete := fs.Bool("complete", false, "only entries that validated complete")
	_ = fs.Parse(args)

	var sinceT time.Time
	if s := strings.TrimSpace(*since); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -since:", err)
			os.Exit(2)
		}
		sinceT = t
	}

	dir := filepath.Join(*dataDir, "audit")
	recs, err := readAudit(dir, func(e persistlog.ValidationEntry) bool {
		if *structureID != "" && e.Structure != *structureID {
			return false
		}
		if !sinceT.IsZero() && e.Time.Before(sinceT) {
			return false
		}
		return !*onlyComplete || e.Complete
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "audit:", err)
		os.Exit(1)
	}
	for _, r := range recs {
		printJSON(r)
	}
}

func auditFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "validations-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func readAudit(dir string, keep func(persistlog.ValidationEntry) bool) ([]persistlog.ValidationEntry, error) {
	names, err := auditFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make([]persistlog.ValidationEntry, 0, 1024)
	for _, name := range names {
		path := filepath.Join(dir, name)
		err := persistlog.ReadJSONL(path, func(line []byte) error {
			var e persistlog.ValidationEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", name, err)
			}
			if keep(e) {
				out = append(out, e)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// snapshotCmd prints a snapshot's header and block count.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	path := fs.String("path", "./data/world.snap.zst", "snapshot path")
	_ = fs.Parse(args)

	snap, err := snapshot.ReadSnapshot(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	printJSON(struct {
		Header  snapshot.Header `json:"header"`
		Palette []string        `json:"palette"`
		Blocks  int             `json:"blocks"`
	}{snap.Header, snap.Palette, len(snap.Blocks)})
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
