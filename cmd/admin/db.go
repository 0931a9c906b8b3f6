package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"structcraft.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	structureID := fs.String("structure", "", "structure id (validations)")
	session := fs.String("session", "", "session id (overlays)")
	_ = fs.Parse(args)

	q := "structures"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	switch q {
	case "structures":
		rows, err := idx.Structures()
		exitOn("query", err)
		for _, r := range rows {
			printJSON(r)
		}
	case "load_errors":
		rows, err := idx.LoadErrors()
		exitOn("query", err)
		for _, r := range rows {
			printJSON(r)
		}
	case "validations":
		if strings.TrimSpace(*structureID) == "" {
			fmt.Fprintln(os.Stderr, "missing -structure")
			os.Exit(2)
		}
		rows, err := idx.Validations(*structureID, *limit)
		exitOn("query", err)
		for _, r := range rows {
			printJSON(r)
		}
	case "overlays":
		if strings.TrimSpace(*session) == "" {
			fmt.Fprintln(os.Stderr, "missing -session")
			os.Exit(2)
		}
		rows, err := idx.LoadOverlays(*session)
		exitOn("query", err)
		for _, r := range rows {
			printJSON(r)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] structures|load_errors|validations -structure ID|overlays -session ID")
		os.Exit(2)
	}
}

func exitOn(what string, err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, what+":", err)
		os.Exit(1)
	}
}
