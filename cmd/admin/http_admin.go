package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	adminCmd("state", http.MethodGet, "/admin/v1/state", 5*time.Second, args)
}

func reloadCmd(args []string) {
	adminCmd("reload", http.MethodPost, "/admin/v1/reload", 30*time.Second, args)
}

func adminCmd(name, method, path string, timeout time.Duration, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	if err := adminCall(&http.Client{Timeout: timeout}, method, *baseURL, path, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, name+":", err)
		os.Exit(1)
	}
}

// adminCall sends an empty-bodied request to an admin route and writes the
// response body to out, indented when it is JSON. Non-2xx is an error.
func adminCall(cl *http.Client, method, baseURL, path string, out io.Writer) error {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return err
	}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, b, "", "  ") == nil {
		b = pretty.Bytes()
	}
	fmt.Fprintln(out, strings.TrimRight(string(b), "\n"))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return nil
}
