package source

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ParseList reads a URL list file. One URL per line; empty lines and lines
// starting with # are ignored. Lines with more than one field are passed to
// warn, when it is non-nil, and skipped.
func ParseList(path string, warn func(lineNum int, line string)) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if warn == nil {
		warn = func(int, string) {}
	}
	urls, err := readList(f, warn)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return urls, nil
}

func readList(r io.Reader, warn func(lineNum int, line string)) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(strings.Fields(line)) != 1 {
			warn(lineNum, line)
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

// MergeLists concatenates lists in order and drops repeated URLs, keeping the
// first occurrence. Each URL therefore appears at most once.
func MergeLists(lists ...[]string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, list := range lists {
		for _, u := range list {
			u = strings.TrimSpace(u)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			merged = append(merged, u)
		}
	}
	return merged
}

// ScanDirectory walks dir and returns a file:// URL for every .json file, in
// lexical order.
func ScanDirectory(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat source directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source directory is not a directory: %s", dir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	var urls []string
	err = filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
		urls = append(urls, u.String())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking source directory: %w", err)
	}

	return urls, nil
}
