// Package dotenv loads local development settings from a .env file.
package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Entry is one KEY=VALUE assignment.
type Entry struct {
	Key   string
	Value string
}

// LoadFile applies the assignments in path to the process environment.
// Variables that are already set win over the file. A missing file is not an
// error.
func LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open env file %q: %w", path, err)
	}
	defer file.Close()

	entries, err := Parse(file)
	if err != nil {
		return fmt.Errorf("parse env file %q: %w", path, err)
	}
	for _, e := range entries {
		if _, exists := os.LookupEnv(e.Key); exists {
			continue
		}
		if err := os.Setenv(e.Key, e.Value); err != nil {
			return fmt.Errorf("set env %q from %q: %w", e.Key, path, err)
		}
	}
	return nil
}

// Parse reads assignments in file order. Blank lines, # comments, and lines
// without '=' are skipped. Values may be double quoted (with \n, \t, \" and
// \\ escapes), single quoted (literal), or bare, where a " #" starts a
// trailing comment.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, raw, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		val, err := parseValue(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
		}
		entries = append(entries, Entry{Key: key, Value: val})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseValue(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	switch raw[0] {
	case '\'':
		end := strings.IndexByte(raw[1:], '\'')
		if end < 0 {
			return "", errors.New("unterminated single quote")
		}
		return raw[1 : end+1], nil
	case '"':
		var b strings.Builder
		for i := 1; i < len(raw); i++ {
			c := raw[i]
			switch {
			case c == '"':
				return b.String(), nil
			case c == '\\' && i+1 < len(raw):
				i++
				switch raw[i] {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				default:
					b.WriteByte(raw[i])
				}
			default:
				b.WriteByte(c)
			}
		}
		return "", errors.New("unterminated double quote")
	}
	if i := strings.Index(raw, " #"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw), nil
}
