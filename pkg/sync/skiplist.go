package sync

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// loadSkiplist reads the set of relative paths exempt from deletion and
// download. A plain-text skiplist is one relative path per line, UTF-8,
// with blank lines and a trailing '\r' (for CRLF files) ignored. A name
// ending in ".yaml" or ".yml" is instead decoded as a YAML sequence of
// strings, reusing gopkg.in/yaml.v2 the same way pkg/encoding's YAML
// helpers do.
func loadSkiplist(path string) (map[string]struct{}, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("unable to read skiplist: %w", err)
	}

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		var entries []string
		if err := yaml.UnmarshalStrict(data, &entries); err != nil {
			return nil, fmt.Errorf("unable to decode YAML skiplist: %w", err)
		}
		set := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			set[e] = struct{}{}
		}
		return set, nil
	}

	set := make(map[string]struct{})
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		set[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to parse skiplist: %w", err)
	}

	return set, nil
}
