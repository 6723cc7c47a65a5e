package offlinecache

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultShell is the document served to navigations when the network is unavailable.
const DefaultShell = "/index.html"

// Manifest is the fixed list of resources to pre-cache at install time.
// Entries are local paths (resolved against the origin) or absolute external URLs.
// Order is irrelevant, but entries must be unique.
type Manifest []string

// Validate checks that every entry is a non-empty, parseable and unique URL.
func (m Manifest) Validate() error {
	seen := make(map[string]int, len(m))
	for i, entry := range m {
		if strings.TrimSpace(entry) == "" {
			return fmt.Errorf("manifest[%d]: empty entry", i)
		}
		if _, err := url.Parse(entry); err != nil {
			return fmt.Errorf("manifest[%d]: %w", i, err)
		}
		if j, ok := seen[entry]; ok {
			return fmt.Errorf("manifest[%d]: duplicate of manifest[%d] (%s)", i, j, entry)
		}
		seen[entry] = i
	}
	return nil
}
