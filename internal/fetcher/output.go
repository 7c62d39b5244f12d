package fetcher

import (
	"regexp"
	"strings"
)

// toolOutput is what we learn from a FanFicFare run's stdout.
type toolOutput struct {
	Title         string
	NoNewChapters bool
	LocalAhead    bool
}

var titleLine = regexp.MustCompile(`(?m)^Title:\s*(.+?)\s*$`)

// parseOutput scans the tool's combined output for the metadata and
// failure markers the scheduler cares about.
func parseOutput(out string) toolOutput {
	var parsed toolOutput

	if m := titleLine.FindStringSubmatch(out); m != nil {
		parsed.Title = m[1]
	}

	// Marker strings as printed by the tool. "more chapters than source"
	// means the local epub is ahead of the site (site rollback or partial
	// deletion); "No new chapters" means there was nothing to update.
	if strings.Contains(out, "already contains") && strings.Contains(out, "chapters, more than source") {
		parsed.LocalAhead = true
	}
	if strings.Contains(out, "No new chapters for existing epub") ||
		strings.Contains(out, "No chapters found in source") {
		parsed.NoNewChapters = true
	}

	return parsed
}
