package state

import (
	"fmt"
	"regexp"
	"strings"
)

var branchUnsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveWorkingBranch builds the default workingBranch for a new Project,
// ralph/<slug(name)>-<epoch>, per spec.md §4.1.
func DeriveWorkingBranch(name string, epochSeconds int64) string {
	return fmt.Sprintf("ralph/%s-%d", slug(name), epochSeconds)
}

func slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = branchUnsafeChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "project"
	}
	return s
}
