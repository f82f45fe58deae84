package state

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/re-cinq/ralph/internal/config"
)

// rawProject mirrors the on-disk Project schema plus the legacy inline
// repoUrl field spec.md §4.1 says older catalogs may still carry.
type rawProject struct {
	Project
	RepoURL string `json:"repoUrl,omitempty"`
}

// rawSnapshot is the literal state.json schema (spec.md §6), which may
// contain legacy projects pending migration.
type rawSnapshot struct {
	Repositories []Repository    `json:"repositories"`
	Projects     []rawProject    `json:"projects"`
	Settings     config.Settings `json:"settings"`
}

// githubURLPattern extracts owner/name from a github.com remote URL,
// matching spec.md §4.1's migration rule: github.com[:/]<owner>/<name>(.git)?
var githubURLPattern = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/.]+)(\.git)?/?$`)

// migrate converts a rawSnapshot into a Snapshot, synthesizing a Repository
// for any legacy project that carries an inline repoUrl instead of a
// repositoryId, and reports whether anything changed (so the caller knows
// whether to persist the migrated file).
func migrate(raw rawSnapshot) (Snapshot, bool) {
	changed := false
	repos := append([]Repository(nil), raw.Repositories...)
	byURL := make(map[string]string, len(repos)) // remoteURL -> id
	for _, r := range repos {
		byURL[r.RemoteURL] = r.ID
	}

	projects := make([]Project, 0, len(raw.Projects))
	for _, rp := range raw.Projects {
		p := rp.Project
		if p.RepositoryID == "" && rp.RepoURL != "" {
			id, ok := byURL[rp.RepoURL]
			if !ok {
				repo := synthesizeRepository(rp.RepoURL)
				repos = append(repos, repo)
				byURL[rp.RepoURL] = repo.ID
				id = repo.ID
			}
			p.RepositoryID = id
			changed = true
		}
		projects = append(projects, p)
	}

	return Snapshot{Repositories: repos, Projects: projects, Settings: raw.Settings}, changed
}

// synthesizeRepository builds a Repository record from a legacy repoUrl,
// parsing owner/name the way spec.md §4.1 specifies.
func synthesizeRepository(repoURL string) Repository {
	owner, name := "", ""
	if m := githubURLPattern.FindStringSubmatch(repoURL); m != nil {
		owner, name = m[1], m[2]
	} else {
		name = fallbackName(repoURL)
	}

	now := time.Now().UTC()
	return Repository{
		ID:             uuid.NewString(),
		Name:           name,
		OwnerSlashName: ownerSlashName(owner, name),
		RemoteURL:      repoURL,
		DefaultBranch:  "main",
		Private:        false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func ownerSlashName(owner, name string) string {
	if owner == "" {
		return name
	}
	return fmt.Sprintf("%s/%s", owner, name)
}

func fallbackName(repoURL string) string {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return repoURL
	}
	return parts[len(parts)-1]
}
