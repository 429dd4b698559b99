package model

// Docset is the per-repository publish configuration. It is maintained by an
// external publishing pipeline and read-only from this service's perspective.
type Docset struct {
	ID          string         `json:"id"           db:"id"`
	RepoOwner   string         `json:"repo_owner"   db:"repo_owner"`
	RepoName    string         `json:"repo_name"    db:"repo_name"`
	Project     string         `json:"project"      db:"project"`
	Prefix      string         `json:"prefix"       db:"prefix"`
	Bucket      string         `json:"bucket"       db:"bucket"`
	URL         string         `json:"url"          db:"url"`
	// SearchIndexExcluded marks properties whose production deploys must not
	// chain a manifestGeneration job. Policy lives in data, not code.
	SearchIndexExcluded bool     `json:"search_index_excluded" db:"search_index_excluded"`
	Branches            []Branch `json:"branches"`
}

// Branch describes one publish-configured branch of a docset.
type Branch struct {
	Name      string   `json:"name"       db:"name"`
	URLSlug   string   `json:"url_slug"   db:"url_slug"`
	Aliases   []string `json:"aliases"    db:"aliases"`
	IsStable  bool     `json:"is_stable"  db:"is_stable"`
	Active    bool     `json:"active"     db:"active"`
	Published bool     `json:"published"  db:"published"`
}

// BranchNamed returns the branch configuration for the given name, or nil when
// the branch is not publish-configured.
func (d *Docset) BranchNamed(name string) *Branch {
	for i := range d.Branches {
		if d.Branches[i].Name == name {
			return &d.Branches[i]
		}
	}
	return nil
}

// EnvParams carries the per-environment publish target resolved for one build.
// It is threaded explicitly through command construction instead of being set
// on the process environment, so multiple builds never race on globals.
type EnvParams struct {
	Bucket string
	URL    string
	// RegressionSuffix distinguishes regression targets from production ones.
	RegressionSuffix string
}
