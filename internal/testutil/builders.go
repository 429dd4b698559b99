package testutil

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/docbuild/docworker/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest
// objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Type:     model.JobTypeGithubPush,
			Priority: 50,
			Payload: model.Payload{
				RepoOwner: "docbuild",
				RepoName:  "docs-sample",
				Branch:    "main",
			},
		},
	}
}

// WithType sets the job type.
func (b *JobRequestBuilder) WithType(jobType model.JobType) *JobRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithPriority sets the job priority.
func (b *JobRequestBuilder) WithPriority(priority int) *JobRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithRepo sets the payload's repository coordinates.
func (b *JobRequestBuilder) WithRepo(owner, name string) *JobRequestBuilder {
	b.req.Payload.RepoOwner = owner
	b.req.Payload.RepoName = name
	return b
}

// WithBranch sets the payload branch.
func (b *JobRequestBuilder) WithBranch(branch string) *JobRequestBuilder {
	b.req.Payload.Branch = branch
	return b
}

// WithNewHead sets the target commit.
func (b *JobRequestBuilder) WithNewHead(head string) *JobRequestBuilder {
	b.req.Payload.NewHead = head
	return b
}

// WithPayload replaces the whole payload.
func (b *JobRequestBuilder) WithPayload(payload model.Payload) *JobRequestBuilder {
	b.req.Payload = payload
	return b
}

// WithScheduledAt sets the scheduled time.
func (b *JobRequestBuilder) WithScheduledAt(scheduledAt time.Time) *JobRequestBuilder {
	b.req.ScheduledAt = &scheduledAt
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	req := *b.req
	return &req
}

// InsertDocset inserts a docset with one branch and returns its id. Test
// fixtures only; the application treats docsets as read-only.
func InsertDocset(t TestingTB, db *sql.DB, docset model.Docset) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var id string
	err := db.QueryRowContext(ctx, `
		INSERT INTO docsets (repo_owner, repo_name, project, prefix, bucket, url, search_index_excluded)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		docset.RepoOwner, docset.RepoName, docset.Project,
		docset.Prefix, docset.Bucket, docset.URL, docset.SearchIndexExcluded,
	).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to insert docset: %v", err)
	}

	for _, b := range docset.Branches {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO docset_branches (docset_id, name, url_slug, aliases, is_stable, active, published)
			VALUES ($1, $2, $3, $4::text[], $5, $6, $7)`,
			id, b.Name, b.URLSlug, textArray(b.Aliases), b.IsStable, b.Active, b.Published,
		); err != nil {
			t.Fatalf("Failed to insert docset branch: %v", err)
		}
	}
	return id
}

// textArray renders a Postgres array literal. database/sql cannot bind Go
// slices directly; fixture values contain no quoting edge cases.
func textArray(values []string) string {
	return "{" + strings.Join(values, ",") + "}"
}
