package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/docbuild/docworker/internal/data/pgxutil"
	"github.com/docbuild/docworker/internal/domain/model"
	apperrors "github.com/docbuild/docworker/internal/errors"
)

// ErrDocsetNotFound is returned when a repository has no publish configuration.
var ErrDocsetNotFound = errors.New("docset not found")

// DocsetRepo provides read access to per-repository publish configuration.
type DocsetRepo struct {
	DB        *sql.DB
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewDocsetRepo creates a new DocsetRepo instance.
func NewDocsetRepo(db *sql.DB, cfg RepoConfig) *DocsetRepo {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	return &DocsetRepo{DB: db, opTimeout: cfg.OpTimeout, logger: cfg.Logger}
}

// GetByRepo returns the docset for owner/name with its branch configuration.
func (r *DocsetRepo) GetByRepo(ctx context.Context, owner, name string) (*model.Docset, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	var docset *model.Docset
	err := pgxutil.WithPgxConn(opCtx, r.DB, func(conn *pgx.Conn) error {
		var d model.Docset
		row := conn.QueryRow(opCtx, `
		SELECT id, repo_owner, repo_name, project, prefix, bucket, url, search_index_excluded
		FROM docsets
		WHERE repo_owner = $1 AND repo_name = $2
	`, owner, name)
		if scanErr := row.Scan(
			&d.ID, &d.RepoOwner, &d.RepoName, &d.Project,
			&d.Prefix, &d.Bucket, &d.URL, &d.SearchIndexExcluded,
		); scanErr != nil {
			return scanErr
		}

		rows, qerr := conn.Query(opCtx, `
		SELECT name, url_slug, aliases, is_stable, active, published
		FROM docset_branches
		WHERE docset_id = $1
		ORDER BY name
	`, d.ID)
		if qerr != nil {
			return fmt.Errorf("query branches: %w", qerr)
		}
		defer rows.Close()

		for rows.Next() {
			var b model.Branch
			if scanErr := rows.Scan(&b.Name, &b.URLSlug, &b.Aliases, &b.IsStable, &b.Active, &b.Published); scanErr != nil {
				return fmt.Errorf("scan branch: %w", scanErr)
			}
			d.Branches = append(d.Branches, b)
		}
		if rowsErr := rows.Err(); rowsErr != nil {
			return rowsErr
		}
		docset = &d
		return nil
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("docset %s/%s: %w", owner, name, ErrDocsetNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "store operation timed out", "operation", "get docset", "timeout", r.opTimeout)
		}
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStore, "get docset timed out after %s", r.opTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("get docset: %w", err)
	}
	return docset, nil
}
