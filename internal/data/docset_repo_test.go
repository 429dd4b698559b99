package data_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbuild/docworker/internal/data"
	"github.com/docbuild/docworker/internal/domain/model"
	"github.com/docbuild/docworker/internal/testutil"
)

func TestGetByRepo(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := data.NewDocsetRepo(db, data.RepoConfig{})
		ctx := context.Background()

		testutil.InsertDocset(t, db, model.Docset{
			RepoOwner: "docbuild",
			RepoName:  "docs-sample",
			Project:   "docs-sample",
			Prefix:    "docs/sample",
			Bucket:    "docs-sample-bucket",
			URL:       "https://docs.example.com",
			Branches: []model.Branch{
				{Name: "main", URLSlug: "current", Aliases: []string{"latest", "stable"}, IsStable: true, Active: true, Published: true},
				{Name: "v1.0", Active: true},
			},
		})

		docset, err := repo.GetByRepo(ctx, "docbuild", "docs-sample")
		require.NoError(t, err)
		assert.Equal(t, "docs-sample", docset.Project)
		assert.Equal(t, "docs/sample", docset.Prefix)
		require.Len(t, docset.Branches, 2)

		main := docset.BranchNamed("main")
		require.NotNil(t, main)
		assert.Equal(t, "current", main.URLSlug)
		assert.Equal(t, []string{"latest", "stable"}, main.Aliases)
		assert.True(t, main.Published)

		v1 := docset.BranchNamed("v1.0")
		require.NotNil(t, v1)
		assert.False(t, v1.Published)
		assert.Empty(t, v1.Aliases)

		assert.Nil(t, docset.BranchNamed("gone"))
	})
}

func TestGetByRepoNotFound(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := data.NewDocsetRepo(db, data.RepoConfig{})

		_, err := repo.GetByRepo(context.Background(), "docbuild", "no-such-repo")
		require.Error(t, err)
		assert.ErrorIs(t, err, data.ErrDocsetNotFound)
	})
}
