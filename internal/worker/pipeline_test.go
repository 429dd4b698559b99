package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/docbuild/docworker/config"
	"github.com/docbuild/docworker/internal/domain/model"
	apperrors "github.com/docbuild/docworker/internal/errors"
	"github.com/docbuild/docworker/internal/executor"
	"github.com/docbuild/docworker/internal/mocks"
	"github.com/docbuild/docworker/internal/mocks/jobstest"
)

func testBuildConfig(t *testing.T) config.BuildConfig {
	t.Helper()
	cfg := config.BuildConfig{WorkDir: t.TempDir()}
	cfg.Sanitize()
	return cfg
}

func seededInProgressJob(repo *jobstest.FakeJobRepo, jobType model.JobType) *model.Job {
	job := repo.Seed(model.Job{
		Type:   jobType,
		Status: model.JobStatusInQueue,
		Payload: model.Payload{
			RepoOwner: "docbuild",
			RepoName:  "docs-sample",
			Branch:    "main",
		},
	})
	claimed, err := repo.ClaimByID(context.Background(), job.ID)
	if err != nil {
		panic(err)
	}
	return claimed
}

func newTestPipeline(t *testing.T, repo *jobstest.FakeJobRepo, job *model.Job, strategy deployStrategy, stopped bool) *Pipeline {
	t.Helper()
	cfg := testBuildConfig(t)
	deps := PipelineDeps{
		Jobs:   repo,
		Exec:   executor.New(executor.Config{WorkDir: cfg.WorkDir}),
		Source: executor.NewSourceConnector(cfg.WorkDir, slog.Default()),
		Build:  cfg,
		Env:    "stg",
		Logger: slog.Default(),
	}
	var stop atomic.Bool
	stop.Store(stopped)
	return NewPipeline(deps, job, strategy, &stop)
}

func TestRunStoppedBeforeBuildResetsJob(t *testing.T) {
	repo := jobstest.NewFakeJobRepo()
	job := seededInProgressJob(repo, model.JobTypeGithubPush)

	p := newTestPipeline(t, repo, job, stagingStrategy{}, true)
	err := p.Run(context.Background())

	require.Error(t, err)
	assert.True(t, apperrors.IsStopped(err))

	stored := repo.Get(job.ID)
	require.NotNil(t, stored)
	assert.Equal(t, model.JobStatusInQueue, stored.Status)
	assert.Nil(t, stored.StartedAt)
	assert.Nil(t, stored.Error)
	require.Len(t, repo.ResetMessages, 1)
	assert.Contains(t, repo.ResetMessages[0], "build stage")
}

func TestUpdateMarksFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := jobstest.NewFakeJobRepo()
	job := seededInProgressJob(repo, model.JobTypeGithubPush)

	p := newTestPipeline(t, repo, job, stagingStrategy{}, false)
	publisher := mocks.NewMockStatusPublisher(ctrl)
	p.deps.Status = publisher

	var published model.StatusMessage
	publisher.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg model.StatusMessage) error {
			published = msg
			return nil
		})

	require.NoError(t, p.update(context.Background(), apperrors.Build("build failed with exit code 2")))

	stored := repo.Get(job.ID)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Contains(t, stored.Error.Reason, "exit code 2")
	require.Len(t, stored.ComMessage, 1)
	assert.Contains(t, stored.ComMessage[0], "failed")

	assert.Equal(t, job.ID, published.JobID)
	assert.Equal(t, model.JobStatusFailed, published.Status)
}

func TestUpdateMarksCompletedWithArtifacts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := jobstest.NewFakeJobRepo()
	job := seededInProgressJob(repo, model.JobTypeGithubPush)

	p := newTestPipeline(t, repo, job, stagingStrategy{}, false)
	publisher := mocks.NewMockStatusPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
	p.deps.Status = publisher

	p.workdir = t.TempDir()
	outDir := filepath.Join(p.workdir, p.deps.Build.OutputDir)
	require.NoError(t, os.MkdirAll(filepath.Join(outDir, "guides"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "index.html"), []byte("<html/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "guides", "intro.html"), []byte("<html/>"), 0o644))

	require.NoError(t, p.update(context.Background(), nil))

	stored := repo.Get(job.ID)
	assert.Equal(t, model.JobStatusCompleted, stored.Status)
	require.Len(t, stored.ComMessage, 1)
	assert.Contains(t, stored.ComMessage[0], "2 artifacts")
	assert.Contains(t, stored.Logs, "done")
}

func TestUpdateAppendsCapturedOutput(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := jobstest.NewFakeJobRepo()
	job := seededInProgressJob(repo, model.JobTypeGithubPush)

	p := newTestPipeline(t, repo, job, stagingStrategy{}, false)
	publisher := mocks.NewMockStatusPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
	p.deps.Status = publisher

	p.appendOutput(context.Background(), &executor.Result{Output: "fetching deps\nbuilding html\nmut: access denied\n"})

	require.NoError(t, p.update(context.Background(), apperrors.Publish("deploy stage \"deploy\" failed with exit code 1")))

	stored := repo.Get(job.ID)
	require.Len(t, stored.ComMessage, 2)
	assert.Contains(t, stored.ComMessage[0], "failed")
	assert.Contains(t, stored.ComMessage[1], "building html")
	assert.Contains(t, stored.ComMessage[1], "mut: access denied")
}

func TestOutputTail(t *testing.T) {
	assert.Equal(t, "b\nc", outputTail("a\nb\nc\n", 2))
	assert.Equal(t, "a\nb", outputTail("a\nb", 5))
	assert.Equal(t, "", outputTail("\n\n", 3))
}

func TestCleanupIdempotent(t *testing.T) {
	repo := jobstest.NewFakeJobRepo()
	job := seededInProgressJob(repo, model.JobTypeGithubPush)
	p := newTestPipeline(t, repo, job, stagingStrategy{}, false)

	require.NoError(t, p.cleanup())
	require.NoError(t, p.cleanup(), "cleanup of a missing workdir is not an error")
}

func TestChainManifest(t *testing.T) {
	docset := &model.Docset{Project: "docs-sample", Prefix: "docs/sample"}

	tests := []struct {
		name      string
		jobType   model.JobType
		strategy  deployStrategy
		docset    *model.Docset
		payload   model.Payload
		wantChain bool
	}{
		{
			name:     "production deploy chains",
			jobType:  model.JobTypeProductionDeploy,
			strategy: productionStrategy{},
			docset:   docset,
			payload: model.Payload{
				RepoOwner: "docbuild", RepoName: "docs-sample", Branch: "main",
			},
			wantChain: true,
		},
		{
			name:     "manifest job never chains",
			jobType:  model.JobTypeManifestGeneration,
			strategy: productionStrategy{},
			docset:   docset,
			payload: model.Payload{
				RepoOwner: "docbuild", RepoName: "docs-sample", Branch: "main",
			},
			wantChain: false,
		},
		{
			name:     "staging never chains",
			jobType:  model.JobTypeGithubPush,
			strategy: stagingStrategy{},
			docset:   docset,
			payload: model.Payload{
				RepoOwner: "docbuild", RepoName: "docs-sample", Branch: "main",
			},
			wantChain: false,
		},
		{
			name:     "search-index-excluded docset",
			jobType:  model.JobTypeProductionDeploy,
			strategy: productionStrategy{},
			docset:   &model.Docset{Project: "docs-sample", SearchIndexExcluded: true},
			payload: model.Payload{
				RepoOwner: "docbuild", RepoName: "docs-sample", Branch: "main",
			},
			wantChain: false,
		},
		{
			name:     "secondary alias",
			jobType:  model.JobTypeProductionDeploy,
			strategy: productionStrategy{},
			docset:   docset,
			payload: model.Payload{
				RepoOwner: "docbuild", RepoName: "docs-sample", Branch: "main",
				Aliased: true, PrimAlias: false,
			},
			wantChain: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := jobstest.NewFakeJobRepo()
			job := repo.Seed(model.Job{Type: tt.jobType, Status: model.JobStatusCompleted, Payload: tt.payload})

			p := newTestPipeline(t, repo, job, tt.strategy, false)
			p.docset = tt.docset

			require.NoError(t, p.chainManifest(context.Background()))

			stats, err := repo.Stats(context.Background())
			require.NoError(t, err)
			if tt.wantChain {
				assert.Equal(t, 1, stats.InQueue, "expected a follow-up manifest job")
			} else {
				assert.Equal(t, 0, stats.InQueue, "expected no follow-up job")
			}
		})
	}
}

func TestDetectNextGen(t *testing.T) {
	repo := jobstest.NewFakeJobRepo()
	job := seededInProgressJob(repo, model.JobTypeGithubPush)
	p := newTestPipeline(t, repo, job, stagingStrategy{}, false)

	dir := t.TempDir()

	nextGen, err := p.detectNextGen(dir)
	require.NoError(t, err)
	assert.False(t, nextGen, "missing worker script stays on the default pipeline")

	script := filepath.Join(dir, p.deps.Build.WorkerScript)
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nmake html\n"), 0o755))
	nextGen, err = p.detectNextGen(dir)
	require.NoError(t, err)
	assert.False(t, nextGen)

	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsnooty-build\n"), 0o755))
	nextGen, err = p.detectNextGen(dir)
	require.NoError(t, err)
	assert.True(t, nextGen)
}

func TestComputePrefixes(t *testing.T) {
	repo := jobstest.NewFakeJobRepo()
	job := seededInProgressJob(repo, model.JobTypeGithubPush)
	p := newTestPipeline(t, repo, job, stagingStrategy{}, false)
	p.docset = &model.Docset{Project: "docs-sample", Prefix: "docs/sample"}

	p.computePrefixes(&model.Branch{Name: "main", URLSlug: "current", IsStable: true})

	payload := p.job.Payload
	assert.Equal(t, "current", payload.URLSlug)
	assert.True(t, payload.Stable)
	assert.Equal(t, "docs/sample/current", payload.PathPrefix)
	assert.Equal(t, "docs/sample", payload.MutPrefix)
	assert.Equal(t, "docs-sample-current", payload.ManifestPrefix)
}

func TestDeployStages(t *testing.T) {
	stages := deployStages([]string{
		"BUCKET=b URL=u make publish",
		"BUCKET=b URL=u make deploy",
	})
	require.Len(t, stages, 2)
	assert.Equal(t, "publish", stages[0].Name)
	assert.Equal(t, "deploy", stages[1].Name)
	assert.Equal(t, []string{"BUCKET=b URL=u make publish"}, stages[0].Steps)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "c", lastLine("a\nb\nc\n"))
	assert.Equal(t, "b", lastLine("a\nb\n\n  \n"))
	assert.Equal(t, "", lastLine(""))
}
