package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbuild/docworker/internal/domain/model"
	apperrors "github.com/docbuild/docworker/internal/errors"
)

func testDocset() *model.Docset {
	return &model.Docset{
		Project: "docs-sample",
		Bucket:  "docs-sample-bucket",
		URL:     "https://docs.example.com",
		Prefix:  "docs/sample",
	}
}

func TestStagingResolveEnvSuffixesBucket(t *testing.T) {
	s := stagingStrategy{}

	env := s.ResolveEnv(testDocset(), "stg")
	assert.Equal(t, "docs-sample-bucket-stg", env.Bucket)
	assert.Equal(t, "https://docs.example.com", env.URL)

	env = s.ResolveEnv(testDocset(), "prd")
	assert.Equal(t, "docs-sample-bucket", env.Bucket, "production buckets are not suffixed")

	env = s.ResolveEnv(testDocset(), "dotcomprd")
	assert.Equal(t, "docs-sample-bucket", env.Bucket)
}

func TestStagingDeploySteps(t *testing.T) {
	s := stagingStrategy{}
	env := model.EnvParams{Bucket: "b", URL: "u"}

	job := &model.Job{Payload: model.Payload{}}
	assert.Equal(t, []string{"BUCKET=b URL=u make stage"}, s.DeploySteps(job, env))

	job = &model.Job{Payload: model.Payload{IsNextGen: true, MutPrefix: "docs/sample"}}
	assert.Equal(t,
		[]string{"BUCKET=b URL=u MUT_PREFIX=docs/sample make next-gen-stage"},
		s.DeploySteps(job, env))
}

func TestProductionDeploySteps(t *testing.T) {
	s := productionStrategy{}
	env := model.EnvParams{Bucket: "b", URL: "u"}

	job := &model.Job{Payload: model.Payload{}}
	assert.Equal(t, []string{
		"BUCKET=b URL=u make publish",
		"BUCKET=b URL=u make deploy",
	}, s.DeploySteps(job, env))

	job = &model.Job{Payload: model.Payload{IsNextGen: true, MutPrefix: "docs/sample/v2"}}
	assert.Equal(t, []string{
		"BUCKET=b URL=u MUT_PREFIX=docs/sample/v2 make next-gen-publish",
		"BUCKET=b URL=u MUT_PREFIX=docs/sample/v2 make next-gen-deploy",
	}, s.DeploySteps(job, env))

	assert.NotContains(t, s.BuildSteps(job, env), "make persistence-module")
	assert.True(t, s.ChainsManifest())
}

func TestStagingBuildSteps(t *testing.T) {
	s := stagingStrategy{}
	steps := s.BuildSteps(&model.Job{Payload: model.Payload{IsNextGen: true}}, model.EnvParams{})

	assert.Contains(t, steps, "make persistence-module")
	assert.Contains(t, steps, "make build-search-manifest")
	assert.Contains(t, steps, "make next-gen-html")
}

func TestRegressionResolveEnv(t *testing.T) {
	s := regressionStrategy{}

	env := s.ResolveEnv(testDocset(), "prd")
	assert.Equal(t, "regression", env.RegressionSuffix)
	assert.False(t, s.ChainsManifest())

	job := &model.Job{Payload: model.Payload{}}
	steps := s.DeploySteps(job, env)
	require.Len(t, steps, 2)
	assert.Contains(t, steps[0], "REGRESSION_SUFFIX=regression")
}

func TestManifestDeploySteps(t *testing.T) {
	s := manifestStrategy{}
	env := model.EnvParams{Bucket: "b", URL: "u"}
	job := &model.Job{Payload: model.Payload{ManifestPrefix: "docs-sample-current"}}

	steps := s.DeploySteps(job, env)
	require.Len(t, steps, 1)
	assert.Equal(t, "BUCKET=b URL=u MANIFEST_PREFIX=docs-sample-current make deploy-search-manifest", steps[0])
	assert.False(t, s.ChainsManifest())
}

func TestStrategyFor(t *testing.T) {
	tests := []struct {
		jobType model.JobType
		want    string
	}{
		{model.JobTypeGithubPush, "staging"},
		{model.JobTypeProductionDeploy, "production"},
		{model.JobTypeRegression, "regression"},
		{model.JobTypeManifestGeneration, "manifest"},
	}
	for _, tt := range tests {
		s, err := strategyFor(tt.jobType)
		require.NoError(t, err)
		assert.Equal(t, tt.want, s.Name())
	}

	_, err := strategyFor(model.JobType("browser"))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}
