package worker

import (
	"fmt"

	"github.com/docbuild/docworker/internal/domain/model"
)

// deployStrategy captures the per-job-type variation of the pipeline: which
// build steps to inject for next-gen repositories, how deploy commands are
// constructed, and whether a successful run chains a follow-up manifest job.
// The pipeline holds one; stage order and guards are shared.
type deployStrategy interface {
	Name() string
	// ResolveEnv picks the publish target for this job out of the docset's
	// configuration. The result is threaded explicitly into command
	// construction; nothing is written to the process environment.
	ResolveEnv(docset *model.Docset, appEnv string) model.EnvParams
	// BuildSteps returns the extra build commands injected for next-gen repos.
	BuildSteps(job *model.Job, env model.EnvParams) []string
	DeploySteps(job *model.Job, env model.EnvParams) []string
	// ChainsManifest reports whether a successful run may enqueue a follow-up
	// manifestGeneration job.
	ChainsManifest() bool
}

// envPrefix renders the publish target as inline KEY=value assignments so each
// command carries its own target and concurrent builds never race on globals.
func envPrefix(env model.EnvParams) string {
	s := fmt.Sprintf("BUCKET=%s URL=%s", env.Bucket, env.URL)
	if env.RegressionSuffix != "" {
		s += " REGRESSION_SUFFIX=" + env.RegressionSuffix
	}
	return s
}

// stagingStrategy serves githubPush jobs: build and stage-publish to the
// per-branch staging target.
type stagingStrategy struct{}

func (stagingStrategy) Name() string { return "staging" }

func (stagingStrategy) ResolveEnv(docset *model.Docset, appEnv string) model.EnvParams {
	env := model.EnvParams{Bucket: docset.Bucket, URL: docset.URL}
	if appEnv != "prd" && appEnv != "dotcomprd" {
		env.Bucket = docset.Bucket + "-" + appEnv
	}
	return env
}

// Staging builds carry the search-manifest and persistence-module steps so the
// staged preview matches what a later production deploy will publish.
func (stagingStrategy) BuildSteps(job *model.Job, env model.EnvParams) []string {
	return []string{
		"make get-build-dependencies",
		"make next-gen-html",
		"make persistence-module",
		"make build-search-manifest",
	}
}

func (s stagingStrategy) DeploySteps(job *model.Job, env model.EnvParams) []string {
	prefix := envPrefix(env)
	if job.Payload.IsNextGen {
		// Monorepo checkouts stage each configured directory under its own
		// path prefix; MUT_PREFIX scopes the upload.
		return []string{fmt.Sprintf("%s MUT_PREFIX=%s make next-gen-stage", prefix, job.Payload.MutPrefix)}
	}
	return []string{prefix + " make stage"}
}

func (stagingStrategy) ChainsManifest() bool { return false }

// productionStrategy serves productionDeploy jobs: publish then deploy, and
// chain a search-manifest job on success.
type productionStrategy struct{}

func (productionStrategy) Name() string { return "production" }

func (productionStrategy) ResolveEnv(docset *model.Docset, appEnv string) model.EnvParams {
	return model.EnvParams{Bucket: docset.Bucket, URL: docset.URL}
}

func (productionStrategy) BuildSteps(job *model.Job, env model.EnvParams) []string {
	return []string{
		"make get-build-dependencies",
		"make next-gen-html",
	}
}

func (productionStrategy) DeploySteps(job *model.Job, env model.EnvParams) []string {
	prefix := envPrefix(env)
	if job.Payload.IsNextGen {
		return []string{
			fmt.Sprintf("%s MUT_PREFIX=%s make next-gen-publish", prefix, job.Payload.MutPrefix),
			fmt.Sprintf("%s MUT_PREFIX=%s make next-gen-deploy", prefix, job.Payload.MutPrefix),
		}
	}
	return []string{
		prefix + " make publish",
		prefix + " make deploy",
	}
}

func (productionStrategy) ChainsManifest() bool { return true }

// regressionStrategy runs the production pipeline against a suffixed target so
// output never collides with live content.
type regressionStrategy struct {
	productionStrategy
}

func (regressionStrategy) Name() string { return "regression" }

func (r regressionStrategy) ResolveEnv(docset *model.Docset, appEnv string) model.EnvParams {
	env := r.productionStrategy.ResolveEnv(docset, appEnv)
	env.RegressionSuffix = "regression"
	return env
}

func (regressionStrategy) ChainsManifest() bool { return false }

// manifestStrategy serves follow-up manifestGeneration jobs. It never chains;
// the guard in the pipeline enforces that even if a payload claims otherwise.
type manifestStrategy struct{}

func (manifestStrategy) Name() string { return "manifest" }

func (manifestStrategy) ResolveEnv(docset *model.Docset, appEnv string) model.EnvParams {
	return model.EnvParams{Bucket: docset.Bucket, URL: docset.URL}
}

func (manifestStrategy) BuildSteps(job *model.Job, env model.EnvParams) []string {
	return []string{"make get-build-dependencies", "make next-gen-html"}
}

func (manifestStrategy) DeploySteps(job *model.Job, env model.EnvParams) []string {
	return []string{fmt.Sprintf("%s MANIFEST_PREFIX=%s make deploy-search-manifest",
		envPrefix(env), job.Payload.ManifestPrefix)}
}

func (manifestStrategy) ChainsManifest() bool { return false }
