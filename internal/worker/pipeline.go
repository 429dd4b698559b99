// Package worker contains the job execution pipeline and the claim loop that
// drives it.
package worker

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/docbuild/docworker/config"
	"github.com/docbuild/docworker/internal/core"
	"github.com/docbuild/docworker/internal/domain/model"
	apperrors "github.com/docbuild/docworker/internal/errors"
	"github.com/docbuild/docworker/internal/executor"
)

// defaultBuildCommands run for repositories that have not opted into the
// next-gen pipeline.
var defaultBuildCommands = []string{"make html"}

// PipelineDeps groups the collaborators a pipeline run needs.
type PipelineDeps struct {
	Jobs    core.JobRepository
	Docsets core.DocsetRepository
	Status  core.StatusPublisher
	Exec    *executor.ShellExecutor
	Source  *executor.SourceConnector
	Build   config.BuildConfig
	// Env names the deployment environment used for publish target resolution.
	Env    string
	Logger *slog.Logger
}

// Pipeline executes one claimed job through build, deploy, update and cleanup.
// Stage order is fixed; per-type variation lives in the deploy strategy. A
// pipeline instance serves exactly one job.
type Pipeline struct {
	deps     PipelineDeps
	job      *model.Job
	strategy deployStrategy
	stop     *atomic.Bool
	logger   *slog.Logger

	docset  *model.Docset
	env     model.EnvParams
	workdir string
	output  strings.Builder
}

// comMessageTailLines caps how much captured command output the update stage
// copies into the job's com-message trail.
const comMessageTailLines = 50

// NewPipeline creates a pipeline for one job. stop is the manager's shared
// shutdown flag; each stage boundary checks it.
func NewPipeline(deps PipelineDeps, job *model.Job, strategy deployStrategy, stop *atomic.Bool) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		deps:     deps,
		job:      job,
		strategy: strategy,
		stop:     stop,
		logger: logger.With(
			"component", "pipeline",
			"job_id", job.ID,
			"job_type", job.Type,
			"strategy", strategy.Name(),
		),
	}
}

// Run drives the job through its stages. A stopped-coded return means the job
// has been reset to the queue, not failed; every other error has already been
// recorded on the job by the update stage unless the store itself failed.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	defer func() {
		if cleanupErr := p.cleanup(); cleanupErr != nil {
			p.logger.WarnContext(ctx, "workdir cleanup failed", "err", cleanupErr)
		}
	}()

	if gerr := p.guardStage(ctx, "build"); gerr != nil {
		return gerr
	}
	runErr := p.build(ctx)

	if runErr == nil {
		if gerr := p.guardStage(ctx, "deploy"); gerr != nil {
			return gerr
		}
		runErr = p.deploy(ctx)
	}

	if gerr := p.guardStage(ctx, "update"); gerr != nil {
		return gerr
	}
	if uerr := p.update(ctx, runErr); uerr != nil {
		return uerr
	}
	if runErr != nil {
		return runErr
	}
	return p.chainManifest(ctx)
}

// guardStage resets the job to the queue when shutdown was requested between
// stages. The returned stopped error is absorbing: callers must not mark the
// job failed after it.
func (p *Pipeline) guardStage(ctx context.Context, stage string) error {
	if !p.stop.Load() {
		return nil
	}
	msg := "interrupted by worker shutdown before " + stage + " stage"
	// the reset must land even when shutdown already canceled the run context
	resetCtx := context.WithoutCancel(ctx)
	if resetErr := p.deps.Jobs.ResetToQueued(resetCtx, p.job.ID, msg); resetErr != nil {
		p.logger.ErrorContext(ctx, "failed to reset stopped job", "stage", stage, "err", resetErr)
	} else {
		p.logger.InfoContext(ctx, "job reset to queue on shutdown", "stage", stage)
	}
	return apperrors.Stopped(msg)
}

func (p *Pipeline) build(ctx context.Context) error {
	payload := &p.job.Payload

	// Stale checkouts from a previous run on this worker are discarded.
	if err := p.deps.Source.Cleanup(payload.RepoName); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeBuild, "failed to clean workdir")
	}

	dir, err := p.deps.Source.Checkout(ctx, payload.RepoOwner, payload.RepoName, payload.Branch)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeBuild, "failed to check out %s@%s", payload.RepoPath(), payload.Branch)
	}
	p.workdir = dir

	if err := p.deps.Source.VerifyCommit(ctx, dir, payload.Branch, payload.NewHead); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeBuild, "target commit unreachable")
	}

	docset, err := p.deps.Docsets.GetByRepo(ctx, payload.RepoOwner, payload.RepoName)
	if err != nil {
		if apperrors.IsStore(err) {
			return err
		}
		return apperrors.Wrapf(err, apperrors.ErrCodeValidation, "repository %s is not publish-configured", payload.RepoPath())
	}
	p.docset = docset
	p.env = p.strategy.ResolveEnv(docset, p.deps.Env)

	buildCommands := p.job.BuildCommands
	if len(buildCommands) == 0 {
		buildCommands = append([]string(nil), defaultBuildCommands...)
	}

	nextGen, err := p.detectNextGen(dir)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeBuild, "next-gen detection failed")
	}
	if nextGen {
		branch := docset.BranchNamed(payload.Branch)
		if branch == nil || !branch.Active {
			return apperrors.Validationf("branch %q of %s is not publish-configured", payload.Branch, payload.RepoPath())
		}
		payload.IsNextGen = true
		p.computePrefixes(branch)
		buildCommands = append(buildCommands, p.strategy.BuildSteps(p.job, p.env)...)
	}
	p.job.BuildCommands = buildCommands

	if persistErr := p.deps.Jobs.UpdateExecution(ctx, p.job.ID, core.UpdateExecutionParams{
		BuildCommands:  p.job.BuildCommands,
		DeployCommands: p.job.DeployCommands,
		Payload:        *payload,
	}); persistErr != nil {
		return persistErr
	}

	if payload.Patch != "" {
		if err := p.deps.Source.ApplyPatch(ctx, dir, payload.Patch); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeBuild, "failed to apply patch")
		}
	}
	if p.deps.Build.SupportFileURL != "" {
		if err := p.deps.Source.FetchSupportFile(ctx, dir, p.deps.Build.SupportFileURL, p.deps.Build.WorkerScript); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeBuild, "failed to fetch build support file")
		}
	}

	res, execErr := p.deps.Exec.Execute(ctx, dir, buildCommands)
	if res != nil {
		p.appendOutput(ctx, res)
	}
	if execErr != nil {
		return apperrors.Wrap(execErr, apperrors.ErrCodeInternal, "build command could not run")
	}
	if res.TimedOut {
		return apperrors.Buildf("build timed out after %s", p.deps.Build.CommandTimeout)
	}
	if !res.Succeeded() {
		return apperrors.Buildf("build failed with exit code %d: %s", res.ExitCode, lastLine(res.Output))
	}
	return nil
}

func (p *Pipeline) deploy(ctx context.Context) error {
	steps := p.strategy.DeploySteps(p.job, p.env)
	p.job.DeployCommands = steps

	if persistErr := p.deps.Jobs.UpdateExecution(ctx, p.job.ID, core.UpdateExecutionParams{
		BuildCommands:  p.job.BuildCommands,
		DeployCommands: steps,
		Payload:        p.job.Payload,
	}); persistErr != nil {
		return persistErr
	}

	// Each deploy command runs as its own timed stage so publish and deploy
	// durations are attributable separately.
	results, execErr := p.deps.Exec.ExecuteStages(ctx, p.workdir, deployStages(steps))
	for i := range results {
		p.appendOutput(ctx, &results[i].Result)
	}
	if execErr != nil {
		return apperrors.Wrap(execErr, apperrors.ErrCodeInternal, "deploy command could not run")
	}
	if len(results) == 0 {
		return apperrors.Publish("deploy produced no stage results")
	}

	last := results[len(results)-1]
	if last.Result.TimedOut {
		return apperrors.Publishf("deploy stage %q timed out after %s", last.Name, p.deps.Build.CommandTimeout)
	}
	if !last.Result.Succeeded() {
		return apperrors.Publishf("deploy stage %q failed with exit code %d: %s",
			last.Name, last.Result.ExitCode, lastLine(last.Result.Output))
	}
	// Publish tooling reports some failures on stdout with a zero exit.
	if marker := p.deps.Build.ErrorMarker; marker != "" {
		for _, r := range results {
			if strings.Contains(r.Result.Output, marker) {
				return apperrors.Publishf("deploy stage %q output contains error marker %q", r.Name, marker)
			}
		}
	}
	return nil
}

// deployStages names each deploy command after its make target.
func deployStages(steps []string) []executor.Stage {
	stages := make([]executor.Stage, 0, len(steps))
	for _, step := range steps {
		stages = append(stages, executor.Stage{Name: stageName(step), Steps: []string{step}})
	}
	return stages
}

func stageName(step string) string {
	fields := strings.Fields(step)
	if len(fields) == 0 {
		return step
	}
	return fields[len(fields)-1]
}

// update records the terminal status and notifies the status queue. runErr nil
// means the job succeeded.
func (p *Pipeline) update(ctx context.Context, runErr error) error {
	status := model.JobStatusCompleted
	var comMsg string

	if runErr == nil {
		artifacts, enumErr := p.enumerateArtifacts()
		if enumErr != nil {
			p.logger.WarnContext(ctx, "artifact enumeration failed", "err", enumErr)
		}
		if err := p.deps.Jobs.MarkCompleted(ctx, p.job.ID, &model.BuildResult{Artifacts: artifacts}); err != nil {
			return err
		}
		if err := p.deps.Jobs.AppendLog(ctx, p.job.ID, []string{"done"}); err != nil {
			p.logger.WarnContext(ctx, "failed to append done log line", "err", err)
		}
		comMsg = fmt.Sprintf("Build of %s@%s completed (%d artifacts)",
			p.job.Payload.RepoPath(), p.job.Payload.Branch, len(artifacts))
	} else {
		status = model.JobStatusFailed
		if err := p.deps.Jobs.MarkFailed(ctx, p.job.ID, runErr.Error()); err != nil {
			return err
		}
		comMsg = fmt.Sprintf("Build of %s@%s failed: %s",
			p.job.Payload.RepoPath(), p.job.Payload.Branch, runErr.Error())
	}

	if err := p.deps.Jobs.AppendComMessage(ctx, p.job.ID, comMsg); err != nil {
		p.logger.WarnContext(ctx, "failed to append com message", "err", err)
	}
	// The tail of the captured command output rides along on both outcomes so
	// the com-message trail is readable without pulling the full job log.
	if tail := outputTail(p.output.String(), comMessageTailLines); tail != "" {
		if err := p.deps.Jobs.AppendComMessage(ctx, p.job.ID, tail); err != nil {
			p.logger.WarnContext(ctx, "failed to append output com message", "err", err)
		}
	}
	if p.deps.Status != nil {
		msg := model.StatusMessage{JobID: p.job.ID, Status: status, TaskID: p.job.TaskID}
		if err := p.deps.Status.Publish(ctx, msg); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish status message", "status", status, "err", err)
		}
	}
	return nil
}

// cleanup removes the job's checkout. Idempotent; it runs after failures too.
func (p *Pipeline) cleanup() error {
	return p.deps.Source.Cleanup(p.job.Payload.RepoName)
}

// chainManifest enqueues the follow-up search-manifest job after a successful
// production deploy. Manifest jobs themselves never chain regardless of what
// the strategy says.
func (p *Pipeline) chainManifest(ctx context.Context) error {
	if p.job.Type == model.JobTypeManifestGeneration {
		return nil
	}
	if !p.strategy.ChainsManifest() {
		return nil
	}
	if p.docset == nil || p.docset.SearchIndexExcluded {
		return nil
	}
	if p.job.Payload.IsSecondaryAlias() {
		return nil
	}

	payload := p.job.Payload
	payload.Patch = ""
	payload.JobTitle = "Search manifest for " + payload.RepoPath()
	req := &model.CreateJobRequest{
		Type:     model.JobTypeManifestGeneration,
		Payload:  payload,
		Priority: p.job.Priority,
	}
	follow, err := p.deps.Jobs.Create(ctx, req)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to enqueue manifest job", "err", err)
		return nil
	}
	p.logger.InfoContext(ctx, "enqueued follow-up manifest job", "manifest_job_id", follow.ID)
	return nil
}

// detectNextGen checks the repo-provided worker script for the opt-in marker.
// A missing script means the repository stays on the default pipeline.
func (p *Pipeline) detectNextGen(dir string) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(dir, p.deps.Build.WorkerScript))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.Contains(string(raw), p.deps.Build.NextGenMarker), nil
}

// computePrefixes resolves the publish path prefixes for a next-gen build from
// the docset's branch configuration.
func (p *Pipeline) computePrefixes(branch *model.Branch) {
	payload := &p.job.Payload
	slug := payload.URLSlug
	if slug == "" {
		slug = branch.URLSlug
	}
	if slug == "" {
		slug = branch.Name
	}
	payload.URLSlug = slug
	payload.Stable = branch.IsStable

	payload.PathPrefix = p.docset.Prefix + "/" + slug
	payload.MutPrefix = p.docset.Prefix
	if payload.Aliased && slug != "" {
		payload.MutPrefix = p.docset.Prefix + "/" + slug
	}
	payload.ManifestPrefix = p.docset.Project + "-" + slug
}

// enumerateArtifacts lists the build output paths relative to the output dir.
func (p *Pipeline) enumerateArtifacts() ([]string, error) {
	root := filepath.Join(p.workdir, p.deps.Build.OutputDir)
	var artifacts []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		artifacts = append(artifacts, rel)
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return artifacts, err
	}
	return artifacts, nil
}

func (p *Pipeline) appendOutput(ctx context.Context, res *executor.Result) {
	lines := res.OutputLines()
	if len(lines) == 0 {
		return
	}
	p.output.WriteString(res.Output)
	if !strings.HasSuffix(res.Output, "\n") {
		p.output.WriteString("\n")
	}
	if err := p.deps.Jobs.AppendLog(ctx, p.job.ID, lines); err != nil {
		p.logger.WarnContext(ctx, "failed to append job log", "err", err)
	}
}

// outputTail returns the last n lines of s, without a trailing newline.
func outputTail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
