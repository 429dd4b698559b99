package worker

import (
	"github.com/docbuild/docworker/internal/domain/model"
	apperrors "github.com/docbuild/docworker/internal/errors"
)

// strategyFor maps a job type to its deploy strategy. Unknown types are a
// validation failure; the job is marked failed, never retried.
func strategyFor(t model.JobType) (deployStrategy, error) {
	switch t {
	case model.JobTypeGithubPush:
		return stagingStrategy{}, nil
	case model.JobTypeProductionDeploy:
		return productionStrategy{}, nil
	case model.JobTypeRegression:
		return regressionStrategy{}, nil
	case model.JobTypeManifestGeneration:
		return manifestStrategy{}, nil
	default:
		return nil, apperrors.Validationf("no handler for job type %q", t)
	}
}
