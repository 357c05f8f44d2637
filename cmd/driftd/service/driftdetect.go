package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/flowops/driftd/cmd/driftd/adapters"
	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/logger"
)

// Drift types attached to affected workflows
const (
	DriftTypeModified       = "modified_in_runtime"
	DriftTypeAddedInRuntime = "added_in_runtime"
)

// EnvironmentDriftSummary is the result of one drift detection pass. A
// terminal failure (missing configuration, unreachable provider) is
// reported through Error and an error/unknown status, never as a panic
// or error return that could crash the scheduler loop.
type EnvironmentDriftSummary struct {
	Total             int                       `json:"total"`
	InSync            int                       `json:"in_sync"`
	WithDrift         int                       `json:"with_drift"`
	NotInGit          int                       `json:"not_in_git"`
	GitConfigured     int                       `json:"git_configured"`
	AffectedWorkflows []models.AffectedWorkflow `json:"affected_workflows,omitempty"`
	Status            models.DriftStatus        `json:"status"`
	Error             string                    `json:"error,omitempty"`
	ItemErrors        []string                  `json:"item_errors,omitempty"`
}

// HasDrift reports whether the pass found any drifted or unmanaged
// workflow.
func (s *EnvironmentDriftSummary) HasDrift() bool {
	return s.WithDrift+s.NotInGit > 0
}

// StructuralDiff is the node-level comparison between a runtime workflow
// and its repository counterpart, ignoring volatile fields.
type StructuralDiff struct {
	NodesAdded         []string `json:"nodes_added,omitempty"`
	NodesRemoved       []string `json:"nodes_removed,omitempty"`
	NodesModified      []string `json:"nodes_modified,omitempty"`
	ConnectionsChanged bool     `json:"connections_changed,omitempty"`
	SettingsChanged    bool     `json:"settings_changed,omitempty"`
}

// HasDrift reports whether any structural difference was found
func (d *StructuralDiff) HasDrift() bool {
	return len(d.NodesAdded) > 0 ||
		len(d.NodesRemoved) > 0 ||
		len(d.NodesModified) > 0 ||
		d.ConnectionsChanged ||
		d.SettingsChanged
}

// DriftService compares runtime workflows against their repository
// counterparts and maintains the environment drift status.
type DriftService struct {
	canonicals   CanonicalStore
	environments EnvironmentStore
	gitStates    GitStateStore
	driftChecks  DriftCheckStore
	factory      adapters.RuntimeAdapterFactory
	repo         adapters.RepoProvider
	log          *logger.Logger
}

// NewDriftService creates a new drift detection engine
func NewDriftService(
	canonicals CanonicalStore,
	environments EnvironmentStore,
	gitStates GitStateStore,
	driftChecks DriftCheckStore,
	factory adapters.RuntimeAdapterFactory,
	repo adapters.RepoProvider,
	log *logger.Logger,
) *DriftService {
	return &DriftService{
		canonicals:   canonicals,
		environments: environments,
		gitStates:    gitStates,
		driftChecks:  driftChecks,
		factory:      factory,
		repo:         repo,
		log:          log,
	}
}

// DetectDrift runs one drift detection pass over an environment and
// persists the resulting drift status onto the environment record.
func (s *DriftService) DetectDrift(ctx context.Context, tenantID string, environmentID uuid.UUID) (*EnvironmentDriftSummary, error) {
	log := s.log.WithTenant(tenantID).WithEnvironment(environmentID.String())

	env, err := s.environments.Get(ctx, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	if env == nil {
		return nil, fmt.Errorf("environment %s not found", environmentID)
	}

	if !env.RepoConfigured {
		return s.terminal(ctx, tenantID, environmentID, "repository not configured for environment")
	}

	adapter, err := s.factory.ForEnvironment(ctx, env)
	if err != nil {
		return s.terminal(ctx, tenantID, environmentID,
			fmt.Sprintf("failed to resolve runtime adapter: %v", err))
	}

	summaries, err := adapter.ListWorkflows(ctx)
	if err != nil {
		return s.terminal(ctx, tenantID, environmentID,
			fmt.Sprintf("runtime platform unreachable: %v", err))
	}

	summary := &EnvironmentDriftSummary{Total: len(summaries)}

	for _, wf := range summaries {
		body, fetchErr := adapter.GetWorkflow(ctx, wf.ID)
		if fetchErr != nil {
			body = wf.Body
			if body == nil {
				summary.ItemErrors = append(summary.ItemErrors,
					fmt.Sprintf("workflow %s: fetch failed: %v", wf.ID, fetchErr))
				continue
			}
		}

		canonical, err := s.canonicals.GetByName(ctx, tenantID, wf.Name)
		if err != nil {
			summary.ItemErrors = append(summary.ItemErrors,
				fmt.Sprintf("workflow %s: canonical lookup failed: %v", wf.ID, err))
			continue
		}

		var gitState *models.GitState
		if canonical != nil {
			gitState, err = s.gitStates.Get(ctx, tenantID, canonical.CanonicalID, environmentID)
			if err != nil {
				summary.ItemErrors = append(summary.ItemErrors,
					fmt.Sprintf("workflow %s: git state lookup failed: %v", wf.ID, err))
				continue
			}
		}

		if canonical == nil || gitState == nil {
			summary.NotInGit++
			summary.AffectedWorkflows = append(summary.AffectedWorkflows, models.AffectedWorkflow{
				WorkflowID: wf.ID,
				Name:       wf.Name,
				DriftType:  DriftTypeAddedInRuntime,
			})
			continue
		}

		summary.GitConfigured++

		repoDoc, err := s.repo.GetFileContent(ctx, gitState.GitPath, gitState.GitCommitSHA)
		if err != nil {
			return s.terminal(ctx, tenantID, environmentID,
				fmt.Sprintf("repository provider unreachable: %v", err))
		}

		diff := DiffWorkflowStructure(body, repoDoc)
		if diff.HasDrift() {
			summary.WithDrift++
			summary.AffectedWorkflows = append(summary.AffectedWorkflows, models.AffectedWorkflow{
				WorkflowID: wf.ID,
				Name:       wf.Name,
				DriftType:  DriftTypeModified,
			})
		} else {
			summary.InSync++
		}
	}

	switch {
	case summary.GitConfigured == 0:
		summary.Status = models.DriftStatusUntracked
	case summary.HasDrift():
		summary.Status = models.DriftStatusDetected
	default:
		summary.Status = models.DriftStatusInSync
	}

	s.persist(ctx, tenantID, environmentID, summary)

	log.Info("drift detection complete",
		"status", summary.Status,
		"total", summary.Total,
		"with_drift", summary.WithDrift,
		"not_in_git", summary.NotInGit,
	)

	return summary, nil
}

// terminal records a failed detection as an error status with a reason,
// not as an error return: the scheduler loop must keep running.
func (s *DriftService) terminal(ctx context.Context, tenantID string, environmentID uuid.UUID, reason string) (*EnvironmentDriftSummary, error) {
	summary := &EnvironmentDriftSummary{
		Status: models.DriftStatusError,
		Error:  reason,
	}
	s.persist(ctx, tenantID, environmentID, summary)

	s.log.Warn("drift detection failed",
		"tenant_id", tenantID,
		"environment_id", environmentID,
		"reason", reason)

	return summary, nil
}

func (s *DriftService) persist(ctx context.Context, tenantID string, environmentID uuid.UUID, summary *EnvironmentDriftSummary) {
	now := time.Now().UTC()

	if err := s.environments.UpdateDriftStatus(ctx, environmentID, summary.Status, now, summary.HasDrift()); err != nil {
		s.log.Warn("failed to persist environment drift status",
			"environment_id", environmentID, "error", err)
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		payload = nil
	}
	if err := s.driftChecks.Insert(ctx, &models.DriftCheck{
		CheckID:       uuid.New(),
		TenantID:      tenantID,
		EnvironmentID: environmentID,
		Status:        summary.Status,
		Summary:       payload,
		CheckedAt:     now,
	}); err != nil {
		s.log.Warn("failed to record drift check",
			"environment_id", environmentID, "error", err)
	}
}

// DiffWorkflowStructure compares two workflow documents node by node,
// ignoring volatile fields, plus connection-graph and settings equality.
func DiffWorkflowStructure(runtime, repo models.WorkflowDocument) *StructuralDiff {
	diff := &StructuralDiff{}

	runtimeNodes := nodesByName(runtime)
	repoNodes := nodesByName(repo)

	for name, runtimeNode := range runtimeNodes {
		repoNode, ok := repoNodes[name]
		if !ok {
			diff.NodesAdded = append(diff.NodesAdded, name)
			continue
		}
		if !jsonEqual(runtimeNode, repoNode) {
			diff.NodesModified = append(diff.NodesModified, name)
		}
	}
	for name := range repoNodes {
		if _, ok := runtimeNodes[name]; !ok {
			diff.NodesRemoved = append(diff.NodesRemoved, name)
		}
	}

	if !jsonEqual(runtime["connections"], repo["connections"]) {
		diff.ConnectionsChanged = true
	}
	if !jsonEqual(runtime["settings"], repo["settings"]) {
		diff.SettingsChanged = true
	}

	return diff
}

func nodesByName(doc models.WorkflowDocument) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	rawNodes, ok := doc["nodes"].([]interface{})
	if !ok {
		return out
	}
	for _, raw := range rawNodes {
		node, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := node["name"].(string)
		out[name] = NormalizeNode(node)
	}
	return out
}

// jsonEqual compares two values by their JSON serialization, so key
// order and formatting never count as a difference.
func jsonEqual(a, b interface{}) bool {
	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return errA == nil && errB == nil
	}
	return jsonpatch.Equal(aJSON, bJSON)
}
