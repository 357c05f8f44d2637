package container

import (
	"fmt"
	"os"

	"github.com/flowops/driftd/cmd/driftd/adapters"
	"github.com/flowops/driftd/cmd/driftd/repository"
	"github.com/flowops/driftd/cmd/driftd/scheduler"
	"github.com/flowops/driftd/cmd/driftd/service"
	"github.com/flowops/driftd/common/bootstrap"
)

// Container holds all initialized repositories, services and loops
// (singleton pattern).
type Container struct {
	Components *bootstrap.Components

	// Repositories
	CanonicalRepo   *repository.CanonicalRepository
	EnvironmentRepo *repository.EnvironmentRepository
	MappingRepo     *repository.MappingRepository
	GitStateRepo    *repository.GitStateRepository
	DiffStateRepo   *repository.DiffStateRepository
	IncidentRepo    *repository.IncidentRepository
	CheckpointRepo  *repository.CheckpointRepository
	DriftCheckRepo  *repository.DriftCheckRepository
	RetentionRepo   *repository.RetentionRepository
	PolicyRepo      *repository.PolicyRepository

	// Services
	SyncService      *service.SyncService
	ReconcileService *service.ReconcileService
	DriftService     *service.DriftService
	IncidentService  *service.IncidentService
	PolicyService    *service.PolicyService
	RetentionService *service.RetentionService
	MatrixService    *service.MatrixService

	// Background loops
	Scheduler *scheduler.Scheduler
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Repositories
	canonicalRepo := repository.NewCanonicalRepository(components.DB)
	environmentRepo := repository.NewEnvironmentRepository(components.DB)
	mappingRepo := repository.NewMappingRepository(components.DB)
	gitStateRepo := repository.NewGitStateRepository(components.DB)
	diffStateRepo := repository.NewDiffStateRepository(components.DB)
	incidentRepo := repository.NewIncidentRepository(components.DB)
	checkpointRepo := repository.NewCheckpointRepository(components.DB)
	driftCheckRepo := repository.NewDriftCheckRepository(components.DB)
	retentionRepo := repository.NewRetentionRepository(components.DB)
	policyRepo := repository.NewPolicyRepository(components.DB)

	// External adapters
	factory := adapters.NewHTTPAdapterFactory(
		getEnv("RUNTIME_URL_TEMPLATE", ""),
		getEnv("RUNTIME_API_KEY", ""),
		log,
	)
	repoProvider := adapters.NewHTTPRepoProvider(
		getEnv("REPO_CONTENT_URL", ""),
		getEnv("REPO_CONTENT_TOKEN", ""),
	)

	// Progress, notifications and the reconcile throttle go through redis
	// when it is available; otherwise in-process fallbacks keep a
	// single-node deployment fully functional.
	var progress adapters.ProgressSink = adapters.NopProgressSink{}
	var notifier adapters.Notifier
	var throttle service.Throttle
	if components.Redis != nil {
		progress = adapters.NewRedisProgressSink(components.Redis, log)
		notifier = adapters.NewRedisNotifier(components.Redis, log)
		throttle = service.NewRedisThrottle(components.Redis)
	} else {
		notifier = adapters.NewChannelNotifier(256)
		throttle = service.NewMemoryThrottle()
	}

	// Services
	syncService := service.NewSyncService(
		environmentRepo, mappingRepo, gitStateRepo, checkpointRepo,
		factory, progress, cfg.Scheduler.SyncBatchSize, log,
	)
	reconcileService := service.NewReconcileService(
		canonicalRepo, environmentRepo, mappingRepo, gitStateRepo,
		diffStateRepo, throttle, cfg.Scheduler.DebounceWindow, log,
	)
	driftService := service.NewDriftService(
		canonicalRepo, environmentRepo, gitStateRepo, driftCheckRepo,
		factory, repoProvider, log,
	)
	incidentService := service.NewIncidentService(incidentRepo, environmentRepo, notifier, log)
	policyService, err := service.NewPolicyService(policyRepo, cfg.Scheduler, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy service: %w", err)
	}
	retentionService := service.NewRetentionService(
		environmentRepo, incidentRepo, driftCheckRepo, retentionRepo, log,
	)
	matrixService := service.NewMatrixService(
		canonicalRepo, environmentRepo, mappingRepo, gitStateRepo, log,
	)

	// Control loops
	sched := scheduler.New(log,
		scheduler.NewDriftLoop(environmentRepo, driftService, incidentService,
			policyService, cfg.Scheduler.DriftInterval, log),
		scheduler.NewTTLLoop(incidentRepo, incidentService, notifier,
			cfg.Scheduler.TTLInterval, cfg.Scheduler.TTLWarningWindow, log),
		scheduler.NewRetentionLoop(retentionService, cfg.Scheduler.RetentionInterval, log),
	)

	return &Container{
		Components:       components,
		CanonicalRepo:    canonicalRepo,
		EnvironmentRepo:  environmentRepo,
		MappingRepo:      mappingRepo,
		GitStateRepo:     gitStateRepo,
		DiffStateRepo:    diffStateRepo,
		IncidentRepo:     incidentRepo,
		CheckpointRepo:   checkpointRepo,
		DriftCheckRepo:   driftCheckRepo,
		RetentionRepo:    retentionRepo,
		PolicyRepo:       policyRepo,
		SyncService:      syncService,
		ReconcileService: reconcileService,
		DriftService:     driftService,
		IncidentService:  incidentService,
		PolicyService:    policyService,
		RetentionService: retentionService,
		MatrixService:    matrixService,
		Scheduler:        sched,
	}, nil
}

// getEnv gets an environment variable or returns a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
