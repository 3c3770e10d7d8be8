package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/db/repos"
	"github.com/promolab/blast/internal/logger"
	"github.com/promolab/blast/internal/orchestrator"
	"github.com/promolab/blast/internal/platform"
	"github.com/promolab/blast/internal/queue"
	"github.com/promolab/blast/internal/ratelimit"
)

// ErrJobRunning is returned when a creation run is requested for a job that
// already has one in flight
var ErrJobRunning = fmt.Errorf("job already has a run in flight")

// RunOptions selects the creation strategy for one run
type RunOptions struct {
	// Bulk opts in to many-pairs-per-call batching with quality fallback
	Bulk bool `json:"bulk"`
}

// RunResult reports one creation run
type RunResult struct {
	JobID  uint             `json:"job_id"`
	Status models.JobStatus `json:"status"`
	// CreatedParents and CreatedChildren are cumulative surviving pair counts;
	// the pairing guarantee keeps them equal
	CreatedParents  int `json:"created_parents"`
	CreatedChildren int `json:"created_children"`
	// Attempted and SuccessRate describe this run only
	Attempted   int     `json:"attempted"`
	SuccessRate float64 `json:"success_rate"`
	Deferred    int     `json:"deferred"`
	// Decision is set when this run ended in a failure verdict
	Decision *FailureDecision `json:"decision,omitempty"`
	// Rollback is set when the verdict was executed as a rollback
	Rollback *RollbackResult `json:"rollback,omitempty"`
}

// BulkService is the engine facade: it opens jobs, drives creation runs,
// re-plays deferred pairs from the queue and triggers rollbacks
type BulkService struct {
	jobs      *JobService
	rollback  *RollbackService
	orch      *orchestrator.Orchestrator
	queueRepo *repos.QueuedRequestRepository
	worker    *queue.Worker
	client    platform.Client
	pool      *ratelimit.CredentialPool
	budget    *ratelimit.BudgetTracker

	// one creation run per job at a time
	runMu   sync.Mutex
	running map[uint]bool
}

// NewBulkService creates the engine facade
func NewBulkService(
	jobs *JobService,
	rollback *RollbackService,
	orch *orchestrator.Orchestrator,
	queueRepo *repos.QueuedRequestRepository,
	worker *queue.Worker,
	client platform.Client,
	pool *ratelimit.CredentialPool,
	budget *ratelimit.BudgetTracker,
) *BulkService {
	return &BulkService{
		jobs:      jobs,
		rollback:  rollback,
		orch:      orch,
		queueRepo: queueRepo,
		worker:    worker,
		client:    client,
		pool:      pool,
		budget:    budget,
		running:   make(map[uint]bool),
	}
}

// StartJob opens a job and pre-allocates its slot ledger
func (s *BulkService) StartJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	return s.jobs.Open(ctx, job)
}

// GetProgress returns a job with its slot ledger
func (s *BulkService) GetProgress(ctx context.Context, ownerID, jobID uint) (*models.Job, []models.Slot, error) {
	job, err := s.jobs.Get(ctx, ownerID, jobID)
	if err != nil {
		return nil, nil, err
	}
	slots, err := s.jobs.Slots(ctx, ownerID, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, slots, nil
}

// ListJobs returns an owner's jobs
func (s *BulkService) ListJobs(ctx context.Context, ownerID uint, opts *models.ListOptions) ([]models.Job, error) {
	return s.jobs.List(ctx, ownerID, opts)
}

// QueueStatus lists an owner's deferred requests
func (s *BulkService) QueueStatus(ctx context.Context, ownerID uint, opts *models.ListOptions) ([]models.QueuedRequest, error) {
	return s.queueRepo.ListByOwner(ctx, ownerID, opts)
}

// EnqueueDeferred parks a remote call payload in the deferred queue until
// notBefore and returns the queue request ID. A zero notBefore means the next
// tick may take it.
func (s *BulkService) EnqueueDeferred(ctx context.Context, ownerID uint, accountID string, payload json.RawMessage, notBefore time.Time) (string, error) {
	return s.worker.Enqueue(ctx, ownerID, accountID, payload, notBefore, 0)
}

// RunBulkCreate drives one creation attempt for a job. Reconciliation against
// the remote platform happens first, so a re-run after a crash or partial
// failure attempts only the missing pairs. A job already completed returns its
// snapshot without any remote call.
func (s *BulkService) RunBulkCreate(ctx context.Context, ownerID, jobID uint, opts RunOptions) (RunResult, error) {
	job, err := s.jobs.Get(ctx, ownerID, jobID)
	if err != nil {
		return RunResult{}, err
	}

	if job.Status == models.JobStatusCompleted {
		return snapshot(job), nil
	}
	if job.Status.IsTerminal() {
		return snapshot(job), fmt.Errorf("job %d is %s and cannot run", job.ID, job.Status)
	}

	if !s.lockJob(job.ID) {
		return RunResult{}, ErrJobRunning
	}
	defer s.unlockJob(job.ID)

	if job.Status == models.JobStatusPending {
		if err := s.jobs.MarkStatus(ctx, job.ID, models.JobStatusInProgress, ""); err != nil {
			return RunResult{}, err
		}
		job.Status = models.JobStatusInProgress
	}

	// Remote truth first: what actually survives under the campaign
	recon, err := s.jobs.Reconcile(ctx, job)
	if err != nil {
		return RunResult{}, err
	}
	if recon.ParentMissing {
		result, created, err := s.ensureCampaign(ctx, job)
		if err != nil || !created {
			return result, err
		}
	}
	if recon.Remaining == 0 {
		if err := s.jobs.MarkStatus(ctx, job.ID, models.JobStatusCompleted, ""); err != nil {
			return RunResult{}, err
		}
		job.Status = models.JobStatusCompleted
		return snapshot(job), nil
	}

	slots, err := s.jobs.PendingChildren(ctx, job.ID, recon.Remaining)
	if err != nil {
		return RunResult{}, err
	}
	pairs := make([]orchestrator.Pair, 0, len(slots))
	for _, slot := range slots {
		pairs = append(pairs, orchestrator.Pair{SlotNumber: slot.SlotNumber, Label: slot.Label})
	}

	orchResult, err := s.orch.CreatePairs(ctx, job, job.RemoteParentID, pairs, orchestrator.Options{Bulk: opts.Bulk})
	if err != nil {
		return RunResult{}, err
	}

	worst := s.applyOutcomes(ctx, job, orchResult.Outcomes)

	result := snapshot(job)
	result.Attempted = orchResult.Requested
	result.SuccessRate = orchResult.SuccessRate
	result.Deferred = orchResult.Deferred

	return s.settleRun(ctx, job, result, orchResult, worst)
}

// Rollback compensates a job on request, deleting everything it created
func (s *BulkService) Rollback(ctx context.Context, ownerID, jobID uint, reason string) (RollbackResult, error) {
	job, err := s.jobs.Get(ctx, ownerID, jobID)
	if err != nil {
		return RollbackResult{}, err
	}
	if job.Status == models.JobStatusRolledBack {
		return RollbackResult{}, fmt.Errorf("job %d is already rolled back", job.ID)
	}
	if reason == "" {
		reason = "rollback requested by owner"
	}
	return s.rollback.Execute(ctx, job, reason)
}

// ExecuteDeferred is the queue executor: it re-plays one deferred pair. The
// worker owns classification and requeueing of the returned error.
func (s *BulkService) ExecuteDeferred(ctx context.Context, req *models.QueuedRequest) error {
	var payload orchestrator.PairPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return &platform.APIError{StatusCode: 400, Message: fmt.Sprintf("undecodable pair payload: %v", err)}
	}

	job, err := s.jobs.Get(ctx, models.AdminID, payload.JobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		// The job resolved while this pair sat in the queue; nothing to do
		logger.Debugf("dropping deferred pair %d of %s job %d", payload.SlotNumber, job.Status, job.ID)
		return nil
	}

	// Re-claim the slot before touching the platform. A slot that resolved in
	// the meantime refuses the claim, so a replay can never duplicate a pair
	// another run already created.
	claimed, err := s.jobs.RecordDeferred(ctx, job, payload.SlotNumber)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Debugf("dropping deferred pair %d of job %d, slot already resolved", payload.SlotNumber, job.ID)
		return nil
	}

	pair := orchestrator.Pair{SlotNumber: payload.SlotNumber, Label: payload.Label}
	outcome, execErr := s.orch.ExecutePair(ctx, job, payload.CampaignID, pair)
	if execErr != nil {
		// The slot stays deferred while the queue keeps the request; it goes
		// back to failed only when the queue is about to drop it for good, so
		// the next creation run picks it up again.
		class := platform.Classify(execErr)
		if class == platform.ClassPermanent || req.Attempts+1 >= req.MaxAttempts {
			if recErr := s.jobs.RecordFailed(ctx, job, models.SlotKindChild, pair.SlotNumber, execErr.Error()); recErr != nil {
				logger.Errorf("failed to record deferred pair failure: %v", recErr)
			}
		}
		return execErr
	}

	if err := s.jobs.RecordCreated(ctx, job, models.SlotKindChild, pair.SlotNumber, outcome.ChildID); err != nil {
		// The slot was resolved between the claim and the create: the pair
		// just made is surplus and must not survive remotely. Deleting the
		// pair parent cascades to its child.
		logger.WarnWithFields("deferred pair lost its slot, deleting surplus pair", map[string]interface{}{
			"job_id":      job.ID,
			"slot_number": pair.SlotNumber,
			"parent_id":   outcome.ParentID,
		})
		if delErr := s.client.DeleteEntity(ctx, outcome.ParentID); delErr != nil && !errors.Is(delErr, platform.ErrNotFound) {
			return fmt.Errorf("failed to delete surplus pair %s: %w", outcome.ParentID, delErr)
		}
		return nil
	}
	if job.ChildrenCreated >= job.RequestedChildren {
		if err := s.jobs.MarkStatus(ctx, job.ID, models.JobStatusCompleted, ""); err != nil {
			return err
		}
		logger.InfoWithFields("job completed from deferred queue", map[string]interface{}{
			"job_id":   job.ID,
			"children": job.ChildrenCreated,
		})
	}
	return nil
}

// ensureCampaign creates the job-level campaign when it does not exist. The
// bool reports whether the run can continue; a false with nil error means the
// attempt was absorbed as a retry verdict carried in the result.
func (s *BulkService) ensureCampaign(ctx context.Context, job *models.Job) (RunResult, bool, error) {
	if decision := s.budget.CheckAndConsume(job.OwnerID, job.AccountID); !decision.Allowed {
		return snapshot(job), false, fmt.Errorf("rate budget exhausted for account %s until %s", job.AccountID, decision.ResetAt)
	}
	cred, ok := s.pool.Acquire(ctx)
	if !ok {
		return snapshot(job), false, fmt.Errorf("credential pool saturated")
	}

	entity, err := s.client.CreateEntity(ctx, platform.KindCampaign, "", map[string]interface{}{
		"name": fmt.Sprintf("%s-campaign", job.Name),
	})
	if relErr := s.pool.Release(ctx, cred, 1); relErr != nil {
		logger.Errorf("failed to record credential usage: %v", relErr)
	}
	s.budget.Observe(job.OwnerID, job.AccountID, s.client.Usage())

	if err != nil {
		if recErr := s.jobs.RecordFailed(ctx, job, models.SlotKindParent, 1, err.Error()); recErr != nil {
			logger.Errorf("failed to record campaign failure: %v", recErr)
		}
		return s.failRun(ctx, job, platform.Classify(err), fmt.Sprintf("campaign creation failed: %v", err))
	}

	if err := s.jobs.RecordCreated(ctx, job, models.SlotKindParent, 1, entity.ID); err != nil {
		return RunResult{}, false, err
	}
	logger.InfoWithFields("created campaign", map[string]interface{}{
		"job_id":      job.ID,
		"campaign_id": entity.ID,
	})
	return RunResult{}, true, nil
}

// settleRun turns this run's outcomes into the job's next state
func (s *BulkService) settleRun(ctx context.Context, job *models.Job, result RunResult, orchResult orchestrator.Result, worst platform.ErrorClass) (RunResult, error) {
	remaining := job.RequestedChildren - job.ChildrenCreated
	if remaining <= 0 {
		if err := s.jobs.MarkStatus(ctx, job.ID, models.JobStatusCompleted, ""); err != nil {
			return result, err
		}
		result.Status = models.JobStatusCompleted
		return result, nil
	}

	failed := orchResult.Requested - orchResult.Succeeded - orchResult.Deferred
	if failed == 0 {
		// Everything not created is deferred; the queue finishes the job
		result.Status = models.JobStatusInProgress
		return result, nil
	}

	failResult, _, err := s.failRun(ctx, job, worst, fmt.Sprintf("%d of %d pairs failed", failed, orchResult.Requested))
	if err != nil {
		return result, err
	}
	result.Status = failResult.Status
	result.Decision = failResult.Decision
	result.Rollback = failResult.Rollback
	result.CreatedParents = failResult.CreatedParents
	result.CreatedChildren = failResult.CreatedChildren
	return result, nil
}

// failRun records a failed attempt, asks for the verdict and applies it
func (s *BulkService) failRun(ctx context.Context, job *models.Job, class platform.ErrorClass, cause string) (RunResult, bool, error) {
	remaining := job.RequestedChildren - job.ChildrenCreated
	if remaining < 0 {
		remaining = 0
	}
	decision, err := s.jobs.HandleFailure(ctx, job, class, cause, remaining)
	if err != nil {
		return RunResult{}, false, err
	}

	result := snapshot(job)
	result.Decision = &decision

	if decision.Action == ActionRollback {
		rb, rbErr := s.rollback.Execute(ctx, job, decision.Reason)
		result.Rollback = &rb
		if rbErr != nil {
			result.Status = models.JobStatusFailed
			return result, false, nil
		}
		// Pick up the post-rollback status and counters; deletion failures
		// leave surviving entities counted
		reloaded, err := s.jobs.Get(ctx, models.AdminID, job.ID)
		if err != nil {
			return result, false, err
		}
		*job = *reloaded
		result = snapshot(job)
		result.Decision = &decision
		result.Rollback = &rb
		return result, false, nil
	}

	result.Status = models.JobStatusInProgress
	return result, false, nil
}

// applyOutcomes writes pair outcomes to the slot ledger and returns the worst
// error class seen, permanent outranking quota outranking transient
func (s *BulkService) applyOutcomes(ctx context.Context, job *models.Job, outcomes []orchestrator.PairOutcome) platform.ErrorClass {
	worst := platform.ClassTransient
	for _, out := range outcomes {
		switch {
		case out.Succeeded():
			if err := s.jobs.RecordCreated(ctx, job, models.SlotKindChild, out.SlotNumber, out.ChildID); err != nil {
				logger.Errorf("failed to record created pair %d of job %d: %v", out.SlotNumber, job.ID, err)
			}
		case out.Deferred:
			// The queued request owns the slot until it resolves; creation
			// runs skip deferred slots so a resume cannot race the queue
			if _, err := s.jobs.RecordDeferred(ctx, job, out.SlotNumber); err != nil {
				logger.Errorf("failed to mark pair %d of job %d deferred: %v", out.SlotNumber, job.ID, err)
			}
		default:
			if err := s.jobs.RecordFailed(ctx, job, models.SlotKindChild, out.SlotNumber, out.Error); err != nil {
				logger.Errorf("failed to record failed pair %d of job %d: %v", out.SlotNumber, job.ID, err)
			}
			if classRank(out.Class) > classRank(worst) {
				worst = out.Class
			}
		}
	}
	return worst
}

func classRank(c platform.ErrorClass) int {
	switch c {
	case platform.ClassPermanent:
		return 2
	case platform.ClassQuota:
		return 1
	default:
		return 0
	}
}

func snapshot(job *models.Job) RunResult {
	return RunResult{
		JobID:  job.ID,
		Status: job.Status,
		// Surviving pair parents mirror surviving children by the orphan rule
		CreatedParents:  job.ChildrenCreated,
		CreatedChildren: job.ChildrenCreated,
	}
}

func (s *BulkService) lockJob(id uint) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running[id] {
		return false
	}
	s.running[id] = true
	return true
}

func (s *BulkService) unlockJob(id uint) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	delete(s.running, id)
}
