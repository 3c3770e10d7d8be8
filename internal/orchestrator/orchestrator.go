// Package orchestrator executes parent/child pair creation against the
// platform's batch endpoint, guaranteeing that no orphaned pair parent
// survives a failed pair.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/logger"
	"github.com/promolab/blast/internal/platform"
	"github.com/promolab/blast/internal/queue"
	"github.com/promolab/blast/internal/ratelimit"
)

// Orchestrator defaults
const (
	// DefaultBatchSize is the number of pairs packed into one bulk batch call.
	// Two operations per pair keeps a full batch under the platform cap.
	DefaultBatchSize = 20
	// DefaultQualityThreshold is the bulk success rate below which the
	// orchestrator falls back to atomic-pair mode
	DefaultQualityThreshold = 0.9
	// DefaultBulkConcurrency bounds parallel bulk batch calls for one job
	DefaultBulkConcurrency = 4
)

// Options selects the batching strategy for one CreatePairs run
type Options struct {
	// Bulk opts in to the high-throughput mode: many pairs per batch call
	Bulk bool
	// BatchSize is the pairs-per-call cap in bulk mode
	BatchSize int
	// QualityThreshold is the bulk success rate below which the run falls
	// back to atomic-pair mode for the remaining pairs
	QualityThreshold float64
	// Concurrency bounds parallel batch calls in bulk mode
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 || o.BatchSize*2 > platform.MaxBatchOperations {
		o.BatchSize = DefaultBatchSize
	}
	if o.QualityThreshold <= 0 || o.QualityThreshold > 1 {
		o.QualityThreshold = DefaultQualityThreshold
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultBulkConcurrency
	}
	return o
}

// Pair describes one parent/child unit to create
type Pair struct {
	// SlotNumber is the stable 1-based ledger position of the pair
	SlotNumber int
	// Label is the deterministic base name for the pair's remote entities
	Label string
	// ParentFields and ChildFields are the opaque domain payloads
	ParentFields map[string]interface{}
	ChildFields  map[string]interface{}
}

// PairOutcome is the result of one pair attempt. Failure is data here, not an
// error: the caller aggregates outcomes into counters and a success rate.
type PairOutcome struct {
	SlotNumber int    `json:"slot_number"`
	ParentID   string `json:"parent_id,omitempty"` // surviving pair parent
	ChildID    string `json:"child_id,omitempty"`  // surviving pair child
	Deferred   bool   `json:"deferred,omitempty"`
	Error      string `json:"error,omitempty"`
	// Class buckets the failure for the caller's retry-vs-rollback decision
	Class platform.ErrorClass `json:"-"`
}

// Succeeded reports whether the pair survives remotely
func (o PairOutcome) Succeeded() bool {
	return o.ChildID != "" && !o.Deferred
}

// Result aggregates a CreatePairs run
type Result struct {
	Outcomes  []PairOutcome `json:"outcomes"`
	Requested int           `json:"requested"`
	Succeeded int           `json:"succeeded"`
	Deferred  int           `json:"deferred"`
	// SuccessRate is succeeded over requested, as a percentage
	SuccessRate float64 `json:"success_rate"`
}

// PairPayload is the queue payload for a pair that had to be deferred
type PairPayload struct {
	JobID      uint   `json:"job_id"`
	CampaignID string `json:"campaign_id"`
	SlotNumber int    `json:"slot_number"`
	Label      string `json:"label"`
}

// Orchestrator coordinates pair creation under the shared rate budget
type Orchestrator struct {
	client platform.Client
	pool   *ratelimit.CredentialPool
	budget *ratelimit.BudgetTracker
	queue  *queue.Worker
}

// New creates an orchestrator
func New(client platform.Client, pool *ratelimit.CredentialPool, budget *ratelimit.BudgetTracker, q *queue.Worker) *Orchestrator {
	return &Orchestrator{client: client, pool: pool, budget: budget, queue: q}
}

// CreatePairs creates the given pairs under campaignID. Partial failure is a
// normal, reported outcome; the returned error covers only invalid input.
func (o *Orchestrator) CreatePairs(ctx context.Context, job *models.Job, campaignID string, pairs []Pair, opts Options) (Result, error) {
	if campaignID == "" {
		return Result{}, fmt.Errorf("campaign ID is required")
	}
	opts = opts.withDefaults()

	result := Result{Requested: len(pairs)}
	if len(pairs) == 0 {
		return result, nil
	}

	remaining := pairs
	if opts.Bulk {
		outcomes := o.runBulk(ctx, job, campaignID, pairs, opts)
		succeeded := countSucceeded(outcomes)
		rate := float64(succeeded) / float64(len(pairs))

		if rate >= opts.QualityThreshold || allSettled(outcomes) {
			result.Outcomes = outcomes
			finalize(&result)
			return result, nil
		}

		// Quality too low: keep the successes and the deferrals, re-run the
		// failed pairs one batch call per pair.
		logger.WarnWithFields("bulk success rate below threshold, falling back to atomic pairs", map[string]interface{}{
			"job_id":    job.ID,
			"rate":      rate,
			"threshold": opts.QualityThreshold,
		})
		var settled []PairOutcome
		var retry []Pair
		for _, out := range outcomes {
			if out.Succeeded() || out.Deferred {
				settled = append(settled, out)
				continue
			}
			retry = append(retry, pairByNumber(pairs, out.SlotNumber))
		}
		result.Outcomes = settled
		remaining = retry
	}

	for i, pair := range remaining {
		outcome, deferRest := o.runAtomicPair(ctx, job, campaignID, pair)
		result.Outcomes = append(result.Outcomes, outcome)
		if deferRest {
			// Pool exhausted: push every remaining pair to the deferred queue
			// instead of blocking.
			for _, p := range remaining[i+1:] {
				result.Outcomes = append(result.Outcomes, o.deferPair(ctx, job, campaignID, p, time.Time{}))
			}
			break
		}
	}

	finalize(&result)
	return result, nil
}

// runAtomicPair submits one pair as its own two-operation batch call. The
// second return is true when the credential pool is saturated and the caller
// should defer everything still pending.
func (o *Orchestrator) runAtomicPair(ctx context.Context, job *models.Job, campaignID string, pair Pair) (PairOutcome, bool) {
	if decision := o.budget.CheckAndConsume(job.OwnerID, job.AccountID); !decision.Allowed {
		return o.deferPair(ctx, job, campaignID, pair, decision.ResetAt), false
	}

	cred, ok := o.pool.Acquire(ctx)
	if !ok {
		return o.deferPair(ctx, job, campaignID, pair, time.Time{}), true
	}

	outcome, _ := o.submitPair(ctx, job, campaignID, pair, cred)
	return outcome, false
}

// ExecutePair runs one pair as a single two-operation batch call with no
// deferral: the caller owns the retry policy and must already have consumed
// the rate budget. The returned error is the underlying cause when the pair
// did not survive, suitable for classification.
func (o *Orchestrator) ExecutePair(ctx context.Context, job *models.Job, campaignID string, pair Pair) (PairOutcome, error) {
	cred, ok := o.pool.Acquire(ctx)
	if !ok {
		return PairOutcome{SlotNumber: pair.SlotNumber}, errors.New("credential pool saturated")
	}
	return o.submitPair(ctx, job, campaignID, pair, cred)
}

// submitPair performs the batch call for one pair and sweeps the orphan when
// only the pair parent survived. The error return is the raw cause, nil on
// success.
func (o *Orchestrator) submitPair(ctx context.Context, job *models.Job, campaignID string, pair Pair, cred *models.Credential) (PairOutcome, error) {
	parentName := pair.Label + "-adset"
	ops := []platform.Operation{
		platform.NewCreateParentOp(parentName, campaignID, pair.ParentFields),
		platform.NewCreateChildOp(pair.Label+"-ad", platform.ResultRef(parentName), pair.ChildFields),
	}

	results, err := o.client.BatchSubmit(ctx, ops)
	o.settleCall(ctx, job, cred)

	outcome := PairOutcome{SlotNumber: pair.SlotNumber}
	if err != nil {
		outcome.Error = err.Error()
		outcome.Class = platform.Classify(err)
		return outcome, err
	}

	parentRes, childRes := results[0], results[1]
	switch {
	case parentRes.OK() && childRes.OK():
		outcome.ParentID = parentRes.ID
		outcome.ChildID = childRes.ID
		return outcome, nil

	case parentRes.OK():
		// The pair parent exists but its child does not: an orphan. Delete it
		// immediately so surviving parents always equal surviving children.
		o.deleteOrphan(ctx, job, parentRes.ID)
		err = childRes.Err()
		outcome.Error = fmt.Sprintf("child failed: %v", err)
		outcome.Class = platform.Classify(err)
		return outcome, err

	default:
		err = parentRes.Err()
		outcome.Error = fmt.Sprintf("parent failed: %v", err)
		outcome.Class = platform.Classify(err)
		return outcome, err
	}
}

// runBulk packs pairs into large batch calls executed in parallel, then
// sweeps orphans per batch
func (o *Orchestrator) runBulk(ctx context.Context, job *models.Job, campaignID string, pairs []Pair, opts Options) []PairOutcome {
	chunks := chunkPairs(pairs, opts.BatchSize)
	outcomes := make([][]PairOutcome, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			outcomes[i] = o.runBulkBatch(gctx, job, campaignID, chunk)
			return nil
		})
	}
	// Workers only report through their outcome slice
	_ = g.Wait()

	var flat []PairOutcome
	for _, batch := range outcomes {
		flat = append(flat, batch...)
	}
	return flat
}

func (o *Orchestrator) runBulkBatch(ctx context.Context, job *models.Job, campaignID string, pairs []Pair) []PairOutcome {
	if decision := o.budget.CheckAndConsume(job.OwnerID, job.AccountID); !decision.Allowed {
		return o.deferAll(ctx, job, campaignID, pairs, decision.ResetAt)
	}

	cred, ok := o.pool.Acquire(ctx)
	if !ok {
		return o.deferAll(ctx, job, campaignID, pairs, time.Time{})
	}

	ops := make([]platform.Operation, 0, len(pairs)*2)
	for _, pair := range pairs {
		parentName := pair.Label + "-adset"
		ops = append(ops,
			platform.NewCreateParentOp(parentName, campaignID, pair.ParentFields),
			platform.NewCreateChildOp(pair.Label+"-ad", platform.ResultRef(parentName), pair.ChildFields),
		)
	}

	results, err := o.client.BatchSubmit(ctx, ops)
	o.settleCall(ctx, job, cred)

	outcomes := make([]PairOutcome, 0, len(pairs))
	if err != nil {
		class := platform.Classify(err)
		for _, pair := range pairs {
			outcomes = append(outcomes, PairOutcome{SlotNumber: pair.SlotNumber, Error: err.Error(), Class: class})
		}
		return outcomes
	}

	for i, pair := range pairs {
		parentRes, childRes := results[i*2], results[i*2+1]
		outcome := PairOutcome{SlotNumber: pair.SlotNumber}
		switch {
		case parentRes.OK() && childRes.OK():
			outcome.ParentID = parentRes.ID
			outcome.ChildID = childRes.ID
		case parentRes.OK():
			o.deleteOrphan(ctx, job, parentRes.ID)
			outcome.Error = fmt.Sprintf("child failed: %v", childRes.Err())
			outcome.Class = platform.Classify(childRes.Err())
		default:
			outcome.Error = fmt.Sprintf("parent failed: %v", parentRes.Err())
			outcome.Class = platform.Classify(parentRes.Err())
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// deleteOrphan removes a pair parent whose child failed. Already-gone is fine.
func (o *Orchestrator) deleteOrphan(ctx context.Context, job *models.Job, parentID string) {
	err := o.client.DeleteEntity(ctx, parentID)
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		// Deletion itself failing leaves a real orphan; surfaced loudly so an
		// operator can clean up.
		logger.ErrorWithFields("failed to delete orphaned pair parent", map[string]interface{}{
			"job_id":    job.ID,
			"parent_id": parentID,
			"error":     err.Error(),
		})
		return
	}
	logger.DebugWithFields("deleted orphaned pair parent", map[string]interface{}{
		"job_id":    job.ID,
		"parent_id": parentID,
	})
}

// settleCall records one spent platform call against the credential and feeds
// the budget tracker the usage metadata the platform reported
func (o *Orchestrator) settleCall(ctx context.Context, job *models.Job, cred *models.Credential) {
	if err := o.pool.Release(ctx, cred, 1); err != nil {
		logger.Errorf("failed to record credential usage: %v", err)
	}
	o.budget.Observe(job.OwnerID, job.AccountID, o.client.Usage())
}

func (o *Orchestrator) deferPair(ctx context.Context, job *models.Job, campaignID string, pair Pair, notBefore time.Time) PairOutcome {
	if notBefore.IsZero() {
		notBefore = time.Now().Add(queue.QuotaBackoff(0))
	}
	payload, err := json.Marshal(PairPayload{
		JobID:      job.ID,
		CampaignID: campaignID,
		SlotNumber: pair.SlotNumber,
		Label:      pair.Label,
	})
	if err != nil {
		return PairOutcome{SlotNumber: pair.SlotNumber, Error: err.Error()}
	}

	if _, err := o.queue.Enqueue(ctx, job.OwnerID, job.AccountID, payload, notBefore, 0); err != nil {
		logger.Errorf("failed to defer pair %d of job %d: %v", pair.SlotNumber, job.ID, err)
		return PairOutcome{SlotNumber: pair.SlotNumber, Error: err.Error()}
	}
	return PairOutcome{SlotNumber: pair.SlotNumber, Deferred: true}
}

func (o *Orchestrator) deferAll(ctx context.Context, job *models.Job, campaignID string, pairs []Pair, notBefore time.Time) []PairOutcome {
	outcomes := make([]PairOutcome, 0, len(pairs))
	for _, pair := range pairs {
		outcomes = append(outcomes, o.deferPair(ctx, job, campaignID, pair, notBefore))
	}
	return outcomes
}

func chunkPairs(pairs []Pair, size int) [][]Pair {
	var chunks [][]Pair
	for len(pairs) > size {
		chunks = append(chunks, pairs[:size])
		pairs = pairs[size:]
	}
	if len(pairs) > 0 {
		chunks = append(chunks, pairs)
	}
	return chunks
}

func countSucceeded(outcomes []PairOutcome) int {
	count := 0
	for _, o := range outcomes {
		if o.Succeeded() {
			count++
		}
	}
	return count
}

// allSettled reports whether no outcome is a retryable failure
func allSettled(outcomes []PairOutcome) bool {
	for _, o := range outcomes {
		if !o.Succeeded() && !o.Deferred {
			return false
		}
	}
	return true
}

func pairByNumber(pairs []Pair, slotNumber int) Pair {
	for _, p := range pairs {
		if p.SlotNumber == slotNumber {
			return p
		}
	}
	return Pair{SlotNumber: slotNumber}
}

func finalize(result *Result) {
	result.Succeeded = countSucceeded(result.Outcomes)
	for _, o := range result.Outcomes {
		if o.Deferred {
			result.Deferred++
		}
	}
	if result.Requested > 0 {
		result.SuccessRate = 100 * float64(result.Succeeded) / float64(result.Requested)
	}
}
