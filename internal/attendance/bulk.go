package attendance

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacksonlee411/college-attendance-desk/pkg/portalerr"
)

const DefaultBatchSize = 10

// ProgressFunc receives human-readable progress lines. done is set on the
// final line of a job.
type ProgressFunc func(msg string, done bool)

type BulkUpdater struct {
	backend   Backend
	cache     Cache
	logger    *zap.Logger
	batchSize int
}

func NewBulkUpdater(backend Backend, cache Cache, logger *zap.Logger, batchSize int) *BulkUpdater {
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BulkUpdater{backend: backend, cache: cache, logger: logger, batchSize: batchSize}
}

// ValidateItems rejects the whole set if any value is outside [0, workingDays].
// A workingDays of zero means the upper bound is unknown.
func ValidateItems(items []Item, workingDays int) error {
	for _, it := range items {
		if it.StudentID == "" {
			return portalerr.NewValidation("student_id", "student id is required")
		}
		if it.Value < 0 {
			return portalerr.NewValidation("days_present", fmt.Sprintf("student %s: days present cannot be negative", it.StudentID))
		}
		if workingDays > 0 && it.Value > workingDays {
			return portalerr.NewValidation("days_present", fmt.Sprintf("student %s: days present cannot exceed %d working days", it.StudentID, workingDays))
		}
	}
	return nil
}

// Batches splits items into consecutive chunks of at most size.
func Batches(items []Item, size int) [][]Item {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]Item
	for i := 0; i < len(items); i += size {
		j := min(i+size, len(items))
		out = append(out, items[i:j])
	}
	return out
}

// Run commits items for scope. Validation is all-or-nothing and happens before
// any request. Batches run one after another with their items in parallel; an
// item failure is recorded in its outcome and never returned.
func (b *BulkUpdater) Run(ctx context.Context, scope FilterSet, workingDays int, items []Item, progress ProgressFunc) (BulkResult, error) {
	if progress == nil {
		progress = func(string, bool) {}
	}
	if err := ValidateItems(items, workingDays); err != nil {
		return BulkResult{}, err
	}
	if len(items) == 0 {
		return BulkResult{}, nil
	}

	res := BulkResult{
		JobID:    newJobID(),
		Total:    len(items),
		Outcomes: make([]ItemOutcome, len(items)),
	}
	log := b.logger.With(zap.String("job_id", res.JobID), zap.String("key", scope.Key()))

	offset := 0
	for _, batch := range Batches(items, b.batchSize) {
		progress(fmt.Sprintf("Updating %d-%d of %d students...", offset+1, offset+len(batch), res.Total), false)

		var g errgroup.Group
		for i, it := range batch {
			idx := offset + i
			g.Go(func() error {
				confirmed, err := b.backend.UpdateStudentAttendance(ctx, it.StudentID, scope.AcademicYear, scope.Month, it.Value)
				if err != nil {
					log.Error("attendance: update failed", zap.String("student_id", it.StudentID), zap.Error(err))
					res.Outcomes[idx] = ItemOutcome{StudentID: it.StudentID, Err: err}
					return nil
				}
				res.Outcomes[idx] = ItemOutcome{StudentID: it.StudentID, Success: true, Value: confirmed}
				return nil
			})
		}
		_ = g.Wait()
		offset += len(batch)
	}

	for _, o := range res.Outcomes {
		if o.Success {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	b.cache.Invalidate(scope.Key())

	if res.Failed == 0 {
		progress(fmt.Sprintf("Successfully updated %d students", res.Succeeded), true)
	} else {
		progress(fmt.Sprintf("Updated %d of %d students (%d failed)", res.Succeeded, res.Total, res.Failed), true)
	}
	log.Info("attendance: bulk update finished", zap.Int("succeeded", res.Succeeded), zap.Int("failed", res.Failed))
	return res, nil
}

func newJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
