package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/asterion-health/platform/pkg/answers"
	"github.com/asterion-health/platform/pkg/common/logger"
	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/google/uuid"
)

// AnswerRecords is the durable answer tier surface the pass sweeps.
type AnswerRecords interface {
	List(ctx context.Context, subjectID *uuid.UUID) ([]answers.StoredSet, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

// ResponseRecords is the archive surface the pass sweeps.
type ResponseRecords interface {
	List(ctx context.Context, subjectID *uuid.UUID) ([]models.Response, error)
	Remove(ctx context.Context, responseID uuid.UUID) error
}

// Pass removes duplicate records left behind by racing writers and
// interrupted sessions. It only ever deletes redundant copies; a scope's
// last record is never touched, so a pass cannot lose answers.
type Pass struct {
	answers   AnswerRecords
	responses ResponseRecords
	tolerance time.Duration
}

func NewPass(answerRecords AnswerRecords, responseRecords ResponseRecords, tolerance time.Duration) *Pass {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Pass{answers: answerRecords, responses: responseRecords, tolerance: tolerance}
}

// Run sweeps one subject, or every subject when subjectID is nil. The
// pass is idempotent: running it again over a clean store reports zero
// issues.
func (p *Pass) Run(ctx context.Context, subjectID *uuid.UUID) (models.MaintenanceReport, error) {
	report := models.MaintenanceReport{}

	found, resolved, err := p.dedupAnswers(ctx, subjectID)
	if err != nil {
		return report, fmt.Errorf("reconcile answers: %w", err)
	}
	report.IssuesFound += found
	report.IssuesResolved += resolved

	found, resolved, err = p.dedupResponses(ctx, subjectID)
	if err != nil {
		return report, fmt.Errorf("reconcile responses: %w", err)
	}
	report.IssuesFound += found
	report.IssuesResolved += resolved

	if report.IssuesFound > 0 {
		logger.Log.WithFields(map[string]interface{}{
			"issues_found":    report.IssuesFound,
			"issues_resolved": report.IssuesResolved,
		}).Info("reconciliation pass resolved duplicates")
	}
	return report, nil
}

// dedupAnswers collapses duplicate answer records sharing one scope
// (subject, instrument, task binding). The survivor is the record with
// the most items, then the newest, then the highest identifier.
func (p *Pass) dedupAnswers(ctx context.Context, subjectID *uuid.UUID) (int, int, error) {
	records, err := p.answers.List(ctx, subjectID)
	if err != nil {
		return 0, 0, err
	}

	groups := make(map[string][]answers.StoredSet)
	for _, record := range records {
		groups[answerScope(record.Set)] = append(groups[answerScope(record.Set)], record)
	}

	found, resolved := 0, 0
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return betterAnswerRecord(group[i], group[j])
		})
		for _, loser := range group[1:] {
			found++
			if err := p.answers.Remove(ctx, loser.ID); err != nil {
				logger.Log.WithError(err).WithField("record_id", loser.ID).Warn("duplicate answer record not removed")
				continue
			}
			resolved++
		}
	}
	return found, resolved, nil
}

// dedupResponses enforces one archived response per task. Taskless
// legacy records count as duplicates of a task-bound record for the
// same scope when their completion times fall inside the tolerance
// window; the task-bound record always survives.
func (p *Pass) dedupResponses(ctx context.Context, subjectID *uuid.UUID) (int, int, error) {
	records, err := p.responses.List(ctx, subjectID)
	if err != nil {
		return 0, 0, err
	}

	found, resolved := 0, 0
	remove := func(resp models.Response) {
		found++
		if err := p.responses.Remove(ctx, resp.ID); err != nil {
			logger.Log.WithError(err).WithField("response_id", resp.ID).Warn("duplicate response not removed")
			return
		}
		resolved++
	}

	byTask := make(map[uuid.UUID][]models.Response)
	var taskless []models.Response
	for _, resp := range records {
		if resp.TaskID == uuid.Nil {
			taskless = append(taskless, resp)
			continue
		}
		byTask[resp.TaskID] = append(byTask[resp.TaskID], resp)
	}

	survivors := make([]models.Response, 0, len(byTask))
	for _, group := range byTask {
		sort.Slice(group, func(i, j int) bool {
			return betterResponse(group[i], group[j])
		})
		survivors = append(survivors, group[0])
		for _, loser := range group[1:] {
			remove(loser)
		}
	}

	// A taskless record loses to a task-bound survivor for the same
	// scope inside the tolerance window; the rest go on to be deduped
	// against each other.
	orphansByScope := make(map[string][]models.Response)
	for _, orphan := range taskless {
		shadowed := false
		for _, survivor := range survivors {
			if survivor.SubjectID == orphan.SubjectID &&
				strings.EqualFold(survivor.InstrumentID, orphan.InstrumentID) &&
				within(survivor.CompletedAt, orphan.CompletedAt, p.tolerance) {
				shadowed = true
				break
			}
		}
		if shadowed {
			remove(orphan)
			continue
		}
		scope := orphan.SubjectID.String() + "|" + strings.ToLower(orphan.InstrumentID)
		orphansByScope[scope] = append(orphansByScope[scope], orphan)
	}

	// Taskless records sharing a scope are duplicates of each other when
	// their completion times fall inside the tolerance window. The best
	// record of each cluster survives; a scope always keeps at least one.
	for _, group := range orphansByScope {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return betterResponse(group[i], group[j])
		})
		kept := []models.Response{group[0]}
		for _, orphan := range group[1:] {
			duplicate := false
			for _, keeper := range kept {
				if within(keeper.CompletedAt, orphan.CompletedAt, p.tolerance) {
					duplicate = true
					break
				}
			}
			if duplicate {
				remove(orphan)
			} else {
				kept = append(kept, orphan)
			}
		}
	}

	return found, resolved, nil
}

func answerScope(set models.AnswerSet) string {
	task := ""
	if set.TaskID != nil {
		task = set.TaskID.String()
	}
	return set.SubjectID.String() + "|" + strings.ToLower(set.InstrumentID) + "|" + task
}

func betterAnswerRecord(a, b answers.StoredSet) bool {
	if len(a.Set.Items) != len(b.Set.Items) {
		return len(a.Set.Items) > len(b.Set.Items)
	}
	if !a.Set.UpdatedAt.Equal(b.Set.UpdatedAt) {
		return a.Set.UpdatedAt.After(b.Set.UpdatedAt)
	}
	return a.ID.String() > b.ID.String()
}

func betterResponse(a, b models.Response) bool {
	if !a.CompletedAt.Equal(b.CompletedAt) {
		return a.CompletedAt.After(b.CompletedAt)
	}
	return a.ID.String() > b.ID.String()
}

func within(a, b time.Time, tolerance time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
