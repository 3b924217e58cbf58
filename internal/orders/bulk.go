package orders

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultBulkConcurrency bounds how many orders a bulk change updates at once.
const DefaultBulkConcurrency = 4

type BulkStatusChange struct {
	TenantID string
	OrderIDs []string
	Status   string
	Note     string
	SendNote bool
	ActorID  string
}

type BulkFailure struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type BulkResult struct {
	Total          int           `json:"total"`
	Succeeded      []string      `json:"succeeded"`
	Failed         []BulkFailure `json:"failed"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// BulkUpdateStatus applies UpdateStatus to every order independently,
// continuing past failures, and reports the outcome of each order in input
// order. Duplicate ids are processed once.
func (w *Workflow) BulkUpdateStatus(ctx context.Context, change BulkStatusChange, concurrency int) (*BulkResult, error) {
	ids := dedupe(change.OrderIDs)
	if len(ids) == 0 {
		return nil, validationError("no orders selected")
	}
	probe := StatusChange{Status: change.Status, Note: change.Note, SendNote: change.SendNote}
	if _, _, err := probe.validate(); err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = DefaultBulkConcurrency
	}

	errs := make([]error, len(ids))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			_, errs[i] = w.UpdateStatus(gctx, StatusChange{
				TenantID: change.TenantID,
				OrderID:  id,
				Status:   change.Status,
				Note:     change.Note,
				SendNote: change.SendNote,
				ActorID:  change.ActorID,
			})
			return nil
		})
	}
	g.Wait()

	result := &BulkResult{
		Total:          len(ids),
		Succeeded:      []string{},
		Failed:         []BulkFailure{},
		ProcessingTime: time.Since(start),
	}
	for i, id := range ids {
		if errs[i] == nil {
			result.Succeeded = append(result.Succeeded, id)
			continue
		}
		result.Failed = append(result.Failed, BulkFailure{
			OrderID: id,
			Reason:  Reason(errs[i]),
			Message: UserMessage(errs[i], "update order status"),
		})
	}

	w.logger.WithFields(logrus.Fields{
		"business_id": change.TenantID,
		"status":      change.Status,
		"total":       result.Total,
		"succeeded":   len(result.Succeeded),
		"failed":      len(result.Failed),
		"duration":    result.ProcessingTime.Milliseconds(),
	}).Info("Bulk status change completed")

	return result, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
