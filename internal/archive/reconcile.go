package archive

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Report lists disagreements between the catalog and object storage.
type Report struct {
	// Dangling are catalogued partitions whose object is missing.
	Dangling []string `json:"dangling"`
	// Orphaned are archive objects no catalog entry points at.
	Orphaned []string  `json:"orphaned"`
	Entries  int       `json:"entries"`
	Objects  int       `json:"objects"`
	RunAt    time.Time `json:"runAt"`
}

// HasIssues reports whether anything disagrees.
func (r *Report) HasIssues() bool {
	return len(r.Dangling) > 0 || len(r.Orphaned) > 0
}

// Reconcile compares catalog entries with the objects under ObjectPrefix.
func (a *Archiver) Reconcile(ctx context.Context) (*Report, error) {
	report := &Report{
		Dangling: []string{},
		Orphaned: []string{},
		RunAt:    a.now(),
	}

	records, err := a.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: failed to list catalog: %w", err)
	}
	report.Entries = len(records)

	known := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		known[rec.ObjectPath] = struct{}{}
		exists, err := a.storage.Exists(ctx, rec.ObjectPath)
		if err != nil {
			return nil, fmt.Errorf("reconcile: failed to check %s: %w", rec.ObjectPath, err)
		}
		if !exists {
			report.Dangling = append(report.Dangling, rec.Partition)
		}
	}

	objects, err := a.storage.ListObjects(ctx, ObjectPrefix+"/")
	if err != nil {
		return nil, fmt.Errorf("reconcile: failed to list objects: %w", err)
	}
	report.Objects = len(objects)
	for _, obj := range objects {
		if _, ok := known[obj]; !ok && strings.HasSuffix(obj, ".sz") {
			report.Orphaned = append(report.Orphaned, obj)
		}
	}
	return report, nil
}

// ReconcileTask runs Reconcile and logs any disagreement. It suits
// retention.WithTask.
func (a *Archiver) ReconcileTask(ctx context.Context) error {
	report, err := a.Reconcile(ctx)
	if err != nil {
		return err
	}
	if report.HasIssues() {
		a.logger.Warn().
			Strs("dangling", report.Dangling).
			Strs("orphaned", report.Orphaned).
			Msg("archive catalog and object storage disagree")
	}
	return nil
}
