package enroll

import (
	"context"
	"log"
	"time"

	"github.com/open-course/opencourse-lms/internal/audit"
)

// DriftReport describes a cached aggregate that disagreed with
// recomputation from the enrollment set. Drift is corrected in place and
// logged; it is never surfaced as a failure of the triggering request.
type DriftReport struct {
	CourseID string     `json:"course_id"`
	Stored   Aggregates `json:"stored"`
	Actual   Aggregates `json:"actual"`
}

// Reconciler sweeps courses and rewrites any aggregate that has drifted
// from its source relation. It is the safety net for storage that cannot
// link the enrollment write and the aggregate write atomically.
type Reconciler struct {
	store  Store
	events audit.Recorder
}

func NewReconciler(store Store, events audit.Recorder) *Reconciler {
	return &Reconciler{store: store, events: events}
}

// ReconcileCourse recomputes one course's aggregates. The returned report
// is nil when the cache was already consistent.
func (r *Reconciler) ReconcileCourse(ctx context.Context, courseID string) (*DriftReport, error) {
	stored, actual, drifted, err := r.store.RecomputeAggregates(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !drifted {
		return nil, nil
	}
	rep := &DriftReport{CourseID: courseID, Stored: stored, Actual: actual}
	log.Printf("reconcile: aggregate drift corrected for course %s: stored=%d/%.2f actual=%d/%.2f",
		courseID, stored.TotalEnrollment, stored.AverageRating, actual.TotalEnrollment, actual.AverageRating)
	audit.Record(ctx, r.events, audit.EventDriftCorrected, courseID, rep)
	return rep, nil
}

// ReconcileAll sweeps every course and returns the drift it corrected.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]DriftReport, error) {
	ids, err := r.store.CourseIDs(ctx)
	if err != nil {
		return nil, err
	}
	var reports []DriftReport
	for _, id := range ids {
		rep, err := r.ReconcileCourse(ctx, id)
		if err != nil {
			log.Printf("reconcile: course %s: %v", id, err)
			continue
		}
		if rep != nil {
			reports = append(reports, *rep)
		}
	}
	return reports, nil
}

// Run sweeps on the given interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.ReconcileAll(ctx); err != nil {
				log.Printf("reconcile: sweep: %v", err)
			}
		}
	}
}
