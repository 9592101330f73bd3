// Package reconcile rebuilds every principal's claim set from the full membership collection.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luqma-backoffice/backend/internal/claims"
	"github.com/luqma-backoffice/backend/internal/identity"
	"github.com/luqma-backoffice/backend/internal/members"
	"github.com/luqma-backoffice/backend/internal/metrics"
	"github.com/luqma-backoffice/backend/internal/models"
)

// DefaultConcurrency is the number of principals reconciled in parallel.
const DefaultConcurrency = 8

// Options controls one run.
type Options struct {
	// DryRun computes and compares without writing.
	DryRun bool
	// Concurrency bounds parallel principals; zero means DefaultConcurrency.
	Concurrency int
	// Archive uploads the report when an archiver is configured.
	Archive bool
}

// Failure is a principal that could not be reconciled.
type Failure struct {
	UID   string `json:"uid"`
	Error string `json:"error"`
}

// PrincipalResult is the outcome for one principal.
type PrincipalResult struct {
	UID         string   `json:"uid"`
	BusinessIDs []string `json:"businessIds"`
	Roles       []string `json:"roles"`
	// Drifted is set when the stored claims differed from the computed set.
	Drifted bool   `json:"drifted"`
	Error   string `json:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DryRun     bool      `json:"dryRun"`
	// Scanned is the number of membership records read.
	Scanned int `json:"scanned"`
	// Principals is the number of distinct uids found.
	Principals int `json:"principals"`
	// Updated counts principals reconciled without error.
	Updated int `json:"updated"`
	// Drifted counts principals whose claims were (or, in a dry run, would be) rewritten.
	Drifted    int               `json:"drifted"`
	Failed     []Failure         `json:"failed"`
	Results    []PrincipalResult `json:"results"`
	ArchiveKey string            `json:"archiveKey,omitempty"`
}

// Result returns the per-principal outcome for uid.
func (r *Report) Result(uid string) (PrincipalResult, bool) {
	for _, res := range r.Results {
		if res.UID == uid {
			return res, true
		}
	}
	return PrincipalResult{}, false
}

// Archiver stores a finished report.
type Archiver interface {
	ArchiveReport(ctx context.Context, report *Report) (string, error)
}

// Job recomputes claims from membership records and overwrites drifted principals.
// It never writes membership records, never revokes sessions and never notifies clients.
// Records written after the scan are picked up by the next run.
type Job struct {
	store    members.Store
	sync     *claims.Synchronizer
	archiver Archiver
	logger   *zap.Logger
	now      func() time.Time
}

// NewJob creates a reconciliation job. archiver may be nil.
func NewJob(store members.Store, sync *claims.Synchronizer, archiver Archiver, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{store: store, sync: sync, archiver: archiver, logger: logger, now: time.Now}
}

// Run scans every membership record and reconciles each principal. Per-principal failures are
// collected in the report and do not stop the run; a failed scan or cancelled context does.
func (j *Job) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{StartedAt: j.now().UTC(), DryRun: opts.DryRun, Failed: []Failure{}}

	byUID := make(map[string][]models.Membership)
	err := j.store.Scan(ctx, func(m models.Membership) error {
		report.Scanned++
		byUID[m.UID] = append(byUID[m.UID], m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan memberships: %w", err)
	}
	uids := make([]string, 0, len(byUID))
	for uid := range byUID {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	report.Principals = len(uids)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	results := make([]PrincipalResult, len(uids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, uid := range uids {
		i, uid := i, uid
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], _ = j.reconcile(gctx, uid, byUID[uid], opts.DryRun)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	for _, res := range results {
		if res.Error != "" {
			report.Failed = append(report.Failed, Failure{UID: res.UID, Error: res.Error})
			continue
		}
		report.Updated++
		if res.Drifted {
			report.Drifted++
		}
	}
	report.Results = results
	report.FinishedAt = j.now().UTC()
	metrics.ReconcileFinished(report.FinishedAt)

	if opts.Archive && j.archiver != nil {
		key, err := j.archiver.ArchiveReport(ctx, report)
		if err != nil {
			j.logger.Warn("reconcile report not archived", zap.Error(err))
		} else {
			report.ArchiveKey = key
		}
	}

	j.logger.Info("reconciliation finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("principals", report.Principals),
		zap.Int("updated", report.Updated),
		zap.Int("drifted", report.Drifted),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// ReconcilePrincipal recomputes and overwrites the claims of a single uid from its records.
func (j *Job) ReconcilePrincipal(ctx context.Context, uid string) (PrincipalResult, error) {
	records, err := j.store.ListByUID(ctx, uid)
	if err != nil {
		return PrincipalResult{UID: uid, Error: err.Error()}, fmt.Errorf("list memberships of %s: %w", uid, err)
	}
	return j.reconcile(ctx, uid, records, false)
}

// reconcile returns the outcome for uid; a non-nil error is also recorded in the result.
func (j *Job) reconcile(ctx context.Context, uid string, records []models.Membership, dryRun bool) (PrincipalResult, error) {
	want := claims.Compute(records)
	res := PrincipalResult{UID: uid, BusinessIDs: want.BusinessIDs, Roles: want.Roles}

	var err error
	if dryRun {
		res.Drifted, err = j.sync.Drifted(ctx, uid, want)
	} else {
		res.Drifted, err = j.sync.Overwrite(ctx, uid, want)
	}

	switch {
	case err == nil:
		outcome := "unchanged"
		if res.Drifted {
			outcome = "updated"
		}
		metrics.ReconcileOutcome(outcome)
	case errors.Is(err, identity.ErrPrincipalNotFound) && want.Empty():
		// Purged principal whose records are all removed: nothing left to grant.
		metrics.ReconcileOutcome("skipped")
		err = nil
	default:
		metrics.ReconcileOutcome("failed")
		res.Error = err.Error()
		j.logger.Warn("principal not reconciled", zap.String("uid", uid), zap.Error(err))
	}
	return res, err
}

// Inspection compares a principal's stored claims with the set its records imply.
type Inspection struct {
	UID      string              `json:"uid"`
	Stored   claims.Set          `json:"stored"`
	Computed claims.Set          `json:"computed"`
	InSync   bool                `json:"inSync"`
	Records  []models.Membership `json:"records"`
}

// Inspect reports drift for uid without writing anything.
func (j *Job) Inspect(ctx context.Context, uid string) (*Inspection, error) {
	records, err := j.store.ListByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("list memberships of %s: %w", uid, err)
	}
	stored, err := j.sync.Current(ctx, uid)
	if err != nil {
		return nil, err
	}
	computed := claims.Compute(records)
	return &Inspection{
		UID:      uid,
		Stored:   stored,
		Computed: computed,
		InSync:   stored.Equal(computed),
		Records:  records,
	}, nil
}
