// Package findings reconciles the outcomes of completed runs against the
// finding history of their configuration.
package findings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/qualitygate/internal/metrics"
	"github.com/openctemio/qualitygate/pkg/domain/audit"
	"github.com/openctemio/qualitygate/pkg/domain/finding"
	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
	"github.com/openctemio/qualitygate/pkg/logger"
)

// Transactor runs a function inside one database transaction.
type Transactor interface {
	Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// RunSummary describes the completed run whose outcomes are reconciled.
type RunSummary struct {
	RunID         int64
	Scope         run.Scope
	OverallResult run.OverallResult
	CompletedAt   time.Time
}

// Result counts the changes of one reconciliation.
type Result struct {
	Created     int
	Updated     int
	Reactivated int
	Resolved    int
	// Untouched counts reappearing findings a user resolved.
	Untouched int
}

// Service reconciles findings and applies user actions on them.
type Service struct {
	tx     Transactor
	repo   finding.Repository
	audit  audit.Repository
	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a new findings service.
func NewService(tx Transactor, repo finding.Repository, auditRepo audit.Repository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		tx:     tx,
		repo:   repo,
		audit:  auditRepo,
		logger: log.With("component", "findings"),
		tracer: otel.Tracer("qualitygate/findings"),
	}
}

// Reconcile matches the non-passing outcomes of resultDoc against the
// findings of the run's configuration. All writes happen in one transaction.
// Every returned error wraps ErrProcessing.
func (s *Service) Reconcile(ctx context.Context, summary RunSummary, resultDoc []byte) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "findings.Reconcile", trace.WithAttributes(
		attribute.Int64("run.id", summary.RunID),
		attribute.String("run.scope", summary.Scope.String()),
	))
	defer span.End()

	result, err := s.reconcile(ctx, summary, resultDoc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.FindingsProcessingErrors.Inc()
		return nil, err
	}

	metrics.FindingsReconciled.WithLabelValues("created").Add(float64(result.Created))
	metrics.FindingsReconciled.WithLabelValues("updated").Add(float64(result.Updated))
	metrics.FindingsReconciled.WithLabelValues("reactivated").Add(float64(result.Reactivated))
	metrics.FindingsReconciled.WithLabelValues("resolved").Add(float64(result.Resolved))

	s.logger.Info("findings reconciled",
		"run_id", summary.RunID,
		"scope", summary.Scope.String(),
		"created", result.Created,
		"updated", result.Updated,
		"reactivated", result.Reactivated,
		"resolved", result.Resolved,
		"untouched", result.Untouched,
	)
	return result, nil
}

func (s *Service) reconcile(ctx context.Context, summary RunSummary, resultDoc []byte) (*Result, error) {
	if err := summary.Scope.Validate(); err != nil {
		return nil, processingError("validate scope", err)
	}

	outcomes, err := ParseOutcomes(resultDoc)
	if err != nil {
		return nil, processingError("parse outcomes", err)
	}

	completedAt := summary.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	result := &Result{}
	err = s.tx.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := s.repo.ListByScopeInTx(ctx, tx, summary.Scope)
		if err != nil {
			return err
		}
		byHash := make(map[string]*finding.Finding, len(existing))
		for _, f := range existing {
			byHash[f.Hash] = f
		}

		reported := make(map[string]bool, len(outcomes))
		for _, o := range outcomes {
			hash := o.Hash()
			reported[hash] = true

			f, ok := byHash[hash]
			switch {
			case !ok:
				created, err := finding.NewFinding(summary.Scope, o, summary.RunID)
				if err != nil {
					return err
				}
				if err := s.repo.CreateInTx(ctx, tx, created); err != nil {
					return err
				}
				result.Created++

			case f.ResolvedManually:
				result.Untouched++

			case f.IsUnresolved():
				if err := f.Recur(o.Metadata, summary.RunID); err != nil {
					return err
				}
				if err := s.repo.UpdateInTx(ctx, tx, f); err != nil {
					return err
				}
				result.Updated++

			default:
				before := *f
				if err := f.Reactivate(o.Metadata, summary.RunID); err != nil {
					return err
				}
				if err := s.repo.UpdateInTx(ctx, tx, f); err != nil {
					return err
				}
				if err := s.appendInTx(ctx, tx, f, audit.ActionFindingReopened, &before); err != nil {
					return err
				}
				result.Reactivated++
			}
		}

		for _, f := range existing {
			if reported[f.Hash] || !f.IsUnresolved() {
				continue
			}
			before := *f
			if err := f.AutoResolve(summary.RunID, completedAt); err != nil {
				return err
			}
			if err := s.repo.UpdateInTx(ctx, tx, f); err != nil {
				return err
			}
			if err := s.appendInTx(ctx, tx, f, audit.ActionFindingResolved, &before); err != nil {
				return err
			}
			result.Resolved++
		}
		return nil
	})
	if err != nil {
		return nil, processingError("persist findings", err)
	}
	return result, nil
}

func (s *Service) appendInTx(ctx context.Context, tx *sql.Tx, f *finding.Finding, action audit.Action, before *finding.Finding) error {
	entry, err := audit.NewEntry(f.Scope.NamespaceID, audit.ResourceTypeFinding, f.ID.String(), action, before, f)
	if err != nil {
		return err
	}
	return s.audit.AppendInTx(ctx, tx, entry)
}

// ResolveManually resolves a finding on behalf of user. Later runs never
// reopen it.
func (s *Service) ResolveManually(ctx context.Context, id shared.ID, user string) (*finding.Finding, error) {
	return s.applyUserAction(ctx, id, user, audit.ActionFindingResolved, func(f *finding.Finding) error {
		return f.ResolveManually(user)
	})
}

// Reopen reverts the resolution of a finding.
func (s *Service) Reopen(ctx context.Context, id shared.ID, user string) (*finding.Finding, error) {
	return s.applyUserAction(ctx, id, user, audit.ActionFindingReopened, func(f *finding.Finding) error {
		return f.Reopen()
	})
}

func (s *Service) applyUserAction(
	ctx context.Context,
	id shared.ID,
	user string,
	action audit.Action,
	mutate func(*finding.Finding) error,
) (*finding.Finding, error) {
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *f
	if err := mutate(f); err != nil {
		return nil, err
	}

	err = s.tx.Transaction(ctx, func(tx *sql.Tx) error {
		if err := s.repo.UpdateInTx(ctx, tx, f); err != nil {
			return err
		}
		entry, err := audit.NewEntry(f.Scope.NamespaceID, audit.ResourceTypeFinding, f.ID.String(), action, &before, f)
		if err != nil {
			return err
		}
		return s.audit.AppendInTx(ctx, tx, entry.WithActor(user))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update finding: %w", err)
	}

	s.logger.Info("finding updated by user", "finding_id", id.String(), "action", action.String(), "user", user)
	return f, nil
}

// Delete removes a finding. Reconciliation never deletes findings.
func (s *Service) Delete(ctx context.Context, id shared.ID, user string) error {
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	entry, err := audit.NewEntry(f.Scope.NamespaceID, audit.ResourceTypeFinding, id.String(), audit.ActionFindingDeleted, f, nil)
	if err != nil {
		return err
	}
	if err := s.audit.Append(ctx, entry.WithActor(user)); err != nil {
		s.logger.Warn("failed to audit finding deletion", "finding_id", id.String(), "error", err)
	}
	return nil
}
