package friends

import (
	"context"
	"log/slog"

	"github.com/juju/errors"

	"github.com/lingomate/backend/internal/logging"
	"github.com/lingomate/backend/internal/metrics"
	"github.com/lingomate/backend/internal/models"
	"github.com/lingomate/backend/internal/repositories"
)

// ReconcileReport summarises a reconciliation pass.
type ReconcileReport struct {
	Checked  int
	Repaired int
	Failed   int
}

// Reconciler restores mutual friend sets for accepted requests whose friend
// insertions did not complete.
type Reconciler struct {
	users    repositories.UserRepository
	requests repositories.FriendRepository
}

// NewReconciler constructs a Reconciler.
func NewReconciler(users repositories.UserRepository, requests repositories.FriendRepository) *Reconciler {
	return &Reconciler{users: users, requests: requests}
}

// Run re-applies both friend-set insertions for every accepted request.
// Insertions are idempotent so repeated runs are safe.
func (r *Reconciler) Run(ctx context.Context) (report ReconcileReport, err error) {
	ctx, span := logging.StartSpan(ctx, "friends.reconcile")
	defer func() { span.End(err) }()

	accepted, err := r.requests.ListByStatus(ctx, models.FriendRequestAccepted)
	if err != nil {
		return report, errors.Annotate(err, "list accepted requests")
	}

	logger := logging.FromContext(ctx)
	for _, request := range accepted {
		if err := ctx.Err(); err != nil {
			return report, errors.Trace(err)
		}
		report.Checked++

		repaired, err := r.repair(ctx, request)
		if err != nil {
			report.Failed++
			logger.Warn("friend link repair failed",
				slog.String("request_id", request.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if repaired {
			report.Repaired++
			metrics.RecordFriendRequest(metrics.TransitionReconciled)
			logger.Info("friend link repaired", slog.String("request_id", request.ID))
		}
	}

	logger.Info("reconciliation finished",
		slog.Int("checked", report.Checked),
		slog.Int("repaired", report.Repaired),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

func (r *Reconciler) repair(ctx context.Context, request models.FriendRequest) (bool, error) {
	users, err := r.users.FindByIDs(ctx, []string{request.Sender, request.Recipient})
	if err != nil {
		return false, errors.Annotate(err, "load participants")
	}
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	repaired := false
	for _, pair := range [][2]string{{request.Sender, request.Recipient}, {request.Recipient, request.Sender}} {
		user, ok := byID[pair[0]]
		if ok && user.HasFriend(pair[1]) {
			continue
		}
		if err := r.users.AddFriend(ctx, pair[0], pair[1]); err != nil {
			return repaired, errors.Annotatef(err, "link %s -> %s", pair[0], pair[1])
		}
		repaired = true
	}
	return repaired, nil
}
