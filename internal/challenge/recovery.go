package challenge

import (
	"context"

	log "github.com/sirupsen/logrus"
)

type RecoveryReport struct {
	Expired     int
	Rescheduled int
	Failed      int
}

// Recover rebuilds timeout jobs lost with the previous process. Challenges
// past their deadline expire right away; the rest are rescheduled for the
// remaining time under the same job name.
func (e *Engine) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	entry := e.getLogEntry().WithField("method", "Recover")

	pending, err := e.store.ListPendingChallenges(ctx)
	if err != nil {
		return report, err
	}
	if len(pending) == 0 {
		entry.Debug("no pending challenges")
		return report, nil
	}

	now := e.now()
	for _, row := range pending {
		remaining := row.Expires(e.settings.Timeout).Sub(now)
		if remaining > 0 {
			e.schedule(payloadOf(row), remaining)
			report.Rescheduled++
			continue
		}
		if err := e.OnExpire(ctx, payloadOf(row)); err != nil {
			report.Failed++
			entry.WithFields(log.Fields{
				"user_id": row.UserID,
				"error":   err.Error(),
			}).Error("cant expire recovered challenge")
			continue
		}
		report.Expired++
	}

	entry.WithFields(log.Fields{
		"expired":     report.Expired,
		"rescheduled": report.Rescheduled,
		"failed":      report.Failed,
	}).Info("challenge recovery complete")
	return report, nil
}
