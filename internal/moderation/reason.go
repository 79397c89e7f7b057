package moderation

import (
	"context"
	"fmt"
	"strings"

	"bastion/internal/metrics"
	"bastion/internal/modules/audit"
	"bastion/internal/platform"
	"bastion/internal/storage"

	"go.uber.org/zap"
)

type CaseFailure struct {
	CaseNumber int
	Reason     string
}

// ReasonResult reports a reason edit over a batch of cases. Updated counts
// cases whose stored reason changed; a case can be updated and still carry a
// failure when only its log message could not be edited.
type ReasonResult struct {
	Updated  int
	Failures []CaseFailure
}

func (r ReasonResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Updated %d case", r.Updated)
	if r.Updated != 1 {
		b.WriteString("s")
	}
	b.WriteString(".")
	for _, failure := range r.Failures {
		fmt.Fprintf(&b, "\nCase #%d: %s", failure.CaseNumber, failure.Reason)
	}
	return b.String()
}

// SetReason sets reason and moderator on every case the selector names and
// edits each case's log message in place. Cases are handled independently and
// numbers in the range with no case are reported as failures.
func (r *Reconciler) SetReason(ctx context.Context, guildID string, selector CaseSelector, text, editorID string) (ReasonResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ReasonResult{}, userErrorf("The reason cannot be empty.")
	}

	from, to := selector.From, selector.To
	if selector.Latest {
		latest, err := r.store.LatestCaseNumber(ctx, guildID)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("latest_case").Inc()
			return ReasonResult{}, fmt.Errorf("latest case: %w", err)
		}
		if latest == 0 {
			return ReasonResult{}, userErrorf("There are no cases in this server yet.")
		}
		from, to = latest, latest
	}

	cases, err := r.store.FindRange(ctx, guildID, from, to)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("find_range").Inc()
		return ReasonResult{}, fmt.Errorf("find cases: %w", err)
	}
	if len(cases) == 0 {
		return ReasonResult{}, userErrorf("No cases found for %s.", selector)
	}

	cfg, err := r.configs.Get(ctx, guildID)
	if err != nil {
		return ReasonResult{}, fmt.Errorf("load guild config: %w", err)
	}
	prefix := r.configs.Prefix(cfg)

	byNumber := make(map[int]storage.Case, len(cases))
	for _, c := range cases {
		byNumber[c.CaseNumber] = c
	}

	var result ReasonResult
	for n := from; n <= to; n++ {
		c, ok := byNumber[n]
		if !ok {
			result.Failures = append(result.Failures, CaseFailure{CaseNumber: n, Reason: "case not found"})
			continue
		}

		if err := r.store.SetCaseReason(ctx, c.ID, text, editorID); err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("set_case_reason").Inc()
			r.logger.Warn("reason not saved", zap.String("guild_id", guildID), zap.Int("case_number", n), zap.Error(err))
			result.Failures = append(result.Failures, CaseFailure{CaseNumber: n, Reason: "reason not saved"})
			continue
		}
		result.Updated++

		// re-read so a log entry posted since FindRange is edited too
		if current, err := r.store.GetCase(ctx, c.ID); err == nil && current != nil {
			c = *current
		} else {
			reason, editor := text, editorID
			c.Reason, c.ExecutorID = &reason, &editor
		}
		if c.LogMessage == nil {
			continue
		}
		if err := r.client.EditEmbed(ctx, *c.LogMessage, RenderCase(c, prefix, r.colors)); err != nil {
			metrics.ModLogFailuresTotal.Inc()
			result.Failures = append(result.Failures, CaseFailure{CaseNumber: n, Reason: "log message not edited: " + platform.Describe(err)})
			if platform.IsNotFound(err) {
				if err := r.store.ClearLogMessage(ctx, c.ID, c.LogMessage.MessageID); err != nil {
					r.logger.Warn("dead log reference kept", zap.String("guild_id", guildID), zap.Int("case_number", n), zap.Error(err))
				}
			}
		}
	}

	r.audit.Log(ctx, audit.LevelInfo, guildID, editorID, audit.EventReasonUpdated,
		fmt.Sprintf("cases=%s updated=%d failed=%d", selector, result.Updated, len(result.Failures)))
	return result, nil
}
