// Package archive runs the end-of-day close: it summarizes yesterday's sales
// into the archive ledger, purges the archived rows, and renders the daily
// report artifact.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tokoledger/internal/domain"
	"tokoledger/internal/report"
	"tokoledger/internal/store"
)

type Job struct {
	repo     store.Repository
	renderer report.Renderer
	log      zerolog.Logger
}

func NewJob(repo store.Repository, renderer report.Renderer, log zerolog.Logger) *Job {
	if renderer == nil {
		renderer = report.NoopRenderer{}
	}
	return &Job{repo: repo, renderer: renderer, log: log}
}

// WeekOfMonth numbers days 1-7 as week 1, 8-14 as week 2, and so on.
func WeekOfMonth(day time.Time) int {
	return (day.Day()-1)/7 + 1
}

// RunArchiveCheck archives yesterday relative to today, at most once. It is
// safe to call on every startup and every login: when yesterday is already
// archived, or had no sales, the call is a no-op returning (nil, nil).
func (j *Job) RunArchiveCheck(ctx context.Context, today time.Time) (*domain.ArchiveRecord, error) {
	yesterday := domain.DateUTC(today).AddDate(0, 0, -1)

	latest, ok, err := j.repo.LatestArchiveDate(ctx)
	if err != nil {
		return nil, err
	}
	if ok && !latest.Before(yesterday) {
		return nil, nil
	}

	totals, err := j.repo.SumSalesForDate(ctx, yesterday)
	if err != nil {
		return nil, err
	}
	if totals.Count == 0 {
		j.log.Debug().
			Time("day", yesterday).
			Msg("no sales to archive")
		return nil, nil
	}

	weekNumber := WeekOfMonth(yesterday)

	// Render before archiving. A failed render is logged and skipped; the
	// archive itself must still happen so sales data is never retained past
	// its day. The rows are read outside the archive transaction, so a sale
	// landing on a past date in between would be archived but missing from
	// the artifact; the total comparison below detects that.
	artifactRef := ""
	var renderedTotalCents int64
	rows, err := j.repo.ListSalesForDate(ctx, yesterday)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		renderedTotalCents += row.TotalCents
	}
	ref, err := j.renderer.Render(ctx, "", yesterday, weekNumber, rows)
	if err != nil {
		j.log.Error().Err(err).
			Time("day", yesterday).
			Msg("daily report rendering failed, archiving without artifact")
	} else {
		artifactRef = ref
	}

	record, err := j.repo.ArchiveDay(ctx, yesterday, weekNumber, artifactRef, time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The day's rows vanished between the pre-check and the archive
			// transaction, meaning a concurrent run archived it first.
			return nil, nil
		}
		if errors.Is(err, store.ErrInconsistentArchive) {
			j.log.Error().
				Time("day", yesterday).
				Msg("archive aborted: purge count disagreed with archived totals")
		}
		return nil, err
	}

	if record.ArtifactRef != "" && record.TotalSalesCents != renderedTotalCents {
		j.log.Warn().
			Time("day", record.Date).
			Int64("archived_total_cents", record.TotalSalesCents).
			Int64("rendered_total_cents", renderedTotalCents).
			Msg("report artifact is stale, sales changed between render and archive")
	}

	j.log.Info().
		Time("day", record.Date).
		Int("week_number", record.WeekNumber).
		Int64("total_cents", record.TotalSalesCents).
		Int64("profit_cents", record.TotalProfitCents).
		Str("artifact", record.ArtifactRef).
		Msg("day archived")
	return record, nil
}
