package report

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// PageSize bounds every paginated analytics request. The probe request and
// the page-count computation both use it, so changing it keeps the
// progress total consistent with the actual fetch counts.
const PageSize = 500

// Pagination is the probed extent of one parameter group.
type Pagination struct {
	Total     int
	PageCount int
}

// FailedPage describes one page (or probe, Page 0) fetch that failed. The
// batch continues without the page's rows; the descriptor lets callers
// surface the reduced coverage.
type FailedPage struct {
	Program string
	Stage   string
	Page    int
	Err     error
}

// queryGroup pairs one fetchable request shape with its probed pagination.
type queryGroup struct {
	query      AnalyticsQuery
	pagination Pagination
}

// paginator drives the probe and the strictly sequential page fetches for
// a set of parameter groups, collecting failures instead of propagating
// them. The mutex guards failed: event and enrollment groups fetch
// concurrently and both record into the same paginator.
type paginator struct {
	logger zerolog.Logger

	mu     sync.Mutex
	failed []FailedPage
}

func (p *paginator) recordFailure(f FailedPage) {
	p.mu.Lock()
	p.failed = append(p.failed, f)
	p.mu.Unlock()
}

func (p *paginator) failedPages() []FailedPage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// probe issues the metadata-only request (page 1, skipData) for one
// parameter group and derives the page count from the reported total. A
// failed probe is logged and recorded; the group then contributes no
// pages.
func (p *paginator) probe(ctx context.Context, fetch Fetcher, q AnalyticsQuery) Pagination {
	q.Page = 1
	q.PageSize = PageSize
	q.SkipData = true
	q.SkipMeta = false

	resp, err := fetch(ctx, q)
	if err != nil {
		p.logger.Error().Err(err).
			Str("program", q.Program).
			Str("stage", q.Stage).
			Msg("pagination probe failed")
		p.recordFailure(FailedPage{Program: q.Program, Stage: q.Stage, Page: 0, Err: err})
		return Pagination{}
	}
	if resp == nil || resp.MetaData == nil || resp.MetaData.Pager == nil {
		return Pagination{}
	}

	total := resp.MetaData.Pager.Total
	return Pagination{Total: total, PageCount: pageCount(total)}
}

// pageCount is ceil(total / PageSize).
func pageCount(total int) int {
	if total <= 0 {
		return 0
	}
	return (total + PageSize - 1) / PageSize
}

// fetchGroups fetches every page of every group sequentially, sanitizing
// each page's response into rows. A failed page is logged, recorded and
// skipped. progress, when set, is invoked once per completed group.
func (p *paginator) fetchGroups(ctx context.Context, fetch Fetcher, groups []queryGroup, progress func()) []Row {
	var rows []Row
	for _, group := range groups {
		rows = append(rows, p.fetchGroup(ctx, fetch, group)...)
		if progress != nil {
			progress()
		}
	}
	return rows
}

func (p *paginator) fetchGroup(ctx context.Context, fetch Fetcher, group queryGroup) []Row {
	var rows []Row
	for page := 1; page <= group.pagination.PageCount; page++ {
		q := group.query
		q.Page = page
		q.PageSize = PageSize
		q.SkipData = false
		q.SkipMeta = false

		resp, err := fetch(ctx, q)
		if err != nil {
			p.logger.Error().Err(err).
				Str("program", q.Program).
				Str("stage", q.Stage).
				Int("page", page).
				Msg("page fetch failed, continuing with reduced coverage")
			p.recordFailure(FailedPage{Program: q.Program, Stage: q.Stage, Page: page, Err: err})
			continue
		}
		rows = append(rows, SanitizeAnalyticsData(resp, group.query.Stage)...)
	}
	return rows
}
