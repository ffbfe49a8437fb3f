package report

import (
	"strconv"
	"time"
)

// eventsQueryStartDate opens the fixed date window used when a report is
// configured with endDateSelection: everything from well before the
// programs existed up to the end of the selected period.
const eventsQueryStartDate = "1980-02-20"

// periodsEndDate formats the end date of the first selected period, or
// today when no period is selected.
func periodsEndDate(periods []string) string {
	if len(periods) == 0 {
		return time.Now().UTC().Format(dateLayout)
	}
	return PeriodEndDate(periods[0], time.Now().UTC()).Format(dateLayout)
}

// PeriodEndDate resolves the last day covered by a fixed period id:
// yearly ("2024"), monthly ("202403") and quarterly ("2024Q1") ids are
// supported. Relative and unrecognised ids resolve to now.
func PeriodEndDate(period string, now time.Time) time.Time {
	if len(period) == 4 {
		if year, err := strconv.Atoi(period); err == nil {
			return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
		}
		return now
	}

	if len(period) == 6 && period[4] == 'Q' {
		year, errY := strconv.Atoi(period[:4])
		quarter, errQ := strconv.Atoi(period[5:])
		if errY == nil && errQ == nil && quarter >= 1 && quarter <= 4 {
			return time.Date(year, time.Month(quarter*3), 1, 0, 0, 0, 0, time.UTC).
				AddDate(0, 1, -1)
		}
		return now
	}

	if len(period) == 6 {
		year, errY := strconv.Atoi(period[:4])
		month, errM := strconv.Atoi(period[4:])
		if errY == nil && errM == nil && month >= 1 && month <= 12 {
			// First day of the next month minus one day.
			return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).
				AddDate(0, 1, -1)
		}
	}

	return now
}
