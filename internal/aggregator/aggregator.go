// Package aggregator reduces a run's clean attempts into a DailySummary.
package aggregator

import (
	"time"

	"github.com/telhawk-systems/gradersync/internal/model"
)

// Summarize computes the daily summary for attempts, dated on the calendar
// day of date. Null user IDs count as one distinct user.
func Summarize(date time.Time, attempts []model.CleanAttempt) model.DailySummary {
	users := make(map[string]struct{})
	nullUser := false

	summary := model.DailySummary{
		Date:          date.Format(model.DateLayout),
		TotalAttempts: len(attempts),
	}

	for _, a := range attempts {
		if a.IsCorrect == model.CorrectnessTrue {
			summary.SuccessfulAttempts++
		}

		if a.UserID == nil {
			nullUser = true
		} else {
			users[*a.UserID] = struct{}{}
		}

		if a.AttemptType != nil {
			switch *a.AttemptType {
			case model.AttemptTypeRun:
				summary.RunAttempts++
			case model.AttemptTypeSubmit:
				summary.SubmitAttempts++
			}
		}
	}

	summary.UniqueUsers = len(users)
	if nullUser {
		summary.UniqueUsers++
	}
	summary.UsersCount = summary.UniqueUsers

	return summary
}
