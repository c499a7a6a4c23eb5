package model

import "time"

// WindowLayout is the format of window bounds sent to the statistics source.
const WindowLayout = "2006-01-02 15:04:05"

// DateLayout is the format of the summary date.
const DateLayout = "2006-01-02"

// Window is the inclusive time range requested from the statistics source.
type Window struct {
	Start time.Time
	End   time.Time
}

// ParseWindow parses both bounds in WindowLayout using the given location.
func ParseWindow(start, end string, loc *time.Location) (Window, error) {
	s, err := time.ParseInLocation(WindowLayout, start, loc)
	if err != nil {
		return Window{}, err
	}
	e, err := time.ParseInLocation(WindowLayout, end, loc)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

func (w Window) String() string {
	return w.Start.Format(WindowLayout) + " .. " + w.End.Format(WindowLayout)
}

// DailySummary is the per-run rollup appended to the report sinks.
type DailySummary struct {
	Date               string `json:"date"`
	TotalAttempts      int    `json:"total_attempts"`
	SuccessfulAttempts int    `json:"successful_attempts"`
	UniqueUsers        int    `json:"unique_users"`
	RunAttempts        int    `json:"run_attempts"`
	SubmitAttempts     int    `json:"submit_attempts"`
	UsersCount         int    `json:"users_count"`
}

// Row returns the summary in spreadsheet column order.
func (s DailySummary) Row() []any {
	return []any{
		s.Date,
		s.TotalAttempts,
		s.SuccessfulAttempts,
		s.UniqueUsers,
		s.RunAttempts,
		s.SubmitAttempts,
		s.UsersCount,
	}
}
