package analytics

// NamedMetric is one row of a categorical breakdown.
type NamedMetric struct {
	Name     string `json:"name"`
	Visitors int    `json:"visitors"`
	Image    string `json:"image,omitempty"`
}

// HourBucket counts sessions that entered during one civil hour.
type HourBucket struct {
	Date      string `json:"date"`
	Hour      int    `json:"hour"`
	HourLabel string `json:"hourLabel"`
	Visitors  int    `json:"visitors"`
}

// DayBucket counts sessions that entered during one civil date.
type DayBucket struct {
	Date     string `json:"date"`
	DayLabel string `json:"dayLabel"`
	Visitors int    `json:"visitors"`
}

// Result is everything the dashboard shows for one website and range.
type Result struct {
	TotalVisitors   int           `json:"totalVisitors"`
	TotalSessions   int           `json:"totalSessions"`
	TotalActiveTime int64         `json:"totalActiveTime"`
	AvgActiveTime   int64         `json:"avgActiveTime"`
	HourlyVisitors  []HourBucket  `json:"hourlyVisitors"`
	DailyVisitors   []DayBucket   `json:"dailyVisitors"`
	Countries       []NamedMetric `json:"countries"`
	Regions         []NamedMetric `json:"regions"`
	Cities          []NamedMetric `json:"cities"`
	Devices         []NamedMetric `json:"devices"`
	OS              []NamedMetric `json:"os"`
	Browsers        []NamedMetric `json:"browsers"`
	Referrers       []NamedMetric `json:"referrers"`
}

// EmptyResult returns a zero result whose lists encode as [] rather than null.
func EmptyResult() *Result {
	return &Result{
		HourlyVisitors: []HourBucket{},
		DailyVisitors:  []DayBucket{},
		Countries:      []NamedMetric{},
		Regions:        []NamedMetric{},
		Cities:         []NamedMetric{},
		Devices:        []NamedMetric{},
		OS:             []NamedMetric{},
		Browsers:       []NamedMetric{},
		Referrers:      []NamedMetric{},
	}
}
