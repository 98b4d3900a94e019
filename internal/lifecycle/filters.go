package lifecycle

import (
	"sort"
	"strings"
	"time"

	"github.com/coachdesk/backend/internal/models"
)

// Filter bucket names follow the existing client contract: "upcoming"
// selects scheduled appointments and "pending" selects confirmed ones.
// The naming is historical and must not be reinterpreted.
const (
	FilterAll      = "all"
	FilterUpcoming = "upcoming"
	FilterPast     = "past"
	FilterPending  = "pending"
)

const (
	RangeAll         = "all"
	RangeThisWeek    = "thisWeek"
	RangeThisMonth   = "thisMonth"
	RangeLast3Months = "last3Months"
)

const (
	SortByCreatedAt = "created_at"
	SortByName      = "name"
	OrderAsc        = "asc"
	OrderDesc       = "desc"
)

func IsValidFilter(filter string) bool {
	switch filter {
	case FilterAll, FilterUpcoming, FilterPast, FilterPending:
		return true
	}
	return false
}

func IsValidRange(rng string) bool {
	switch rng {
	case RangeAll, RangeThisWeek, RangeThisMonth, RangeLast3Months:
		return true
	}
	return false
}

// BucketOf maps a status to the single filter bucket it belongs to.
func BucketOf(status string) string {
	switch status {
	case StatusScheduled:
		return FilterUpcoming
	case StatusConfirmed:
		return FilterPending
	default:
		return FilterPast
	}
}

func MatchesFilter(apt *models.Appointment, filter string) bool {
	if filter == FilterAll || filter == "" {
		return true
	}
	return BucketOf(apt.Status) == filter
}

type Counts struct {
	All      int `json:"all"`
	Upcoming int `json:"upcoming"`
	Pending  int `json:"pending"`
	Past     int `json:"past"`
}

func CountBuckets(details []models.AppointmentDetail) Counts {
	counts := Counts{All: len(details)}
	for i := range details {
		switch BucketOf(details[i].Status) {
		case FilterUpcoming:
			counts.Upcoming++
		case FilterPending:
			counts.Pending++
		case FilterPast:
			counts.Past++
		}
	}
	return counts
}

// InDateRange evaluates the range predicate against local midnight of
// now's day. "thisWeek" is a 14-day window centered on today, both
// sides inclusive; this matches the existing client behavior and is
// deliberately not a calendar week.
func InDateRange(apt *models.Appointment, rng string, now time.Time) bool {
	if rng == RangeAll || rng == "" {
		return true
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch rng {
	case RangeThisWeek:
		lo := today.AddDate(0, 0, -7)
		hi := today.AddDate(0, 0, 7)
		return !apt.StartsAt.Before(lo) && !apt.StartsAt.After(hi)
	case RangeThisMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return !apt.StartsAt.Before(first)
	case RangeLast3Months:
		return !apt.StartsAt.Before(today.AddDate(0, -3, 0))
	}
	return true
}

// MatchesQuery performs a case-insensitive substring match against the
// participant name, notes, status literal and the rendered session date.
// Fields are OR-combined.
func MatchesQuery(detail *models.AppointmentDetail, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}

	name := ""
	if detail.Participant != nil {
		name = detail.Participant.DisplayName
	}
	notes := ""
	if detail.Notes != nil {
		notes = *detail.Notes
	}

	for _, field := range []string{
		name,
		notes,
		detail.Status,
		detail.StartsAt.Format("January 2, 2006"),
	} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Sort orders details in place by creation time or participant display
// name. Name comparison is case-insensitive; a missing participant sorts
// as the empty string, placing unnamed entries first in ascending order.
func Sort(details []models.AppointmentDetail, key, order string) {
	desc := order == OrderDesc

	less := func(i, j int) bool {
		return details[i].CreatedAt.Before(details[j].CreatedAt)
	}
	if key == SortByName {
		less = func(i, j int) bool {
			return strings.ToLower(participantName(&details[i])) <
				strings.ToLower(participantName(&details[j]))
		}
	}

	sort.SliceStable(details, func(i, j int) bool {
		if desc {
			return less(j, i)
		}
		return less(i, j)
	})
}

func participantName(detail *models.AppointmentDetail) string {
	if detail.Participant == nil {
		return ""
	}
	return detail.Participant.DisplayName
}
