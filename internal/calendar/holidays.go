package calendar

import "time"

// Official MOEX non-working days, 2024-2026.
// Source: https://www.moex.com/s2532
var holidays = map[string]struct{}{
	// 2024
	"2024-01-01": {},
	"2024-01-02": {},
	"2024-01-03": {},
	"2024-01-04": {},
	"2024-01-05": {},
	"2024-01-08": {},
	"2024-02-23": {},
	"2024-03-08": {},
	"2024-05-01": {},
	"2024-05-09": {},
	"2024-06-12": {},
	"2024-11-04": {},
	"2024-12-31": {},

	// 2025
	"2025-01-01": {},
	"2025-01-02": {},
	"2025-01-03": {},
	"2025-01-06": {},
	"2025-01-07": {},
	"2025-01-08": {},
	"2025-02-24": {},
	"2025-03-10": {},
	"2025-05-01": {},
	"2025-05-02": {},
	"2025-05-09": {},
	"2025-06-12": {},
	"2025-06-13": {},
	"2025-11-04": {},
	"2025-12-31": {},

	// 2026 (preliminary, subject to exchange announcements)
	"2026-01-01": {},
	"2026-01-02": {},
	"2026-01-05": {},
	"2026-01-06": {},
	"2026-01-07": {},
	"2026-01-08": {},
	"2026-02-23": {},
	"2026-03-09": {},
	"2026-05-01": {},
	"2026-05-11": {},
	"2026-06-12": {},
	"2026-11-04": {},
	"2026-12-31": {},
}

func isHoliday(d time.Time) bool {
	_, ok := holidays[d.Format("2006-01-02")]
	return ok
}
