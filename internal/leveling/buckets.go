package leveling

import (
	"time"

	"bastion/internal/storage"
)

// KeysFor maps t to its calendar day, ISO week and calendar month. Keys carry
// the year so that dates exactly one year apart land in different buckets.
func KeysFor(t time.Time) storage.BucketKeys {
	isoYear, isoWeek := t.ISOWeek()
	return storage.BucketKeys{
		Day:   t.Year()*1000 + t.YearDay(),
		Week:  isoYear*100 + isoWeek,
		Month: t.Year()*100 + int(t.Month()),
	}
}

// Resets reports which rolling counters start over between two timestamps.
type Resets struct {
	Day   bool
	Week  bool
	Month bool
}

// Check compares the buckets of last and now. Both are evaluated in loc.
func Check(last, now time.Time, loc *time.Location) Resets {
	lastKeys := KeysFor(last.In(loc))
	nowKeys := KeysFor(now.In(loc))
	return Resets{
		Day:   lastKeys.Day != nowKeys.Day,
		Week:  lastKeys.Week != nowKeys.Week,
		Month: lastKeys.Month != nowKeys.Month,
	}
}

// Normalize zeroes the counters whose bucket has ended by now. MsgAllTime is
// never touched.
func Normalize(record storage.LevelRecord, now time.Time, loc *time.Location) storage.LevelRecord {
	resets := Check(record.LastMsg, now, loc)
	if resets.Day {
		record.MsgDay = 0
	}
	if resets.Week {
		record.MsgWeek = 0
	}
	if resets.Month {
		record.MsgMonth = 0
	}
	return record
}
