package healthtask

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// Locale selects the language of frequency descriptions.
type Locale string

const (
	LocaleEnglish            Locale = "en"
	LocaleTraditionalChinese Locale = "zh-Hant"
)

var localeMatcher = language.NewMatcher([]language.Tag{
	language.English,
	language.TraditionalChinese,
})

// NegotiateLocale picks the best supported locale for an Accept-Language
// header value. English wins when nothing matches.
func NegotiateLocale(acceptLanguage string) Locale {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return LocaleEnglish
	}
	_, idx, conf := localeMatcher.Match(tags...)
	if conf == language.No {
		return LocaleEnglish
	}
	if idx == 1 {
		return LocaleTraditionalChinese
	}
	return LocaleEnglish
}

type phrasebook struct {
	unknown  string
	single   map[FrequencyUnit]string
	multiple map[FrequencyUnit]string
	weekdays [8]string
	listSep  string
	onDays   func(list string) string
	onDates  func(list string) string
	atTimes  func(list string) string
}

var phrasebooks = map[Locale]*phrasebook{
	LocaleEnglish: {
		unknown: "unknown frequency",
		single: map[FrequencyUnit]string{
			FrequencyHourly:  "every hour",
			FrequencyDaily:   "every day",
			FrequencyWeekly:  "every week",
			FrequencyMonthly: "every month",
			FrequencyYearly:  "every year",
		},
		multiple: map[FrequencyUnit]string{
			FrequencyHourly:  "every %d hours",
			FrequencyDaily:   "every %d days",
			FrequencyWeekly:  "every %d weeks",
			FrequencyMonthly: "every %d months",
			FrequencyYearly:  "every %d years",
		},
		weekdays: [8]string{"", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"},
		listSep:  ", ",
		onDays:   func(list string) string { return " on " + list },
		onDates:  func(list string) string { return " on day " + list },
		atTimes:  func(list string) string { return " at " + list },
	},
	LocaleTraditionalChinese: {
		unknown: "未知頻率",
		single: map[FrequencyUnit]string{
			FrequencyHourly:  "每小時",
			FrequencyDaily:   "每天",
			FrequencyWeekly:  "每週",
			FrequencyMonthly: "每月",
			FrequencyYearly:  "每年",
		},
		multiple: map[FrequencyUnit]string{
			FrequencyHourly:  "每%d小時",
			FrequencyDaily:   "每%d天",
			FrequencyWeekly:  "每%d週",
			FrequencyMonthly: "每%d個月",
			FrequencyYearly:  "每%d年",
		},
		weekdays: [8]string{"", "週一", "週二", "週三", "週四", "週五", "週六", "週日"},
		listSep:  "、",
		onDays:   func(list string) string { return " 逢" + list },
		onDates:  func(list string) string { return " " + list + "日" },
		atTimes:  func(list string) string { return " 於" + list },
	},
}

// DescribeFrequency renders the task's recurrence rule for display, e.g.
// "every 2 weeks on Mon, Wed at 08:00". It never fails; a rule that cannot
// be described yields the locale's "unknown frequency" text.
func DescribeFrequency(task *HealthTask, locale Locale) string {
	pb, ok := phrasebooks[locale]
	if !ok {
		pb = phrasebooks[LocaleEnglish]
	}
	if task == nil || !task.FrequencyUnit.Valid() || task.FrequencyValue < 1 {
		return pb.unknown
	}

	var b strings.Builder
	if task.FrequencyValue == 1 {
		b.WriteString(pb.single[task.FrequencyUnit])
	} else {
		fmt.Fprintf(&b, pb.multiple[task.FrequencyUnit], task.FrequencyValue)
	}

	switch task.FrequencyUnit {
	case FrequencyWeekly:
		days := sortedUnique(task.SpecificDaysOfWeek, 1, 7)
		if len(days) > 0 {
			names := make([]string, len(days))
			for i, d := range days {
				names[i] = pb.weekdays[d]
			}
			b.WriteString(pb.onDays(strings.Join(names, pb.listSep)))
		}
	case FrequencyMonthly, FrequencyYearly:
		dates := sortedUnique(task.SpecificDaysOfMonth, 1, 31)
		if len(dates) > 0 {
			nums := make([]string, len(dates))
			for i, d := range dates {
				nums[i] = strconv.Itoa(d)
			}
			b.WriteString(pb.onDates(strings.Join(nums, pb.listSep)))
		}
	}

	var times []string
	for _, raw := range task.SpecificTimes {
		if tod, ok := ParseTimeOfDay(raw); ok {
			times = append(times, tod.String())
		}
	}
	if len(times) > 0 {
		b.WriteString(pb.atTimes(strings.Join(times, pb.listSep)))
	}
	return b.String()
}

func sortedUnique(values []int, lo, hi int) []int {
	seen := make(map[int]bool, len(values))
	var out []int
	for _, v := range values {
		if v < lo || v > hi || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
