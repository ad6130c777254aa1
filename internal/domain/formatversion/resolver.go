package formatversion

import "time"

// Resolve возвращает непрерывный возрастающий список версий, в которых
// действует документ с интервалом [validFrom, validTo].
//
// validTo == nil означает открытый интервал. Конец интервала ограничивается
// преемником версии, действующей на дату today: документы не раскладываются
// по версиям, которые ещё не наступили и не являются ближайшими.
// Результат никогда не бывает пустым.
func Resolve(validFrom time.Time, validTo *time.Time, today time.Time) []Version {
	from := Truncate(validFrom)
	start := For(from)

	var end Version
	switch {
	case validTo == nil:
		end = Max()
	case !Truncate(*validTo).After(from):
		// вырожденный интервал: только версия начала
		end = start
	default:
		end = For(*validTo)
	}

	horizon, err := Successor(For(today))
	if err != nil {
		horizon = Max()
	}
	if end > horizon {
		end = horizon
	}
	if end < start {
		end = start
	}

	return All()[start : end+1]
}
