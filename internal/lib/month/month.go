// Package month содержит календарные границы UTC, по которым считаются
// дневные и месячные окна использования.
package month

import (
	"math"
	"time"
)

// StartOfDay возвращает полночь UTC дня t.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfMonth возвращает первое число месяца t в UTC.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextDay возвращает ближайшую полночь UTC после t.
func NextDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1)
}

// NextMonth возвращает первое число следующего месяца UTC.
func NextMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, 0)
}

// Days возвращает длину интервала в днях, округлённую до целого.
func Days(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / 24))
}
