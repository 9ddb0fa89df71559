// Package advent holds the advent-calendar domain: civil dates, the delivery
// window, content entries, subscribers and the delivery engine that decides
// who receives which day's entry.
//
// Dates are civil (year, month, day) and carry no time zone; callers convert
// an instant to a Date with DateOf after moving it into the configured zone.
package advent
