// Package profile converts between the backend's user documents and the
// console's editable profile, and validates profiles before they are saved.
package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tjfontaine/autonom-console/internal/api/autonom"
)

// CreateNewSentinel is the selection value that starts a new profile.
const CreateNewSentinel = "create_new"

// Validation errors. They are reported to the user before any network call.
var (
	ErrEmptyName  = errors.New("profile name is empty")
	ErrNoMealSlot = errors.New("profile has no meal slots")
)

// Weekday indexes, Monday first.
const (
	Monday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// dayNames are the names written for each weekday.
var dayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Profile is a user as the console edits it.
type Profile struct {
	UserID       string             `json:"user_id"`
	Name         string             `json:"name"`
	Preferences  []string           `json:"preferences"`
	Allergies    []string           `json:"allergies"`
	Days         [7]bool            `json:"schedule"`
	Meals        []autonom.MealSlot `json:"meals"`
	Instructions string             `json:"instructions"`
}

// Validate checks the fields a profile cannot be saved without.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if len(p.Meals) == 0 {
		return ErrNoMealSlot
	}
	return nil
}

// FromAPI converts a backend user. Top-level days and meals win over the
// legacy schedule object. Meal slots without an id get a stable one derived
// from the user and position.
func FromAPI(u autonom.User) Profile {
	days := u.Days
	if len(days) == 0 {
		days = u.Schedule.Days
	}
	meals := u.Meals
	if len(meals) == 0 {
		meals = u.Schedule.Meals
	}

	p := Profile{
		UserID:       u.ID,
		Name:         u.Name,
		Preferences:  nonNil(u.Preferences),
		Allergies:    nonNil(u.Allergies),
		Days:         NamesToDays(days),
		Meals:        make([]autonom.MealSlot, 0, len(meals)),
		Instructions: u.SpecialInstructions,
	}
	for i, m := range meals {
		if m.ID == "" {
			m.ID = fmt.Sprintf("meal_%s_%d", u.ID, i)
		}
		p.Meals = append(p.Meals, m)
	}
	return p
}

// ToAPI converts a profile to the backend document in its current shape.
func (p Profile) ToAPI() autonom.User {
	meals := p.Meals
	if meals == nil {
		meals = []autonom.MealSlot{}
	}
	return autonom.User{
		ID:                  p.UserID,
		Name:                strings.TrimSpace(p.Name),
		Preferences:         nonNil(p.Preferences),
		Allergies:           nonNil(p.Allergies),
		Days:                DaysToNames(p.Days),
		Meals:               meals,
		SpecialInstructions: p.Instructions,
	}
}

// DaysToNames lists the selected weekdays by name, Monday first.
func DaysToNames(days [7]bool) []string {
	names := []string{}
	for i, on := range days {
		if on {
			names = append(names, dayNames[i])
		}
	}
	return names
}

// NamesToDays parses weekday names and the abbreviations older documents
// used. Those wrote "t" for both Tuesday and Thursday; a second "t" is read as
// Thursday and a lone "t" as Tuesday. "s" is read as Saturday.
func NamesToDays(names []string) [7]bool {
	var days [7]bool
	for _, raw := range names {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "m", "mo", "mon", "monday":
			days[Monday] = true
		case "t":
			if days[Tuesday] {
				days[Thursday] = true
			} else {
				days[Tuesday] = true
			}
		case "tu", "tue", "tues", "tuesday":
			days[Tuesday] = true
		case "w", "we", "wed", "wednesday":
			days[Wednesday] = true
		case "th", "thu", "thur", "thurs", "thursday":
			days[Thursday] = true
		case "f", "fr", "fri", "friday":
			days[Friday] = true
		case "s", "sa", "sat", "saturday":
			days[Saturday] = true
		case "su", "sun", "sunday":
			days[Sunday] = true
		}
	}
	return days
}

// NewUserID mints the id for a profile created through CreateNewSentinel.
func NewUserID(now time.Time) string {
	return fmt.Sprintf("user_%d", now.UnixMilli())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
