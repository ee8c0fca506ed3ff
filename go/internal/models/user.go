package models

import (
	"time"
)

// UserStats holds the profile counters shown on a user's profile
type UserStats struct {
	HoursWatched  int `json:"hours_watched"`
	RoomsCreated  int `json:"rooms_created"`
	RoomsJoined   int `json:"rooms_joined"`
	MoviesWatched int `json:"movies_watched"`
}

// Achievement is an unlockable profile badge
type Achievement struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}

// User represents a user in the system
type User struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Avatar       string        `json:"avatar"`
	Stats        UserStats     `json:"stats"`
	Achievements []Achievement `json:"achievements,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Ref returns the lightweight reference stored in a room's participant set
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

// UserRef identifies a participant. Only ID is significant for equality.
type UserRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Stat names one of the UserStats counters
type Stat string

const (
	StatHoursWatched  Stat = "hours_watched"
	StatRoomsCreated  Stat = "rooms_created"
	StatRoomsJoined   Stat = "rooms_joined"
	StatMoviesWatched Stat = "movies_watched"
)

// Increment adds delta to the counter named by stat. Unknown stats are ignored
// and reported as false.
func (s *UserStats) Increment(stat Stat, delta int) bool {
	switch stat {
	case StatHoursWatched:
		s.HoursWatched += delta
	case StatRoomsCreated:
		s.RoomsCreated += delta
	case StatRoomsJoined:
		s.RoomsJoined += delta
	case StatMoviesWatched:
		s.MoviesWatched += delta
	default:
		return false
	}
	return true
}
