package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/uohspeech/collector/internal/common"
)

// Demographics is the contributor snapshot collected at session start.
type Demographics struct {
	Age      int    `json:"age"`
	Gender   string `json:"gender"`
	Location string `json:"location"`
	Region   string `json:"state"`
}

// Validate rejects a snapshot with any missing field.
func (d Demographics) Validate() error {
	var missing []string
	if d.Age <= 0 {
		missing = append(missing, "age")
	}
	if strings.TrimSpace(d.Gender) == "" {
		missing = append(missing, "gender")
	}
	if strings.TrimSpace(d.Location) == "" {
		missing = append(missing, "location")
	}
	if strings.TrimSpace(d.Region) == "" {
		missing = append(missing, "state")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", common.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Session is one contributor's browsing session.
type Session struct {
	ID           string          `json:"id"`
	Demographics *Demographics   `json:"demographics,omitempty"`
	Completed    int             `json:"completed"`
	Queue        []PendingUpload `json:"queue,omitempty"`
	Current      *Prompt         `json:"current,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewSession returns an empty session with the given id.
func NewSession(id string, now time.Time) *Session {
	return &Session{ID: id, CreatedAt: now}
}

// Clear drops all contributor state but keeps the id.
func (s *Session) Clear() {
	s.Demographics = nil
	s.Completed = 0
	s.Queue = nil
	s.Current = nil
}
