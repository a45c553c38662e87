package models

import (
	"strconv"
	"strings"
	"time"
)

// PromptStatus is the lifecycle state of a prompt in a lease pool.
type PromptStatus string

const (
	PromptUnused     PromptStatus = "unused"
	PromptInProgress PromptStatus = "in_progress"
	PromptUsed       PromptStatus = "used"
)

// leaseRefPrefix marks a prompt reference that points into a lease pool rather
// than into the object store.
const leaseRefPrefix = "lease:"

// Prompt is a text a contributor is asked to read aloud.
//
// Prompts handed out by the lease store carry ID and LeasedAt; prompts sampled
// from the object store carry Key.
type Prompt struct {
	ID       int64        `json:"id,omitempty"`
	Key      string       `json:"key,omitempty"`
	Variant  Variant      `json:"variant"`
	Language string       `json:"language,omitempty"`
	Text     string       `json:"text"`
	Status   PromptStatus `json:"status,omitempty"`
	LeasedAt *time.Time   `json:"leased_at,omitempty"`
}

// Ref returns the reference stored with a PendingUpload so that finalize can
// retire the prompt later.
func (p *Prompt) Ref() string {
	if p.Key != "" {
		return p.Key
	}
	return LeaseRef(p.ID)
}

// LeaseRef builds the reference for a lease-pool prompt id.
func LeaseRef(id int64) string {
	return leaseRefPrefix + strconv.FormatInt(id, 10)
}

// ParseLeaseRef extracts the prompt id from a lease reference.
func ParseLeaseRef(ref string) (int64, bool) {
	rest, ok := strings.CutPrefix(ref, leaseRefPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
