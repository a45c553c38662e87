package models

import "time"

// Step is one sub-step of committing a captured recording remotely.
type Step uint8

const (
	StepAudio Step = 1 << iota
	StepTranscript
	StepPrompt
	StepMetadata
	StepRecord
)

// AllSteps is the set a fully committed item has completed.
const AllSteps = StepAudio | StepTranscript | StepPrompt | StepMetadata | StepRecord

func (s Step) String() string {
	switch s {
	case StepAudio:
		return "audio"
	case StepTranscript:
		return "transcript"
	case StepPrompt:
		return "prompt"
	case StepMetadata:
		return "metadata"
	case StepRecord:
		return "record"
	default:
		return "unknown"
	}
}

// StepSet is a bit set of completed steps.
type StepSet uint8

func (s StepSet) Has(step Step) bool { return uint8(s)&uint8(step) != 0 }

func (s StepSet) With(step Step) StepSet { return StepSet(uint8(s) | uint8(step)) }

func (s StepSet) Complete() bool { return uint8(s)&uint8(AllSteps) == uint8(AllSteps) }

// PendingUpload is a recording captured locally and waiting for finalize.
type PendingUpload struct {
	UID            string       `json:"uid"`
	AudioPath      string       `json:"audio_path"`
	TranscriptPath string       `json:"text_path"`
	PromptRef      string       `json:"prompt_id"`
	PromptText     string       `json:"prompt_text"`
	Variant        Variant      `json:"variant"`
	Demographics   Demographics `json:"user_info"`
	CapturedAt     time.Time    `json:"captured_at"`
	Steps          StepSet      `json:"steps,omitempty"`
	Attempts       int          `json:"attempts,omitempty"`
}

// Recording is the durable record of a committed contribution.
type Recording struct {
	ID           int64
	UID          string
	Demographics Demographics
	PromptText   string
	AudioRef     string
	Variant      Variant
	CreatedAt    time.Time
}
