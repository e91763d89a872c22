package history

import (
	"errors"
	"fmt"
	"time"
)

// Type is the kind of attempt an entry records
type Type string

const (
	TypeDetection      Type = "detection"
	TypeTrainingUpload Type = "training_upload"
)

// Status is the lifecycle state of an entry
type Status string

const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusSuccess        Status = "success"
	StatusFailure        Status = "failure"
	StatusPartialSuccess Status = "partial_success"
)

// DetectionSource says where a detection image came from
type DetectionSource string

const (
	SourceUpload    DetectionSource = "upload"
	SourceLiveFrame DetectionSource = "live_frame"
)

var (
	// ErrNotFound is returned when no entry with the id exists for the user
	ErrNotFound = errors.New("history entry not found")

	// ErrInvalidTransition is returned when a status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Detection is one object found in an image
type Detection struct {
	// BBoxNormalized is x1, y1, x2, y2 relative to the image size, each in [0,1]
	BBoxNormalized [4]float64 `json:"bbox_normalized"`
	ClassID        int        `json:"class_id"`
	ClassName      string     `json:"class_name"`
	Confidence     float64    `json:"confidence"`
}

// Entry is the persisted record of one detection or training-upload attempt
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      Type      `json:"type"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Detection fields
	DetectionSource  DetectionSource `json:"detectionSource,omitempty"`
	OriginalFilename string          `json:"originalFilename,omitempty"`
	DetectionResults []Detection     `json:"detectionResults,omitempty"`
	ImageData        string          `json:"imageData,omitempty"`

	// Training fields
	TrainingLabel             string   `json:"trainingLabel,omitempty"`
	TrainingFileCount         int      `json:"trainingFileCount,omitempty"`
	TrainingOriginalFilenames []string `json:"trainingOriginalFilenames,omitempty"`
	TrainingImageData         []string `json:"trainingImageData,omitempty"`
	TrainingObjectKeys        []string `json:"trainingObjectKeys,omitempty"`
	TrainingSavedCount        int      `json:"trainingSavedCount,omitempty"`
	TrainingErrors            []string `json:"trainingErrors,omitempty"`

	// ErrorMessage is set only when Status is failure
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Clone returns a deep copy of the entry
func (e *Entry) Clone() *Entry {
	c := *e
	c.DetectionResults = append([]Detection(nil), e.DetectionResults...)
	c.TrainingOriginalFilenames = append([]string(nil), e.TrainingOriginalFilenames...)
	c.TrainingImageData = append([]string(nil), e.TrainingImageData...)
	c.TrainingObjectKeys = append([]string(nil), e.TrainingObjectKeys...)
	c.TrainingErrors = append([]string(nil), e.TrainingErrors...)
	return &c
}

// Validate checks the fields required to create an entry
func (e *Entry) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("history entry requires a user id")
	}
	switch e.Type {
	case TypeDetection:
		if e.DetectionSource != SourceUpload && e.DetectionSource != SourceLiveFrame {
			return fmt.Errorf("invalid detection source %q", e.DetectionSource)
		}
	case TypeTrainingUpload:
		if e.TrainingLabel == "" {
			return fmt.Errorf("training entry requires a label")
		}
	default:
		return fmt.Errorf("invalid entry type %q", e.Type)
	}
	return nil
}

// IsTerminal reports whether no further transition is allowed from s
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusPartialSuccess
}

// transitions lists, for each target status, the statuses it may be entered from
var transitions = map[Status][]Status{
	StatusProcessing:     {StatusPending},
	StatusSuccess:        {StatusProcessing},
	StatusPartialSuccess: {StatusProcessing},
	StatusFailure:        {StatusPending, StatusProcessing},
}

// Predecessors returns the statuses from which next may be entered
func Predecessors(next Status) []Status {
	return transitions[next]
}

// CanTransition reports whether an entry in status from may move to next
func CanTransition(from, next Status) bool {
	for _, s := range transitions[next] {
		if s == from {
			return true
		}
	}
	return false
}

// checkTransition validates a move and wraps ErrInvalidTransition on refusal
func checkTransition(from, next Status) error {
	if !CanTransition(from, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	return nil
}
