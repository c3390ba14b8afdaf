// Package jobs implements the job codec (schema, defaults, validation)
// and the job envelope shared by the broker, queue facade, and workers.
// Payload schemas are declared as struct tags and validated with
// go-playground/validator.
package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Kind of job, matching the Job record's kind enum.
type JobKind string

const (
	KindScrape         JobKind = "SCRAPE"
	KindLabel          JobKind = "LABEL"
	KindProcessResults JobKind = "PROCESS_RESULTS"
	KindCleanup        JobKind = "CLEANUP"
	KindExport         JobKind = "EXPORT"
)

var validate = validator.New()

// ScrapePayload is the SCRAPE job schema.
type ScrapePayload struct {
	AppID         string   `json:"appId" validate:"required"`
	Countries     []string `json:"countries" validate:"required,min=1,dive,len=2"`
	Pages         int      `json:"pages" validate:"min=1,max=10"`
	SortMethods   []string `json:"sortMethods" validate:"required,min=1,dive,oneof=recent helpful"`
	ThrottleMs    int      `json:"throttleMs" validate:"min=0,max=5000"`
	CorrelationID string   `json:"correlationId,omitempty"`
	Priority      int      `json:"priority" validate:"min=1,max=10"`
	MaxAttempts   int      `json:"maxAttempts" validate:"min=0,max=5"`
	DelayMs       int      `json:"delayMs" validate:"min=0"`
}

// Defaults fills in zero-valued fields and uppercases countries. It
// never touches fields the caller already set.
func (p *ScrapePayload) Defaults() {
	if p.Pages == 0 {
		p.Pages = 5
	}
	if len(p.SortMethods) == 0 {
		p.SortMethods = []string{"recent"}
	}
	if p.ThrottleMs == 0 {
		p.ThrottleMs = 500
	}
	if p.Priority == 0 {
		p.Priority = 5
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	for i, c := range p.Countries {
		p.Countries[i] = strings.ToUpper(c)
	}
}

// LabelPayload is the LABEL job schema.
type LabelPayload struct {
	ReviewIDs     []string `json:"reviewIds" validate:"required,min=1"`
	BatchSize     int      `json:"batchSize" validate:"min=1,max=100"`
	Model         string   `json:"model"`
	TaxonomyRef   string   `json:"taxonomyRef,omitempty"`
	CorrelationID string   `json:"correlationId,omitempty"`
	Priority      int      `json:"priority" validate:"min=1,max=10"`
	MaxAttempts   int      `json:"maxAttempts" validate:"min=0,max=5"`
}

// DefaultModel is used when a LABEL payload doesn't name one.
const DefaultModel = "claude-3-5-sonnet-20241022"

func (p *LabelPayload) Defaults() {
	if p.BatchSize == 0 {
		p.BatchSize = 20
	}
	if p.Model == "" {
		p.Model = DefaultModel
	}
	if p.Priority == 0 {
		p.Priority = 5
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 2
	}
}

// ProcessResultsPayload, CleanupPayload, and ExportPayload have schemas
// but no real processor yet; their workers run internal/noop.
type ProcessResultsPayload struct {
	CorrelationID string `json:"correlationId,omitempty"`
	Priority      int    `json:"priority" validate:"min=1,max=10"`
}

type CleanupPayload struct {
	OlderThanHours int    `json:"olderThanHours" validate:"min=0"`
	CorrelationID  string `json:"correlationId,omitempty"`
	Priority       int    `json:"priority" validate:"min=1,max=10"`
}

type ExportPayload struct {
	Format        string `json:"format"`
	CorrelationID string `json:"correlationId,omitempty"`
	Priority      int    `json:"priority" validate:"min=1,max=10"`
}

func (p *ProcessResultsPayload) Defaults() {
	if p.Priority == 0 {
		p.Priority = 5
	}
}
func (p *CleanupPayload) Defaults() {
	if p.Priority == 0 {
		p.Priority = 5
	}
	if p.OlderThanHours == 0 {
		p.OlderThanHours = 720
	}
}
func (p *ExportPayload) Defaults() {
	if p.Priority == 0 {
		p.Priority = 5
	}
	if p.Format == "" {
		p.Format = "csv"
	}
}

// MaxAttemptsForKind returns the default maxAttempts for a kind absent
// an explicit per-payload override: 3, except 2 for LABEL (LLM calls are
// expensive to repeat).
func MaxAttemptsForKind(k JobKind) int {
	if k == KindLabel {
		return 2
	}
	return 3
}

// DecodeAndValidate parses raw into the payload type for kind, applies
// defaults, validates, and returns a pointer to it boxed as an any so
// callers can type-switch. Validation failures are wrapped in
// ErrInvalidPayload.
func DecodeAndValidate(kind JobKind, raw json.RawMessage) (any, error) {
	switch kind {
	case KindScrape:
		var p ScrapePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		p.Defaults()
		if err := validate.Struct(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return &p, nil
	case KindLabel:
		var p LabelPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		p.Defaults()
		if err := validate.Struct(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return &p, nil
	case KindProcessResults:
		var p ProcessResultsPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		p.Defaults()
		if err := validate.Struct(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return &p, nil
	case KindCleanup:
		var p CleanupPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		p.Defaults()
		if err := validate.Struct(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return &p, nil
	case KindExport:
		var p ExportPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		p.Defaults()
		if err := validate.Struct(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("%w: unknown job kind %q", ErrInvalidPayload, kind)
	}
}

// State of a job within a single reservation cycle.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDead      State = "dead"
)

// Job is the broker-owned record wrapping a validated, kind-typed
// payload.
type Job struct {
	ID            string          `json:"id"`
	Kind          JobKind         `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Priority      int             `json:"priority"`
	AttemptsMade  int             `json:"attemptsMade"`
	MaxAttempts   int             `json:"maxAttempts"`
	State         State           `json:"state"`
	Progress      int             `json:"progress"`
	ReservedBy    string          `json:"reservedBy,omitempty"`
	ReservedUntil time.Time       `json:"reservedUntil,omitempty"`
	CorrelationID string          `json:"correlationId"`
	DelayUntil    time.Time       `json:"delayUntil,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (j Job) Marshal() ([]byte, error) { return json.Marshal(j) }

func UnmarshalJob(b []byte) (Job, error) {
	var j Job
	err := json.Unmarshal(b, &j)
	return j, err
}

// Result is what every processor returns at the job boundary.
type Result struct {
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	Data           any    `json:"data,omitempty"`
	Error          string `json:"error,omitempty"`
	ProcessingTime int64  `json:"processingTime"`
	ItemsProcessed int    `json:"itemsProcessed"`
}
