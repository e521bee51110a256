package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/parleylabs/agentd/pkg/pipeline"
)

// Severity classifies a pipeline fault.
type Severity int

const (
	// SeverityTransient marks a fault expected to succeed on retry
	// (network/availability class).
	SeverityTransient Severity = iota

	// SeverityPermanent marks a fault not expected to succeed on retry
	// (logic/auth/validation class).
	SeverityPermanent
)

func (s Severity) String() string {
	switch s {
	case SeverityTransient:
		return "transient"
	case SeverityPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// FaultRecord is the classification result for one caught failure.
// It is consumed by logging and escalation only, never retained.
type FaultRecord struct {
	Severity  Severity `json:"severity"`
	Component string   `json:"component"`
	Message   string   `json:"message"`
}

// ErrEmptyReply marks a planner response with no usable text. It is treated
// as a transient planner fault so the turn gets one retry.
var ErrEmptyReply = errors.New("session: planner returned empty reply")

// transientSymptoms is the ordered list of message substrings recognized as
// network/availability failures. Matching is case-insensitive.
var transientSymptoms = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"rate limit",
	"too many requests",
	"429",
	"503",
	"504",
	"service unavailable",
	"temporarily unavailable",
	"connection reset",
	"connection refused",
	"network",
	"unexpected eof",
}

// Classifier categorizes pipeline failures as transient or permanent and
// logs every classification. Classification itself is a pure function of the
// error and component; the log line is the only side effect.
type Classifier struct {
	symptoms []string
	logger   *slog.Logger
}

// NewClassifier creates a classifier with the default symptom table.
func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		symptoms: transientSymptoms,
		logger:   logger.With("component", "session.faults"),
	}
}

// Classify categorizes err and logs the result at the matching severity.
func (c *Classifier) Classify(err error, component string) FaultRecord {
	rec := FaultRecord{
		Severity:  c.severity(err),
		Component: component,
		Message:   err.Error(),
	}

	switch rec.Severity {
	case SeverityTransient:
		c.logger.Warn("transient pipeline fault",
			"pipeline_component", component,
			"error", err,
		)
	default:
		c.logger.Error("permanent pipeline fault",
			"pipeline_component", component,
			"error", err,
			"error_type", errType(err),
		)
	}
	return rec
}

// severity decides transient vs permanent without logging.
func (c *Classifier) severity(err error) Severity {
	if errors.Is(err, context.DeadlineExceeded) {
		return SeverityTransient
	}
	if errors.Is(err, ErrEmptyReply) {
		return SeverityTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return SeverityTransient
	}

	if apiErr, ok := pipeline.AsAPIError(err); ok {
		if apiErr.IsRetryable() {
			return SeverityTransient
		}
		return SeverityPermanent
	}

	msg := strings.ToLower(err.Error())
	for _, symptom := range c.symptoms {
		if strings.Contains(msg, symptom) {
			return SeverityTransient
		}
	}
	return SeverityPermanent
}

// errType returns a short name for the error's dynamic type, used in
// permanent-fault diagnostics.
func errType(err error) string {
	var provErr *pipeline.ProviderError
	if errors.As(err, &provErr) {
		return "provider:" + provErr.Provider
	}
	if apiErr, ok := pipeline.AsAPIError(err); ok {
		return "api:" + apiErr.Provider
	}
	return "generic"
}
