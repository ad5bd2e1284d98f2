package migration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tis24dev/confmigrate/internal/logging"
)

// Operation identifies the kind of migration a report covers.
type Operation string

const (
	OperationExport  Operation = "export"
	OperationImport  Operation = "import"
	OperationDecrypt Operation = "decrypt"
)

func (o Operation) String() string { return string(o) }

// Severity classifies a report record.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Record is one report message. Err is set for error records only.
type Record struct {
	Severity Severity
	Message  string
	Err      error
}

// Report accumulates the outcome of one export, import or decrypt run.
// Records are kept in order and identical records are kept once. Callbacks
// queued with DoAfterCompletion run exactly once, before the report
// decides whether the run succeeded. Once ended the report is read only.
type Report struct {
	id         string
	op         Operation
	logger     *logging.Logger
	now        func() time.Time
	start      time.Time
	end        time.Time
	ended      bool
	records    []Record
	seen       map[string]struct{}
	completion []func(*Report)
}

// NewReport starts a report for op. A nil logger discards log output.
func NewReport(op Operation, logger *logging.Logger) *Report {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	r := &Report{
		id:     uuid.NewString(),
		op:     op,
		logger: logger,
		now:    time.Now,
		seen:   make(map[string]struct{}),
	}
	r.start = r.now()
	return r
}

// ID returns the unique identifier of this run.
func (r *Report) ID() string { return r.id }

// Operation returns the kind of run this report covers.
func (r *Report) Operation() Operation { return r.op }

// StartTime returns when the run started.
func (r *Report) StartTime() time.Time { return r.start }

// EndTime returns when the run ended, if it has.
func (r *Report) EndTime() (time.Time, bool) { return r.end, r.ended }

// Duration returns the elapsed time, up to now for a running report.
func (r *Report) Duration() time.Duration {
	if r.ended {
		return r.end.Sub(r.start)
	}
	return r.now().Sub(r.start)
}

// RecordInfo records an informational message.
func (r *Report) RecordInfo(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if r.add(Record{Severity: SeverityInfo, Message: msg}) {
		r.logger.Info("%s", msg)
	}
}

// RecordWarning records a non fatal problem the operator should review.
func (r *Report) RecordWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if r.add(Record{Severity: SeverityWarning, Message: msg}) {
		r.logger.Warning("%s", msg)
	}
}

// RecordError records a failure. The run will not be successful.
func (r *Report) RecordError(err error) {
	if err == nil {
		return
	}
	if r.add(Record{Severity: SeverityError, Message: err.Error(), Err: err}) {
		r.logger.Error("%s", err.Error())
	}
}

func (r *Report) add(rec Record) bool {
	if r.ended {
		r.logger.Debug("ignoring %s recorded after the %s report ended: %s", rec.Severity, r.op, rec.Message)
		return false
	}
	key := rec.Severity.String() + "\x00" + rec.Message
	if _, dup := r.seen[key]; dup {
		return false
	}
	r.seen[key] = struct{}{}
	r.records = append(r.records, rec)
	return true
}

// Records returns a copy of every record in order.
func (r *Report) Records() []Record {
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Errors returns the recorded errors in order.
func (r *Report) Errors() []error {
	var out []error
	for _, rec := range r.records {
		if rec.Severity == SeverityError {
			out = append(out, rec.Err)
		}
	}
	return out
}

// Warnings returns the recorded warning messages in order.
func (r *Report) Warnings() []string {
	return r.messages(SeverityWarning)
}

// Infos returns the recorded informational messages in order.
func (r *Report) Infos() []string {
	return r.messages(SeverityInfo)
}

func (r *Report) messages(sev Severity) []string {
	var out []string
	for _, rec := range r.records {
		if rec.Severity == sev {
			out = append(out, rec.Message)
		}
	}
	return out
}

// HasErrors reports whether an error has been recorded so far, without
// running pending callbacks.
func (r *Report) HasErrors() bool { return r.count(SeverityError) > 0 }

// HasWarnings reports whether a warning has been recorded so far.
func (r *Report) HasWarnings() bool { return r.count(SeverityWarning) > 0 }

func (r *Report) count(sev Severity) int {
	n := 0
	for _, rec := range r.records {
		if rec.Severity == sev {
			n++
		}
	}
	return n
}

// DoAfterCompletion queues fn to run once the whole operation is done.
func (r *Report) DoAfterCompletion(fn func(*Report)) {
	if fn == nil || r.ended {
		return
	}
	r.completion = append(r.completion, fn)
}

// runCompletion drains the queue. Callbacks may queue more callbacks.
func (r *Report) runCompletion() {
	for len(r.completion) > 0 {
		fn := r.completion[0]
		r.completion = r.completion[1:]
		fn(r)
	}
}

// WasSuccessful runs pending callbacks and reports whether no error was recorded.
func (r *Report) WasSuccessful() bool {
	r.runCompletion()
	return !r.HasErrors()
}

// WasSuccessfulRunning runs fn and reports whether it recorded no new error.
func (r *Report) WasSuccessfulRunning(fn func()) bool {
	before := r.count(SeverityError)
	if fn != nil {
		fn()
	}
	return r.count(SeverityError) == before
}

// VerifyCompletion runs pending callbacks and returns nil when no error was
// recorded, the error itself when there is one, or a CompoundError.
func (r *Report) VerifyCompletion() error {
	r.runCompletion()
	errs := r.Errors()
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return &CompoundError{Errs: errs}
	}
}

// End runs pending callbacks and freezes the report. Calling it again is a no-op.
func (r *Report) End() {
	if r.ended {
		return
	}
	r.runCompletion()
	r.end = r.now()
	r.ended = true
}
