package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/courseware-agent/internal/extraction"
	"github.com/jonathan/courseware-agent/internal/gateway"
	"github.com/jonathan/courseware-agent/internal/routing"
	"github.com/jonathan/courseware-agent/internal/verification"
)

func describeAttempt(a *gateway.Attempt) string {
	msg := fmt.Sprintf("%s try %d: %s in %s", a.Backend, a.Try, a.Outcome, a.Latency.Round(time.Millisecond))
	if a.Error != "" {
		msg += ": " + a.Error
	}
	return msg
}

func routingObserver(run *Run) routing.Observer {
	return func(e routing.Event) {
		switch {
		case e.Attempt != nil:
			run.trace.Append(StageRouting, "gateway_attempt", describeAttempt(e.Attempt), e.Attempt)
		case e.Decision != nil:
			run.trace.Append(StageRouting, string(e.Kind), e.Message, e.Decision)
		default:
			run.trace.Append(StageRouting, string(e.Kind), e.Message, e.Candidates)
		}
	}
}

func extractionObserver(run *Run) extraction.Observer {
	return func(e extraction.Event) {
		switch e.Kind {
		case extraction.EventAttempt:
			run.trace.Append(StageExtracting, "gateway_attempt",
				fmt.Sprintf("%s on %s: %s", e.Task, e.DocumentID, describeAttempt(e.Attempt)), e.Attempt)
		case extraction.EventValue:
			v := e.Value
			msg := fmt.Sprintf("%s.%s from %s: missing", e.Task, v.Name, e.DocumentID)
			if v.Present() {
				msg = fmt.Sprintf("%s.%s from %s: %q (confidence %.2f, %s)", e.Task, v.Name, e.DocumentID, v.Normalized, v.Confidence, v.Provenance.Method)
			}
			run.trace.Append(StageExtracting, string(e.Kind), msg, v)
		case extraction.EventWinner:
			v := e.Value
			run.trace.Append(StageExtracting, string(e.Kind),
				fmt.Sprintf("%s.%s kept %q from %s (confidence %.2f)", e.Task, v.Name, v.Normalized, v.Provenance.DocumentID, v.Confidence), v)
		case extraction.EventConflict:
			c := e.Conflict
			run.trace.Append(StageExtracting, string(e.Kind),
				fmt.Sprintf("%s.%s discarded %q from %s (%.2f) for %q from %s (%.2f)", e.Task, c.Field,
					c.Loser.Normalized, c.Loser.Provenance.DocumentID, c.Loser.Confidence,
					c.Winner.Normalized, c.Winner.Provenance.DocumentID, c.Winner.Confidence), c)
		case extraction.EventDecoded:
			run.trace.Append(StageExtracting, string(e.Kind), e.Message, e.Metadata)
		default:
			run.trace.Append(StageExtracting, string(e.Kind), e.Message, nil)
		}
	}
}

func verificationObserver(run *Run) verification.Observer {
	return func(e verification.Event) {
		switch {
		case e.Attempt != nil:
			run.trace.Append(StageVerifying, "gateway_attempt",
				fmt.Sprintf("%s: %s", e.Field, describeAttempt(e.Attempt)), e.Attempt)
		case e.Verdict != nil:
			run.trace.Append(StageVerifying, string(e.Kind), fmt.Sprintf("aggregate %s", e.Verdict.Status), e.Verdict)
		default:
			run.trace.Append(StageVerifying, string(e.Kind), e.Message, e.Result)
		}
	}
}

// traceExhaustion records every backend's last error.
func traceExhaustion(run *Run, stage string, err error) {
	var ex *gateway.AllBackendsExhaustedError
	if !errors.As(err, &ex) {
		return
	}
	for _, f := range ex.Failures {
		run.trace.Append(stage, "backend_failure",
			fmt.Sprintf("%s failed after %d attempt(s): %v", f.Backend, f.Attempts, f.LastErr),
			map[string]any{"backend": f.Backend, "attempts": f.Attempts, "error": fmt.Sprint(f.LastErr)})
	}
}
