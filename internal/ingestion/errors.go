package ingestion

import "fmt"

// DecodeError is returned when a document's container cannot be read.
type DecodeError struct {
	DocumentID string
	Message    string
	Cause      error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode error for document %s: %s: %v", e.DocumentID, e.Message, e.Cause)
	}
	return fmt.Sprintf("decode error for document %s: %s", e.DocumentID, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}
