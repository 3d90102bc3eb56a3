package researcher

import "fmt"

// Outcome is the tagged result of one extraction. It is one of Extracted, Blocked, NotFound, Handoff
// or Failed; callers switch on the concrete type.
type Outcome interface {
	outcome()
}

// Extracted carries raw data for the normalizer. Partial data is reported through diagnostics on the
// raw record rather than as a separate outcome.
type Extracted struct {
	Raw RawRecord
}

// Blocked reports a CAPTCHA or login wall that could not be bypassed.
type Blocked struct {
	Source     Source `json:"source"`
	Identifier string `json:"identifier"`
	ProfileURL string `json:"profileUrl,omitempty"`
	Manual     bool   `json:"manual"`
	Guidance   string `json:"guidance"`
}

// NotFound reports that the source has no profile for the identifier or name.
type NotFound struct {
	Source     Source `json:"source"`
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// Handoff hands a search URL back to the caller instead of scraping a result listing.
type Handoff struct {
	Source    Source `json:"source"`
	Query     string `json:"query"`
	SearchURL string `json:"searchUrl"`
	Message   string `json:"message"`
}

// Failed reports a fatal error for the capture.
type Failed struct {
	Source Source
	Kind   ErrorKind
	Err    error
}

func (Extracted) outcome() {}
func (Blocked) outcome()   {}
func (NotFound) outcome()  {}
func (Handoff) outcome()   {}
func (Failed) outcome()    {}

// Error implements error so a Blocked outcome can travel through error-returning call sites.
func (b Blocked) Error() string {
	return fmt.Sprintf("%s profile %s blocked: %s", b.Source, b.Identifier, b.Guidance)
}

// Unwrap ties Blocked to ErrProfileBlocked.
func (b Blocked) Unwrap() error { return ErrProfileBlocked }

// Error implements error.
func (n NotFound) Error() string {
	return fmt.Sprintf("%s profile %s not found: %s", n.Source, n.Identifier, n.Reason)
}

// Unwrap ties NotFound to ErrProfileNotFound.
func (n NotFound) Unwrap() error { return ErrProfileNotFound }

// Error implements error.
func (f Failed) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s capture failed (%s)", f.Source, f.Kind)
	}
	return fmt.Sprintf("%s capture failed (%s): %v", f.Source, f.Kind, f.Err)
}

// Unwrap exposes the underlying error.
func (f Failed) Unwrap() error { return f.Err }
