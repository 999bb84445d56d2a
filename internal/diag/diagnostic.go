package diag

// Diagnostic is one finding. Subject names what it is about: an archive,
// a jar entry, or a method signature.
type Diagnostic struct {
	Severity Severity `json:"severity" msgpack:"severity"`
	Code     Code     `json:"code" msgpack:"code"`
	Subject  string   `json:"subject,omitempty" msgpack:"subject,omitempty"`
	Message  string   `json:"message" msgpack:"message"`
	Notes    []string `json:"notes,omitempty" msgpack:"notes,omitempty"`
}

func New(sev Severity, code Code, subject, msg string) Diagnostic {
	return Diagnostic{Severity: sev, Code: code, Subject: subject, Message: msg}
}

func NewWarning(code Code, subject, msg string) Diagnostic {
	return New(SevWarning, code, subject, msg)
}

func (d Diagnostic) WithNote(msg string) Diagnostic {
	d.Notes = append(d.Notes, msg)
	return d
}
