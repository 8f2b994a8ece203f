package domain

// Recipient is one entry of the recipient directory. IDs are ascending and
// stable, which is what makes the campaign cursor resumable.
type Recipient struct {
	ID    int64  `json:"id" db:"id"`
	Email string `json:"email" db:"email"`
	Name  string `json:"name" db:"name"`
}

// RenderedMessage is the output of the template renderer.
type RenderedMessage struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Template is a stored message template in the renderer's source language.
type Template struct {
	ID      string `json:"id" db:"id"`
	Subject string `json:"subject" db:"subject"`
	Body    string `json:"body" db:"html_body"`
}
