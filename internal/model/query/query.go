package query

import (
	"errors"
	"strings"
)

// ErrInvalidMode is returned for query modes other than laws and judgements.
var ErrInvalidMode = errors.New("invalid query mode")

// Mode selects which legal corpus the backend searches.
type Mode string

const (
	ModeLaws       Mode = "laws"
	ModeJudgements Mode = "judgements"
)

// IsValid returns true if the mode is a known valid mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeLaws, ModeJudgements:
		return true
	default:
		return false
	}
}

// Path returns the endpoint path for the mode.
func (m Mode) Path() string {
	return "/query/" + string(m)
}

// ParseMode normalizes user input; an empty value falls back to laws.
func ParseMode(raw string) (Mode, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return ModeLaws, nil
	}
	mode := Mode(value)
	if !mode.IsValid() {
		return "", ErrInvalidMode
	}
	return mode, nil
}

// Turn is a prior conversation message sent as context.
type Turn struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// Request is the body posted to the query endpoint.
type Request struct {
	Query   string `json:"query"`
	Context []Turn `json:"context"`
}

// Response is the body returned by the query endpoint.
type Response struct {
	Answer string `json:"answer"`
}
