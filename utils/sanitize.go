package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// PlainText strips all markup from user input and returns readable text:
// "<b>Tom & Jerry</b>" becomes "Tom & Jerry".
type PlainText struct {
	policy *bluemonday.Policy
}

func NewPlainText() PlainText {
	return PlainText{policy: bluemonday.StrictPolicy()}
}

func (p PlainText) Sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(p.policy.Sanitize(s)))
}
