package forecast

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrEmptyImportSummary indicates a SUCCESS import job without a message.
var ErrEmptyImportSummary = errors.New("import summary is empty")

// ImportSummary is the SUCCESS payload of a sales file import job. The
// server reports it as a sentence, e.g. "42 sales records successfully
// imported."; Records is set when the count can be read from it.
type ImportSummary struct {
	Message string `json:"message"`
	Records *int   `json:"records,omitempty"`
}

var importCountRe = regexp.MustCompile(`^\s*(\d+)\s+sales records`)

// ParseImportSummary reads an import job's result text.
func ParseImportSummary(text string) (ImportSummary, error) {
	msg := strings.TrimSpace(text)
	if msg == "" {
		return ImportSummary{}, ErrEmptyImportSummary
	}

	out := ImportSummary{Message: msg}
	if m := importCountRe.FindStringSubmatch(msg); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			out.Records = &n
		}
	}
	return out, nil
}
