package core

import (
	"errors"
	"strings"
)

var (
	ErrEmptyTable = errors.New("sheet has no header row")
)

// MissingColumnsError reports required columns absent from an uploaded sheet.
type MissingColumnsError struct {
	Columns []Column
}

func (e *MissingColumnsError) Error() string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = string(c)
	}
	return "missing required column(s): " + strings.Join(names, ", ")
}
