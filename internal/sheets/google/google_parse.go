package google

import (
	"fmt"
	"strconv"
	"strings"

	"churnboard/internal/core"
)

// valuesToTable converts a values matrix (as returned by Sheets API) into a
// raw table. The first non-empty row is the header; trailing empty cells are
// already trimmed by the API.
func valuesToTable(values [][]interface{}) (core.RawTable, error) {
	for i, row := range values {
		headers := toStrings(row)
		if isBlank(headers) {
			continue
		}
		for j, h := range headers {
			headers[j] = strings.TrimSpace(h)
		}
		rows := make([][]string, 0, len(values)-i-1)
		for _, r := range values[i+1:] {
			rows = append(rows, toStrings(r))
		}
		return core.RawTable{Headers: headers, Rows: rows}, nil
	}
	return core.RawTable{}, core.ErrEmptyTable
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = cellString(v)
	}
	return out
}

// cellString renders numbers without exponent notation. Text is returned
// verbatim.
func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(x)
	}
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
