// Package payload implements the compact payload encoding shared with the
// drain worker: "id1,id2,...;field1,field2,...". Ids and field names must not
// contain ',' or ';' — that is the caller's contract, not enforced here.
package payload

import (
	"strings"

	"github.com/pkg/errors"
)

// AllFields is the sentinel stored when a request names no specific fields:
// the whole document is reindexed.
const AllFields = "all"

const (
	itemSep = ","
	partSep = ";"
)

// Encode serializes one postpone call's ids and fields into a single set
// member.
func Encode(ids []string, fields []string) string {
	if len(fields) == 0 {
		fields = []string{AllFields}
	}
	return strings.Join(ids, itemSep) + partSep + strings.Join(fields, itemSep)
}

// Decode is the worker side of the contract.
func Decode(s string) (ids []string, fields []string, err error) {
	parts := strings.SplitN(s, partSep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, nil, errors.Errorf("payload: malformed entry %q", s)
	}
	return strings.Split(parts[0], itemSep), strings.Split(parts[1], itemSep), nil
}
