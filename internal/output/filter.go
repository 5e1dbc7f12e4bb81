package output

import (
	"fmt"

	"github.com/itchyny/gojq"

	qberrors "github.com/timewarp/quickbooks-cli/internal/sdk/errors"
)

// filter wraps a compiled jq program.
type filter struct {
	expr string
	code *gojq.Code
}

func compileFilter(expr string) (*filter, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, qberrors.ErrUsage(fmt.Sprintf("invalid jq expression %q: %v", expr, err))
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, qberrors.ErrUsage(fmt.Sprintf("invalid jq expression %q: %v", expr, err))
	}
	return &filter{expr: expr, code: code}, nil
}

// apply runs the program over v. A single result is returned bare;
// multiple results come back as a slice.
func (f *filter) apply(v any) (any, error) {
	var results []any
	iter := f.code.Run(v)
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := out.(error); isErr {
			return nil, qberrors.ErrUsage(fmt.Sprintf("jq: %v", err))
		}
		results = append(results, out)
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}
