package utils

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// MergeErrors collapses the per-rank/per-edge errors from a fan-out (e.g.
// one Coll's parallel edges, or one time step's active batches) into a
// single error, or nil if none failed.
func MergeErrors(errs []error, hint string) error {
	var result *multierror.Error
	for _, e := range errs {
		if e != nil {
			result = multierror.Append(result, e)
		}
	}
	if result == nil {
		return nil
	}
	result.ErrorFormat = func(es []error) string {
		return fmt.Sprintf("%s failed with %d error(s): %s", hint, len(es), multierror.ListFormatFunc(es))
	}
	return result
}
