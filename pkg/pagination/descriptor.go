package pagination

import (
	"errors"
	"fmt"
)

// Kind selects the continuation protocol of a paginated operation.
type Kind int

const (
	// KindCursor continues with an opaque server-supplied cursor value.
	KindCursor Kind = iota + 1

	// KindPageNumber continues while the server reports more pages.
	KindPageNumber
)

// String returns the kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindCursor:
		return "cursor"
	case KindPageNumber:
		return "page_number"
	default:
		return "unknown"
	}
}

// ErrInvalidDescriptor is returned when a Descriptor is missing required fields.
var ErrInvalidDescriptor = errors.New("invalid pagination descriptor")

// Descriptor describes how a multi-page response continues and merges.
type Descriptor struct {
	// Kind selects the continuation protocol.
	Kind Kind

	// MergeField is the top-level array concatenated across pages.
	MergeField string

	// CursorField is the response field holding the next cursor (KindCursor).
	CursorField string

	// CursorParam is the request parameter receiving the cursor (KindCursor).
	CursorParam string

	// MoreField is the boolean response field signalling more pages (KindPageNumber).
	MoreField string

	// PageField is the response field holding the current page (KindPageNumber).
	PageField string

	// PageParam is the request parameter selecting the page (KindPageNumber).
	PageParam string
}

// Cursor returns a cursor-based descriptor.
func Cursor(cursorField, cursorParam, mergeField string) *Descriptor {
	return &Descriptor{
		Kind:        KindCursor,
		MergeField:  mergeField,
		CursorField: cursorField,
		CursorParam: cursorParam,
	}
}

// PageNumber returns a page-number-based descriptor.
func PageNumber(moreField, pageField, pageParam, mergeField string) *Descriptor {
	return &Descriptor{
		Kind:       KindPageNumber,
		MergeField: mergeField,
		MoreField:  moreField,
		PageField:  pageField,
		PageParam:  pageParam,
	}
}

// Validate checks that the fields required by the descriptor's kind are set.
func (d *Descriptor) Validate() error {
	if d.MergeField == "" {
		return fmt.Errorf("%w: merge field is required", ErrInvalidDescriptor)
	}

	switch d.Kind {
	case KindCursor:
		if d.CursorField == "" || d.CursorParam == "" {
			return fmt.Errorf("%w: cursor field and cursor param are required", ErrInvalidDescriptor)
		}
	case KindPageNumber:
		if d.MoreField == "" || d.PageField == "" || d.PageParam == "" {
			return fmt.Errorf("%w: more field, page field and page param are required", ErrInvalidDescriptor)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidDescriptor, d.Kind)
	}

	return nil
}

// continuationFields lists the response fields that only describe paging.
func (d *Descriptor) continuationFields() []string {
	if d.Kind == KindPageNumber {
		return []string{d.MoreField, d.PageField}
	}
	return []string{d.CursorField}
}

// param returns the request parameter carrying the continuation value.
func (d *Descriptor) param() string {
	if d.Kind == KindPageNumber {
		return d.PageParam
	}
	return d.CursorParam
}
