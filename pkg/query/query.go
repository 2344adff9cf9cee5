// Package query describes logical Warcraft Logs requests independently of
// how many HTTP calls they take.
//
// An Operation declares an endpoint template, its parameters in a fixed order
// and an optional pagination descriptor. A Query binds concrete values to an
// Operation. The declaration order is used both for wire encoding and for
// cache-key derivation, so two queries built with the same values in a
// different order are equivalent.
package query

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/wcl-client/pkg/pagination"
)

var (
	// ErrUnknownParam is returned when a value is bound to an undeclared parameter.
	ErrUnknownParam = errors.New("unknown parameter")

	// ErrUnsupportedValue is returned for parameter values that are not scalars.
	ErrUnsupportedValue = errors.New("unsupported parameter value")

	// ErrMissingPathParam is returned when an endpoint placeholder has no value.
	ErrMissingPathParam = errors.New("missing path parameter")
)

// Operation is the static description of one API operation.
type Operation struct {
	// Name identifies the operation in cache keys, logs and metrics (e.g. "events").
	Name string

	// Endpoint is the path template relative to the base URL. Placeholders
	// are written as ":name" and must be declared in Params.
	Endpoint string

	// Params lists every wire parameter name in declaration order, path
	// placeholders included.
	Params []string

	// Subject is the primary identifier parameter (e.g. the report code).
	// It leads the cache key.
	Subject string

	// Discriminator is the parameter that closes the cache key (e.g. the view).
	Discriminator string

	// Pagination is nil for single-shot operations.
	Pagination *pagination.Descriptor
}

// Declares reports whether name is a declared parameter of the operation.
func (op *Operation) Declares(name string) bool {
	for _, p := range op.Params {
		if p == name {
			return true
		}
	}
	return false
}

// PathParams returns the placeholder names of the endpoint template in the
// order they appear.
func (op *Operation) PathParams() []string {
	var names []string
	for _, segment := range strings.Split(op.Endpoint, "/") {
		if strings.HasPrefix(segment, ":") && len(segment) > 1 {
			names = append(names, segment[1:])
		}
	}
	return names
}

// Values maps declared parameter names to scalar values. A nil value, or a
// nil pointer, means the parameter is not set.
type Values map[string]any

// Query is an immutable binding of values to an operation.
type Query struct {
	op     *Operation
	values map[string]string
}

// New builds a Query. Unset values are dropped; undeclared names and
// non-scalar values are rejected.
func New(op *Operation, values Values) (Query, error) {
	if op == nil {
		return Query{}, errors.New("operation is required")
	}

	resolved := make(map[string]string, len(values))
	for name, v := range values {
		if !op.Declares(name) {
			return Query{}, fmt.Errorf("%w %q for operation %s", ErrUnknownParam, name, op.Name)
		}
		s, ok, err := FormatValue(v)
		if err != nil {
			return Query{}, fmt.Errorf("parameter %q: %w", name, err)
		}
		if ok {
			resolved[name] = s
		}
	}

	return Query{op: op, values: resolved}, nil
}

// Must is like New but panics on error. It is intended for fixed queries.
func Must(op *Operation, values Values) Query {
	q, err := New(op, values)
	if err != nil {
		panic(err)
	}
	return q
}

// Operation returns the operation the query is bound to.
func (q Query) Operation() *Operation {
	return q.op
}

// Pagination returns the operation's pagination descriptor, or nil.
func (q Query) Pagination() *pagination.Descriptor {
	if q.op == nil {
		return nil
	}
	return q.op.Pagination
}

// Get returns the string form of a bound parameter.
func (q Query) Get(name string) (string, bool) {
	v, ok := q.values[name]
	return v, ok
}

// Ordered returns the bound parameters in declaration order.
func (q Query) Ordered() []Param {
	if q.op == nil {
		return nil
	}
	params := make([]Param, 0, len(q.values))
	for _, name := range q.op.Params {
		if v, ok := q.values[name]; ok {
			params = append(params, Param{Name: name, Value: v})
		}
	}
	return params
}

// Equal reports whether two queries are equivalent.
func (q Query) Equal(other Query) bool {
	if q.op == nil || other.op == nil {
		return q.op == other.op
	}
	if q.op.Name != other.op.Name || len(q.values) != len(other.values) {
		return false
	}
	for name, v := range q.values {
		if ov, ok := other.values[name]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ResolveEndpoint substitutes the endpoint placeholders with path-escaped
// parameter values.
func (q Query) ResolveEndpoint() (string, error) {
	segments := strings.Split(q.op.Endpoint, "/")
	for i, segment := range segments {
		if !strings.HasPrefix(segment, ":") || len(segment) == 1 {
			continue
		}
		name := segment[1:]
		v, ok := q.values[name]
		if !ok || v == "" {
			return "", fmt.Errorf("%w %q for operation %s", ErrMissingPathParam, name, q.op.Name)
		}
		segments[i] = url.PathEscape(v)
	}
	return strings.Join(segments, "/"), nil
}

// WireParams returns the query-string parameters, excluding path placeholders.
func (q Query) WireParams() url.Values {
	path := make(map[string]struct{})
	for _, name := range q.op.PathParams() {
		path[name] = struct{}{}
	}

	params := url.Values{}
	for _, p := range q.Ordered() {
		if _, isPath := path[p.Name]; isPath {
			continue
		}
		params.Set(p.Name, p.Value)
	}
	return params
}

// String renders the query for logs. Values are sorted by name.
func (q Query) String() string {
	if q.op == nil {
		return "<nil>"
	}
	names := make([]string, 0, len(q.values))
	for name := range q.values {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+q.values[name])
	}
	return q.op.Name + "{" + strings.Join(parts, ",") + "}"
}

// Param is one bound parameter.
type Param struct {
	Name  string
	Value string
}

// FormatValue converts a scalar, or a pointer to one, to its wire form. ok
// is false for nil values and nil pointers. Named types are formatted by
// their underlying kind.
func FormatValue(v any) (s string, ok bool, err error) {
	if v == nil {
		return "", false, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true, nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true, nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), true, nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), true, nil
	default:
		return "", false, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}
