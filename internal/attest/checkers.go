package attest

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"github.com/tidwall/gjson"
)

// Checker is a composable predicate over an observed value.
type Checker[T any] interface {
	Check(actual T) bool
	// Expected describes the accepted values for failure reports.
	Expected() string
}

// jsonChecker is implemented by checkers that look at the typed JSON value
// instead of its string form.
type jsonChecker interface {
	checkJSON(result gjson.Result) (ok bool, actual any)
}

type isChecker[T comparable] struct {
	value T
}

// Is accepts exactly value.
func Is[T comparable](value T) isChecker[T] {
	return isChecker[T]{value: value}
}

func (c isChecker[T]) Check(actual T) bool { return actual == c.value }
func (c isChecker[T]) Expected() string    { return fmt.Sprint(c.value) }

type oneOfChecker[T comparable] struct {
	values []T
}

// OneOf accepts any of values.
func OneOf[T comparable](values ...T) oneOfChecker[T] {
	return oneOfChecker[T]{values: values}
}

func (c oneOfChecker[T]) Check(actual T) bool { return slices.Contains(c.values, actual) }
func (c oneOfChecker[T]) Expected() string    { return fmt.Sprintf("one of %v", c.values) }

type notChecker[T any] struct {
	checker Checker[T]
}

// Not negates checker.
func Not[T any](checker Checker[T]) notChecker[T] {
	return notChecker[T]{checker: checker}
}

func (c notChecker[T]) Check(actual T) bool { return !c.checker.Check(actual) }
func (c notChecker[T]) Expected() string    { return "not " + c.checker.Expected() }

type atLeastChecker[T cmp.Ordered] struct {
	value T
}

// AtLeast accepts values greater than or equal to value. On a JSON path the
// field must be a number and value its decimal form.
func AtLeast[T cmp.Ordered](value T) atLeastChecker[T] {
	return atLeastChecker[T]{value: value}
}

func (c atLeastChecker[T]) Check(actual T) bool { return actual >= c.value }
func (c atLeastChecker[T]) Expected() string    { return fmt.Sprintf("at least %v", c.value) }

func (c atLeastChecker[T]) checkJSON(result gjson.Result) (bool, any) {
	want, err := strconv.ParseFloat(fmt.Sprint(c.value), 64)
	if err != nil || result.Type != gjson.Number {
		return false, result.Value()
	}
	return result.Num >= want, result.Num
}

type matchesChecker struct {
	pattern *regexp.Regexp
}

// Matches accepts strings matching the regular expression pattern. It
// panics if pattern does not compile.
func Matches(pattern string) matchesChecker {
	return matchesChecker{pattern: regexp.MustCompile(pattern)}
}

func (c matchesChecker) Check(actual string) bool { return c.pattern.MatchString(actual) }
func (c matchesChecker) Expected() string         { return fmt.Sprintf("matching %q", c.pattern) }

type nullChecker struct{}

// IsNull accepts a JSON field that is null or missing.
func IsNull() nullChecker {
	return nullChecker{}
}

func (nullChecker) Check(actual string) bool { return actual == "" }
func (nullChecker) Expected() string         { return "null" }

func (nullChecker) checkJSON(result gjson.Result) (bool, any) {
	return !result.Exists() || result.Type == gjson.Null, result.Value()
}

// JSONFieldChecker pairs a gjson path with a checker for that field.
type JSONFieldChecker struct {
	Path    string
	Checker Checker[string]
}

// checkAllJSON reports whether every field check holds on doc. onFail, if
// set, receives the first failing check and the value found.
func checkAllJSON(doc string, checks []JSONFieldChecker, onFail func(JSONFieldChecker, any)) bool {
	for _, check := range checks {
		result := gjson.Get(doc, check.Path)

		var ok bool
		var actual any
		if c, typed := check.Checker.(jsonChecker); typed {
			ok, actual = c.checkJSON(result)
		} else {
			actual = result.String()
			ok = check.Checker.Check(result.String())
		}

		if !ok {
			if onFail != nil {
				onFail(check, actual)
			}
			return false
		}
	}

	return true
}
