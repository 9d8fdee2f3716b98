// Package ortutil holds helpers shared by the runtime-facing packages.
package ortutil

import (
	"fmt"
	"reflect"

	"go.uber.org/multierr"
)

// Destroyer is implemented by runtime resources that must be released explicitly.
type Destroyer interface {
	Destroy() error
}

// DestroyAll releases every resource in order and combines the failures.
// Nil and typed-nil resources are skipped.
func DestroyAll(resources ...Destroyer) error {
	var err error
	for _, resource := range resources {
		if isNil(resource) {
			continue
		}
		err = multierr.Append(err, resource.Destroy())
	}
	return err
}

// Named pairs a resource with a label used in release errors.
type Named struct {
	Name     string
	Resource Destroyer
}

// DestroyNamed behaves like DestroyAll but prefixes each failure with the
// resource label, so a combined error says which release failed.
func DestroyNamed(resources ...Named) error {
	var err error
	for _, r := range resources {
		if isNil(r.Resource) {
			continue
		}
		if destroyErr := r.Resource.Destroy(); destroyErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to destroy %s: %w", r.Name, destroyErr))
		}
	}
	return err
}

func isNil(resource Destroyer) bool {
	if resource == nil {
		return true
	}
	value := reflect.ValueOf(resource)
	switch value.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return value.IsNil()
	default:
		return false
	}
}
