// Package dispatch implements the capability lookup the executor (C7)
// needs: given the singleton object and a method name, produce a
// callable or fail. No registration step is required of the object; any
// exported method is reachable, matching the source system's dynamic
// attribute lookup. There is no ecosystem library in the example corpus
// for string-keyed dynamic dispatch against arbitrary types, so this is
// built directly on the standard library's reflect package.
package dispatch

import (
	"fmt"
	"reflect"
)

// NotFoundError reports that method does not name an exported method on
// the target object.
type NotFoundError struct {
	MethodName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dispatch: method %q not found", e.MethodName)
}

// ArityError reports an argument-count mismatch.
type ArityError struct {
	MethodName string
	Want, Got  int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("dispatch: method %q expects %d argument(s), got %d", e.MethodName, e.Want, e.Got)
}

// Invoke looks up methodName on obj and calls it with args. Methods that
// declare a trailing error return value have that error surfaced
// directly; all other return values are collected into a slice, which
// is nil for a method with no return values and a bare value (not a
// slice) for a method with exactly one non-error return value.
func Invoke(obj any, methodName string, args []any) (any, error) {
	v := reflect.ValueOf(obj)
	method := v.MethodByName(methodName)
	if !method.IsValid() {
		return nil, &NotFoundError{MethodName: methodName}
	}
	methodType := method.Type()
	if methodType.IsVariadic() {
		if len(args) < methodType.NumIn()-1 {
			return nil, &ArityError{MethodName: methodName, Want: methodType.NumIn() - 1, Got: len(args)}
		}
	} else if len(args) != methodType.NumIn() {
		return nil, &ArityError{MethodName: methodName, Want: methodType.NumIn(), Got: len(args)}
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = coerceArg(a, methodType, i)
	}

	out := method.Call(in)
	return splitResults(out)
}

// coerceArg adapts a decoded-codec value (typically any, or a numeric
// type that does not exactly match the target parameter's width) to the
// method's declared parameter type.
func coerceArg(a any, methodType reflect.Type, index int) reflect.Value {
	val := reflect.ValueOf(a)
	paramType := paramTypeAt(methodType, index)
	if paramType == nil {
		return val
	}
	if !val.IsValid() {
		return reflect.Zero(*paramType)
	}
	if val.Type() == *paramType {
		return val
	}
	if val.Type().ConvertibleTo(*paramType) {
		return val.Convert(*paramType)
	}
	return val
}

func paramTypeAt(methodType reflect.Type, index int) *reflect.Type {
	n := methodType.NumIn()
	if methodType.IsVariadic() && index >= n-1 {
		t := methodType.In(n - 1).Elem()
		return &t
	}
	if index >= n {
		return nil
	}
	t := methodType.In(index)
	return &t
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func splitResults(out []reflect.Value) (any, error) {
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	if last.Type().Implements(errorType) {
		var callErr error
		if !last.IsNil() {
			callErr = last.Interface().(error)
		}
		values := out[:len(out)-1]
		switch len(values) {
		case 0:
			return nil, callErr
		case 1:
			return values[0].Interface(), callErr
		default:
			result := make([]any, len(values))
			for i, v := range values {
				result[i] = v.Interface()
			}
			return result, callErr
		}
	}
	if len(out) == 1 {
		return out[0].Interface(), nil
	}
	result := make([]any, len(out))
	for i, v := range out {
		result[i] = v.Interface()
	}
	return result, nil
}
