package workerpool

import (
	"context"
	"reflect"
	"runtime"

	"github.com/vnykmshr/joinq/pkg/queue"
)

// DefaultProcess yields the processor once and consumes every item that
// came out of a queue. Only the zero WorkItem is rejected; the payload is
// not inspected.
func DefaultProcess(_ context.Context, item queue.WorkItem) bool {
	runtime.Gosched()
	return !item.IsZero()
}

// TruthyPayload is a ProcessFunc that consumes items whose payload is
// truthy and retries the rest. Pair it with a bounded retry policy: with
// retry.Immediate a falsy payload is requeued forever.
func TruthyPayload(_ context.Context, item queue.WorkItem) bool {
	runtime.Gosched()
	return Truthy(item.Payload())
}

// Truthy reports whether v counts as true: nil, false, numeric zero and
// empty strings, slices, arrays, maps and channels do not. Non-nil pointers
// and interfaces are judged by what they point to; everything else is true.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	return truthy(reflect.ValueOf(v))
}

func truthy(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Invalid:
		return false
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Complex64, reflect.Complex128:
		return rv.Complex() != 0
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map, reflect.Chan:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return truthy(rv.Elem())
	case reflect.Func, reflect.UnsafePointer:
		return !rv.IsNil()
	default:
		return true
	}
}
