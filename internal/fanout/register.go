package fanout

import (
	"reflect"
	"unsafe"

	"github.com/fathomdata/hyperq/internal/handlers"
	"github.com/fathomdata/hyperq/internal/interfaces"
)

// Register adds T to table, deriving its handler thunk from Message.Handle
// and its destructor thunk from an optional Destroyer implementation on T
// (§9 "Destructor thunks"). Registration is pre-start setup: Register must
// complete for every body type before any queue built on table starts
// accepting traffic.
func Register[T any, C any, H any, PT MessagePtr[T, C, H]](table *handlers.Table) (uint8, error) {
	var zero T
	t := reflect.TypeOf(zero)
	size := unsafe.Sizeof(zero)
	align := unsafe.Alignof(zero)

	handle := func(bodyPtr unsafe.Pointer, args any) error {
		body := PT((*T)(bodyPtr))
		return body.Handle(args.(H))
	}
	destroy := func(bodyPtr unsafe.Pointer) {
		body := PT((*T)(bodyPtr))
		if d, ok := any(body).(interfaces.Destroyer); ok {
			d.Destroy()
		}
	}

	return table.Register(t, size, align, handle, destroy)
}
