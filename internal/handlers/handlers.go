// Package handlers implements the per-queue body-type registry: a dense,
// 8-bit-tag-indexed table mapping a registered body type to its type-erased
// handler thunk, destructor thunk, and size/alignment, plus a slow-path
// lookup from a body type's runtime identity to its tag.
package handlers

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/fathomdata/hyperq/internal/constants"
	"github.com/fathomdata/hyperq/internal/frame"
)

// HandleFunc is the type-erased handler thunk stored per tag. bodyPtr points
// at a live body of the registered type; args is the caller-supplied,
// per-call handler argument bundle, opaque to the table itself.
type HandleFunc func(bodyPtr unsafe.Pointer, args any) error

// DestroyFunc is the type-erased destructor thunk stored per tag. It must be
// equivalent to running the registered type's destructor on the value at
// bodyPtr.
type DestroyFunc func(bodyPtr unsafe.Pointer)

// Registration is one body type's entry in a Table.
type Registration struct {
	Type       reflect.Type
	Size       uintptr
	Align      uintptr
	WorstCase  uint16
	Handle     HandleFunc
	Destroy    DestroyFunc
}

// Table is a fixed-capacity, tag-indexed registry of body types. A Table is
// mutated only during the pre-start registration phase; once a queue begins
// accepting traffic against it, it must not be registered into again. The
// table itself does not enforce this sealing — callers seal by construction
// order, building the table fully before handing it to a Queue.
type Table struct {
	mu            sync.Mutex
	entries       []Registration
	byType        map[reflect.Type]uint8
	maxFramedSize uint16
}

// NewTable returns an empty handlers table.
func NewTable() *Table {
	return &Table{
		byType: make(map[reflect.Type]uint8),
	}
}

// Register adds a body type to the table under the given runtime type,
// size, alignment, handler, and destructor, and returns its assigned tag.
// Tags are assigned monotonically starting at 0 in registration order.
// Register fails if t is already registered or the table is at capacity
// (§4.2 "register<T>").
func (tbl *Table) Register(t reflect.Type, size, align uintptr, handle HandleFunc, destroy DestroyFunc) (uint8, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	if _, ok := tbl.byType[t]; ok {
		return 0, fmt.Errorf("handlers: type %s is already registered", t)
	}
	if len(tbl.entries) >= constants.MaxTags {
		return 0, fmt.Errorf("handlers: table is at capacity (%d types)", constants.MaxTags)
	}

	worst, err := frame.WorstCaseSize(size, align)
	if err != nil {
		return 0, fmt.Errorf("handlers: type %s: %w", t, err)
	}

	tag := uint8(len(tbl.entries))
	tbl.entries = append(tbl.entries, Registration{
		Type:      t,
		Size:      size,
		Align:     align,
		WorstCase: worst,
		Handle:    handle,
		Destroy:   destroy,
	})
	tbl.byType[t] = tag
	if worst > tbl.maxFramedSize {
		tbl.maxFramedSize = worst
	}
	return tag, nil
}

// FindTag resolves the tag assigned to t, or false if t was never
// registered. This is the slow (hash lookup) path; callers should resolve
// once per (producer, type) pair and cache the result (§4.2 "find_tag<T>").
func (tbl *Table) FindTag(t reflect.Type) (uint8, bool) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	tag, ok := tbl.byType[t]
	return tag, ok
}

// Entry returns the registration for tag. Callers that already validated
// tag against a prior successful FindTag or Register call may rely on this
// never failing for that tag; out-of-range tags return an error rather than
// panicking, since this code runs in release builds with no debug-only
// bounds-check split (§9 "Interior mutability").
func (tbl *Table) Entry(tag uint8) (Registration, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	if int(tag) >= len(tbl.entries) {
		return Registration{}, fmt.Errorf("handlers: tag %d is not registered", tag)
	}
	return tbl.entries[tag], nil
}

// Len reports how many body types are currently registered.
func (tbl *Table) Len() int {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	return len(tbl.entries)
}

// MaxFramedSize returns the running maximum worst-case framed size over all
// registered types, used to size a ring at allocation.
func (tbl *Table) MaxFramedSize() uint16 {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	return tbl.maxFramedSize
}

// QueueByteBudget returns maxFramedSize * preferredMessagesOfWorstCaseSize,
// the byte capacity a ring should request to hold that many worst-case-sized
// messages (§4.2 "queue_byte_budget").
func (tbl *Table) QueueByteBudget(preferredMessagesOfWorstCaseSize int) uint64 {
	return uint64(tbl.MaxFramedSize()) * uint64(preferredMessagesOfWorstCaseSize)
}
