// Package frame implements the on-ring frame layout: a fixed header,
// per-message pre-padding, the body, and implicit tail padding so the next
// header is always header-aligned.
package frame

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/fathomdata/hyperq/internal/align"
	"github.com/fathomdata/hyperq/internal/constants"
)

// Header is the decoded form of a frame's on-ring header.
type Header struct {
	Tag        uint8
	PrePadding uint8
	TotalSize  uint16
}

// EncodeHeader writes h into the first constants.HeaderSize bytes of buf.
func EncodeHeader(buf []byte, h Header) {
	_ = buf[constants.HeaderSize-1]
	buf[0] = h.Tag
	buf[1] = h.PrePadding
	binary.LittleEndian.PutUint16(buf[2:4], h.TotalSize)
}

// DecodeHeader reads a Header out of the first constants.HeaderSize bytes of buf.
func DecodeHeader(buf []byte) Header {
	_ = buf[constants.HeaderSize-1]
	return Header{
		Tag:        buf[0],
		PrePadding: buf[1],
		TotalSize:  binary.LittleEndian.Uint16(buf[2:4]),
	}
}

// WorstCaseSize computes W(T), the largest total frame size a body of the
// given size and alignment can ever require (§4.3).
func WorstCaseSize(bodySize, bodyAlign uintptr) (uint16, error) {
	h := uintptr(constants.HeaderSize)
	var w uintptr
	switch {
	case bodyAlign > h:
		w = h + (bodyAlign - h) + bodySize
	case bodySize == 0:
		w = h
	default:
		w = align.RoundUp(h+bodySize, h)
	}
	if w > constants.MaxFrameSize {
		return 0, fmt.Errorf("frame: worst-case size %d for body (size=%d align=%d) exceeds u16 range", w, bodySize, bodyAlign)
	}
	return uint16(w), nil
}

// BodyOffset computes, for a window whose first byte lives at windowAddr,
// the offset from the window's start at which a body of the given size and
// alignment must be placed, and the pre-padding byte count that produces it
// (§4.3 steps 1-2). The computation is address-based, not offset-based,
// because alignment is a property of the absolute address.
func BodyOffset(windowAddr uintptr, bodySize, bodyAlign uintptr) (offset uintptr, prePadding uint8) {
	h := uintptr(constants.HeaderSize)
	var bodyAddr uintptr
	switch {
	case bodyAlign > h:
		bodyAddr = align.RoundUp(windowAddr+h, bodyAlign)
	case bodySize == 0:
		bodyAddr = windowAddr + h
	default:
		bodyAddr = align.RoundUp(windowAddr+h, bodyAlign)
	}
	offset = bodyAddr - windowAddr
	prePadding = uint8(offset - h)
	return offset, prePadding
}

// Enqueue writes a frame header into window and returns the sub-slice the
// caller's in-place constructor must fill with exactly bodySize initialized
// bytes, plus the total frame size to report back to the ring's append
// primitive (§4.3 "Enqueue procedure").
//
// window must be at least as long as the frame actually ends up needing;
// callers typically obtain window from the ring sized to the handlers
// table's worst-case size for this tag, which is always sufficient.
func Enqueue(window []byte, tag uint8, bodySize, bodyAlign uintptr) (body []byte, totalSize uint16, err error) {
	if len(window) < constants.HeaderSize {
		return nil, 0, fmt.Errorf("frame: window of %d bytes smaller than header", len(window))
	}
	if tag == constants.ReservedSkipTag {
		return nil, 0, fmt.Errorf("frame: tag %d is reserved and cannot be enqueued", tag)
	}
	windowAddr := uintptr(unsafe.Pointer(&window[0]))
	offset, prePadding := BodyOffset(windowAddr, bodySize, bodyAlign)
	// Totals are whole multiples of HeaderSize, so every frame in a ring
	// starts 4-aligned and WorstCaseSize bounds the padding exactly.
	used := align.RoundUp(offset+bodySize, uintptr(constants.HeaderSize))
	if used > uintptr(len(window)) {
		return nil, 0, fmt.Errorf("frame: window of %d bytes too small for frame of %d bytes", len(window), used)
	}
	if used > constants.MaxFrameSize {
		return nil, 0, fmt.Errorf("frame: total size %d exceeds u16 range", used)
	}
	EncodeHeader(window, Header{Tag: tag, PrePadding: prePadding, TotalSize: uint16(used)})
	return window[offset : offset+bodySize : offset+bodySize], uint16(used), nil
}

// ProcessNext reads the header at the start of buf and returns the tag, the
// offset of the body from buf's start, and the total frame size the caller
// must report back to the ring to advance its read cursor. The caller
// (which knows the body's size from the handlers table entry for tag) slices
// out the body itself: buf[bodyOffset : bodyOffset+bodySize].
func ProcessNext(buf []byte) (tag uint8, bodyOffset uintptr, totalSize uint16, err error) {
	if len(buf) < constants.HeaderSize {
		return 0, 0, 0, fmt.Errorf("frame: buffer of %d bytes shorter than header", len(buf))
	}
	hdr := DecodeHeader(buf)
	bodyOffset = uintptr(constants.HeaderSize) + uintptr(hdr.PrePadding)
	if uintptr(hdr.TotalSize) < bodyOffset || uintptr(hdr.TotalSize) > uintptr(len(buf)) {
		return 0, 0, 0, fmt.Errorf("frame: corrupt header (total=%d prepad=%d buf=%d)", hdr.TotalSize, hdr.PrePadding, len(buf))
	}
	return hdr.Tag, bodyOffset, hdr.TotalSize, nil
}
