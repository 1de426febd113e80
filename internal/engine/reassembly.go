package engine

// ReassemblyBuffer accumulates the fragments of one image payload in a
// fixed-capacity byte slice. Writes past the capacity are discarded.
type ReassemblyBuffer struct {
	data          []byte
	writeOffset   int
	offered       int
	expectedTotal int
	active        bool
}

// NewReassemblyBuffer allocates a buffer of exactly capacity bytes.
func NewReassemblyBuffer(capacity int) *ReassemblyBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &ReassemblyBuffer{data: make([]byte, capacity)}
}

// Reset starts a new payload of expectedTotal bytes, discarding any partial one.
func (b *ReassemblyBuffer) Reset(expectedTotal int) {
	if expectedTotal < 0 {
		expectedTotal = 0
	}
	b.writeOffset = 0
	b.offered = 0
	b.expectedTotal = expectedTotal
	b.active = true
}

// Append copies p at the write offset, clamped to the remaining capacity.
// complete reports that the bytes offered for this payload reached the
// expected total. Appending to an inactive buffer is a no-op.
func (b *ReassemblyBuffer) Append(p []byte) (written int, complete bool) {
	if !b.active {
		return 0, false
	}
	written = copy(b.data[b.writeOffset:], p)
	b.writeOffset += written
	b.offered += len(p)
	return written, b.offered >= b.expectedTotal
}

// Finish deactivates the buffer and returns the assembled bytes.
// The slice aliases the buffer and is valid until the next Reset.
func (b *ReassemblyBuffer) Finish() []byte {
	b.active = false
	return b.data[:b.writeOffset]
}

// Deactivate abandons the payload in progress.
func (b *ReassemblyBuffer) Deactivate() {
	b.active = false
}

// Active reports whether a payload is being assembled.
func (b *ReassemblyBuffer) Active() bool { return b.active }

// WriteOffset is the number of bytes stored for the current payload.
func (b *ReassemblyBuffer) WriteOffset() int { return b.writeOffset }

// ExpectedTotal is the length declared by the first fragment.
func (b *ReassemblyBuffer) ExpectedTotal() int { return b.expectedTotal }

// Capacity of the buffer in bytes.
func (b *ReassemblyBuffer) Capacity() int { return len(b.data) }

// Bytes returns the stored bytes of the current payload.
func (b *ReassemblyBuffer) Bytes() []byte { return b.data[:b.writeOffset] }

// View returns the whole backing slice, len equals the capacity.
func (b *ReassemblyBuffer) View() []byte { return b.data }
