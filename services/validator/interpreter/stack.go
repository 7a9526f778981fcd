package interpreter

import (
	"encoding/hex"
	"strings"
)

// stack is a LIFO of byte strings. Items are never modified in place once pushed.
type stack struct {
	items [][]byte
}

func (s *stack) Depth() int {
	return len(s.items)
}

func (s *stack) Push(b []byte) {
	s.items = append(s.items, b)
}

func (s *stack) PushBool(v bool) {
	if v {
		s.Push([]byte{1})
		return
	}

	s.Push(nil)
}

// Pop returns false when the stack is empty.
func (s *stack) Pop() ([]byte, bool) {
	if len(s.items) == 0 {
		return nil, false
	}

	last := len(s.items) - 1
	b := s.items[last]
	s.items[last] = nil
	s.items = s.items[:last]

	return b, true
}

func (s *stack) Peek() ([]byte, bool) {
	if len(s.items) == 0 {
		return nil, false
	}

	return s.items[len(s.items)-1], true
}

// Items returns a copy of the stack, bottom first.
func (s *stack) Items() [][]byte {
	items := make([][]byte, len(s.items))
	copy(items, s.items)

	return items
}

func (s *stack) String() string {
	var sb strings.Builder

	for i := len(s.items) - 1; i >= 0; i-- {
		sb.WriteString(hex.EncodeToString(s.items[i]))
		sb.WriteByte('\n')
	}

	return sb.String()
}

// asBool is false for an all-zero value and for negative zero, i.e. zero bytes
// followed by a trailing 0x80.
func asBool(b []byte) bool {
	for i := range b {
		if b[i] != 0 {
			if i == len(b)-1 && b[i] == 0x80 {
				return false
			}

			return true
		}
	}

	return false
}
