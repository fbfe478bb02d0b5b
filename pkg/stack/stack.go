package stack

import (
	"errors"
	"fmt"
)

var ErrOverflow = errors.New("stack overflow")

// Stack is a LIFO with an optional maximum size.
type Stack[T any] struct {
	a   []T
	l   int
	max int
}

// NewStack creates a new stack instance. A max of zero means unbounded.
func NewStack[T any](max int, elm ...T) *Stack[T] {
	stack := Stack[T]{
		a:   make([]T, 0, len(elm)),
		l:   0,
		max: max,
	}

	for _, e := range elm {
		stack.l++
		stack.a = append(stack.a, e)
	}

	return &stack
}

// Push adds an element to the top of the stack
func (s *Stack[T]) Push(elm T) error {
	if s.max > 0 && s.l >= s.max {
		return fmt.Errorf("%w: depth limit %d reached", ErrOverflow, s.max)
	}

	s.l++
	s.a = append(s.a, elm)

	return nil
}

// Pop removes and returns the top element of the stack
func (s *Stack[T]) Pop() (T, bool) {
	var zero T
	if s.l < 1 {
		return zero, false
	}

	s.l--
	elm := s.a[s.l]
	s.a[s.l] = zero
	s.a = s.a[:s.l]

	return elm, true
}

// Peek returns the top element of the stack without removing it
func (s *Stack[T]) Peek() (T, bool) {
	if s.l < 1 {
		var zero T
		return zero, false
	}

	return s.a[s.l-1], true
}

// Get the size of the stack
func (s *Stack[T]) Size() int {
	return s.l
}

// Full reports whether another Push would fail
func (s *Stack[T]) Full() bool {
	return s.max > 0 && s.l >= s.max
}

// Array returns the underlying array of the stack, bottom first
func (s *Stack[T]) Array() []T {
	return s.a
}
