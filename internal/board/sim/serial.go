// Copyright 2025 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sim

import (
	"bufio"
	"io"
)

// Serial is the board's console UART. Input is drained from a reader by a
// goroutine, so the boot loop can test for a pending key without blocking.
type Serial struct {
	w       io.Writer
	in      chan byte
	pending []byte
}

// NewSerial returns a console writing to w and reading from r.
func NewSerial(r io.Reader, w io.Writer) *Serial {
	s := &Serial{w: w, in: make(chan byte, 256)}
	go func() {
		defer close(s.in)
		br := bufio.NewReader(r)
		for {
			c, err := br.ReadByte()
			if err != nil {
				return
			}
			s.in <- c
		}
	}()
	return s
}

// Write sends output to the console.
func (s *Serial) Write(p []byte) (int, error) { return s.w.Write(p) }

// Tstc reports whether a character is waiting.
func (s *Serial) Tstc() bool {
	if len(s.pending) > 0 {
		return true
	}
	select {
	case c, ok := <-s.in:
		if ok {
			s.pending = append(s.pending, c)
			return true
		}
	default:
	}
	return false
}

// Getc waits for the next character. It returns io.EOF once the input is
// exhausted.
func (s *Serial) Getc() (byte, error) {
	if len(s.pending) > 0 {
		c := s.pending[0]
		s.pending = s.pending[1:]
		return c, nil
	}
	c, ok := <-s.in
	if !ok {
		return 0, io.EOF
	}
	return c, nil
}
