// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func readAllEvents(t *testing.T, r io.Reader) []string {
	t.Helper()
	reader := NewReader(r)
	var events []string
	for {
		payload, err := reader.ReadEvent()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("ReadEvent() error = %v", err)
		}
		events = append(events, payload)
	}
}

func TestReadEvent(t *testing.T) {
	input := "data: {\"content\":\"a\"}\ndata: {\"content\":\"b\"}\ndata: [DONE]\n"
	events := readAllEvents(t, strings.NewReader(input))
	want := []string{`{"content":"a"}`, `{"content":"b"}`, "[DONE]"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

// Events must reassemble identically regardless of where the underlying
// reads split the byte stream.
func TestReadEventArbitraryBoundaries(t *testing.T) {
	input := "data: {\"content\":\"hello\"}\ndata: {\"content\":\" world\"}\ndata: [DONE]\n"
	want := readAllEvents(t, strings.NewReader(input))

	readers := map[string]io.Reader{
		"one byte at a time": iotest.OneByteReader(strings.NewReader(input)),
		"half reads":         iotest.HalfReader(strings.NewReader(input)),
		"data err reader":    iotest.DataErrReader(strings.NewReader(input)),
	}

	for name, r := range readers {
		t.Run(name, func(t *testing.T) {
			events := readAllEvents(t, r)
			if len(events) != len(want) {
				t.Fatalf("events = %v, want %v", events, want)
			}
			for i := range want {
				if events[i] != want[i] {
					t.Errorf("event[%d] = %q, want %q", i, events[i], want[i])
				}
			}
		})
	}
}

func TestReadEventSkipsNonDataLines(t *testing.T) {
	input := ": keep-alive\n\nevent: message\ndata: payload\n"
	events := readAllEvents(t, strings.NewReader(input))
	if len(events) != 1 || events[0] != "payload" {
		t.Errorf("events = %v, want [payload]", events)
	}
}

func TestReadEventFlushesFinalLineWithoutNewline(t *testing.T) {
	events := readAllEvents(t, strings.NewReader("data: tail"))
	if len(events) != 1 || events[0] != "tail" {
		t.Errorf("events = %v, want [tail]", events)
	}
}

func TestReadEventCRLF(t *testing.T) {
	events := readAllEvents(t, strings.NewReader("data: a\r\ndata: b\r\n"))
	if len(events) != 2 || events[0] != "a" || events[1] != "b" {
		t.Errorf("events = %v", events)
	}
}

func TestReadEventTooLarge(t *testing.T) {
	input := "data: " + strings.Repeat("x", MaxEventSize+1) + "\n"
	reader := NewReader(strings.NewReader(input))
	_, err := reader.ReadEvent()
	if !errors.Is(err, ErrEventTooLarge) {
		t.Errorf("error = %v, want ErrEventTooLarge", err)
	}
}
