package usi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Reader turns engine output into Events, one per non-blank line
type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// Next returns the next event, skipping blank lines. io.EOF means the engine
// closed its output.
func (r *Reader) Next() (Event, error) {
	for r.scanner.Scan() {
		event, err := ParseLine(r.scanner.Text())
		if err != nil {
			continue
		}
		return event, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// EventType is the first word of an engine line
type EventType int

const (
	EventUnknown EventType = iota
	EventID
	EventUSIOK
	EventReadyOK
	EventInfo
	EventBestMove
	EventCheckmate
	EventOption
)

var eventNames = map[EventType]string{
	EventID:        "id",
	EventUSIOK:     "usiok",
	EventReadyOK:   "readyok",
	EventInfo:      "info",
	EventBestMove:  "bestmove",
	EventCheckmate: "checkmate",
	EventOption:    "option",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event holds the fields of one engine line that the session acts on.
// Raw keeps the whole line for logging and info parsing.
type Event struct {
	Type   EventType
	Key    string // id key or option name
	Value  string // id value or checkmate verdict (nomate, timeout, notimplemented)
	Move   string
	Ponder string
	Moves  []string // mating line of a checkmate answer
	Raw    string
}

// ParseLine decodes one engine line. Blank lines and truncated id or
// bestmove lines are errors; lines with an unknown keyword are EventUnknown.
func ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Event{}, errors.New("empty line")
	}

	e := Event{Type: EventUnknown, Raw: line}
	switch fields[0] {
	case "id":
		if len(fields) < 3 {
			return Event{}, fmt.Errorf("truncated id line: %q", line)
		}
		e.Type = EventID
		e.Key = fields[1]
		e.Value = strings.Join(fields[2:], " ")
	case "option":
		e.Type = EventOption
		if len(fields) >= 3 && fields[1] == "name" {
			e.Key = fields[2]
		}
	case "usiok":
		e.Type = EventUSIOK
	case "readyok":
		e.Type = EventReadyOK
	case "bestmove":
		if len(fields) < 2 {
			return Event{}, fmt.Errorf("bestmove without a move: %q", line)
		}
		e.Type = EventBestMove
		e.Move = fields[1]
		if len(fields) >= 4 && fields[2] == "ponder" {
			e.Ponder = fields[3]
		}
	case "checkmate":
		e.Type = EventCheckmate
		if len(fields) >= 2 {
			switch fields[1] {
			case "nomate", "timeout", "notimplemented":
				e.Value = fields[1]
			default:
				e.Moves = fields[1:]
			}
		}
	case "info":
		e.Type = EventInfo
	}
	return e, nil
}

// Score is an evaluation from an info line: centipawns ("cp") or moves to
// mate ("mate")
type Score struct {
	Kind  string
	Value int
}

func (s Score) String() string {
	switch s.Kind {
	case "cp", "mate":
		return fmt.Sprintf("%s %d", s.Kind, s.Value)
	}
	return "unknown"
}

// negate turns a score reported for gote into sente's view
func (s Score) negate() Score {
	s.Value = -s.Value
	return s
}

// parseInfoScore extracts "score cp N" or "score mate N" from an info line
func parseInfoScore(line string) (Score, bool) {
	fields := strings.Fields(line)
	for i := 0; i+2 < len(fields); i++ {
		if fields[i] != "score" {
			continue
		}
		kind := fields[i+1]
		if kind != "cp" && kind != "mate" {
			return Score{}, false
		}
		value, err := strconv.Atoi(fields[i+2])
		if err != nil {
			return Score{}, false
		}
		return Score{Kind: kind, Value: value}, true
	}
	return Score{}, false
}

// parseInfoPV returns the moves following "pv" in an info line
func parseInfoPV(line string) []string {
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "pv" {
			return fields[i+1:]
		}
	}
	return nil
}
