// Package notation converts position records to and from CSA, SFEN and
// Japanese move text.
package notation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/thyrook/shogisolver/internal/shogi"
)

// CSA renders a record as CSA position lines followed by the turn line
func CSA(r *shogi.Record) string {
	lines := make([]string, 0, shogi.BoardSize+3)
	for row := 0; row < shogi.BoardSize; row++ {
		var sb strings.Builder
		sb.WriteString("P")
		sb.WriteString(strconv.Itoa(row + 1))
		for col := 0; col < shogi.BoardSize; col++ {
			sb.WriteString(r.Board[row][col].CSA())
		}
		lines = append(lines, sb.String())
	}
	for _, side := range []shogi.Side{shogi.Sente, shogi.Gote} {
		if line := csaHandLine(side, r.Hands[side]); line != "" {
			lines = append(lines, line)
		}
	}
	lines = append(lines, r.SideToMove.Mark())
	return strings.Join(lines, "\n")
}

func csaHandLine(side shogi.Side, hand shogi.Hand) string {
	if hand.Total() == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("P" + side.Mark())
	for slot, n := range hand {
		for i := 0; i < n; i++ {
			sb.WriteString("00" + shogi.HandKinds[slot].CSA())
		}
	}
	return sb.String()
}

// ParseCSA reads CSA position lines. "P+00ALL" / "P-00ALL" give that side every
// piece not accounted for elsewhere. Lines that are not position or turn lines
// are ignored.
func ParseCSA(text string) (*shogi.Record, error) {
	r := shogi.NewRecord()
	var seen [shogi.BoardSize]bool
	allSide := -1

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "+":
			r.SideToMove = shogi.Sente
		case line == "-":
			r.SideToMove = shogi.Gote
		case strings.HasPrefix(line, "P+00"), strings.HasPrefix(line, "P-00"):
			side := shogi.Sente
			if line[1] == '-' {
				side = shogi.Gote
			}
			if line[4:] == "ALL" {
				allSide = int(side)
				continue
			}
			if err := parseCSAHand(r, side, line[2:]); err != nil {
				return nil, err
			}
		case len(line) >= 2 && line[0] == 'P' && line[1] >= '1' && line[1] <= '9':
			row := int(line[1] - '1')
			if err := parseCSARank(r, row, line[2:]); err != nil {
				return nil, fmt.Errorf("rank %d: %w", row+1, err)
			}
			seen[row] = true
		}
	}

	for row, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("incomplete position: rank %d missing", row+1)
		}
	}

	if allSide >= 0 {
		FillRemaining(r, shogi.Side(allSide))
	}
	return r, nil
}

func parseCSARank(r *shogi.Record, row int, body string) error {
	// editors often strip the trailing blank of a final " * " token
	if len(body) == 3*shogi.BoardSize-1 {
		body += " "
	}
	if len(body) < 3*shogi.BoardSize {
		return fmt.Errorf("short rank line: %q", body)
	}
	for col := 0; col < shogi.BoardSize; col++ {
		p, err := shogi.ParseCSAPiece(body[col*3 : col*3+3])
		if err != nil {
			return err
		}
		r.Board[row][col] = p
	}
	return nil
}

func parseCSAHand(r *shogi.Record, side shogi.Side, body string) error {
	for _, name := range strings.Split(body, "00") {
		if name == "" {
			continue
		}
		kind, _, err := shogi.KindFromCSA(name)
		if err != nil {
			return err
		}
		slot := shogi.HandSlot(kind)
		if slot < 0 {
			return fmt.Errorf("%s cannot be held in hand", name)
		}
		r.Hands[side][slot]++
	}
	return nil
}

// FillRemaining gives side every hand piece missing from the full set
func FillRemaining(r *shogi.Record, side shogi.Side) {
	tally := r.Tally()
	for slot, kind := range shogi.HandKinds {
		if rest := shogi.Supply(kind) - tally[kind]; rest > 0 {
			r.Hands[side][slot] += rest
		}
	}
}
