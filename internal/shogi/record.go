package shogi

import (
	"fmt"
	"strconv"
	"strings"
)

// BoardSize is the number of ranks and files
const BoardSize = 9

// NumHandKinds is the number of kinds that can be held in hand
const NumHandKinds = 7

// HandKinds lists the hand kinds in tray slot order
var HandKinds = [NumHandKinds]Kind{Pawn, Lance, Knight, Silver, Gold, Bishop, Rook}

// HandSlot returns the tray slot of a kind, or -1 for kinds that cannot be held
func HandSlot(k Kind) int {
	for i, hk := range HandKinds {
		if hk == k {
			return i
		}
	}
	return -1
}

// Hand holds captured piece counts indexed by tray slot
type Hand [NumHandKinds]int

// Count returns the number of pieces of kind k in hand
func (h Hand) Count(k Kind) int {
	slot := HandSlot(k)
	if slot < 0 {
		return 0
	}
	return h[slot]
}

// Total returns the number of pieces in hand
func (h Hand) Total() int {
	total := 0
	for _, n := range h {
		total += n
	}
	return total
}

// Record is a complete position extracted from one board image
type Record struct {
	// Board[row][col]: row 0 is rank 1 (far side), col 0 is file 9 (left edge)
	Board      [BoardSize][BoardSize]Piece
	Hands      [2]Hand
	SideToMove Side
}

// NewRecord returns an empty record with sente to move
func NewRecord() *Record {
	return &Record{SideToMove: Sente}
}

// At returns the piece at a row/column address
func (r *Record) At(row, col int) Piece {
	return r.Board[row][col]
}

// Tally counts every piece on the board and in both hands by base kind
func (r *Record) Tally() [NumKinds]int {
	var tally [NumKinds]int
	for row := 0; row < BoardSize; row++ {
		for col := 0; col < BoardSize; col++ {
			p := r.Board[row][col]
			if !p.IsEmpty() {
				tally[p.Kind]++
			}
		}
	}
	for side := range r.Hands {
		for slot, n := range r.Hands[side] {
			tally[HandKinds[slot]] += n
		}
	}
	return tally
}

// Validate checks that no kind exceeds its supply
func (r *Record) Validate() error {
	tally := r.Tally()
	for k := Pawn; k <= King; k++ {
		if tally[k] > Supply(k) {
			return fmt.Errorf("too many %s: %d (supply %d)", k, tally[k], Supply(k))
		}
	}
	for side := range r.Hands {
		for slot, n := range r.Hands[side] {
			if n < 0 {
				return fmt.Errorf("negative %s count in %s hand", HandKinds[slot], Side(side))
			}
		}
	}
	return nil
}

// RankToken returns the blank-run compressed SFEN token of one rank
func (r *Record) RankToken(row int) string {
	var sb strings.Builder
	blanks := 0
	for col := 0; col < BoardSize; col++ {
		p := r.Board[row][col]
		if p.IsEmpty() {
			blanks++
			continue
		}
		if blanks > 0 {
			sb.WriteString(strconv.Itoa(blanks))
			blanks = 0
		}
		sb.WriteString(p.SFEN())
	}
	if blanks > 0 {
		sb.WriteString(strconv.Itoa(blanks))
	}
	return sb.String()
}

// Rows returns the nine rank tokens, rank 1 first
func (r *Record) Rows() [BoardSize]string {
	var rows [BoardSize]string
	for row := range rows {
		rows[row] = r.RankToken(row)
	}
	return rows
}

// String renders the board with CSA tokens for debugging and CLI output
func (r *Record) String() string {
	var sb strings.Builder
	sb.WriteString("  9  8  7  6  5  4  3  2  1\n")
	for row := 0; row < BoardSize; row++ {
		for col := 0; col < BoardSize; col++ {
			sb.WriteString(r.Board[row][col].CSA())
		}
		fmt.Fprintf(&sb, " %d\n", row+1)
	}
	for side := Sente; side <= Gote; side++ {
		fmt.Fprintf(&sb, "%s hand:", side)
		for slot, n := range r.Hands[side] {
			if n > 0 {
				fmt.Fprintf(&sb, " %s%d", HandKinds[slot].CSA(), n)
			}
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "to move: %s\n", r.SideToMove)
	return sb.String()
}
