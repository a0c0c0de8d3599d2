package notation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/thyrook/shogisolver/internal/shogi"
)

// sfenHandOrder is the conventional order of hand pieces in SFEN
var sfenHandOrder = []shogi.Kind{shogi.Rook, shogi.Bishop, shogi.Gold, shogi.Silver, shogi.Knight, shogi.Lance, shogi.Pawn}

// SFEN renders a record as an SFEN position string
func SFEN(r *shogi.Record, moveNumber int) string {
	rows := r.Rows()
	turn := "b"
	if r.SideToMove == shogi.Gote {
		turn = "w"
	}
	if moveNumber < 1 {
		moveNumber = 1
	}
	return fmt.Sprintf("%s %s %s %d", strings.Join(rows[:], "/"), turn, sfenHands(r), moveNumber)
}

func sfenHands(r *shogi.Record) string {
	var sb strings.Builder
	for _, side := range []shogi.Side{shogi.Sente, shogi.Gote} {
		for _, kind := range sfenHandOrder {
			n := r.Hands[side].Count(kind)
			if n == 0 {
				continue
			}
			if n > 1 {
				sb.WriteString(strconv.Itoa(n))
			}
			sb.WriteString(shogi.Piece{Kind: kind, Side: side}.SFEN())
		}
	}
	if sb.Len() == 0 {
		return "-"
	}
	return sb.String()
}

// ParseSFEN reads an SFEN position string. A leading "sfen " is accepted and
// trailing move number and moves are ignored.
func ParseSFEN(sfen string) (*shogi.Record, error) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(sfen), "sfen "))
	if len(fields) < 3 {
		return nil, fmt.Errorf("invalid sfen: %q", sfen)
	}
	r := shogi.NewRecord()
	if err := parseSFENBoard(r, fields[0]); err != nil {
		return nil, err
	}
	switch fields[1] {
	case "b":
		r.SideToMove = shogi.Sente
	case "w":
		r.SideToMove = shogi.Gote
	default:
		return nil, fmt.Errorf("invalid side to move: %q", fields[1])
	}
	if err := parseSFENHands(r, fields[2]); err != nil {
		return nil, err
	}
	return r, nil
}

func parseSFENBoard(r *shogi.Record, board string) error {
	ranks := strings.Split(board, "/")
	if len(ranks) != shogi.BoardSize {
		return fmt.Errorf("expected %d ranks, got %d", shogi.BoardSize, len(ranks))
	}
	for row, rank := range ranks {
		col := 0
		promoted := false
		for _, ch := range rank {
			switch {
			case ch == '+':
				if promoted {
					return fmt.Errorf("repeated promotion mark in rank %d", row+1)
				}
				promoted = true
				continue
			case isASCIIDigit(ch):
				if promoted {
					return fmt.Errorf("promotion mark before empty squares in rank %d", row+1)
				}
				col += int(ch - '0')
			default:
				kind, side, ok := shogi.KindFromSFEN(ch)
				if !ok {
					return fmt.Errorf("invalid piece %q in rank %d", ch, row+1)
				}
				if promoted && !kind.CanPromote() {
					return fmt.Errorf("piece %q in rank %d cannot promote", ch, row+1)
				}
				if col >= shogi.BoardSize {
					return fmt.Errorf("rank %d overflows", row+1)
				}
				r.Board[row][col] = shogi.Piece{Kind: kind, Promoted: promoted, Side: side}
				col++
			}
			promoted = false
		}
		if promoted {
			return fmt.Errorf("dangling promotion mark in rank %d", row+1)
		}
		if col != shogi.BoardSize {
			return fmt.Errorf("rank %d has %d files", row+1, col)
		}
	}
	return nil
}

func parseSFENHands(r *shogi.Record, hands string) error {
	if hands == "-" {
		return nil
	}
	count := 0
	for _, ch := range hands {
		if isASCIIDigit(ch) {
			count = count*10 + int(ch-'0')
			continue
		}
		kind, side, ok := shogi.KindFromSFEN(ch)
		slot := shogi.HandSlot(kind)
		if !ok || slot < 0 {
			return fmt.Errorf("invalid hand piece %q", ch)
		}
		if count == 0 {
			count = 1
		}
		r.Hands[side][slot] += count
		count = 0
	}
	return nil
}

// isASCIIDigit reports whether ch is one of '0' through '9'. Full-width and
// other Unicode digits are not part of SFEN.
func isASCIIDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}
