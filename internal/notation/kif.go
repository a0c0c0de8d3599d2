package notation

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/japanese"

	"github.com/thyrook/shogisolver/internal/shogi"
)

var fileNames = [10]string{"", "１", "２", "３", "４", "５", "６", "７", "８", "９"}
var rankNames = [10]string{"", "一", "二", "三", "四", "五", "六", "七", "八", "九"}
var sideMarks = [2]string{"▲", "△"}

var kanjiNames = [shogi.NumKinds]string{"", "歩", "香", "桂", "銀", "金", "角", "飛", "玉"}
var kanjiPromotedNames = [shogi.NumKinds]string{"", "と", "成香", "成桂", "成銀", "", "馬", "龍", ""}

// Kanji returns the Japanese name of a piece face
func Kanji(p shogi.Piece) string {
	if p.Promoted {
		return kanjiPromotedNames[p.Kind]
	}
	return kanjiNames[p.Kind]
}

// square is a board address in USI coordinates (file 1-9, rank 1-9)
type square struct {
	file int
	rank int
}

func (s square) row() int { return s.rank - 1 }
func (s square) col() int { return shogi.BoardSize - s.file }

func (s square) japanese() string {
	return fileNames[s.file] + rankNames[s.rank]
}

type usiMove struct {
	drop    shogi.Kind
	from    square
	to      square
	promote bool
}

func parseUSIMove(move string) (usiMove, error) {
	if len(move) < 4 {
		return usiMove{}, fmt.Errorf("invalid move: %q", move)
	}
	var m usiMove
	to, err := parseUSISquare(move[2:4])
	if err != nil {
		return usiMove{}, err
	}
	m.to = to
	if move[1] == '*' {
		kind, _, ok := shogi.KindFromSFEN(rune(move[0]))
		if !ok || shogi.HandSlot(kind) < 0 {
			return usiMove{}, fmt.Errorf("invalid drop: %q", move)
		}
		m.drop = kind
		return m, nil
	}
	from, err := parseUSISquare(move[0:2])
	if err != nil {
		return usiMove{}, err
	}
	m.from = from
	m.promote = len(move) == 5 && move[4] == '+'
	return m, nil
}

func parseUSISquare(text string) (square, error) {
	file := int(text[0] - '0')
	rank := int(text[1]-'a') + 1
	if file < 1 || file > 9 || rank < 1 || rank > 9 {
		return square{}, fmt.Errorf("invalid square: %q", text)
	}
	return square{file: file, rank: rank}, nil
}

// Transcribe converts a sequence of USI moves played from sfen into Japanese
// move text such as "▲５二歩打 △同玉(51)". Moves are applied without any
// legality checks.
func Transcribe(sfen string, moves []string) (string, error) {
	pos, err := ParseSFEN(sfen)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(moves))
	var prev *square
	for _, text := range moves {
		m, err := parseUSIMove(text)
		if err != nil {
			return "", err
		}

		dest := m.to.japanese()
		if prev != nil && *prev == m.to {
			dest = "同"
		}

		var sb strings.Builder
		sb.WriteString(sideMarks[pos.SideToMove])
		sb.WriteString(dest)

		if m.drop != shogi.NoKind {
			sb.WriteString(Kanji(shogi.Piece{Kind: m.drop}))
			sb.WriteString("打")
		} else {
			mover := pos.Board[m.from.row()][m.from.col()]
			if mover.IsEmpty() {
				return "", fmt.Errorf("no piece to move at %s", text[0:2])
			}
			sb.WriteString(Kanji(mover))
			if m.promote {
				sb.WriteString("成")
			}
			fmt.Fprintf(&sb, "(%d%d)", m.from.file, m.from.rank)
		}
		parts = append(parts, sb.String())

		if err := applyMove(pos, m); err != nil {
			return "", err
		}
		to := m.to
		prev = &to
	}
	return strings.Join(parts, " "), nil
}

func applyMove(pos *shogi.Record, m usiMove) error {
	side := pos.SideToMove
	if m.drop != shogi.NoKind {
		slot := shogi.HandSlot(m.drop)
		if pos.Hands[side][slot] == 0 {
			return fmt.Errorf("%s has no %s in hand", side, m.drop)
		}
		pos.Hands[side][slot]--
		pos.Board[m.to.row()][m.to.col()] = shogi.Piece{Kind: m.drop, Side: side}
	} else {
		mover := pos.Board[m.from.row()][m.from.col()]
		captured := pos.Board[m.to.row()][m.to.col()]
		if !captured.IsEmpty() {
			if slot := shogi.HandSlot(captured.Kind); slot >= 0 {
				pos.Hands[side][slot]++
			}
		}
		if m.promote {
			mover.Promoted = true
		}
		pos.Board[m.from.row()][m.from.col()] = shogi.Empty
		pos.Board[m.to.row()][m.to.col()] = mover
	}
	pos.SideToMove = side.Opponent()
	return nil
}

// EncodeShiftJIS converts KIF text to Shift_JIS, the encoding KIF readers expect
func EncodeShiftJIS(text string) ([]byte, error) {
	out, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to encode Shift_JIS: %w", err)
	}
	return out, nil
}
