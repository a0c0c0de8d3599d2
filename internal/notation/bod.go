package notation

import (
	"fmt"
	"strings"

	"github.com/thyrook/shogisolver/internal/shogi"
)

// bodGlyphs are the one character names used inside a board diagram
var bodGlyphs = [shogi.NumKinds]string{"・", "歩", "香", "桂", "銀", "金", "角", "飛", "玉"}
var bodPromotedGlyphs = [shogi.NumKinds]string{"", "と", "杏", "圭", "全", "", "馬", "龍", ""}

var kanjiDigits = [10]string{"", "一", "二", "三", "四", "五", "六", "七", "八", "九"}

// KanjiNumber writes 1-99 the way hand counts appear in KIF ("十八")
func KanjiNumber(n int) string {
	if n <= 0 || n >= 100 {
		return ""
	}
	tens, ones := n/10, n%10
	var sb strings.Builder
	if tens > 1 {
		sb.WriteString(kanjiDigits[tens])
	}
	if tens > 0 {
		sb.WriteString("十")
	}
	sb.WriteString(kanjiDigits[ones])
	return sb.String()
}

func bodCell(p shogi.Piece) string {
	if p.IsEmpty() {
		return " ・"
	}
	glyph := bodGlyphs[p.Kind]
	if p.Promoted {
		glyph = bodPromotedGlyphs[p.Kind]
	}
	if p.Side == shogi.Gote {
		return "v" + glyph
	}
	return " " + glyph
}

// bodHand lists a hand rook first, e.g. "金二　歩三", or "なし"
func bodHand(hand shogi.Hand) string {
	var parts []string
	for _, kind := range sfenHandOrder {
		n := hand.Count(kind)
		if n == 0 {
			continue
		}
		part := bodGlyphs[kind]
		if n > 1 {
			part += KanjiNumber(n)
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "なし"
	}
	return strings.Join(parts, "　")
}

// BOD renders a record as a KIF board diagram with both hands
func BOD(r *shogi.Record) string {
	var sb strings.Builder
	sb.WriteString("後手の持駒：" + bodHand(r.Hands[shogi.Gote]) + "\n")
	sb.WriteString("  ９ ８ ７ ６ ５ ４ ３ ２ １\n")
	sb.WriteString("+---------------------------+\n")
	for row := 0; row < shogi.BoardSize; row++ {
		sb.WriteString("|")
		for col := 0; col < shogi.BoardSize; col++ {
			sb.WriteString(bodCell(r.Board[row][col]))
		}
		sb.WriteString("|" + kanjiDigits[row+1] + "\n")
	}
	sb.WriteString("+---------------------------+\n")
	sb.WriteString("先手の持駒：" + bodHand(r.Hands[shogi.Sente]) + "\n")
	if r.SideToMove == shogi.Gote {
		sb.WriteString("後手番\n")
	}
	return sb.String()
}

// KIF renders a solved position as KIF text: the board diagram followed by
// the transcribed mating line, one move per line
func KIF(r *shogi.Record, moves []string) (string, error) {
	var sb strings.Builder
	sb.WriteString(BOD(r))
	if len(moves) == 0 {
		return sb.String(), nil
	}
	line, err := Transcribe(SFEN(r, 1), moves)
	if err != nil {
		return "", err
	}
	sb.WriteString("手数----指手---------\n")
	for i, move := range strings.Fields(line) {
		fmt.Fprintf(&sb, "%4d %s\n", i+1, move)
	}
	return sb.String(), nil
}
