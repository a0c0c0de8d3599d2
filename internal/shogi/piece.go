package shogi

import "fmt"

// Kind represents a base shogi piece type
type Kind int

const (
	NoKind Kind = iota
	Pawn
	Lance
	Knight
	Silver
	Gold
	Bishop
	Rook
	King
)

// NumKinds is the size of tables indexed by Kind (NoKind included)
const NumKinds = 9

// Side represents a player
type Side int

const (
	Sente Side = iota // side A, moves first, bottom of the screen
	Gote              // side B, top of the screen
)

// Opponent returns the other side
func (s Side) Opponent() Side {
	if s == Sente {
		return Gote
	}
	return Sente
}

// Mark returns the CSA turn mark ("+" or "-")
func (s Side) Mark() string {
	if s == Gote {
		return "-"
	}
	return "+"
}

func (s Side) String() string {
	if s == Gote {
		return "gote"
	}
	return "sente"
}

var csaNames = [NumKinds]string{" * ", "FU", "KY", "KE", "GI", "KI", "KA", "HI", "OU"}
var csaPromotedNames = [NumKinds]string{"", "TO", "NY", "NK", "NG", "", "UM", "RY", ""}
var sfenLetters = [NumKinds]string{"", "P", "L", "N", "S", "G", "B", "R", "K"}

// supply is the number of pieces of each kind in a full set
var supply = [NumKinds]int{0, 18, 4, 4, 4, 4, 2, 2, 2}

// Supply returns the fixed total count of a kind across board and both hands
func Supply(k Kind) int {
	if k <= NoKind || k > King {
		return 0
	}
	return supply[k]
}

// CanPromote reports whether the kind has a promoted face
func (k Kind) CanPromote() bool {
	return csaPromotedNames[k] != ""
}

// CSA returns the two letter CSA name of the unpromoted kind
func (k Kind) CSA() string {
	if k <= NoKind || k > King {
		return ""
	}
	return csaNames[k]
}

// SFEN returns the upper case SFEN letter of the kind
func (k Kind) SFEN() string {
	if k <= NoKind || k > King {
		return ""
	}
	return sfenLetters[k]
}

func (k Kind) String() string {
	if k == NoKind {
		return "empty"
	}
	return k.CSA()
}

// KindFromCSA parses a CSA piece name, promoted names included
func KindFromCSA(name string) (Kind, bool, error) {
	for k := Pawn; k <= King; k++ {
		if csaNames[k] == name {
			return k, false, nil
		}
		if csaPromotedNames[k] != "" && csaPromotedNames[k] == name {
			return k, true, nil
		}
	}
	return NoKind, false, fmt.Errorf("unknown CSA piece: %q", name)
}

// KindFromSFEN parses an SFEN letter of either case
func KindFromSFEN(r rune) (Kind, Side, bool) {
	side := Sente
	if r >= 'a' && r <= 'z' {
		side = Gote
		r -= 'a' - 'A'
	}
	for k := Pawn; k <= King; k++ {
		if sfenLetters[k] == string(r) {
			return k, side, true
		}
	}
	return NoKind, Sente, false
}

// Face is a piece kind together with its promotion state, independent of side
type Face struct {
	Kind     Kind
	Promoted bool
}

// Faces lists the 14 distinguishable faces: 8 base kinds then 6 promoted ones
func Faces() []Face {
	faces := make([]Face, 0, 14)
	for k := Pawn; k <= King; k++ {
		faces = append(faces, Face{Kind: k})
	}
	for k := Pawn; k <= King; k++ {
		if k.CanPromote() {
			faces = append(faces, Face{Kind: k, Promoted: true})
		}
	}
	return faces
}

// CSA returns the two letter CSA name of the face
func (f Face) CSA() string {
	if f.Promoted {
		return csaPromotedNames[f.Kind]
	}
	return f.Kind.CSA()
}

// Piece is the content of one board cell. The zero value is an empty cell.
type Piece struct {
	Kind     Kind
	Promoted bool
	Side     Side
}

// Empty is the empty cell marker
var Empty = Piece{}

// IsEmpty reports whether the cell holds no piece
func (p Piece) IsEmpty() bool {
	return p.Kind == NoKind
}

// Face returns the side-independent face of the piece
func (p Piece) Face() Face {
	return Face{Kind: p.Kind, Promoted: p.Promoted}
}

// CSA returns the 3 character CSA token, e.g. "+FU", "-RY" or " * "
func (p Piece) CSA() string {
	if p.IsEmpty() {
		return csaNames[NoKind]
	}
	return p.Side.Mark() + p.Face().CSA()
}

// SFEN returns the SFEN token, e.g. "P", "+r"
func (p Piece) SFEN() string {
	if p.IsEmpty() {
		return ""
	}
	s := p.Kind.SFEN()
	if p.Side == Gote {
		s = string(rune(s[0]) + 'a' - 'A')
	}
	if p.Promoted {
		s = "+" + s
	}
	return s
}

func (p Piece) String() string {
	return p.CSA()
}

// ParseCSAPiece parses a 3 character CSA token
func ParseCSAPiece(token string) (Piece, error) {
	if token == csaNames[NoKind] {
		return Empty, nil
	}
	if len(token) != 3 {
		return Empty, fmt.Errorf("invalid CSA token: %q", token)
	}
	var side Side
	switch token[0] {
	case '+':
		side = Sente
	case '-':
		side = Gote
	default:
		return Empty, fmt.Errorf("invalid CSA side mark: %q", token)
	}
	kind, promoted, err := KindFromCSA(token[1:])
	if err != nil {
		return Empty, err
	}
	return Piece{Kind: kind, Promoted: promoted, Side: side}, nil
}
