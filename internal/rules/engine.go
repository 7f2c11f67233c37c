// Package rules adapts the chess library behind the narrow capability the
// game sessions consume: legality, SAN text, check flag and terminal
// classification. Positions are opaque to callers; they carry the full move
// history because fifty-move and repetition detection need more than a FEN.
package rules

import (
	"errors"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	// ErrMalformedPromotion is returned when a pawn move reaches the last
	// rank without naming a promotion piece. The piece is never guessed.
	ErrMalformedPromotion = errors.New("promotion piece required")
)

// Terminal result kinds.
const (
	KindCheckmate            = "checkmate"
	KindStalemate            = "stalemate"
	KindInsufficientMaterial = "insufficient_material"
	KindFiftyMove            = "fifty_move"
	KindThreefoldRepetition  = "threefold_repetition"
	KindDraw                 = "draw"
)

// Outcome classifies a position. Kind is empty while the game continues;
// Winner is "white" or "black" only for checkmate.
type Outcome struct {
	Kind   string
	Winner string
}

// Position is the authoritative, opaque game state. It advances in place
// through Engine.Apply.
type Position struct {
	game *nchess.Game
}

// Engine is the rules capability consumed by game sessions.
type Engine interface {
	NewPosition() *Position
	// Legal returns the UCI moves available to the side to move. Legal
	// moves are never computed for the opponent.
	Legal(p *Position) []string
	// Apply validates and plays a UCI move, returning its SAN text.
	// Fails with ErrIllegalMove or ErrMalformedPromotion without mutating.
	Apply(p *Position, uci string) (string, error)
	// InCheck reports whether the side to move is in check.
	InCheck(p *Position) bool
	// Terminal classifies the position after the last applied move.
	Terminal(p *Position) Outcome
	FEN(p *Position) string
	// Turn returns "white" or "black".
	Turn(p *Position) string
}

type libEngine struct{}

// NewEngine returns the corentings/chess backed engine.
func NewEngine() Engine { return libEngine{} }

func (libEngine) NewPosition() *Position {
	return &Position{game: nchess.NewGame()}
}

func (libEngine) Legal(p *Position) []string {
	valid := p.game.ValidMoves()
	out := make([]string, 0, len(valid))
	for _, mv := range valid {
		out = append(out, mv.String())
	}
	return out
}

var uciPattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

func (libEngine) Apply(p *Position, uci string) (string, error) {
	mv := strings.ToLower(strings.TrimSpace(uci))
	if !uciPattern.MatchString(mv) {
		return "", ErrIllegalMove
	}
	pos := p.game.Position()
	if len(mv) == 4 && bareLastRankPawnPush(pos, mv) {
		return "", ErrMalformedPromotion
	}
	move, err := nchess.UCINotation{}.Decode(pos, mv)
	if err != nil {
		return "", ErrIllegalMove
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, move)
	if err := p.game.Move(move, nil); err != nil {
		return "", ErrIllegalMove
	}
	return san, nil
}

// bareLastRankPawnPush reports a four-square pawn move onto the back rank,
// i.e. a promotion claim with the piece letter missing.
func bareLastRankPawnPush(pos *nchess.Position, mv string) bool {
	from := nchess.NewSquare(
		nchess.FileA+nchess.File(mv[0]-'a'),
		nchess.Rank1+nchess.Rank(mv[1]-'1'),
	)
	piece := pos.Board().Piece(from)
	if piece == nchess.NoPiece || piece.Type() != nchess.Pawn {
		return false
	}
	toRank := mv[3]
	return (piece.Color() == nchess.White && toRank == '8') ||
		(piece.Color() == nchess.Black && toRank == '1')
}

func (libEngine) InCheck(p *Position) bool {
	moves := p.game.Moves()
	if len(moves) == 0 {
		return false
	}
	return moves[len(moves)-1].HasTag(nchess.Check)
}

func (libEngine) Terminal(p *Position) Outcome {
	g := p.game
	if g.Outcome() == nchess.NoOutcome {
		// Fifty-move and threefold draws are declared immediately rather
		// than left as optional claims.
		for _, m := range g.EligibleDraws() {
			if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
				_ = g.Draw(m)
				break
			}
		}
	}
	outcome := g.Outcome()
	if outcome == nchess.NoOutcome {
		return Outcome{}
	}
	switch g.Method() {
	case nchess.Checkmate:
		winner := "black"
		if outcome == nchess.WhiteWon {
			winner = "white"
		}
		return Outcome{Kind: KindCheckmate, Winner: winner}
	case nchess.Stalemate:
		return Outcome{Kind: KindStalemate}
	case nchess.InsufficientMaterial:
		return Outcome{Kind: KindInsufficientMaterial}
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return Outcome{Kind: KindFiftyMove}
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return Outcome{Kind: KindThreefoldRepetition}
	default:
		return Outcome{Kind: KindDraw}
	}
}

func (libEngine) FEN(p *Position) string {
	return p.game.FEN()
}

func (libEngine) Turn(p *Position) string {
	if p.game.Position().Turn() == nchess.White {
		return "white"
	}
	return "black"
}
