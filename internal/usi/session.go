package usi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// stopGrace is how long a search is given to answer after stop
const stopGrace = time.Second

// Option is one setoption name/value pair
type Option struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MateStatus classifies the answer to a mate search
type MateStatus string

const (
	MateFound          MateStatus = "checkmate"
	MateNone           MateStatus = "nomate"
	MateTimeout        MateStatus = "timeout"
	MateNotImplemented MateStatus = "notimplemented"
)

// MateResult is the outcome of a mate search
type MateResult struct {
	Status MateStatus
	Moves  []string // USI moves of the mating line when Status is MateFound
}

// BestMoveResult is the outcome of a bounded search
type BestMoveResult struct {
	Move   string
	Ponder string
	Score  Score
	PV     []string
}

// Session owns an engine and a goroutine that feeds its parsed output into
// events. Searches are run one at a time.
type Session struct {
	engine *Engine
	reader *Reader
	events chan Event
	errCh  chan error
	logger *zap.Logger
}

// StartSession starts the engine and its output reader. Call Handshake
// before searching.
func StartSession(ctx context.Context, logger *zap.Logger, path string, args ...string) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine, err := Start(ctx, logger, path, args...)
	if err != nil {
		return nil, err
	}
	reader := engine.Reader()
	events := make(chan Event, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			event, err := reader.Next()
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
			logger.Debug("usi <", zap.String("line", event.Raw))
			events <- event
		}
	}()
	return &Session{engine: engine, reader: reader, events: events, errCh: errCh, logger: logger}, nil
}

// Close shuts the engine down; a nil session is a no-op
func (s *Session) Close() error {
	if s == nil || s.engine == nil {
		return nil
	}
	return s.engine.Close()
}

// Stderr exposes engine diagnostics
func (s *Session) Stderr() io.Reader {
	if s == nil || s.engine == nil {
		return nil
	}
	return s.engine.Stderr()
}

// Handshake sends usi, waits for usiok, applies options and waits for readyok
func (s *Session) Handshake(ctx context.Context, options []Option) error {
	if err := s.engine.Send("usi"); err != nil {
		return err
	}
	if _, err := s.waitForEvent(ctx, EventUSIOK); err != nil {
		return fmt.Errorf("usi handshake failed: %w", err)
	}
	for _, opt := range options {
		if err := s.SetOption(opt.Name, opt.Value); err != nil {
			return err
		}
	}
	return s.Ready(ctx)
}

// SetOption sends one setoption command
func (s *Session) SetOption(name, value string) error {
	if name == "" {
		return errors.New("option name is required")
	}
	return s.engine.Send(fmt.Sprintf("setoption name %s value %s", name, value))
}

// Ready sends isready and waits for readyok
func (s *Session) Ready(ctx context.Context) error {
	if err := s.engine.Send("isready"); err != nil {
		return err
	}
	if _, err := s.waitForEvent(ctx, EventReadyOK); err != nil {
		return fmt.Errorf("engine not ready: %w", err)
	}
	return nil
}

// Mate runs a mate search on sfen bounded by timeout. When the engine stays
// silent past the timeout, the search is stopped and reported as MateTimeout.
func (s *Session) Mate(ctx context.Context, sfen string, timeout time.Duration) (MateResult, error) {
	if err := s.engine.Send(positionCommand(sfen)); err != nil {
		return MateResult{}, err
	}
	limit := "infinite"
	if timeout > 0 {
		limit = fmt.Sprintf("%d", timeout.Milliseconds())
	}
	if err := s.engine.Send("go mate " + limit); err != nil {
		return MateResult{}, err
	}

	searchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, timeout+stopGrace)
		defer cancel()
	}

	event, err := s.waitForEvent(searchCtx, EventCheckmate)
	if err == nil {
		return mateResult(event), nil
	}
	if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return MateResult{}, err
	}

	s.logger.Warn("Mate search timed out", zap.Duration("timeout", timeout))
	if err := s.engine.Send("stop"); err != nil {
		return MateResult{}, err
	}
	stopCtx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if event, err := s.waitForEvent(stopCtx, EventCheckmate); err == nil {
		return mateResult(event), nil
	}
	return MateResult{Status: MateTimeout}, nil
}

func mateResult(event Event) MateResult {
	switch event.Value {
	case "nomate":
		return MateResult{Status: MateNone}
	case "timeout":
		return MateResult{Status: MateTimeout}
	case "notimplemented":
		return MateResult{Status: MateNotImplemented}
	}
	if len(event.Moves) == 0 {
		return MateResult{Status: MateNone}
	}
	return MateResult{Status: MateFound, Moves: event.Moves}
}

// BestMove searches sfen for moveTime and returns the engine's move, its
// last principal variation and the last score, always from sente's view.
func (s *Session) BestMove(ctx context.Context, sfen string, moveTime time.Duration) (BestMoveResult, error) {
	if err := s.engine.Send(positionCommand(sfen)); err != nil {
		return BestMoveResult{}, err
	}
	moveTimeMs := moveTime.Milliseconds()
	if moveTimeMs <= 0 {
		moveTimeMs = 1
	}
	if err := s.engine.Send(fmt.Sprintf("go movetime %d", moveTimeMs)); err != nil {
		return BestMoveResult{}, err
	}
	turn := "b"
	if fields := strings.Fields(strings.TrimPrefix(sfen, "sfen ")); len(fields) >= 2 {
		turn = fields[1]
	}

	var result BestMoveResult
	for {
		event, err := s.nextEvent(ctx)
		if err != nil {
			return BestMoveResult{}, err
		}
		switch event.Type {
		case EventInfo:
			if parsed, ok := parseInfoScore(event.Raw); ok {
				result.Score = parsed
			}
			if pv := parseInfoPV(event.Raw); len(pv) > 0 {
				result.PV = pv
			}
		case EventBestMove:
			if turn == "w" {
				result.Score = result.Score.negate()
			}
			result.Move = event.Move
			result.Ponder = event.Ponder
			return result, nil
		}
	}
}

func positionCommand(sfen string) string {
	sfen = strings.TrimSpace(sfen)
	if sfen == "startpos" || strings.HasPrefix(sfen, "startpos ") {
		return "position " + sfen
	}
	return "position sfen " + strings.TrimPrefix(sfen, "sfen ")
}

func (s *Session) waitForEvent(ctx context.Context, want EventType) (Event, error) {
	for {
		event, err := s.nextEvent(ctx)
		if err != nil {
			return Event{}, err
		}
		if event.Type == want {
			return event, nil
		}
	}
}

func (s *Session) nextEvent(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case err := <-s.errCh:
		if err == nil || errors.Is(err, io.EOF) {
			return Event{}, errors.New("engine stdout closed")
		}
		return Event{}, err
	case event, ok := <-s.events:
		if !ok {
			return Event{}, errors.New("engine stdout closed")
		}
		return event, nil
	}
}
