package live

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

type Mode string

const (
	ModeBeginner     Mode = "beginner"
	ModeIntermediate Mode = "intermediate"
	ModeAdvanced     Mode = "advanced"
)

const (
	beginnerInstruction = "Beginner mode: use a gentle tone, avoid jargon, keep it short and include a concrete example. " +
		"If useful, end with one question that checks understanding."
	intermediateInstruction = "Intermediate mode: answer mainly in bullet points, use only the technical terms that are needed, " +
		"and state steps and reasons briefly."
	advancedInstruction = "Advanced mode: be concise and technical, skip the background, and list the key points, caveats " +
		"and limits briefly."
)

var modeAliases = map[string]Mode{
	"beginner":     ModeBeginner,
	"intermediate": ModeIntermediate,
	"advanced":     ModeAdvanced,
	"初級":           ModeBeginner,
	"中級":           ModeIntermediate,
	"上級":           ModeAdvanced,
}

var foldCase = cases.Fold()

// ParseMode normalizes a client-supplied mode value. Full-width and mixed-case input is
// accepted, as are the localized aliases.
func ParseMode(raw string) (Mode, error) {
	key := strings.TrimSpace(foldCase.String(norm.NFKC.String(raw)))
	if m, ok := modeAliases[key]; ok {
		return m, nil
	}
	return "", errors.Wrapf(ErrInvalidMode, "%q", raw)
}

// Instruction maps a mode to the instruction prefix sent with every turn.
// Anything other than beginner or advanced maps to the intermediate instruction.
func (m Mode) Instruction() string {
	switch m {
	case ModeBeginner:
		return beginnerInstruction
	case ModeAdvanced:
		return advancedInstruction
	default:
		return intermediateInstruction
	}
}

// ModeTable tracks the selected mode per connection.
type ModeTable struct {
	mu    sync.RWMutex
	modes map[string]Mode
}

func NewModeTable() *ModeTable {
	return &ModeTable{modes: map[string]Mode{}}
}

func (t *ModeTable) Get(connID string) Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if m, ok := t.modes[connID]; ok {
		return m
	}
	return ModeIntermediate
}

// Set parses value and stores it. Invalid values leave the current mode unchanged.
func (t *ModeTable) Set(connID, value string) (Mode, error) {
	m, err := ParseMode(value)
	if err != nil {
		return t.Get(connID), err
	}
	t.mu.Lock()
	t.modes[connID] = m
	t.mu.Unlock()
	return m, nil
}

func (t *ModeTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.modes)
}

func (t *ModeTable) Delete(connID string) {
	t.mu.Lock()
	delete(t.modes, connID)
	t.mu.Unlock()
}
