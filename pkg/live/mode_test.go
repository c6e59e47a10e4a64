package live

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseModeAliases(t *testing.T) {
	cases := map[string]Mode{
		"beginner":       ModeBeginner,
		" Advanced ":     ModeAdvanced,
		"INTERMEDIATE":   ModeIntermediate,
		"初級":             ModeBeginner,
		"中級":             ModeIntermediate,
		"上級":             ModeAdvanced,
		"ｂｅｇｉｎｎｅｒ":       ModeBeginner,
		"ＡＤＶＡＮＣＥＤ":       ModeAdvanced,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseMode("expert")
	require.ErrorIs(t, err, ErrInvalidMode)
	_, err = ParseMode("")
	require.ErrorIs(t, err, ErrInvalidMode)
}

func TestModeInstructionIsPure(t *testing.T) {
	require.Equal(t, beginnerInstruction, ModeBeginner.Instruction())
	require.Equal(t, advancedInstruction, ModeAdvanced.Instruction())
	require.Equal(t, intermediateInstruction, ModeIntermediate.Instruction())
	require.Equal(t, intermediateInstruction, Mode("").Instruction())
	require.Equal(t, intermediateInstruction, Mode("whatever").Instruction())
	require.Equal(t, ModeBeginner.Instruction(), ModeBeginner.Instruction())
}

func TestModeTableRejectsUnknownValues(t *testing.T) {
	mt := NewModeTable()
	require.Equal(t, ModeIntermediate, mt.Get("c1"))

	m, err := mt.Set("c1", "上級")
	require.NoError(t, err)
	require.Equal(t, ModeAdvanced, m)

	m, err = mt.Set("c1", "bogus")
	require.ErrorIs(t, err, ErrInvalidMode)
	require.Equal(t, ModeAdvanced, m)
	require.Equal(t, ModeAdvanced, mt.Get("c1"))

	require.Equal(t, ModeIntermediate, mt.Get("c2"))
	mt.Delete("c1")
	require.Equal(t, ModeIntermediate, mt.Get("c1"))
}
