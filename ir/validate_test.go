package ir

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func messages(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for k, e := range errs {
		out[k] = e.Message
	}
	return out
}

func hasMessage(errs []ValidationError, sub string) bool {
	for _, e := range errs {
		if strings.Contains(e.Message, sub) {
			return true
		}
	}
	return false
}

func TestValidate_NilProgram(t *testing.T) {
	_, err := Validate(nil)
	assert.Check(t, is.ErrorContains(err, "program is nil"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T) *Program
		want  string
	}{
		{
			name: "valid",
			build: func(t *testing.T) *Program {
				prog, err := ParseString(branchProgram)
				assert.NilError(t, err)
				return prog
			},
		},
		{
			name: "terminator not last",
			build: func(t *testing.T) *Program {
				prog, fn := newTestFunction()
				bb := fn.NewBlock()
				fn.Entry = bb
				exit := fn.NewInstruction(OpExit, TypeNone)
				exit.Terminator = true
				bb.InsertTail(exit)
				defineMov(bb, fn.NewLValue(FileGPR), 1)
				return prog
			},
			want: "terminator exit is not last in its block",
		},
		{
			name: "phi source count",
			build: func(t *testing.T) *Program {
				prog, err := ParseString(branchProgram)
				assert.NilError(t, err)
				phi := prog.Main.Blocks()[3].Phi()
				phi.SetSrc(1, nil)
				return prog
			},
			want: "phi has 1 sources for 2 predecessors",
		},
		{
			name: "phi after ordinary instruction",
			build: func(t *testing.T) *Program {
				prog, err := ParseString(branchProgram)
				assert.NilError(t, err)
				bb := prog.Main.Blocks()[3]
				phi := bb.Phi()
				bb.Permute(phi, phi.Next())
				return prog
			},
			want: "phi after a non-phi instruction",
		},
		{
			name: "stale use",
			build: func(t *testing.T) *Program {
				prog, fn := newTestFunction()
				bb := fn.NewBlock()
				fn.Entry = bb
				a := fn.NewLValue(FileGPR)
				b := fn.NewLValue(FileGPR)
				defineMov(bb, a, 1)
				mov := fn.NewInstruction(OpMov, TypeU32)
				mov.SetDef(0, b)
				mov.SetSrc(0, a)
				bb.InsertTail(mov)
				mov.srcs[0].value = b
				return prog
			},
			want: "missing from use list",
		},
		{
			name: "missing entry",
			build: func(t *testing.T) *Program {
				prog, _ := newTestFunction()
				return prog
			},
			want: "function has no entry block",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs, err := Validate(tt.build(t))
			assert.NilError(t, err)
			if tt.want == "" {
				assert.Check(t, is.Len(errs, 0), "%v", messages(errs))
				return
			}
			assert.Check(t, hasMessage(errs, tt.want), "%v", messages(errs))
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{Message: "bad", Block: -1, Instruction: -1}, "bad"},
		{ValidationError{Message: "bad", Function: "main", Block: -1, Instruction: -1}, "in function main: bad"},
		{ValidationError{Message: "bad", Function: "main", Block: 2, Instruction: -1}, "in function main, bb2: bad"},
		{ValidationError{Message: "bad", Function: "main", Block: 2, Instruction: 7}, "in function main, bb2, instruction 7: bad"},
	}
	for _, tt := range tests {
		assert.Check(t, is.Equal(tt.err.Error(), tt.want))
	}
}
