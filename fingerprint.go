package typetree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/tools/go/ssa"
)

// Fingerprint returns a stable content hash of a function: its qualified
// name, signature and the rendered instructions of every basic block. Two
// builds of identical SSA share a fingerprint, which is what lets cached
// summaries survive across runs and unrelated edits.
func Fingerprint(fn *ssa.Function) string {
	h := sha256.New()
	io.WriteString(h, fn.String())
	h.Write([]byte{0})
	if fn.Signature != nil {
		io.WriteString(h, fn.Signature.String())
		h.Write([]byte{0})
	}
	for _, b := range fn.Blocks {
		fmt.Fprintf(h, ".%d:\n", b.Index)
		for _, instr := range b.Instrs {
			if v, ok := instr.(ssa.Value); ok {
				io.WriteString(h, v.Name())
				io.WriteString(h, " = ")
			}
			io.WriteString(h, instr.String())
			h.Write([]byte{'\n'})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
