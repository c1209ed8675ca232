package typetree_test

import (
	"testing"

	"github.com/derivekit/typetree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	const source = `
		package main

		func scale(x float64) float64 { return 2 * x }

		func shift(x float64) float64 { return 2 + x }

		func main() {
			println(scale(1), shift(1))
		}`

	_, pkg := loadProgram(t, source)
	scale := typetree.Fingerprint(pkg.Func("scale"))
	shift := typetree.Fingerprint(pkg.Func("shift"))

	assert.Len(t, scale, 64)
	assert.NotEqual(t, scale, shift,
		"same signature, different bodies")

	_, pkg2 := loadProgram(t, source)
	assert.Equal(t, scale, typetree.Fingerprint(pkg2.Func("scale")),
		"rebuilding identical SSA keeps the fingerprint")

	const edited = `
		package main

		func scale(x float64) float64 { return 3 * x }

		func main() {
			println(scale(1))
		}`
	_, pkg3 := loadProgram(t, edited)
	assert.NotEqual(t, scale, typetree.Fingerprint(pkg3.Func("scale")))

	require.NotNil(t, pkg.Func("init"))
	assert.Len(t, typetree.Fingerprint(pkg.Func("init")), 64)
}
