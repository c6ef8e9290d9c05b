// Package transform implements the reversible rotation modes applied to file
// content and their exact inverses.
//
// Every function in this package is pure: output depends only on the
// parameters and the input bytes. Apply and Invert satisfy
//
//	Invert(p, k, Apply(p, k, x)) == x
//
// for every mode except MatrixRotate, which is lossy when lines carry
// trailing spaces, when content lacks a final newline, or when CRLF
// terminators are used. That limitation is kept as-is; callers that need a
// lossless rotation should pick another mode.
//
// Modes and their wire names (as stored in the manifest):
//
//	right, left            CharShift(+param / -param) over the charset
//	up, down               LineRotate(+param / -param)
//	matrix_cw, matrix_ccw  MatrixRotate 90 degrees
//	binary_left/right      ByteRotate(param bits)
//	shuffle                charset permutation derived from the seed
//
// Binary content (not valid UTF-8) is copied verbatim by the text modes. The
// byte modes apply to both kinds.
package transform
