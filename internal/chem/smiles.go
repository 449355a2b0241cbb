// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package chem performs the lexical SMILES checks the pipeline needs without
// a cheminformatics toolkit: syntax validation of seed strings before any
// external call, and heavy-atom counting used to enforce the grow and mutate
// windows on engine output. Canonicalization and substructure matching stay
// with the chemistry engine.
package chem

import (
	"fmt"
	"strings"
)

// SyntaxError describes why a SMILES string was rejected.
type SyntaxError struct {
	SMILES string
	Pos    int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("smiles %q: %s at offset %d", e.SMILES, e.Reason, e.Pos)
}

// organic lists the atoms allowed outside brackets.
var organic = map[string]bool{
	"B": true, "C": true, "N": true, "O": true, "P": true, "S": true,
	"F": true, "Cl": true, "Br": true, "I": true,
	"b": true, "c": true, "n": true, "o": true, "p": true, "s": true,
}

// aromaticBracket lists the lowercase symbols allowed inside brackets.
var aromaticBracket = map[string]bool{
	"b": true, "c": true, "n": true, "o": true, "p": true, "s": true,
	"se": true, "as": true, "te": true,
}

var elements = func() map[string]bool {
	const table = "H He Li Be B C N O F Ne Na Mg Al Si P S Cl Ar K Ca Sc Ti V Cr " +
		"Mn Fe Co Ni Cu Zn Ga Ge As Se Br Kr Rb Sr Y Zr Nb Mo Tc Ru Rh Pd Ag Cd " +
		"In Sn Sb Te I Xe Cs Ba La Ce Pr Nd Pm Sm Eu Gd Tb Dy Ho Er Tm Yb Lu Hf " +
		"Ta W Re Os Ir Pt Au Hg Tl Pb Bi Po At Rn Fr Ra Ac Th Pa U Np Pu Am Cm"
	m := make(map[string]bool)
	for _, e := range strings.Fields(table) {
		m[e] = true
	}
	return m
}()

// Structure is what a lexical scan learns about a SMILES string.
type Structure struct {
	// Atoms counts every atom, including explicit hydrogens and wildcards.
	Atoms int
	// HeavyAtoms counts atoms other than hydrogen and '*' attachment points.
	HeavyAtoms int
	// Components is the number of dot-separated fragments.
	Components int
}

// Scan validates the SMILES syntax and counts atoms. It checks balanced
// branches and brackets, paired ring-closure labels, and known element
// symbols. It does not check valences.
func Scan(smiles string) (Structure, error) {
	s := strings.TrimSpace(smiles)
	if s == "" {
		return Structure{}, &SyntaxError{SMILES: smiles, Reason: "empty string"}
	}

	var st Structure
	st.Components = 1
	depth := 0
	open := make(map[int]int)
	fail := func(pos int, format string, args ...any) (Structure, error) {
		return Structure{}, &SyntaxError{SMILES: s, Pos: pos, Reason: fmt.Sprintf(format, args...)}
	}

	for i := 0; i < len(s); {
		ch := s[i]
		switch {
		case ch == '[':
			end := strings.IndexByte(s[i+1:], ']')
			if end < 0 {
				return fail(i, "unclosed bracket atom")
			}
			sym, err := bracketSymbol(s[i+1 : i+1+end])
			if err != "" {
				return fail(i, "%s", err)
			}
			st.Atoms++
			if sym != "H" && sym != "*" {
				st.HeavyAtoms++
			}
			i += end + 2
		case ch == ']':
			return fail(i, "unexpected ']'")
		case ch == '(':
			if st.Atoms == 0 {
				return fail(i, "branch before any atom")
			}
			depth++
			i++
		case ch == ')':
			depth--
			if depth < 0 {
				return fail(i, "unbalanced ')'")
			}
			i++
		case ch == '%':
			if i+2 >= len(s) || !isDigit(s[i+1]) || !isDigit(s[i+2]) {
				return fail(i, "'%%' must be followed by two digits")
			}
			if st.Atoms == 0 {
				return fail(i, "ring closure before any atom")
			}
			toggle(open, int(s[i+1]-'0')*10+int(s[i+2]-'0'), i)
			i += 3
		case isDigit(ch):
			if st.Atoms == 0 {
				return fail(i, "ring closure before any atom")
			}
			toggle(open, int(ch-'0'), i)
			i++
		case ch == '.':
			if depth != 0 {
				return fail(i, "'.' inside a branch")
			}
			st.Components++
			i++
		case strings.IndexByte("-=#$:/\\", ch) >= 0:
			i++
		case ch == '*':
			st.Atoms++
			i++
		default:
			if i+1 < len(s) && organic[s[i:i+2]] {
				st.Atoms++
				st.HeavyAtoms++
				i += 2
				continue
			}
			if organic[s[i:i+1]] {
				st.Atoms++
				st.HeavyAtoms++
				i++
				continue
			}
			return fail(i, "unknown atom %q", s[i:i+1])
		}
	}

	if depth != 0 {
		return fail(len(s), "unclosed branch")
	}
	for label, pos := range open {
		return fail(pos, "ring closure %d is never closed", label)
	}
	if st.Atoms == 0 {
		return fail(0, "no atoms")
	}
	return st, nil
}

// Validate reports whether smiles passes the lexical checks of Scan.
func Validate(smiles string) error {
	_, err := Scan(smiles)
	return err
}

// HeavyAtoms returns the number of non-hydrogen atoms in smiles.
func HeavyAtoms(smiles string) (int, error) {
	st, err := Scan(smiles)
	if err != nil {
		return 0, err
	}
	return st.HeavyAtoms, nil
}

// toggle opens a ring-closure label or closes it when already open.
func toggle(open map[int]int, label, pos int) {
	if _, ok := open[label]; ok {
		delete(open, label)
		return
	}
	open[label] = pos
}

// bracketSymbol extracts the element symbol of a bracket atom body such as
// "13CH3", "nH", "Cl-" or "*:1". It returns a non-empty reason on failure.
func bracketSymbol(body string) (string, string) {
	i := 0
	for i < len(body) && isDigit(body[i]) {
		i++
	}
	if i == len(body) {
		return "", "bracket atom has no element"
	}
	rest := body[i:]
	switch {
	case rest[0] == '*':
		return "*", ""
	case rest[0] >= 'A' && rest[0] <= 'Z':
		if len(rest) > 1 && rest[1] >= 'a' && rest[1] <= 'z' && elements[rest[:2]] {
			return rest[:2], ""
		}
		if elements[rest[:1]] {
			return rest[:1], ""
		}
		return "", fmt.Sprintf("unknown element in [%s]", body)
	case rest[0] >= 'a' && rest[0] <= 'z':
		if len(rest) > 1 && aromaticBracket[rest[:2]] {
			return rest[:2], ""
		}
		if aromaticBracket[rest[:1]] {
			return rest[:1], ""
		}
		return "", fmt.Sprintf("unknown aromatic atom in [%s]", body)
	}
	return "", fmt.Sprintf("malformed bracket atom [%s]", body)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
