package echolsp

import (
	"regexp"
	"strings"

	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
)

var (
	reContainer = regexp.MustCompile(`^\s*(namespace|struct|class|enum|union)\s+([A-Za-z_]\w*)`)
	reFunction  = regexp.MustCompile(`^\s*(?:[A-Za-z_][\w:<>*&]*\s+)+\**&?([A-Za-z_]\w*)\s*\(`)
	reVariable  = regexp.MustCompile(`^\s*(?:[A-Za-z_][\w:<>*&]*\s+)+\**&?([A-Za-z_]\w*)\s*(?:\[[^\]]*\])?\s*(?:=[^;]*)?;`)
	reDefine    = regexp.MustCompile(`^\s*#\s*define\s+([A-Za-z_]\w*)`)
	reEnumItem  = regexp.MustCompile(`^\s*([A-Za-z_]\w*)\s*(?:=[^,]*)?,?\s*$`)
)

var containerKinds = map[string]lspDomain.SymbolKind{
	"namespace": lspDomain.SymbolKindNamespace,
	"struct":    lspDomain.SymbolKindStruct,
	"class":     lspDomain.SymbolKindClass,
	"enum":      lspDomain.SymbolKindEnum,
	"union":     lspDomain.SymbolKindStruct,
}

// scope is an open brace block. sym is nil for anonymous braces such as
// function bodies.
type scope struct {
	sym *lspDomain.Symbol
}

// ScanSymbols recognizes simple C-like declarations line by line: macros,
// namespaces, records, enums, functions and variables. Declarations inside
// a record become fields or methods; inside function bodies they are
// ignored. It is a test double, not a parser.
func ScanSymbols(text string) []lspDomain.Symbol {
	var roots []lspDomain.Symbol
	var stack []scope

	// A record's symbol is attached to its parent when its scope closes,
	// after all children were collected.
	attach := func(sym lspDomain.Symbol) {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].sym != nil {
				stack[i].sym.Children = append(stack[i].sym.Children, sym)
				return
			}
		}
		roots = append(roots, sym)
	}

	inBody := func() bool {
		return len(stack) > 0 && stack[len(stack)-1].sym == nil
	}

	enclosingKind := func() lspDomain.SymbolKind {
		if len(stack) == 0 || stack[len(stack)-1].sym == nil {
			return 0
		}
		return stack[len(stack)-1].sym.Kind
	}

	lines := strings.Split(text, "\n")
	for lineNo, line := range lines {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}

		opens := strings.Count(line, "{")
		closes := strings.Count(line, "}")

		var opened *lspDomain.Symbol
		switch {
		case inBody():
			// Locals are not document symbols.
		case reDefine.MatchString(line):
			m := reDefine.FindStringSubmatchIndex(line)
			attach(newSymbol(line, lineNo, m[2], m[3], lspDomain.SymbolKindConstant))
		case reContainer.MatchString(line):
			m := reContainer.FindStringSubmatchIndex(line)
			sym := newSymbol(line, lineNo, m[4], m[5], containerKinds[line[m[2]:m[3]]])
			if opens > closes {
				opened = &sym
			} else {
				attach(sym)
			}
		case enclosingKind() == lspDomain.SymbolKindEnum && reEnumItem.MatchString(line):
			m := reEnumItem.FindStringSubmatchIndex(line)
			attach(newSymbol(line, lineNo, m[2], m[3], lspDomain.SymbolKindEnumMember))
		case reFunction.MatchString(line):
			m := reFunction.FindStringSubmatchIndex(line)
			kind := lspDomain.SymbolKindFunction
			if k := enclosingKind(); k == lspDomain.SymbolKindStruct || k == lspDomain.SymbolKindClass {
				kind = lspDomain.SymbolKindMethod
			}
			attach(newSymbol(line, lineNo, m[2], m[3], kind))
		case reVariable.MatchString(line):
			m := reVariable.FindStringSubmatchIndex(line)
			kind := lspDomain.SymbolKindVariable
			if k := enclosingKind(); k == lspDomain.SymbolKindStruct || k == lspDomain.SymbolKindClass {
				kind = lspDomain.SymbolKindField
			}
			attach(newSymbol(line, lineNo, m[2], m[3], kind))
		}

		// Net brace movement on this line.
		for range closes {
			if opens > 0 {
				opens--
				continue
			}
			if len(stack) == 0 {
				break
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.sym != nil {
				top.sym.Range.End = lspDomain.Position{Line: lineNo, Character: len(line)}
				attach(*top.sym)
			}
		}
		for i := range opens {
			if i == 0 && opened != nil {
				stack = append(stack, scope{sym: opened})
				continue
			}
			stack = append(stack, scope{})
		}
	}

	// Unterminated scopes still yield their symbols.
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.sym != nil {
			attach(*top.sym)
		}
	}
	return roots
}

func newSymbol(line string, lineNo, nameStart, nameEnd int, kind lspDomain.SymbolKind) lspDomain.Symbol {
	indent := len(line) - len(strings.TrimLeft(line, " \t"))
	return lspDomain.Symbol{
		Name: line[nameStart:nameEnd],
		Kind: kind,
		Range: lspDomain.Range{
			Start: lspDomain.Position{Line: lineNo, Character: indent},
			End:   lspDomain.Position{Line: lineNo, Character: len(line)},
		},
		SelectionRange: lspDomain.Range{
			Start: lspDomain.Position{Line: lineNo, Character: nameStart},
			End:   lspDomain.Position{Line: lineNo, Character: nameEnd},
		},
	}
}
