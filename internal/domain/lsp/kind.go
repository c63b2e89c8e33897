package lsp

import (
	"fmt"
	"strconv"
	"strings"
)

// SymbolKind mirrors the LSP SymbolKind enum.
type SymbolKind int

const (
	SymbolKindFile SymbolKind = iota + 1
	SymbolKindModule
	SymbolKindNamespace
	SymbolKindPackage
	SymbolKindClass
	SymbolKindMethod
	SymbolKindProperty
	SymbolKindField
	SymbolKindConstructor
	SymbolKindEnum
	SymbolKindInterface
	SymbolKindFunction
	SymbolKindVariable
	SymbolKindConstant
	SymbolKindString
	SymbolKindNumber
	SymbolKindBoolean
	SymbolKindArray
	SymbolKindObject
	SymbolKindKey
	SymbolKindNull
	SymbolKindEnumMember
	SymbolKindStruct
	SymbolKindEvent
	SymbolKindOperator
	SymbolKindTypeParameter
)

var symbolKindNames = [...]string{
	SymbolKindFile:          "File",
	SymbolKindModule:        "Module",
	SymbolKindNamespace:     "Namespace",
	SymbolKindPackage:       "Package",
	SymbolKindClass:         "Class",
	SymbolKindMethod:        "Method",
	SymbolKindProperty:      "Property",
	SymbolKindField:         "Field",
	SymbolKindConstructor:   "Constructor",
	SymbolKindEnum:          "Enum",
	SymbolKindInterface:     "Interface",
	SymbolKindFunction:      "Function",
	SymbolKindVariable:      "Variable",
	SymbolKindConstant:      "Constant",
	SymbolKindString:        "String",
	SymbolKindNumber:        "Number",
	SymbolKindBoolean:       "Boolean",
	SymbolKindArray:         "Array",
	SymbolKindObject:        "Object",
	SymbolKindKey:           "Key",
	SymbolKindNull:          "Null",
	SymbolKindEnumMember:    "EnumMember",
	SymbolKindStruct:        "Struct",
	SymbolKindEvent:         "Event",
	SymbolKindOperator:      "Operator",
	SymbolKindTypeParameter: "TypeParameter",
}

// String returns the LSP name of the kind, e.g. "Function".
func (k SymbolKind) String() string {
	if k >= SymbolKindFile && int(k) < len(symbolKindNames) {
		return symbolKindNames[k]
	}
	return fmt.Sprintf("SymbolKind(%d)", int(k))
}

// Valid reports whether k is a kind defined by the protocol.
func (k SymbolKind) Valid() bool {
	return k >= SymbolKindFile && k <= SymbolKindTypeParameter
}

// ParseSymbolKind resolves a kind from its name (case-insensitive) or its
// protocol number, as used by the MCP and HTTP query surfaces.
func ParseSymbolKind(name string) (SymbolKind, error) {
	if n, err := strconv.Atoi(name); err == nil {
		if k := SymbolKind(n); k.Valid() {
			return k, nil
		}
		return 0, fmt.Errorf("unknown symbol kind %d", n)
	}
	for k := SymbolKindFile; k <= SymbolKindTypeParameter; k++ {
		if strings.EqualFold(symbolKindNames[k], name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown symbol kind %q", name)
}
