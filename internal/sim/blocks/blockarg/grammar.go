package blockarg

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var argLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Name", Pattern: `[a-zA-Z0-9_.\-/]+`},
	{Name: "Punct", Pattern: `[#:\[\],=()]`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
})

// argument is the parse tree of one block-or-tag argument, e.g.
// "#minecraft:logs[axis=y]" or "(stone)".
type argument struct {
	Open  bool        `parser:"@\"(\"?"`
	Tag   bool        `parser:"@\"#\"?"`
	ID    *identifier `parser:"@@"`
	Props []*property `parser:"( \"[\" ( @@ ( \",\" @@ )* )? \"]\" )?"`
	Close bool        `parser:"@\")\"?"`
}

type identifier struct {
	First  string `parser:"@Name"`
	Second string `parser:"( \":\" @Name )?"`
}

type property struct {
	Key   string `parser:"@Name \"=\""`
	Value string `parser:"@Name"`
}

var argParser = participle.MustBuild[argument](
	participle.Lexer(argLexer),
	participle.Elide("Whitespace"),
)
