package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// Listing is the VS Code dark palette for instruction text, registered
// with chroma as "bina-listing".
var Listing = styles.Register(chroma.MustNewStyle("bina-listing", chroma.StyleEntries{
	chroma.Background: "bg:#1e1e1e",
	chroma.Text:       "#d4d4d4",
	chroma.Comment:    "italic #6a9955",

	// mnemonics; the gas lexer emits them as functions
	chroma.Keyword:       "#569cd6",
	chroma.KeywordPseudo: "#c586c0",
	chroma.NameFunction:  "#569cd6",

	chroma.Name:         "#9cdcfe",
	chroma.NameBuiltin:  "#9cdcfe",
	chroma.NameVariable: "#9cdcfe",
	chroma.NameLabel:    "#dcdcaa",

	chroma.LiteralNumber: "#b5cea8",
	chroma.String:        "#ce9178",

	chroma.Operator:    "#d4d4d4",
	chroma.Punctuation: "#808080",
}))
