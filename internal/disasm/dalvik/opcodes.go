package dalvik

// format is a Dalvik instruction format identifier ("22t", "35c", ...).
// The first digit is the width in 16-bit code units.
type format string

func (f format) units() int {
	return int(f[0] - '0')
}

type opcode struct {
	name   string
	format format
}

var opcodes [256]opcode

func def(op byte, name string, f format) {
	opcodes[op] = opcode{name: name, format: f}
}

// defRange assigns consecutive opcodes starting at first.
func defRange(first byte, f format, names ...string) {
	for i, name := range names {
		def(first+byte(i), name, f)
	}
}

func init() {
	for i := range opcodes {
		opcodes[i] = opcode{name: "unused", format: "10x"}
	}

	defRange(0x00, "10x", "nop")
	defRange(0x01, "12x", "move")
	defRange(0x02, "22x", "move/from16")
	defRange(0x03, "32x", "move/16")
	defRange(0x04, "12x", "move-wide")
	defRange(0x05, "22x", "move-wide/from16")
	defRange(0x06, "32x", "move-wide/16")
	defRange(0x07, "12x", "move-object")
	defRange(0x08, "22x", "move-object/from16")
	defRange(0x09, "32x", "move-object/16")
	defRange(0x0a, "11x", "move-result", "move-result-wide", "move-result-object", "move-exception")
	defRange(0x0e, "10x", "return-void")
	defRange(0x0f, "11x", "return", "return-wide", "return-object")
	defRange(0x12, "11n", "const/4")
	defRange(0x13, "21s", "const/16")
	defRange(0x14, "31i", "const")
	defRange(0x15, "21h", "const/high16")
	defRange(0x16, "21s", "const-wide/16")
	defRange(0x17, "31i", "const-wide/32")
	defRange(0x18, "51l", "const-wide")
	defRange(0x19, "21h", "const-wide/high16")
	defRange(0x1a, "21c", "const-string")
	defRange(0x1b, "31c", "const-string/jumbo")
	defRange(0x1c, "21c", "const-class")
	defRange(0x1d, "11x", "monitor-enter", "monitor-exit")
	defRange(0x1f, "21c", "check-cast")
	defRange(0x20, "22c", "instance-of")
	defRange(0x21, "12x", "array-length")
	defRange(0x22, "21c", "new-instance")
	defRange(0x23, "22c", "new-array")
	defRange(0x24, "35c", "filled-new-array")
	defRange(0x25, "3rc", "filled-new-array/range")
	defRange(0x26, "31t", "fill-array-data")
	defRange(0x27, "11x", "throw")
	defRange(0x28, "10t", "goto")
	defRange(0x29, "20t", "goto/16")
	defRange(0x2a, "30t", "goto/32")
	defRange(0x2b, "31t", "packed-switch", "sparse-switch")
	defRange(0x2d, "23x", "cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long")
	defRange(0x32, "22t", "if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le")
	defRange(0x38, "21t", "if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez")

	widths := []string{"", "-wide", "-object", "-boolean", "-byte", "-char", "-short"}
	for i, w := range widths {
		def(0x44+byte(i), "aget"+w, "23x")
		def(0x4b+byte(i), "aput"+w, "23x")
		def(0x52+byte(i), "iget"+w, "22c")
		def(0x59+byte(i), "iput"+w, "22c")
		def(0x60+byte(i), "sget"+w, "21c")
		def(0x67+byte(i), "sput"+w, "21c")
	}

	defRange(0x6e, "35c", "invoke-virtual", "invoke-super", "invoke-direct", "invoke-static", "invoke-interface")
	defRange(0x74, "3rc", "invoke-virtual/range", "invoke-super/range", "invoke-direct/range",
		"invoke-static/range", "invoke-interface/range")

	defRange(0x7b, "12x",
		"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double",
		"long-to-int", "long-to-float", "long-to-double",
		"float-to-int", "float-to-long", "float-to-double",
		"double-to-int", "double-to-long", "double-to-float",
		"int-to-byte", "int-to-char", "int-to-short")

	integer := []string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr", "ushr"}
	float := []string{"add", "sub", "mul", "div", "rem"}
	var binops []string
	for _, op := range integer {
		binops = append(binops, op+"-int")
	}
	for _, op := range integer {
		binops = append(binops, op+"-long")
	}
	for _, op := range float {
		binops = append(binops, op+"-float")
	}
	for _, op := range float {
		binops = append(binops, op+"-double")
	}
	for i, name := range binops {
		def(0x90+byte(i), name, "23x")
		def(0xb0+byte(i), name+"/2addr", "12x")
	}

	defRange(0xd0, "22s", "add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16",
		"rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16")
	defRange(0xd8, "22b", "add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8",
		"rem-int/lit8", "and-int/lit8", "or-int/lit8", "xor-int/lit8",
		"shl-int/lit8", "shr-int/lit8", "ushr-int/lit8")

	defRange(0xfa, "45cc", "invoke-polymorphic")
	defRange(0xfb, "4rcc", "invoke-polymorphic/range")
	defRange(0xfc, "35c", "invoke-custom")
	defRange(0xfd, "3rc", "invoke-custom/range")
	defRange(0xfe, "21c", "const-method-handle")
	defRange(0xff, "21c", "const-method-type")
}
