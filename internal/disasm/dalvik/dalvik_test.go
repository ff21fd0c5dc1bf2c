package dalvik

import (
	"errors"
	"testing"

	"bina/internal/disasm"
)

// counter is a counting loop:
//
//	0000: const/4 v0, #0
//	0001: const/16 v1, #10
//	0003: if-ge v0, v1, +5
//	0005: add-int/lit8 v0, v0, #1
//	0007: goto -4
//	0008: return-void
var counter = []byte{
	0x12, 0x00,
	0x13, 0x01, 0x0a, 0x00,
	0x35, 0x10, 0x05, 0x00,
	0xd8, 0x00, 0x00, 0x01,
	0x28, 0xfc,
	0x0e, 0x00,
}

func decode(t *testing.T, code []byte) *disasm.Context {
	t.Helper()
	ctx, err := disasm.New(New(), code)
	if err != nil {
		t.Fatalf("disasm.New() error = %v", err)
	}
	t.Cleanup(ctx.Close)
	return ctx
}

func TestDisassemble(t *testing.T) {
	ctx := decode(t, counter)

	want := []struct {
		offset    uint64
		size      int
		kind      disasm.Kind
		text      string
		target    uint64
		hasTarget bool
	}{
		{0x00, 2, disasm.KindOther, "const/4 v0, #0", 0, false},
		{0x02, 4, disasm.KindOther, "const/16 v1, #10", 0, false},
		{0x06, 4, disasm.KindCondBranch, "if-ge v0, v1, +5", 0x10, true},
		{0x0a, 4, disasm.KindOther, "add-int/lit8 v0, v0, #1", 0, false},
		{0x0e, 2, disasm.KindUncondBranch, "goto -4", 0x06, true},
		{0x10, 2, disasm.KindReturn, "return-void", 0, false},
	}

	if len(ctx.Instructions) != len(want) {
		t.Fatalf("got %d instructions, want %d", len(ctx.Instructions), len(want))
	}
	for i, w := range want {
		ins := ctx.Instructions[i]
		if ins.Offset != w.offset || ins.Size != w.size || ins.Kind != w.kind {
			t.Errorf("ins %d = {%#x %d %s}, want {%#x %d %s}", i, ins.Offset, ins.Size, ins.Kind, w.offset, w.size, w.kind)
		}
		if ins.Text != w.text {
			t.Errorf("ins %d text = %q, want %q", i, ins.Text, w.text)
		}
		if ins.HasTargetOffset != w.hasTarget || (w.hasTarget && ins.TargetOffset != w.target) {
			t.Errorf("ins %d target = %#x (%v), want %#x", i, ins.TargetOffset, ins.HasTargetOffset, w.target)
		}
	}
	if ctx.Stats.Resyncs != 0 {
		t.Errorf("Resyncs = %d, want 0", ctx.Stats.Resyncs)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		kind disasm.Kind
		text string
	}{
		{"cmp-long", []byte{0x31, 0x00, 0x01, 0x02}, disasm.KindCompare, "cmp-long v0, v1, v2"},
		{"invoke-static", []byte{0x71, 0x10, 0x03, 0x00, 0x00, 0x00}, disasm.KindCall, "invoke-static @3, v0"},
		{"throw", []byte{0x27, 0x02}, disasm.KindReturn, "throw v2"},
		{"if-eqz", []byte{0x38, 0x03, 0x02, 0x00}, disasm.KindCondBranch, "if-eqz v3, +2"},
		{"const-wide", []byte{0x18, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, disasm.KindOther, "const-wide v0, #1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := decode(t, tt.code)
			if len(ctx.Instructions) != 1 {
				t.Fatalf("got %d instructions, want 1", len(ctx.Instructions))
			}
			ins := ctx.Instructions[0]
			if ins.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", ins.Kind, tt.kind)
			}
			if ins.Text != tt.text {
				t.Errorf("text = %q, want %q", ins.Text, tt.text)
			}
			if ins.Size != len(tt.code) {
				t.Errorf("size = %d, want %d", ins.Size, len(tt.code))
			}
		})
	}
}

func TestCompareOperands(t *testing.T) {
	ctx := decode(t, []byte{0x31, 0x00, 0x01, 0x02})
	op := ctx.Instructions[0].Operand(1)
	if op.Kind != disasm.OpRegister || op.Reg != 1 {
		t.Errorf("operand 1 = %s, want register 1", op)
	}
}

func TestPayload(t *testing.T) {
	// packed-switch-payload with one target, then return-void
	code := []byte{
		0x00, 0x01, 0x01, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x05, 0x00, 0x00, 0x00,
		0x0e, 0x00,
	}
	ctx := decode(t, code)
	if len(ctx.Instructions) != 2 {
		t.Fatalf("got %d instructions, want 2", len(ctx.Instructions))
	}
	if p := ctx.Instructions[0]; p.Size != 12 || p.Text != "packed-switch-payload" {
		t.Errorf("payload = %q size %d", p.Text, p.Size)
	}
}

func TestTruncatedInstruction(t *testing.T) {
	// return-void, then the first unit of const/16
	ctx := decode(t, []byte{0x0e, 0x00, 0x13, 0x01})
	if len(ctx.Instructions) != 2 {
		t.Fatalf("got %d instructions, want 2", len(ctx.Instructions))
	}
	if ctx.Stats.Resyncs != 1 {
		t.Errorf("Resyncs = %d, want 1", ctx.Stats.Resyncs)
	}
	if ctx.Instructions[1].Size != 2 {
		t.Errorf("opaque instruction size = %d, want 2", ctx.Instructions[1].Size)
	}
}

func TestEmptyBuffer(t *testing.T) {
	if _, err := disasm.New(New(), []byte{0x0e}); !errors.Is(err, disasm.ErrUndecodable) {
		t.Fatalf("disasm.New() error = %v, want ErrUndecodable", err)
	}
}

func TestNoTrap(t *testing.T) {
	var arch disasm.Arch = New()
	if _, ok := arch.(disasm.Trapper); ok {
		t.Errorf("dalvik backend claims a breakpoint encoding")
	}
}
