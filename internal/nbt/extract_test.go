package nbt_test

import (
	"errors"
	"testing"

	"github.com/anvilprune/anvilprune/internal/nbt"
	"github.com/anvilprune/anvilprune/internal/nbt/nbttest"
)

func TestInhabitedTime(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantValue int64
		wantFound bool
	}{
		{
			name:      "modern layout",
			data:      nbttest.Chunk(4242),
			wantValue: 4242,
			wantFound: true,
		},
		{
			name:      "legacy layout",
			data:      nbttest.LegacyChunk(777),
			wantValue: 777,
			wantFound: true,
		},
		{
			name:      "zero",
			data:      nbttest.Chunk(0),
			wantValue: 0,
			wantFound: true,
		},
		{
			name:      "negative clamps to zero",
			data:      nbttest.Chunk(-50),
			wantValue: 0,
			wantFound: true,
		},
		{
			name:      "int typed",
			data:      nbttest.Root("").Int("InhabitedTime", 120).Bytes(),
			wantValue: 120,
			wantFound: true,
		},
		{
			name:      "short typed",
			data:      nbttest.Root("").Short("InhabitedTime", 90).Bytes(),
			wantValue: 90,
			wantFound: true,
		},
		{
			name:      "byte typed",
			data:      nbttest.Root("").Byte("InhabitedTime", 7).Bytes(),
			wantValue: 7,
			wantFound: true,
		},
		{
			name:      "absent",
			data:      nbttest.Root("").Int("DataVersion", 3465).String("Status", "full").Bytes(),
			wantValue: 0,
			wantFound: false,
		},
		{
			name: "level without metric falls through to root",
			data: nbttest.Root("").
				Compound("Level", func(l *nbttest.Builder) { l.Int("xPos", 0) }).
				Long("InhabitedTime", 55).
				Bytes(),
			wantValue: 55,
			wantFound: true,
		},
		{
			name: "metric inside unrelated compound is ignored",
			data: nbttest.Root("").
				Compound("structures", func(s *nbttest.Builder) { s.Long("InhabitedTime", 999) }).
				Bytes(),
			wantValue: 0,
			wantFound: false,
		},
		{
			name:      "named root",
			data:      nbttest.Root("chunk").Long("InhabitedTime", 12).Bytes(),
			wantValue: 12,
			wantFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, found, err := nbt.InhabitedTime(tt.data)
			if err != nil {
				t.Fatalf("InhabitedTime failed: %v", err)
			}
			if value != tt.wantValue {
				t.Errorf("value = %d, want %d", value, tt.wantValue)
			}
			if found != tt.wantFound {
				t.Errorf("found = %v, want %v", found, tt.wantFound)
			}
		})
	}
}

func TestInhabitedTimeMalformed(t *testing.T) {
	valid := nbttest.Chunk(500)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "root not compound", data: []byte{nbt.TagInt, 0, 0, 0, 0, 0, 1}},
		{name: "truncated", data: valid[:len(valid)/2]},
		{name: "unknown tag", data: []byte{nbt.TagCompound, 0, 0, 42, 0, 1, 'x'}},
		{
			name: "array overruns buffer",
			data: []byte{nbt.TagCompound, 0, 0, nbt.TagByteArray, 0, 1, 'a', 0x7f, 0xff, 0xff, 0xff},
		},
		{
			name: "negative array length",
			data: []byte{nbt.TagCompound, 0, 0, nbt.TagIntArray, 0, 1, 'a', 0xff, 0xff, 0xff, 0xff, 0},
		},
		{
			name: "negative list length",
			data: []byte{nbt.TagCompound, 0, 0, nbt.TagList, 0, 1, 'a', nbt.TagCompound, 0xff, 0xff, 0xff, 0xff, 0},
		},
		{
			name: "metric has wrong type",
			data: nbttest.Root("").String("InhabitedTime", "lots").Bytes(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := nbt.InhabitedTime(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, nbt.ErrMalformed) {
				t.Errorf("error %v does not match ErrMalformed", err)
			}
			var pe *nbt.ParseError
			if !errors.As(err, &pe) {
				t.Errorf("error %T is not a *ParseError", err)
			}
		})
	}
}

func TestInhabitedTimeDepthLimit(t *testing.T) {
	// Nested compounds beyond MaxDepth inside a skipped tag.
	data := []byte{nbt.TagCompound, 0, 0}
	for i := 0; i < nbt.MaxDepth+2; i++ {
		data = append(data, nbt.TagCompound, 0, 1, 'c')
	}

	_, _, err := nbt.InhabitedTime(data)
	if !errors.Is(err, nbt.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func BenchmarkInhabitedTime(b *testing.B) {
	data := nbttest.Chunk(1000)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := nbt.InhabitedTime(data); err != nil {
			b.Fatal(err)
		}
	}
}
