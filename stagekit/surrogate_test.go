package stagekit

import "testing"

func TestSurrogateEqual(t *testing.T) {
	t.Run("inline compares by value", func(t *testing.T) {
		a := Surrogate{Kind: SurrogateInline, Inline: 42}
		b := Surrogate{Kind: SurrogateInline, Inline: 42}
		c := Surrogate{Kind: SurrogateInline, Inline: 43}
		if !a.Equal(b) {
			t.Fatalf("expected equal inline surrogates")
		}
		if a.Equal(c) {
			t.Fatalf("expected unequal inline surrogates")
		}
	})

	t.Run("different kinds never compare equal", func(t *testing.T) {
		a := Surrogate{Kind: SurrogateInline, Inline: nil}
		b := Surrogate{Kind: SurrogateFuncRef, Func: FuncRef{Name: "f"}}
		if a.Equal(b) {
			t.Fatalf("surrogates of different kinds must never compare equal")
		}
	})

	t.Run("array refs compare by recorded fingerprint, not by reloading", func(t *testing.T) {
		a := Surrogate{Kind: SurrogateArrayRef, ArrayRef: ArrayRef{Chunk: 0, Slot: 1, Len: 3, Hash: 99}}
		b := Surrogate{Kind: SurrogateArrayRef, ArrayRef: ArrayRef{Chunk: 0, Slot: 1, Len: 3, Hash: 99}}
		c := Surrogate{Kind: SurrogateArrayRef, ArrayRef: ArrayRef{Chunk: 0, Slot: 1, Len: 3, Hash: 100}}
		if !a.Equal(b) {
			t.Fatalf("expected equal array refs")
		}
		if a.Equal(c) {
			t.Fatalf("expected unequal array refs across hash")
		}
	})

	t.Run("object surrogates compare type and encoded state together", func(t *testing.T) {
		ref := FuncRef{Name: "ctor"}
		a := Surrogate{Kind: SurrogateObject, ObjectType: ref, ObjectState: []byte{1, 2, 3}}
		b := Surrogate{Kind: SurrogateObject, ObjectType: ref, ObjectState: []byte{1, 2, 3}}
		c := Surrogate{Kind: SurrogateObject, ObjectType: ref, ObjectState: []byte{1, 2, 4}}
		if !a.Equal(b) {
			t.Fatalf("expected equal object surrogates")
		}
		if a.Equal(c) {
			t.Fatalf("expected unequal object surrogates across state")
		}
	})
}

func TestCanonicalizeFuncAndInline(t *testing.T) {
	t.Run("function values canonicalize to a FuncRef surrogate", func(t *testing.T) {
		s := canonicalize(TestCanonicalizeFuncAndInline, nil)
		if s.Kind != SurrogateFuncRef {
			t.Fatalf("expected SurrogateFuncRef, got %v", s.Kind)
		}
	})

	t.Run("plain values canonicalize inline", func(t *testing.T) {
		s := canonicalize(7, nil)
		if s.Kind != SurrogateInline || s.Inline != 7 {
			t.Fatalf("expected inline surrogate carrying 7, got %+v", s)
		}
	})

	t.Run("nil canonicalizes to an inline nil surrogate", func(t *testing.T) {
		s := canonicalize(nil, nil)
		if s.Kind != SurrogateInline || s.Inline != nil {
			t.Fatalf("expected inline nil surrogate, got %+v", s)
		}
	})
}

type point struct{ X, Y int }

func TestRegisterSurrogate(t *testing.T) {
	before := len(surrogateBuilders)
	RegisterSurrogate(
		func(v any) bool { _, ok := v.(point); return ok },
		func(v any) Surrogate {
			p := v.(point)
			return Surrogate{Kind: SurrogateInline, Inline: p.X*1000 + p.Y}
		},
	)
	defer func() { surrogateBuilders = surrogateBuilders[:before] }()

	s := canonicalize(point{X: 1, Y: 2}, nil)
	if s.Kind != SurrogateInline || s.Inline != 1002 {
		t.Fatalf("expected the registered builder to run, got %+v", s)
	}
}

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"b": 2, "a": 1, "c": 3}
	keys := sortedKeys(m)
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected sorted keys %v, got %v", want, keys)
		}
	}
}
