package wire

import "testing"

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"p/", "p0"},
		{"a", "b"},
		{"a\xff", "b"},
		{"a\xff\xff", "b"},
		{"\xff", AllKeys},
		{"\xff\xff", AllKeys},
		{"", AllKeys},
		{"abc", "abd"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			if got := PrefixEnd(tt.prefix); got != tt.want {
				t.Errorf("PrefixEnd(%q) = %q, want %q", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestKeyRangeContains(t *testing.T) {
	t.Run("SingleKey", func(t *testing.T) {
		r := SingleKey("k")
		if !r.Contains("k") {
			t.Error("single key range should contain its key")
		}
		if r.Contains("k2") || r.Contains("") {
			t.Error("single key range should contain nothing else")
		}
	})

	t.Run("Prefix", func(t *testing.T) {
		r := Prefix("p/")
		for _, k := range []string{"p/", "p/a", "p/b", "p/zzz"} {
			if !r.Contains(k) {
				t.Errorf("Prefix(p/) should contain %q", k)
			}
		}
		for _, k := range []string{"q/", "outside-p/", "p", "p0"} {
			if r.Contains(k) {
				t.Errorf("Prefix(p/) should not contain %q", k)
			}
		}
	})

	t.Run("EmptyPrefixIsEverything", func(t *testing.T) {
		r := Prefix("")
		for _, k := range []string{"a", "z", "\xff"} {
			if !r.Contains(k) {
				t.Errorf("Prefix(\"\") should contain %q", k)
			}
		}
	})

	t.Run("FromKey", func(t *testing.T) {
		r := FromKey("m")
		if !r.Contains("m") || !r.Contains("zz") {
			t.Error("FromKey(m) should contain m and later keys")
		}
		if r.Contains("a") {
			t.Error("FromKey(m) should not contain a")
		}
	})
}

func TestKeyRangeString(t *testing.T) {
	if got := SingleKey("k").String(); got != "k" {
		t.Errorf("String() = %q, want k", got)
	}
	if got := Prefix("p/").String(); got != "[p/, p0)" {
		t.Errorf("String() = %q, want [p/, p0)", got)
	}
	if got := Prefix("").String(); got != "[*]" {
		t.Errorf("String() = %q, want [*]", got)
	}
}
