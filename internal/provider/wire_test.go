package provider

import (
	"encoding/json"
	"testing"
)

func TestNumberShapes(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{`12.5`, 12.5},
		{`"12.5"`, 12.5},
		{`[12.5]`, 12.5},
		{`["12.5"]`, 12.5},
		{`0`, 0},
		{`""`, 0},
		{`null`, 0},
		{`[]`, 0},
	}
	for _, c := range cases {
		var n Number
		if err := json.Unmarshal([]byte(c.in), &n); err != nil {
			t.Errorf("%s: unexpected error: %v", c.in, err)
			continue
		}
		if n.Float() != c.want {
			t.Errorf("%s: got %v, want %v", c.in, n.Float(), c.want)
		}
	}
}

func TestNumberRejectsGarbage(t *testing.T) {
	for _, in := range []string{`"abc"`, `{"x":1}`, `true`} {
		var n Number
		if err := json.Unmarshal([]byte(in), &n); err == nil {
			t.Errorf("%s: expected error, got %v", in, n)
		}
	}
}
