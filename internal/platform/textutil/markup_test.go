package textutil

import (
	"testing"

	"github.com/microcosm-cc/bluemonday"
)

func TestStripMarkup(t *testing.T) {
	strip := StripMarkup(bluemonday.StrictPolicy())
	tests := []struct {
		input string
		want  string
	}{
		{input: "salt & pepper", want: "salt & pepper"},
		{input: "gift wrap <b>please</b>", want: "gift wrap please"},
		{input: `"quoted" & 'single'`, want: `"quoted" & 'single'`},
		{input: "  <i></i>  ", want: ""},
		{input: "", want: ""},
	}
	for _, tc := range tests {
		if got := strip(tc.input); got != tc.want {
			t.Fatalf("StripMarkup(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
