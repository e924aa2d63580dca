package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeKeys(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]string
		want  map[string]string
	}{
		{name: "nil", input: nil, want: nil},
		{name: "empty", input: map[string]string{}, want: nil},
		{name: "only blank keys", input: map[string]string{" ": "x", "": "y"}, want: nil},
		{
			name:  "folds keys and trims values",
			input: map[string]string{" Last4 ": " 4242 ", "BRAND": "visa", "holder": " "},
			want:  map[string]string{"last4": "4242", "brand": "visa", "holder": ""},
		},
		{
			name:  "non-blank value wins on folded duplicate",
			input: map[string]string{"Brand": "visa", "brand": " "},
			want:  map[string]string{"brand": "visa"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeKeys(tc.input)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %#v got %#v", tc.want, got)
			}
		})
	}
}
