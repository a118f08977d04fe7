package textutil

import "testing"

func TestPlainText(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "strips markup", in: `Box <b>crushed</b><script>alert(1)</script>`, want: "Box crushed"},
		{name: "collapses whitespace", in: "  wrong \n\t size  ", want: "wrong size"},
		{name: "truncates runes", in: "کالا آسیب دیده", limit: 4, want: "کالا"},
		{name: "empty", in: "<p></p>", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PlainText(tc.in, tc.limit); got != tc.want {
				t.Fatalf("PlainText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
