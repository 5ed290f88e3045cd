package sanitize

import "testing"

func TestText(t *testing.T) {
	cases := map[string]string{
		"  signed elsewhere  ":                  "signed elsewhere",
		"<b>too</b> expensive":                  "too expensive",
		"&lt;script&gt;alert(1)&lt;/script&gt;": "alert(1)",
		"went\n\n  quiet\tafter demo":           "went quiet after demo",
		"":                                      "",
	}
	for in, want := range cases {
		if got := Text(in); got != want {
			t.Fatalf("Text(%q) = %q, want %q", in, got, want)
		}
	}
}
