package textutil

import "testing"

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"":                                  "",
		"  Happy birthday  ":                "Happy birthday",
		"<b>Hello</b> there":                "Hello there",
		"<script>alert(1)</script>Hi":       "Hi",
		"Fish & Chips":                      "Fish & Chips",
		`<a href="http://x">link</a> text`: "link text",
	}
	for input, want := range cases {
		if got := PlainText(input); got != want {
			t.Errorf("PlainText(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestPlainTextLimit(t *testing.T) {
	if got := PlainTextLimit("<i>abcdef</i>", 3); got != "abc" {
		t.Fatalf("expected truncated value, got %q", got)
	}
	if got := PlainTextLimit("日本語テキスト", 3); got != "日本語" {
		t.Fatalf("expected rune-aware truncation, got %q", got)
	}
	if got := PlainTextLimit("short", 0); got != "short" {
		t.Fatalf("expected no truncation without limit, got %q", got)
	}
}
