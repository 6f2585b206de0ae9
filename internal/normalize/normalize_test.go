package normalize

import "testing"

func TestEmail(t *testing.T) {
	in := "  John.DOE@Example.COM  "
	want := "john.doe@example.com"
	got := Email(in)
	if got != want {
		t.Fatalf("Email(%q) = %q, want %q", in, got, want)
	}
}

func TestIdentifier(t *testing.T) {
	in := "  Alice_99  "
	want := "Alice_99"
	if got := Identifier(in); got != want {
		t.Fatalf("Identifier(%q) = %q, want %q", in, got, want)
	}
}
