package env

import "testing"

func TestGetFallsBackWhenUnset(t *testing.T) {
	t.Setenv("DISPATCH_TEST_VALUE", "")
	if got := Get("DISPATCH_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}

	t.Setenv("DISPATCH_TEST_VALUE", "  set ")
	if got := Get("DISPATCH_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("DISPATCH_TEST_FLAG", "true")
	if !Bool("DISPATCH_TEST_FLAG", false) {
		t.Fatalf("expected true")
	}

	t.Setenv("DISPATCH_TEST_FLAG", "nope")
	if !Bool("DISPATCH_TEST_FLAG", true) {
		t.Fatalf("malformed value should use fallback")
	}
}
