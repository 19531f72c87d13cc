package util

import "testing"

func TestParseIntDefault(t *testing.T) {
    if got := ParseIntDefault("42", -1); got != 42 {
        t.Fatalf("unexpected value %d", got)
    }
    if got := ParseIntDefault("0", -1); got != 0 {
        t.Fatalf("explicit zero should parse, got %d", got)
    }
    if got := ParseIntDefault("", -1); got != -1 {
        t.Fatalf("expected default for empty, got %d", got)
    }
    if got := ParseIntDefault("abc", 7); got != 7 {
        t.Fatalf("expected default for junk, got %d", got)
    }
}
