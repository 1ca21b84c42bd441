package token

import (
	"strings"
	"testing"
)

func TestCount(t *testing.T) {
	short := Count("SELECT salary FROM emp;")
	if short <= 0 {
		t.Fatalf("short count = %d, want > 0", short)
	}

	long := Count(strings.Repeat("SELECT salary FROM emp WHERE id = 42;\n", 50))
	if long <= short {
		t.Fatalf("long count %d not greater than short count %d", long, short)
	}
}

func TestCountEmpty(t *testing.T) {
	if n := Count(""); n < 0 {
		t.Fatalf("empty count = %d", n)
	}
}
