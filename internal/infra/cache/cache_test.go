package cache

import (
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := New[string](time.Minute)

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Errorf("Get = (%q, %v), want (v, true)", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get on missing key returned ok")
	}
}

func TestExpiry(t *testing.T) {
	c := New[int](10 * time.Millisecond)

	c.Set("k", 42)
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("expired entry still served")
	}
}

func TestDelete(t *testing.T) {
	c := New[string](time.Minute)

	c.Set("k", "v")
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("deleted entry still served")
	}
}

func TestLen(t *testing.T) {
	c := New[string](time.Minute)

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "3") // overwrite, not a new entry
	if got := c.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}

func TestGenericTypes(t *testing.T) {
	type rule struct{ Name string }

	c := New[[]rule](time.Minute)
	c.Set("input", []rule{{Name: "r1"}, {Name: "r2"}})

	rules, ok := c.Get("input")
	if !ok || len(rules) != 2 || rules[1].Name != "r2" {
		t.Errorf("Get = (%+v, %v)", rules, ok)
	}
}
