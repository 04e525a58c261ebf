package tenantcache

import (
	"testing"

	"github.com/google/uuid"

	"github.com/wisbric/promptgate/pkg/tenant"
)

func TestCacheGetSetRoundTrip(t *testing.T) {
	c := New(2)
	tenantID := uuid.New()
	tc := &tenant.Context{TenantID: tenantID, AgentID: uuid.New()}

	c.Set("hash1", tenantID, tc)

	got, ok := c.Get("hash1")
	if !ok {
		t.Fatal("Get() after Set() = not found")
	}
	if got != tc {
		t.Error("Get() returned a different pointer than Set() stored")
	}
}

func TestCacheGetMiss(t *testing.T) {
	c := New(2)
	if _, ok := c.Get("nope"); ok {
		t.Error("Get() on empty cache = found, want miss")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)
	tenantID := uuid.New()

	c.Set("a", tenantID, &tenant.Context{})
	c.Set("b", tenantID, &tenant.Context{})
	c.Set("c", tenantID, &tenant.Context{}) // evicts "a": least recently touched

	if _, ok := c.Get("a"); ok {
		t.Error("Get(\"a\") after eviction = found, want evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("Get(\"b\") = not found, want present")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("Get(\"c\") = not found, want present")
	}
}

func TestCacheGetRefreshesRecency(t *testing.T) {
	c := New(2)
	tenantID := uuid.New()

	c.Set("a", tenantID, &tenant.Context{})
	c.Set("b", tenantID, &tenant.Context{})
	c.Get("a")                     // touch "a", making "b" the LRU entry
	c.Set("c", tenantID, &tenant.Context{}) // evicts "b"

	if _, ok := c.Get("b"); ok {
		t.Error("Get(\"b\") after eviction = found, want evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("Get(\"a\") = not found, want present (recently touched)")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := New(4)
	tenantID := uuid.New()
	c.Set("a", tenantID, &tenant.Context{})

	c.Invalidate("a")

	if _, ok := c.Get("a"); ok {
		t.Error("Get() after Invalidate() = found, want evicted")
	}
}

func TestCacheInvalidateAllForTenant(t *testing.T) {
	c := New(4)
	t1, t2 := uuid.New(), uuid.New()

	c.Set("a", t1, &tenant.Context{})
	c.Set("b", t1, &tenant.Context{})
	c.Set("c", t2, &tenant.Context{})

	c.InvalidateAllForTenant(t1)

	if _, ok := c.Get("a"); ok {
		t.Error("key \"a\" survived InvalidateAllForTenant for its tenant")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("key \"b\" survived InvalidateAllForTenant for its tenant")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("key \"c\" (different tenant) was evicted, want preserved")
	}
}

func TestCacheSetUpdatesExistingEntryWithoutGrowing(t *testing.T) {
	c := New(4)
	tenantID := uuid.New()
	first := &tenant.Context{AgentName: "v1"}
	second := &tenant.Context{AgentName: "v2"}

	c.Set("a", tenantID, first)
	c.Set("a", tenantID, second)

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	got, _ := c.Get("a")
	if got.AgentName != "v2" {
		t.Errorf("AgentName = %q, want v2", got.AgentName)
	}
}

func TestNewDefaultsCapacity(t *testing.T) {
	c := New(0)
	if c.capacity != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", c.capacity, DefaultCapacity)
	}
}
