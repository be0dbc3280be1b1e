package store_test

import (
	"context"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/kottokmotors/clockin.click/internal/store"
)

func TestMemoryGetPutDelete(t *testing.T) {
	c := qt.New(t)
	m := store.NewMemory()
	ctx := context.Background()
	k := store.Key{Partition: "p-1"}

	_, err := m.GetItem(ctx, "T", k)
	c.Assert(err, qt.ErrorIs, store.ErrNotFound)

	item := store.Item{"Name": store.String("a"), "Tags": store.StringList([]string{"x", "y"})}
	c.Assert(m.PutItem(ctx, "T", k, item), qt.IsNil)

	got, err := m.GetItem(ctx, "T", k)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, item)

	// Mutating the returned copy must not leak into the store.
	got["Name"] = store.String("mutated")
	again, err := m.GetItem(ctx, "T", k)
	c.Assert(err, qt.IsNil)
	c.Assert(again.Scalar("Name"), qt.Equals, "a")

	c.Assert(m.DeleteItem(ctx, "T", k), qt.IsNil)
	_, err = m.GetItem(ctx, "T", k)
	c.Assert(err, qt.ErrorIs, store.ErrNotFound)

	// Deleting an absent key stays a no-op.
	c.Assert(m.DeleteItem(ctx, "T", k), qt.IsNil)
}

func TestMemoryUpdateItem(t *testing.T) {
	c := qt.New(t)
	m := store.NewMemory()
	ctx := context.Background()
	k := store.Key{Partition: "p-1"}

	_, err := m.UpdateItem(ctx, "T", k, store.Item{"A": store.String("1")}, nil)
	c.Assert(err, qt.ErrorIs, store.ErrNotFound)

	c.Assert(m.PutItem(ctx, "T", k, store.Item{
		"A": store.String("1"),
		"B": store.String("2"),
	}), qt.IsNil)

	got, err := m.UpdateItem(ctx, "T", k,
		store.Item{"A": store.String("changed"), "C": store.String("3")},
		[]string{"B"})
	c.Assert(err, qt.IsNil)
	c.Assert(got.Scalar("A"), qt.Equals, "changed")
	c.Assert(got.Scalar("C"), qt.Equals, "3")
	_, ok := got["B"]
	c.Assert(ok, qt.IsFalse)

	persisted, err := m.GetItem(ctx, "T", k)
	c.Assert(err, qt.IsNil)
	c.Assert(persisted, qt.DeepEquals, got)
}

func TestMemoryQueryIndex(t *testing.T) {
	c := qt.New(t)
	m := store.NewMemory()
	ctx := context.Background()

	for i, pin := range []string{"1111", "2222", "1111"} {
		k := store.Key{Partition: fmt.Sprintf("u-%d", i)}
		c.Assert(m.PutItem(ctx, "T", k, store.Item{
			"Id":  store.String(k.Partition),
			"Pin": store.String(pin),
		}), qt.IsNil)
	}

	items, err := m.QueryIndex(ctx, "T", "Pin", "2222", 0)
	c.Assert(err, qt.IsNil)
	c.Assert(items, qt.HasLen, 1)
	c.Assert(items[0].Scalar("Id"), qt.Equals, "u-1")

	// Duplicates: lowest key wins under a limit of one.
	items, err = m.QueryIndex(ctx, "T", "Pin", "1111", 1)
	c.Assert(err, qt.IsNil)
	c.Assert(items, qt.HasLen, 1)
	c.Assert(items[0].Scalar("Id"), qt.Equals, "u-0")

	items, err = m.QueryIndex(ctx, "T", "Pin", "0000", 0)
	c.Assert(err, qt.IsNil)
	c.Assert(items, qt.HasLen, 0)
}

func TestMemoryQueryRangeBoundsInclusive(t *testing.T) {
	c := qt.New(t)
	m := store.NewMemory()
	ctx := context.Background()

	for _, sk := range []string{"a", "b", "c", "d"} {
		k := store.Key{Partition: "p", Sort: sk}
		c.Assert(m.PutItem(ctx, "T", k, store.Item{"Sk": store.String(sk)}), qt.IsNil)
	}
	c.Assert(m.PutItem(ctx, "T", store.Key{Partition: "other", Sort: "b"},
		store.Item{"Sk": store.String("b")}), qt.IsNil)

	items, next, err := m.QueryRange(ctx, "T", "p", "b", "c", "", 10)
	c.Assert(err, qt.IsNil)
	c.Assert(next, qt.Equals, "")
	c.Assert(items, qt.HasLen, 2)
	c.Assert(items[0].Scalar("Sk"), qt.Equals, "b")
	c.Assert(items[1].Scalar("Sk"), qt.Equals, "c")
}

func TestMemoryQueryRangePagination(t *testing.T) {
	c := qt.New(t)
	m := store.NewMemory()
	ctx := context.Background()

	const total = 7
	for i := 0; i < total; i++ {
		sk := fmt.Sprintf("s-%02d", i)
		k := store.Key{Partition: "p", Sort: sk}
		c.Assert(m.PutItem(ctx, "T", k, store.Item{"Sk": store.String(sk)}), qt.IsNil)
	}

	var collected []string
	cursor := ""
	pages := 0
	for {
		items, next, err := m.QueryRange(ctx, "T", "p", "s-00", "s-99", cursor, 3)
		c.Assert(err, qt.IsNil)
		for _, item := range items {
			collected = append(collected, item.Scalar("Sk"))
		}
		pages++
		if next == "" {
			break
		}
		cursor = next
	}
	c.Assert(pages, qt.Equals, 3)
	c.Assert(collected, qt.HasLen, total)
	for i, sk := range collected {
		c.Assert(sk, qt.Equals, fmt.Sprintf("s-%02d", i))
	}
}

func TestMemoryScanPagination(t *testing.T) {
	c := qt.New(t)
	m := store.NewMemory()
	ctx := context.Background()

	const total = 10
	for i := 0; i < total; i++ {
		k := store.Key{Partition: fmt.Sprintf("p-%02d", i)}
		c.Assert(m.PutItem(ctx, "T", k, store.Item{"Id": store.String(k.Partition)}), qt.IsNil)
	}

	seen := make(map[string]bool)
	cursor := ""
	for {
		items, next, err := m.Scan(ctx, "T", cursor, 4)
		c.Assert(err, qt.IsNil)
		for _, item := range items {
			id := item.Scalar("Id")
			c.Assert(seen[id], qt.IsFalse, qt.Commentf("duplicate %s", id))
			seen[id] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}
	c.Assert(seen, qt.HasLen, total)
}

func TestMemoryScanEmptyTable(t *testing.T) {
	c := qt.New(t)
	m := store.NewMemory()

	items, next, err := m.Scan(context.Background(), "T", "", 10)
	c.Assert(err, qt.IsNil)
	c.Assert(next, qt.Equals, "")
	c.Assert(items, qt.HasLen, 0)
}
