package gqlcache

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/unkn0wn-root/gqlcache/record"
)

type inbox struct {
	mu  sync.Mutex
	got []Notification
}

func (b *inbox) cb(n Notification) {
	b.mu.Lock()
	b.got = append(b.got, n)
	b.mu.Unlock()
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.got)
}

func (b *inbox) last(t *testing.T) Notification {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.got) == 0 {
		t.Fatalf("no notification received")
	}
	return b.got[len(b.got)-1]
}

func newTestCache(t *testing.T) *cache {
	t.Helper()
	c := newCache(Options{})
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func comment(id int64, content string) record.Object {
	return record.Object{
		"__typename": record.String("Comment"),
		"id":         record.Int(id),
		"content":    record.String(content),
	}
}

func mustWrite(t *testing.T, c Cache, id record.ID, rec record.Object) ChangeSet {
	t.Helper()
	cs, err := c.WriteCanonical(id, rec)
	if err != nil {
		t.Fatalf("WriteCanonical(%s): %v", id, err)
	}
	return cs
}

func mustString(t *testing.T, c Cache, id record.ID, path ...string) string {
	t.Helper()
	v, err := c.Resolve(id, path...)
	if err != nil {
		t.Fatalf("Resolve(%s, %v): %v", id, path, err)
	}
	s, ok := v.AsString()
	if !ok {
		t.Fatalf("Resolve(%s, %v): not a string: %s", id, path, v)
	}
	return s
}

func TestResolveCanonicalWithoutLayers(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "old"))
	mustWrite(t, c, "Comment:6", comment(6, "other"))
	if _, err := c.BeginOptimistic("t1", Entity{ID: "Comment:6", Fields: record.Object{"content": record.String("x")}}); err != nil {
		t.Fatalf("BeginOptimistic: %v", err)
	}

	if got := mustString(t, c, "Comment:5", "content"); got != "old" {
		t.Fatalf("content=%q want old", got)
	}
	if _, err := c.Resolve("Comment:5", "author"); !IsMissingField(err) {
		t.Fatalf("expected MissingFieldError, got %v", err)
	}
	if _, err := c.Resolve("Nope:1", "id"); !IsMissingField(err) {
		t.Fatalf("expected MissingFieldError for unknown id, got %v", err)
	}
}

func TestOptimisticRoundTrip(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "old"))
	before := c.Extract(true)

	cs, err := c.ApplyOptimistic("t1", "Comment:5", record.Object{
		"content": record.String("new"),
		"likes":   record.Int(3),
	})
	if err != nil {
		t.Fatalf("ApplyOptimistic: %v", err)
	}
	if len(cs) != 2 || !cs.Contains("Comment:5", "content") || !cs.Contains("Comment:5", "likes") {
		t.Fatalf("unexpected change-set %v", cs)
	}

	cs, err = c.Abort("t1")
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if len(cs) != 2 {
		t.Fatalf("abort change-set=%v want content+likes", cs)
	}
	after := c.Extract(true)
	if !after["Comment:5"].Equal(before["Comment:5"]) {
		t.Fatalf("round trip changed data: before=%v after=%v", before, after)
	}
	if _, err := c.Resolve("Comment:5", "likes"); !IsMissingField(err) {
		t.Fatalf("likes should be gone, got %v", err)
	}
}

func TestLayerPrecedenceAndOutOfOrderRemoval(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "canonical"))

	if _, err := c.ApplyOptimistic("t1", "Comment:5", record.Object{"content": record.String("one")}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ApplyOptimistic("t2", "Comment:5", record.Object{"content": record.String("two")}); err != nil {
		t.Fatal(err)
	}
	if got := mustString(t, c, "Comment:5", "content"); got != "two" {
		t.Fatalf("top layer should win, got %q", got)
	}

	if _, err := c.Abort("t2"); err != nil {
		t.Fatal(err)
	}
	if got := mustString(t, c, "Comment:5", "content"); got != "one" {
		t.Fatalf("after t2 removal got %q want one", got)
	}
	if _, err := c.Abort("t1"); err != nil {
		t.Fatal(err)
	}
	if got := mustString(t, c, "Comment:5", "content"); got != "canonical" {
		t.Fatalf("after t1 removal got %q want canonical", got)
	}

	// Bottom layer first: the masked field does not move.
	_, _ = c.ApplyOptimistic("t1", "Comment:5", record.Object{"content": record.String("one")})
	_, _ = c.ApplyOptimistic("t2", "Comment:5", record.Object{"content": record.String("two")})
	cs, err := c.Abort("t1")
	if err != nil {
		t.Fatal(err)
	}
	if !cs.Empty() {
		t.Fatalf("removing a masked layer must not change anything, got %v", cs)
	}
	if got := mustString(t, c, "Comment:5", "content"); got != "two" {
		t.Fatalf("got %q want two", got)
	}
	if got := c.Layers(); len(got) != 1 || got[0] != "t2" {
		t.Fatalf("layers=%v want [t2]", got)
	}
}

func TestCommitEquivalentToAbortThenWrite(t *testing.T) {
	setup := func() *cache {
		c := newTestCache(t)
		mustWrite(t, c, "Comment:5", comment(5, "old"))
		_, _ = c.ApplyOptimistic("t1", "Comment:5", record.Object{
			"content": record.String("draft"),
			"pending": record.Bool(true),
		})
		return c
	}
	server := comment(5, "final")

	a := setup()
	if _, err := a.Commit("t1", Entity{Fields: server}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	b := setup()
	if _, err := b.Abort("t1"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, _, err := b.WriteEntity(server); err != nil {
		t.Fatalf("WriteEntity: %v", err)
	}

	ea, eb := a.Extract(true), b.Extract(true)
	if !ea["Comment:5"].Equal(eb["Comment:5"]) {
		t.Fatalf("commit=%v abort+write=%v", ea, eb)
	}
	if _, err := a.Resolve("Comment:5", "pending"); !IsMissingField(err) {
		t.Fatalf("stale optimistic field still visible: %v", err)
	}
	if len(a.Layers()) != 0 {
		t.Fatalf("layer left behind: %v", a.Layers())
	}
}

func TestDependencyIsolation(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "old"))
	mustWrite(t, c, "Comment:6", comment(6, "x"))

	var box inbox
	_, res := c.Subscribe(Selection{Root: "Comment:5", Fields: []Field{F("content")}}, box.cb)
	if !res.Complete {
		t.Fatalf("initial read incomplete: %+v", res)
	}

	mustWrite(t, c, "Comment:5", record.Object{"likes": record.Int(1)})
	mustWrite(t, c, "Comment:6", record.Object{"content": record.String("y")})
	if box.len() != 0 {
		t.Fatalf("unrelated writes notified: %+v", box.got)
	}

	mustWrite(t, c, "Comment:5", record.Object{"content": record.String("new")})
	if box.len() != 1 {
		t.Fatalf("notifications=%d want 1", box.len())
	}
	n := box.last(t)
	if len(n.Changes) != 1 || !n.Changes.Contains("Comment:5", "content") {
		t.Fatalf("changes=%v", n.Changes)
	}
	if got := n.Result.Data.(map[string]any)["content"]; got != "new" {
		t.Fatalf("data content=%v", got)
	}
}

func TestNoOpWriteIsSilent(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "same"))

	var box inbox
	c.Subscribe(Selection{Root: "Comment:5", Fields: []Field{F("id"), F("content")}}, box.cb)

	cs := mustWrite(t, c, "Comment:5", record.Object{
		"content": record.String("same"),
		"id":      record.Float(5), // numerically equal
	})
	if !cs.Empty() {
		t.Fatalf("no-op write produced %v", cs)
	}
	cs, err := c.ApplyOptimistic("t1", "Comment:5", record.Object{"content": record.String("same")})
	if err != nil {
		t.Fatal(err)
	}
	if !cs.Empty() {
		t.Fatalf("no-op optimistic write produced %v", cs)
	}
	if box.len() != 0 {
		t.Fatalf("no-op writes notified %d times", box.len())
	}
}

func TestEmptyWriteCreatesNoEntity(t *testing.T) {
	c := newTestCache(t)
	cs := mustWrite(t, c, "Comment:5", record.Object{})
	if !cs.Empty() {
		t.Fatalf("empty write produced %v", cs)
	}
	if _, ok := c.Extract(false)["Comment:5"]; ok {
		t.Fatalf("empty write created an entity")
	}
}

func TestLargeIntegerToFloatIsAChange(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "N:1", record.Object{"v": record.Int(1<<53 + 1)})

	var box inbox
	c.Subscribe(Selection{Root: "N:1", Fields: []Field{F("v")}}, box.cb)

	cs := mustWrite(t, c, "N:1", record.Object{"v": record.Float(1 << 53)})
	if cs.Empty() {
		t.Fatalf("moved value missing from change-set")
	}
	if box.len() != 1 {
		t.Fatalf("notifications=%d want 1", box.len())
	}
}

func TestRewritingNaNIsSilent(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "N:1", record.Object{"v": record.Float(math.NaN())})

	var box inbox
	c.Subscribe(Selection{Root: "N:1", Fields: []Field{F("v")}}, box.cb)

	cs := mustWrite(t, c, "N:1", record.Object{"v": record.Float(math.NaN())})
	if !cs.Empty() {
		t.Fatalf("NaN rewrite produced %v", cs)
	}
	if box.len() != 0 {
		t.Fatalf("NaN rewrite notified %d times", box.len())
	}
}

func TestCommitScenarioMatchingValues(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "old"))

	var box inbox
	c.Subscribe(Selection{Root: "Comment:5", Fields: []Field{F("content")}}, box.cb)

	cs, err := c.BeginOptimistic("t1", Entity{ID: "Comment:5", Fields: record.Object{"content": record.String("new")}})
	if err != nil {
		t.Fatalf("BeginOptimistic: %v", err)
	}
	if !cs.Contains("Comment:5", "content") {
		t.Fatalf("change-set %v", cs)
	}
	if got := mustString(t, c, "Comment:5", "content"); got != "new" {
		t.Fatalf("optimistic value=%q", got)
	}
	if box.len() != 1 {
		t.Fatalf("notifications after begin=%d want 1", box.len())
	}
	if !box.last(t).Result.Optimistic {
		t.Fatalf("result should be marked optimistic")
	}

	cs, err = c.Commit("t1", Entity{ID: "Comment:5", Fields: record.Object{"content": record.String("new")}})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !cs.Empty() {
		t.Fatalf("commit with matching data changed %v", cs)
	}
	if got := mustString(t, c, "Comment:5", "content"); got != "new" {
		t.Fatalf("committed value=%q", got)
	}
	if box.len() != 2 {
		t.Fatalf("notifications after commit=%d want 2", box.len())
	}
	n := box.last(t)
	if !n.Changes.Empty() || n.Result.Optimistic {
		t.Fatalf("settle notification=%+v", n)
	}
	if got := n.Result.Data.(map[string]any)["content"]; got != "new" {
		t.Fatalf("settled data=%v", got)
	}
}

func TestTempIDReplacedOnCommit(t *testing.T) {
	c := newTestCache(t)
	todo := func(id, desc string) record.Object {
		return record.Object{
			"__typename":  record.String("Todo"),
			"id":          record.String(id),
			"description": record.String(desc),
		}
	}
	mustWrite(t, c, "ROOT_QUERY", record.Object{"todos": record.List()})

	temp := todo("temp-id", "buy milk")
	_, err := c.BeginOptimistic("t2",
		Entity{Fields: temp},
		Entity{ID: "ROOT_QUERY", Fields: record.Object{"todos": record.List(record.Embedded(temp))}},
	)
	if err != nil {
		t.Fatalf("BeginOptimistic: %v", err)
	}
	if got := mustString(t, c, "Todo:temp-id", "description"); got != "buy milk" {
		t.Fatalf("temp entity not visible: %q", got)
	}
	list, _ := c.Resolve("ROOT_QUERY", "todos")
	if items := list.Items(); len(items) != 1 {
		t.Fatalf("todos=%v", list)
	} else if id, _ := items[0].AsRef(); id != "Todo:temp-id" {
		t.Fatalf("todos[0]=%v", items[0])
	}

	saved := todo("42", "buy milk")
	cs, err := c.Commit("t2",
		Entity{Fields: saved},
		Entity{ID: "ROOT_QUERY", Fields: record.Object{"todos": record.List(record.Embedded(saved))}},
	)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := c.Resolve("Todo:temp-id", "description"); !IsMissingField(err) {
		t.Fatalf("temp entity left behind: %v", err)
	}
	if got := mustString(t, c, "Todo:42", "description"); got != "buy milk" {
		t.Fatalf("Todo:42 description=%q", got)
	}
	list, _ = c.Resolve("ROOT_QUERY", "todos")
	if id, _ := list.Items()[0].AsRef(); id != "Todo:42" {
		t.Fatalf("todos[0]=%v want Todo:42", list)
	}
	if !cs.Contains("Todo:temp-id", "description") || !cs.Contains("Todo:42", "id") {
		t.Fatalf("change-set %v", cs)
	}
	if _, ok := c.Extract(true)["Todo:temp-id"]; ok {
		t.Fatalf("temp id still extracted")
	}
}

func TestTransactionErrors(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "old"))

	if _, err := c.BeginOptimistic("t1", Entity{ID: "Comment:5", Fields: record.Object{"content": record.String("a")}}); err != nil {
		t.Fatal(err)
	}
	_, err := c.BeginOptimistic("t1", Entity{ID: "Comment:5", Fields: record.Object{"content": record.String("b")}})
	if !IsDuplicateTransaction(err) {
		t.Fatalf("expected DuplicateTransactionError, got %v", err)
	}
	if got := mustString(t, c, "Comment:5", "content"); got != "a" {
		t.Fatalf("existing layer touched by failed begin: %q", got)
	}

	if _, err := c.Abort("nope"); !IsUnknownTransaction(err) {
		t.Fatalf("expected UnknownTransactionError, got %v", err)
	}
	if _, err := c.Commit("nope", Entity{ID: "Comment:5", Fields: record.Object{"content": record.String("z")}}); !IsUnknownTransaction(err) {
		t.Fatalf("expected UnknownTransactionError, got %v", err)
	}
	// The failed commit must not have written canonical data.
	if v := c.Extract(false)["Comment:5"]["content"]; !v.Equal(record.String("old")) {
		t.Fatalf("failed commit wrote %v", v)
	}

	if _, err := c.Abort("t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Abort("t1"); !IsUnknownTransaction(err) {
		t.Fatalf("double abort must fail, got %v", err)
	}
}

func TestCanonicalWriteDoesNotClearLayer(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "old"))
	_, _ = c.ApplyOptimistic("t1", "Comment:5", record.Object{"content": record.String("optimistic")})

	var box inbox
	c.Subscribe(Selection{Root: "Comment:5", Fields: []Field{F("content")}}, box.cb)

	cs := mustWrite(t, c, "Comment:5", record.Object{"content": record.String("server")})
	if !cs.Empty() {
		t.Fatalf("masked canonical write changed %v", cs)
	}
	if box.len() != 0 {
		t.Fatalf("masked write notified")
	}
	if got := mustString(t, c, "Comment:5", "content"); got != "optimistic" {
		t.Fatalf("got %q", got)
	}

	cs, _ = c.Abort("t1")
	if !cs.Contains("Comment:5", "content") {
		t.Fatalf("abort change-set %v", cs)
	}
	if got := mustString(t, c, "Comment:5", "content"); got != "server" {
		t.Fatalf("got %q want server", got)
	}
}

func TestAbortReportsOnlyMovedFields(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "same"))
	_, _ = c.ApplyOptimistic("t1", "Comment:5", record.Object{
		"content": record.String("same"),
		"likes":   record.Int(9),
	})
	cs, err := c.Abort("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 1 || !cs.Contains("Comment:5", "likes") {
		t.Fatalf("change-set %v want only likes", cs)
	}
}

func TestOneNotificationPerWrite(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Post:1", record.Object{
		"__typename": record.String("Post"),
		"id":         record.Int(1),
		"title":      record.String("t"),
		"comments":   record.List(record.Ref("Comment:5"), record.Ref("Comment:6")),
	})
	mustWrite(t, c, "Comment:5", comment(5, "a"))
	mustWrite(t, c, "Comment:6", comment(6, "b"))

	var box inbox
	q := Selection{Root: "Post:1", Fields: []Field{F("title"), F("comments", F("content"))}}
	_, res := c.Subscribe(q, box.cb)
	if !res.Complete {
		t.Fatalf("incomplete: %+v", res.Missing)
	}

	cs, err := c.Batch(func(tx *Tx) error {
		for _, id := range []record.ID{"Comment:5", "Comment:6"} {
			if err := tx.Write(id, record.Object{"content": record.String("z")}); err != nil {
				return err
			}
		}
		return tx.Write("Post:1", record.Object{"title": record.String("u")})
	})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(cs) != 3 {
		t.Fatalf("change-set %v", cs)
	}
	if box.len() != 1 {
		t.Fatalf("notifications=%d want 1", box.len())
	}
	if got := len(box.last(t).Changes); got != 3 {
		t.Fatalf("notification changes=%d want 3", got)
	}
}

func TestBatchRollback(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "old"))

	var box inbox
	c.Subscribe(Selection{Root: "Comment:5", Fields: []Field{F("content")}}, box.cb)

	boom := fmt.Errorf("boom")
	_, err := c.Batch(func(tx *Tx) error {
		_ = tx.Write("Comment:5", record.Object{"content": record.String("new")})
		v, _ := tx.Resolve("Comment:5", "content")
		if s, _ := v.AsString(); s != "new" {
			t.Errorf("batch does not see its own write: %v", v)
		}
		tx.Evict("Comment:5", "id")
		_ = tx.Write("Comment:7", comment(7, "x"))
		_ = tx.Write("Comment:8", record.Object{})
		return boom
	})
	if err != boom {
		t.Fatalf("err=%v want boom", err)
	}
	snap := c.Extract(false)
	if !snap["Comment:5"].Equal(comment(5, "old")) {
		t.Fatalf("rollback incomplete: %v", snap["Comment:5"])
	}
	for _, id := range []record.ID{"Comment:7", "Comment:8"} {
		if _, ok := snap[id]; ok {
			t.Fatalf("rolled back entity %s still present", id)
		}
	}
	if box.len() != 0 {
		t.Fatalf("failed batch notified")
	}
}

func TestNestedObjectsNormalized(t *testing.T) {
	c := newTestCache(t)
	id, _, err := c.WriteEntity(record.Object{
		"__typename": record.String("Post"),
		"id":         record.Int(1),
		"author": record.Embedded(record.Object{
			"__typename": record.String("User"),
			"id":         record.String("u1"),
			"name":       record.String("Ada"),
		}),
		"meta": record.Embedded(record.Object{
			"__typename": record.String("Meta"),
			"views":      record.Int(10),
		}),
	})
	if err != nil {
		t.Fatalf("WriteEntity: %v", err)
	}
	if id != "Post:1" {
		t.Fatalf("id=%q", id)
	}

	author, _ := c.Resolve("Post:1", "author")
	if ref, ok := author.AsRef(); !ok || ref != "User:u1" {
		t.Fatalf("author=%v want ref User:u1", author)
	}
	if got := mustString(t, c, "Post:1", "author", "name"); got != "Ada" {
		t.Fatalf("author.name=%q", got)
	}
	views, err := c.Resolve("Post:1", "meta", "views")
	if err != nil || !views.Equal(record.Int(10)) {
		t.Fatalf("meta.views=%v err=%v", views, err)
	}
	if _, err := c.Resolve("Post:1", "meta", "likes"); !IsMissingField(err) {
		t.Fatalf("expected missing field, got %v", err)
	} else if mf := err.(*MissingFieldError); mf.Field != "meta.likes" {
		t.Fatalf("missing field path=%q", mf.Field)
	}
	if _, err := c.Resolve("Post:1", "id", "x"); err == nil {
		t.Fatalf("expected PathError for scalar traversal")
	} else if _, ok := err.(*PathError); !ok {
		t.Fatalf("err=%T want *PathError", err)
	}

	if _, _, err := c.WriteEntity(record.Object{"name": record.String("anon")}); err != ErrUnidentified {
		t.Fatalf("err=%v want ErrUnidentified", err)
	}
}

func TestReferenceChangesPropagateOnRead(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Post:1", record.Object{"author": record.Ref("User:1")})
	mustWrite(t, c, "User:1", record.Object{"name": record.String("Ada")})
	mustWrite(t, c, "User:2", record.Object{"name": record.String("Bob")})

	var box inbox
	c.Subscribe(Selection{Root: "Post:1", Fields: []Field{F("author", F("name"))}}, box.cb)

	// Repoint the reference optimistically; the subscriber depended on it.
	if _, err := c.ApplyOptimistic("t1", "Post:1", record.Object{"author": record.Ref("User:2")}); err != nil {
		t.Fatal(err)
	}
	n := box.last(t)
	author := n.Result.Data.(map[string]any)["author"].(map[string]any)
	if author["name"] != "Bob" {
		t.Fatalf("author=%v", author)
	}

	// The subscription now depends on User:2, not User:1.
	mustWrite(t, c, "User:1", record.Object{"name": record.String("Ada L.")})
	if box.len() != 1 {
		t.Fatalf("stale dependency on User:1 kept")
	}
	mustWrite(t, c, "User:2", record.Object{"name": record.String("Robert")})
	if box.len() != 2 {
		t.Fatalf("notifications=%d want 2", box.len())
	}
}

func TestMissingFieldIsPartialAndTracked(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "old"))

	var box inbox
	_, res := c.Subscribe(Selection{Root: "Comment:5", Fields: []Field{F("content"), F("likes")}}, box.cb)
	if res.Complete || res.Err != nil {
		t.Fatalf("want incomplete without error, got %+v", res)
	}
	if len(res.Missing) != 1 || res.Missing[0].Field != "likes" {
		t.Fatalf("missing=%v", res.Missing)
	}
	if res.Data.(map[string]any)["content"] != "old" {
		t.Fatalf("partial data lost: %v", res.Data)
	}

	// A miss is a dependency too.
	_, _ = c.ApplyOptimistic("t1", "Comment:5", record.Object{"likes": record.Int(1)})
	if box.len() != 1 {
		t.Fatalf("filling a missing field did not notify")
	}
	if n := box.last(t); !n.Result.Complete || !n.Result.Optimistic {
		t.Fatalf("result=%+v", n.Result)
	}
}

func TestConditionalQueryDropsStaleDeps(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Flag:1", record.Object{"on": record.Bool(true), "a": record.Int(1), "b": record.Int(2)})

	q := QueryFunc(func(r Reader) (any, error) {
		on, err := r.Field("Flag:1", "on")
		if err != nil {
			return nil, err
		}
		if on.Equal(record.Bool(true)) {
			return r.Field("Flag:1", "a")
		}
		return r.Field("Flag:1", "b")
	})
	var box inbox
	id, _ := c.Subscribe(q, box.cb)

	mustWrite(t, c, "Flag:1", record.Object{"b": record.Int(3)})
	if box.len() != 0 {
		t.Fatalf("b is not a dependency yet")
	}
	mustWrite(t, c, "Flag:1", record.Object{"on": record.Bool(false)})
	mustWrite(t, c, "Flag:1", record.Object{"a": record.Int(7)})
	if box.len() != 1 {
		t.Fatalf("notifications=%d want 1 (a dropped)", box.len())
	}
	deps := c.deps.Deps(id)
	if len(deps) != 2 || deps[0].Field != "b" || deps[1].Field != "on" {
		t.Fatalf("deps=%v", deps)
	}
}

func TestUnsubscribe(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "old"))
	var box inbox
	id, _ := c.Subscribe(Selection{Root: "Comment:5", Fields: []Field{F("content")}}, box.cb)
	if !c.Unsubscribe(id) {
		t.Fatalf("Unsubscribe returned false")
	}
	if c.Unsubscribe(id) {
		t.Fatalf("second Unsubscribe returned true")
	}
	mustWrite(t, c, "Comment:5", record.Object{"content": record.String("new")})
	if box.len() != 0 {
		t.Fatalf("unsubscribed callback invoked")
	}
}

func TestCallbackMayWriteAndPanicIsRecovered(t *testing.T) {
	h := &countingHooks{}
	c := newCache(Options{Hooks: h})
	defer c.Close(context.Background())
	mustWrite(t, c, "Comment:5", comment(5, "old"))

	c.Subscribe(Selection{Root: "Comment:5", Fields: []Field{F("content")}}, func(Notification) {
		panic("render failed")
	})
	var mirrored inbox
	c.Subscribe(Selection{Root: "Comment:5", Fields: []Field{F("content")}}, func(n Notification) {
		mirrored.cb(n)
		s := n.Result.Data.(map[string]any)["content"].(string)
		_, _ = c.WriteCanonical("Mirror:1", record.Object{"content": record.String(s)})
	})

	mustWrite(t, c, "Comment:5", record.Object{"content": record.String("new")})
	if got := mustString(t, c, "Mirror:1", "content"); got != "new" {
		t.Fatalf("callback write lost: %q", got)
	}
	if mirrored.len() != 1 {
		t.Fatalf("second subscriber notified %d times", mirrored.len())
	}
	if h.snapshot().panics != 1 {
		t.Fatalf("panics=%d want 1", h.snapshot().panics)
	}
}

func TestExtractRestore(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "old"))
	_, _ = c.ApplyOptimistic("t1", "Comment:5", record.Object{"content": record.String("draft")})

	canon := c.Extract(false)
	if !canon["Comment:5"]["content"].Equal(record.String("old")) {
		t.Fatalf("canonical extract leaked optimistic data")
	}
	if v := c.Extract(true)["Comment:5"]["content"]; !v.Equal(record.String("draft")) {
		t.Fatalf("optimistic extract=%v", v)
	}

	other := newTestCache(t)
	var box inbox
	other.Subscribe(Selection{Root: "Comment:5", Fields: []Field{F("content")}}, box.cb)
	cs, err := other.Restore(canon)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !cs.Contains("Comment:5", "content") || box.len() != 1 {
		t.Fatalf("restore cs=%v notifications=%d", cs, box.len())
	}

	// Restoring over an existing store removes what the snapshot lacks; the
	// layer keeps masking.
	cs, err = c.Restore(record.Snapshot{"Comment:9": comment(9, "nine")})
	if err != nil {
		t.Fatal(err)
	}
	if !cs.Contains("Comment:5", "id") || cs.Contains("Comment:5", "content") {
		t.Fatalf("restore change-set %v", cs)
	}
	if got := mustString(t, c, "Comment:5", "content"); got != "draft" {
		t.Fatalf("layer lost on restore: %q", got)
	}
}

func TestEvict(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Comment:5", comment(5, "old"))

	cs, err := c.Evict("Comment:5", "content")
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 1 || !cs.Contains("Comment:5", "content") {
		t.Fatalf("cs=%v", cs)
	}
	cs, _ = c.Evict("Comment:5")
	if len(cs) != 2 {
		t.Fatalf("cs=%v want id+__typename", cs)
	}
	if _, ok := c.Extract(false)["Comment:5"]; ok {
		t.Fatalf("entity not removed")
	}
	cs, _ = c.Evict("Comment:5")
	if !cs.Empty() {
		t.Fatalf("evicting nothing changed %v", cs)
	}
}

func TestResetAndClose(t *testing.T) {
	c := newCache(Options{})
	mustWrite(t, c, "Comment:5", comment(5, "old"))
	_, _ = c.ApplyOptimistic("t1", "Comment:5", record.Object{"content": record.String("draft")})

	var box inbox
	c.Subscribe(Selection{Root: "Comment:5", Fields: []Field{F("content")}}, box.cb)
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if box.len() != 1 || box.last(t).Result.Complete {
		t.Fatalf("reset notification=%+v", box.got)
	}
	if len(c.Layers()) != 0 || len(c.Extract(true)) != 0 {
		t.Fatalf("reset left data behind")
	}

	if err := c.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.WriteCanonical("Comment:5", comment(5, "x")); err != ErrClosed {
		t.Fatalf("err=%v want ErrClosed", err)
	}
	if _, err := c.Resolve("Comment:5", "content"); err != ErrClosed {
		t.Fatalf("err=%v want ErrClosed", err)
	}
	if res := c.Read(Selection{Root: "Comment:5"}); res.Err != ErrClosed {
		t.Fatalf("read err=%v", res.Err)
	}
	if err := c.Reset(); err != ErrClosed {
		t.Fatalf("reset err=%v", err)
	}
}

func TestConcurrentReadersSeeConsistentState(t *testing.T) {
	c := newTestCache(t)
	mustWrite(t, c, "Pair:1", record.Object{"a": record.Int(0), "b": record.Int(0)})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := QueryFunc(func(r Reader) (any, error) {
				a, _ := r.Field("Pair:1", "a")
				b, _ := r.Field("Pair:1", "b")
				return [2]record.Value{a, b}, nil
			})
			for {
				select {
				case <-stop:
					return
				default:
				}
				got := c.Read(q).Data.([2]record.Value)
				if !got[0].Equal(got[1]) {
					t.Errorf("torn read: %v", got)
					return
				}
			}
		}()
	}
	for i := int64(1); i <= 200; i++ {
		tx := TxID(fmt.Sprintf("t%d", i))
		pair := record.Object{"a": record.Int(i), "b": record.Int(i)}
		if i%2 == 0 {
			_, _ = c.ApplyOptimistic(tx, "Pair:1", pair)
			_, _ = c.Commit(tx, Entity{ID: "Pair:1", Fields: pair})
		} else {
			mustWrite(t, c, "Pair:1", pair)
		}
	}
	close(stop)
	wg.Wait()
}
