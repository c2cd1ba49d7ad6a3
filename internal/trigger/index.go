// Package trigger implements the multi-pattern matching engine: a dedup
// index of compiled patterns evaluated once per line, and the per-line
// dispatch state machine that raises one bus event per matching rule.
package trigger

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"pkt.systems/mudgate/schema"
	"pkt.systems/pslog"
)

// bucket is the unit of pattern dedup: all rules whose pattern text is
// byte-identical and that match against the same input variant share one
// compiled sub-pattern. Plain buckets see the ANSI-stripped line; color
// buckets see the raw line with escape sequences intact.
type bucket struct {
	id        schema.BucketID
	pattern   string
	withColor bool
	re        *regexp.Regexp
	seq       int
	members   map[schema.TriggerID]bool // value: enabled
	hits      uint64
}

// patternKey dedups buckets. The same pattern text registered both plain
// and with-color compiles twice, since the two run against different input.
type patternKey struct {
	pattern   string
	withColor bool
}

func (b *bucket) enabledCount() int {
	n := 0
	for _, enabled := range b.members {
		if enabled {
			n++
		}
	}
	return n
}

// Index owns the compiled alternation over every enabled rule pattern.
// Rule tables are process-global and shared by all connections, so every
// entry point takes the mutex; the mega-pattern is rebuilt lazily when the
// membership has changed.
type Index struct {
	mu         sync.Mutex
	byPattern  map[patternKey]*bucket
	byID       map[schema.BucketID]*bucket
	ruleBucket map[schema.TriggerID]*bucket
	nextSeq    int
	dirty      bool
	mega       *regexp.Regexp
	log        pslog.Logger
}

// NewIndex constructs an empty Index.
func NewIndex(logger pslog.Logger) *Index {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Index{
		byPattern:  make(map[patternKey]*bucket),
		byID:       make(map[schema.BucketID]*bucket),
		ruleBucket: make(map[schema.TriggerID]*bucket),
		log:        logger,
	}
}

// Add registers a rule pattern, deduplicating by literal pattern text and
// input variant, and returns the bucket id. A malformed pattern fails
// atomically: no bucket is created and no membership changes.
func (x *Index) Add(pattern string, id schema.TriggerID, enabled, withColor bool) (schema.BucketID, error) {
	stripped := stripNamedGroups(pattern)
	x.mu.Lock()
	defer x.mu.Unlock()
	key := patternKey{pattern: pattern, withColor: withColor}
	bkt := x.byPattern[key]
	if bkt == nil {
		re, err := regexp.Compile(stripped)
		if err != nil {
			return "", fmt.Errorf("%w: %v", schema.ErrPatternCompile, err)
		}
		x.nextSeq++
		bkt = &bucket{
			id:        schema.BucketID("b" + strconv.Itoa(x.nextSeq)),
			pattern:   pattern,
			withColor: withColor,
			re:        re,
			seq:       x.nextSeq,
			members:   make(map[schema.TriggerID]bool),
		}
		x.byPattern[key] = bkt
		x.byID[bkt.id] = bkt
		x.log.Debug("regex bucket created", "bucket", bkt.id, "pattern", pattern, "color", withColor)
	}
	bkt.members[id] = enabled
	x.ruleBucket[id] = bkt
	if enabled {
		x.dirty = true
	}
	return bkt.id, nil
}

// Enable marks the rule's membership enabled. Unknown ids are a logged no-op.
func (x *Index) Enable(id schema.TriggerID) {
	x.setEnabled(id, true)
}

// Disable marks the rule's membership disabled. Unknown ids are a logged no-op.
func (x *Index) Disable(id schema.TriggerID) {
	x.setEnabled(id, false)
}

func (x *Index) setEnabled(id schema.TriggerID, enabled bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	bkt := x.ruleBucket[id]
	if bkt == nil {
		x.log.Debug("regex index miss", "trigger", id, "op", "enable")
		return
	}
	if bkt.members[id] == enabled {
		return
	}
	bkt.members[id] = enabled
	x.dirty = true
}

// Remove drops the rule's membership and the bucket itself once empty.
func (x *Index) Remove(id schema.TriggerID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	bkt := x.ruleBucket[id]
	if bkt == nil {
		x.log.Debug("regex index miss", "trigger", id, "op", "remove")
		return
	}
	if bkt.members[id] {
		x.dirty = true
	}
	delete(bkt.members, id)
	delete(x.ruleBucket, id)
	if len(bkt.members) == 0 {
		delete(x.byPattern, patternKey{pattern: bkt.pattern, withColor: bkt.withColor})
		delete(x.byID, bkt.id)
		x.log.Debug("regex bucket dropped", "bucket", bkt.id)
	}
}

// Match returns the ids of every bucket with at least one enabled member
// whose sub-pattern matches the line. Plain buckets run against the
// ANSI-stripped line behind the compiled alternation, which rejects
// non-matching lines in one evaluation; on a hit each live bucket is
// verified individually, since Go's leftmost-first alternation reports only
// one branch and overlapping buckets may all match. Color buckets run
// against the raw line directly, escape sequences intact.
func (x *Index) Match(plain, raw string) []schema.BucketID {
	x.mu.Lock()
	mega, live, color := x.compiledLocked()
	x.mu.Unlock()
	var hits []schema.BucketID
	if mega != nil && mega.MatchString(plain) {
		for _, bkt := range live {
			if bkt.re.MatchString(plain) {
				atomic.AddUint64(&bkt.hits, 1)
				hits = append(hits, bkt.id)
			}
		}
	}
	for _, bkt := range color {
		if bkt.re.MatchString(raw) {
			atomic.AddUint64(&bkt.hits, 1)
			hits = append(hits, bkt.id)
		}
	}
	return hits
}

// compiledLocked rebuilds the alternation once per dirty cycle and returns
// it with the live plain and color buckets in creation order. Only plain
// buckets enter the alternation; color buckets are few and verified one by
// one. Callers must hold x.mu.
func (x *Index) compiledLocked() (*regexp.Regexp, []*bucket, []*bucket) {
	var live, color []*bucket
	for _, bkt := range x.byID {
		if bkt.enabledCount() == 0 {
			continue
		}
		if bkt.withColor {
			color = append(color, bkt)
		} else {
			live = append(live, bkt)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })
	sort.Slice(color, func(i, j int) bool { return color[i].seq < color[j].seq })
	if x.dirty {
		x.mega = buildMega(live)
		x.dirty = false
		x.log.Debug("regex index rebuilt", "buckets", len(live), "color", len(color))
	}
	return x.mega, live, color
}

func buildMega(live []*bucket) *regexp.Regexp {
	if len(live) == 0 {
		return nil
	}
	var b strings.Builder
	for i, bkt := range live {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString("(?P<")
		b.WriteString(string(bkt.id))
		b.WriteString(">")
		b.WriteString(stripNamedGroups(bkt.pattern))
		b.WriteString(")")
	}
	// Members compiled individually on Add, so the alternation cannot fail.
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil
	}
	return re
}

// BucketDetail describes one bucket for diagnostics.
type BucketDetail struct {
	ID      schema.BucketID
	Pattern string
	Members []schema.TriggerID
	Enabled int
	Hits    uint64
}

// Buckets returns bucket diagnostics in creation order.
func (x *Index) Buckets() []BucketDetail {
	x.mu.Lock()
	defer x.mu.Unlock()
	all := make([]*bucket, 0, len(x.byID))
	for _, bkt := range x.byID {
		all = append(all, bkt)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	out := make([]BucketDetail, 0, len(all))
	for _, bkt := range all {
		detail := BucketDetail{
			ID:      bkt.id,
			Pattern: bkt.pattern,
			Enabled: bkt.enabledCount(),
			Hits:    atomic.LoadUint64(&bkt.hits),
		}
		for id := range bkt.members {
			detail.Members = append(detail.Members, id)
		}
		sort.Slice(detail.Members, func(i, j int) bool { return detail.Members[i] < detail.Members[j] })
		out = append(out, detail)
	}
	return out
}

// Bucket returns the bucket a rule currently belongs to, if any.
func (x *Index) Bucket(id schema.TriggerID) (schema.BucketID, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	bkt := x.ruleBucket[id]
	if bkt == nil {
		return "", false
	}
	return bkt.id, true
}

// stripNamedGroups rewrites (?P<name>...) groups to non-capturing groups.
// Named groups cannot repeat across alternation branches, so the bucket
// sub-pattern keeps only the grouping, not the names; the per-rule second
// pass recovers them.
func stripNamedGroups(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			b.WriteString(pattern[i : i+2])
			i += 2
			continue
		}
		if strings.HasPrefix(pattern[i:], "(?P<") {
			if end := strings.IndexByte(pattern[i+4:], '>'); end >= 0 {
				b.WriteString("(?:")
				i += 4 + end + 1
				continue
			}
		}
		b.WriteByte(pattern[i])
		i++
	}
	return b.String()
}
