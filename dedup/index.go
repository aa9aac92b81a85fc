package dedup

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/taigrr/colorhash"
)

const (
	// shardCount is the number of independently locked buckets in an Index.
	shardCount = 64

	// MaxIndexCapacity bounds the capacity hint accepted by NewIndex.
	MaxIndexCapacity = 1 << 26

	// DefaultIndexCapacity is the capacity hint used when none is configured.
	DefaultIndexCapacity = 65536
)

// LocationSet is the ordered list of backing locations known to hold a
// digest's content. The first element is canonical.
type LocationSet []Location

// Canonical returns the location that holds the real bytes.
func (s LocationSet) Canonical() Location {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Contains reports whether loc is a member of the set.
func (s LocationSet) Contains(loc Location) bool {
	return slices.Contains(s, loc)
}

// Promotion records a canonical location leaving a set that still has
// members: To now heads the set for Digest and must receive From's bytes.
type Promotion struct {
	Digest Digest
	From   Location
	To     Location
}

type shard struct {
	mu      sync.RWMutex
	entries map[Digest]LocationSet
}

// Index maps content digests to the locations that hold them. It is safe for
// concurrent use; operations on the same digest are linearized by the lock
// of the shard that owns it.
type Index struct {
	shards [shardCount]shard
}

// NewIndex allocates an empty index sized for roughly capacity digests.
func NewIndex(capacity int) (*Index, error) {
	if capacity < 0 || capacity > MaxIndexCapacity {
		return nil, fmt.Errorf("%w: capacity %d", ErrOutOfMemory, capacity)
	}
	per := capacity / shardCount
	ix := &Index{}
	for i := range ix.shards {
		ix.shards[i].entries = make(map[Digest]LocationSet, per)
	}
	return ix, nil
}

func (ix *Index) shardFor(d Digest) *shard {
	n := colorhash.HashString(d.String()) % shardCount
	if n < 0 {
		n = -n
	}
	return &ix.shards[n]
}

// Lookup returns a copy of the location set for d.
func (ix *Index) Lookup(d Digest) (LocationSet, bool) {
	s := ix.shardFor(d)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.entries[d]
	if !ok {
		return nil, false
	}
	return slices.Clone(set), true
}

// Upsert records that loc holds content d. created is true when this call
// made the entry, which makes loc canonical. canonical is the head of the set
// after the call.
func (ix *Index) Upsert(d Digest, loc Location) (created bool, canonical Location) {
	s := ix.shardFor(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.entries[d]
	if !ok {
		s.entries[d] = LocationSet{loc}
		return true, loc
	}
	if !set.Contains(loc) {
		s.entries[d] = append(set, loc)
	}
	return false, set[0]
}

// Rename rewrites from to to in every set, keeping each location's position.
// Locations below from (from is a directory) are rebased onto to. It returns
// the number of sets that changed.
func (ix *Index) Rename(from, to Location) int {
	changed := 0
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.Lock()
		for d, set := range s.entries {
			touched := false
			out := set[:0:0]
			for _, loc := range set {
				if moved, ok := rebase(loc, from, to); ok {
					loc = moved
					touched = true
				}
				if !out.Contains(loc) {
					out = append(out, loc)
				}
			}
			if !touched {
				continue
			}
			s.entries[d] = out
			changed++
		}
		s.mu.Unlock()
	}
	return changed
}

// Successors returns, without modifying the index, the promotions Detach(loc)
// would report right now.
func (ix *Index) Successors(loc Location) []Promotion {
	var promotions []Promotion
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.RLock()
		for d, set := range s.entries {
			if len(set) > 1 && set[0] == loc {
				promotions = append(promotions, Promotion{Digest: d, From: loc, To: set[1]})
			}
		}
		s.mu.RUnlock()
	}
	return promotions
}

func rebase(loc, from, to Location) (Location, bool) {
	if loc == from {
		return to, true
	}
	if rest, ok := strings.CutPrefix(string(loc), string(from)+"/"); ok && from != "." {
		return to.Join(rest), true
	}
	return loc, false
}

// Detach removes loc from every set. Empty sets are deleted. For each set in
// which loc was canonical and another member remains, a Promotion is returned.
func (ix *Index) Detach(loc Location) []Promotion {
	var promotions []Promotion
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.Lock()
		for d, set := range s.entries {
			pos := slices.Index(set, loc)
			if pos < 0 {
				continue
			}
			set = slices.Delete(set, pos, pos+1)
			if len(set) == 0 {
				delete(s.entries, d)
				continue
			}
			s.entries[d] = set
			if pos == 0 {
				promotions = append(promotions, Promotion{Digest: d, From: loc, To: set[0]})
			}
		}
		s.mu.Unlock()
	}
	return promotions
}

// Delete drops the entry for d and returns the set it held.
func (ix *Index) Delete(d Digest) LocationSet {
	s := ix.shardFor(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.entries[d]
	delete(s.entries, d)
	return set
}

// Len returns the number of distinct digests.
func (ix *Index) Len() int {
	n := 0
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn with a copy of every entry until fn returns false. Entries
// added or removed during the walk may or may not be visited.
func (ix *Index) Range(fn func(Digest, LocationSet) bool) {
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.RLock()
		snapshot := make(map[Digest]LocationSet, len(s.entries))
		for d, set := range s.entries {
			snapshot[d] = slices.Clone(set)
		}
		s.mu.RUnlock()
		for d, set := range snapshot {
			if !fn(d, set) {
				return
			}
		}
	}
}
