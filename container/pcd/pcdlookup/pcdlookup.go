// Package pcdlookup classifies frames by walking compiled tables the way the lookup engine reads them.
package pcdlookup

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/fmpcd/fmpcd/container/pcd"
	"github.com/fmpcd/fmpcd/container/pcd/pcdad"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/container/pcd/pcdkey"
	"github.com/fmpcd/fmpcd/core/logging"
	lru "github.com/hashicorp/golang-lru"
	mathpkg "github.com/pkg/math"
	"go.uber.org/zap"
)

var logger = logging.New("pcdlookup")

// Limits and defaults.
const (
	// MaxDepth is the maximum number of continue-lookup records followed for one frame.
	MaxDepth = 32

	DefaultCacheCapacity = 4096
	MaxCacheCapacity     = 1 << 20
)

// Config contains Walker configuration.
type Config struct {
	// CacheCapacity is the number of cached verdicts; zero selects the default, negative disables the cache.
	CacheCapacity int `json:"cacheCapacity,omitempty"`
}

// ApplyDefaults applies defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	cfg.CacheCapacity = mathpkg.MinInt(cfg.CacheCapacity, MaxCacheCapacity)
}

// GenerationSource reports a counter that changes whenever the tables change.
// *pcd.Registry implements it.
type GenerationSource interface {
	Generation() uint64
}

// Presence computes the distinction unit bits of a set of headers.
// *netenv.Env implements it.
type Presence interface {
	Present(headers ...pcddef.Header) uint32
}

// Step is one record visited during a lookup.
type Step struct {
	Record pcddef.Addr `json:"record"`
	// Key is the matched key index, or -1 for a tree entry or a miss.
	Key int `json:"key"`
}

// Verdict is the result of classifying a frame.
type Verdict struct {
	Action     pcddef.Action `json:"action"`
	WithoutDMA bool          `json:"withoutDMA,omitempty"`
	ManipAddr  pcddef.Addr   `json:"manipAddr,omitempty"`
	// Manips lists manipulations executed before continuing lookup, in order.
	Manips []pcddef.Addr `json:"manips,omitempty"`
	Path   []Step        `json:"path"`
	Cached bool          `json:"cached,omitempty"`

	counters []pcddef.Addr
}

type cacheKey struct {
	tree  pcddef.Addr
	entry int
	frame string
}

// Walker classifies frames.
type Walker struct {
	mutex sync.Mutex
	mem   pcddef.Memory
	gen   GenerationSource
	cache *lru.Cache

	lastGen uint64
}

// New creates a Walker.
// If gen is nil, verdicts are never cached.
func New(mem pcddef.Memory, gen GenerationSource, cfg Config) (w *Walker, e error) {
	cfg.ApplyDefaults()
	w = &Walker{mem: mem, gen: gen}
	if gen != nil && cfg.CacheCapacity > 0 {
		if w.cache, e = lru.New(cfg.CacheCapacity); e != nil {
			return nil, e
		}
		w.lastGen = gen.Generation()
	}
	return w, nil
}

func (w *Walker) checkGeneration() {
	if w.cache == nil {
		return
	}
	if gen := w.gen.Generation(); gen != w.lastGen {
		logger.Debug("tables changed, purging verdict cache",
			zap.Uint64("old-generation", w.lastGen),
			zap.Uint64("new-generation", gen),
			zap.Int("entries", w.cache.Len()),
		)
		w.cache.Purge()
		w.lastGen = gen
	}
}

// ClassifyFrame parses a frame and classifies it through a group of a tree.
// The tree entry is selected by the distinction units present in the frame.
func (w *Walker) ClassifyFrame(tree pcd.TreeInfo, group int, env Presence, frame []byte) (v Verdict, e error) {
	if group < 0 || group >= len(tree.Groups) {
		return v, fmt.Errorf("%w: group %d of %d", pcddef.ErrIndexRange, group, len(tree.Groups))
	}
	pr := Parse(frame)
	entry := tree.Groups[group].EntryIndex(env.Present(pr.Headers()...))
	return w.Classify(tree.ADTable, entry, pr)
}

// Classify classifies a parsed frame starting at a tree entry.
// Hit counters of statistics-enabled result records are incremented, including on cached verdicts.
func (w *Walker) Classify(tree pcddef.Addr, entry int, pr *ParseResult) (v Verdict, e error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.checkGeneration()

	var key cacheKey
	if w.cache != nil && pr.IC == nil {
		key = cacheKey{tree, entry, string(pr.Frame)}
		if cached, ok := w.cache.Get(key); ok {
			v = cached.(Verdict)
			v.Cached = true
			return v, w.count(v.counters)
		}
	}

	if v, e = w.walk(tree, entry, pr); e != nil {
		return v, e
	}
	if e = w.count(v.counters); e != nil {
		return v, e
	}
	if key.frame != "" {
		w.cache.Add(key, v)
	}
	return v, nil
}

func (w *Walker) walk(tree pcddef.Addr, entry int, pr *ParseResult) (v Verdict, e error) {
	addr, keyIndex := tree+pcddef.Addr(entry*pcddef.ADSize), -1
	for depth := 0; depth < MaxDepth; depth++ {
		v.Path = append(v.Path, Step{Record: addr, Key: keyIndex})
		var rec pcdad.Record
		if e = w.mem.Read(addr, rec[:]); e != nil {
			return v, e
		}
		var d pcdad.Decoded
		if d, e = pcdad.Decode(rec); e != nil {
			return v, fmt.Errorf("record %s: %w", addr, e)
		}

		if d.ContLookup == nil && d.Action.Engine == pcddef.EngineNode {
			manip := d.ManipAddr
			v.Manips = append(v.Manips, manip)
			if e = w.mem.Read(manip+pcdad.ManipLinkOffset, rec[:]); e != nil {
				return v, e
			}
			if d, e = pcdad.Decode(rec); e != nil {
				return v, fmt.Errorf("manipulation %s: %w", manip, e)
			}
			if d.ContLookup == nil {
				return v, fmt.Errorf("%w: manipulation %s does not continue lookup", pcddef.ErrConfig, manip)
			}
		}

		if c := d.ContLookup; c != nil {
			if keyIndex, e = w.match(c, pr); e != nil {
				return v, e
			}
			index := keyIndex
			if keyIndex < 0 {
				index = c.NumKeys
			}
			addr = c.ADTable + pcddef.Addr(index*pcddef.ADSize)
			continue
		}

		v.Action, v.WithoutDMA, v.ManipAddr = d.Action, d.WithoutDMA, d.ManipAddr
		if d.Action.Statistics {
			v.counters = append(v.counters, addr+pcddef.Addr(pcdad.WordCounter*4))
		}
		return v, nil
	}
	return v, fmt.Errorf("%w: lookup exceeds %d levels", pcddef.ErrConfig, MaxDepth)
}

func (w *Walker) count(counters []pcddef.Addr) error {
	for _, addr := range counters {
		var b pcdad.Record
		if e := w.mem.Read(addr, b[:4]); e != nil {
			return e
		}
		b.SetWord(0, b.Word(0)+1)
		if e := w.mem.Write(addr, b[:4]); e != nil {
			return e
		}
	}
	return nil
}

// match returns the index of the first matching key, or -1 on a miss.
func (w *Walker) match(c *pcdad.ContLookup, pr *ParseResult) (int, error) {
	frameKey, size := extract(c, pr)
	if frameKey == nil || c.NumKeys == 0 {
		return -1, nil
	}

	layout, e := pcdkey.NewLayout(size, c.LocalMask)
	if e != nil {
		return -1, e
	}
	table := make([]byte, layout.TableSize(c.NumKeys))
	if e = w.mem.Read(c.KeyTable, table); e != nil {
		return -1, e
	}

	gmask := pcdkey.AllOnes(size)
	copy(gmask, c.GlobalMask[:])
	for i := 0; i < c.NumKeys; i++ {
		key, mask := layout.Row(table, i)
		if mask == nil {
			mask = gmask
		}
		if maskedEqual(frameKey, key, mask) {
			return i, nil
		}
	}
	return -1, nil
}

func maskedEqual(a, b, mask []byte) bool {
	for i, m := range mask {
		if a[i]&m != b[i]&m {
			return false
		}
	}
	return true
}

// extract returns the key that a continue-lookup record selects from a frame, or nil if it is absent.
func extract(c *pcdad.ContLookup, pr *ParseResult) (key []byte, size int) {
	slice := func(buf []byte, off, size int) []byte {
		if off < 0 || off+size > len(buf) {
			return nil
		}
		return bytes.Clone(buf[off : off+size])
	}

	size = c.KeySize
	switch c.ParseCode {
	case pcddef.PcPrOffset, pcddef.PcPrWithoutOffset:
		base, ok := pr.Offset(c.Pr)
		if !ok {
			return nil, size
		}
		return slice(pr.Frame, base+int(c.Offset), size), size
	case pcddef.PcGenericWithoutMask, pcddef.PcGenericWithMask:
		return slice(pr.Frame, int(c.Offset), size), size
	case pcddef.PcGenericICGmask:
		return slice(pr.IC, int(c.Offset), size), size
	}

	loc, ok := pcddef.FullFieldLocation(c.ParseCode)
	if !ok {
		return nil, size
	}
	size = loc.Size
	base, ok := pr.Offset(loc.Pr)
	if !ok || (loc.Header != "" && pr.kinds[loc.Pr] != loc.Header) {
		return nil, size
	}
	return slice(pr.Frame, base+loc.Offset, size), size
}
