package datatable

import (
	"bytes"
	"sort"

	"graphstore/internal/common"

	"github.com/google/btree"
)

const btreeDegree = 32

// versionChain holds every retained version of one key, oldest first.
type versionChain struct {
	key      []byte
	versions []common.VersionedValue
}

func lessChain(a, b *versionChain) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// visible returns the newest version at or below asOf.
func (c *versionChain) visible(asOf uint64) (common.VersionedValue, bool) {
	i := sort.Search(len(c.versions), func(i int) bool { return c.versions[i].Version > asOf })
	if i == 0 {
		return common.VersionedValue{}, false
	}
	return c.versions[i-1], true
}

type BTreeDataTable struct {
	tree *btree.BTreeG[*versionChain]
}

func NewBTreeDataTable() *BTreeDataTable {
	return &BTreeDataTable{
		tree: btree.NewG[*versionChain](btreeDegree, lessChain),
	}
}

func (t *BTreeDataTable) Get(key []byte, asOf uint64) (common.VersionedValue, bool) {
	chain, ok := t.tree.Get(&versionChain{key: key})
	if !ok {
		return common.VersionedValue{}, false
	}
	v, ok := chain.visible(asOf)
	if !ok {
		return common.VersionedValue{}, false
	}
	return v.Clone(), true
}

func (t *BTreeDataTable) Latest(key []byte) (common.VersionedValue, bool) {
	chain, ok := t.tree.Get(&versionChain{key: key})
	if !ok || len(chain.versions) == 0 {
		return common.VersionedValue{}, false
	}
	return chain.versions[len(chain.versions)-1].Clone(), true
}

func (t *BTreeDataTable) Put(key []byte, value common.VersionedValue) {
	value = value.Clone()
	chain, ok := t.tree.Get(&versionChain{key: key})
	if !ok {
		t.tree.ReplaceOrInsert(&versionChain{
			key:      common.CloneBytes(key),
			versions: []common.VersionedValue{value},
		})
		return
	}
	n := len(chain.versions)
	if n > 0 && chain.versions[n-1].Version == value.Version {
		chain.versions[n-1] = value
		return
	}
	chain.versions = append(chain.versions, value)
}

func (t *BTreeDataTable) AscendRange(lo, hi []byte, asOf uint64, fn func(key []byte, value common.VersionedValue) bool) {
	iter := func(chain *versionChain) bool {
		v, ok := chain.visible(asOf)
		if !ok {
			return true
		}
		return fn(common.CloneBytes(chain.key), v.Clone())
	}
	if hi == nil {
		t.tree.AscendGreaterOrEqual(&versionChain{key: lo}, iter)
		return
	}
	if bytes.Compare(lo, hi) >= 0 {
		return
	}
	t.tree.AscendRange(&versionChain{key: lo}, &versionChain{key: hi}, iter)
}

func (t *BTreeDataTable) GC(safe uint64) int {
	dropped := 0
	t.tree.Ascend(func(chain *versionChain) bool {
		// keep the newest version at or below safe and everything after it
		i := sort.Search(len(chain.versions), func(i int) bool { return chain.versions[i].Version > safe })
		if i > 1 {
			dropped += i - 1
			chain.versions = append(chain.versions[:0:0], chain.versions[i-1:]...)
		}
		return true
	})
	return dropped
}

func (t *BTreeDataTable) Size() int {
	return t.tree.Len()
}

func (t *BTreeDataTable) Clear() {
	t.tree.Clear(false)
}
