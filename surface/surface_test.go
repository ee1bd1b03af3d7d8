package surface

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/registry"
)

func TestCommitSwapsBufferAndDerivesSize(t *testing.T) {
	s := New()
	buf := &Buffer{Size: geom.Size{W: 200, H: 100}}
	s.Attach(buf, 0, 0)
	s.Pending.Scale = 2

	released := s.Commit()
	assert.Nil(t, released)
	assert.Equal(t, geom.Size{W: 100, H: 50}, s.Size)
	assert.Same(t, buf, s.Commit.Buffer)
	assert.Equal(t, 1, buf.refs)
}

func TestCommitReplacesBufferAndReleasesPrevious(t *testing.T) {
	s := New()
	first := &Buffer{Size: geom.Size{W: 10, H: 10}}
	s.Attach(first, 0, 0)
	s.Commit()

	second := &Buffer{Size: geom.Size{W: 20, H: 20}}
	s.Attach(second, 0, 0)
	released := s.Commit()

	require.NotNil(t, released)
	assert.Same(t, first, released)
	assert.Same(t, second, s.Commit.Buffer)
}

func TestDamageAccumulatesAcrossCommits(t *testing.T) {
	s := New()
	s.Damage(geom.RectWH(0, 0, 5, 5))
	s.Commit()
	s.Damage(geom.RectWH(10, 10, 5, 5))
	s.Commit()

	ext := s.Commit.Damage.Extents()
	assert.Equal(t, geom.RectWH(0, 0, 15, 15), ext)
}

func TestRegionsClampToBufferSize(t *testing.T) {
	s := New()
	buf := &Buffer{Size: geom.Size{W: 10, H: 10}}
	s.Attach(buf, 0, 0)
	s.SetOpaqueRegion([]geom.Rect{geom.RectWH(-5, -5, 100, 100)})
	s.Commit()

	ext := s.Commit.OpaqueRegion.Extents()
	assert.Equal(t, geom.RectWH(0, 0, 10, 10), ext)
}

func TestSetBufferTransformBansOutOfRange(t *testing.T) {
	s := New()
	s.SetBufferTransform(7)
	assert.False(t, s.Banned)
	s.SetBufferTransform(8)
	assert.True(t, s.Banned)
}

func TestSetBufferScaleBansZeroOrNegative(t *testing.T) {
	s := New()
	s.SetBufferScale(0)
	assert.True(t, s.Banned)

	s2 := New()
	s2.SetBufferScale(-1)
	assert.True(t, s2.Banned)
}

func TestEffectiveSyncPropagatesFromAncestor(t *testing.T) {
	reg := map[registry.ID]*Surface{
		1: {Handle: 1},
		2: {Handle: 2, Parent: 1},
		3: {Handle: 3, Parent: 2},
	}
	lookup := func(id registry.ID) *Surface { return reg[id] }

	assert.False(t, EffectiveSync(reg[3], lookup))
	reg[1].Synced = true
	assert.True(t, EffectiveSync(reg[3], lookup), "grandparent sync must propagate")
}

func TestCommitTreeOnlyDescendsIntoSynchronizedChildren(t *testing.T) {
	parent := New()
	parent.Handle = 1
	childSync := New()
	childSync.Handle = 2
	childSync.Parent = 1
	childSync.Synced = true
	childAsync := New()
	childAsync.Handle = 3
	childAsync.Parent = 1
	childAsync.Synced = false

	parent.Children = []registry.ID{2, 3}
	reg := map[registry.ID]*Surface{1: parent, 2: childSync, 3: childAsync}
	lookup := func(id registry.ID) *Surface { return reg[id] }

	buf := &Buffer{Size: geom.Size{W: 4, H: 4}}
	childSync.Attach(buf, 0, 0)
	buf2 := &Buffer{Size: geom.Size{W: 4, H: 4}}
	childAsync.Attach(buf2, 0, 0)

	CommitTree(parent, lookup, nil)

	assert.Same(t, buf, childSync.Commit.Buffer, "synchronized child commits with parent")
	assert.Nil(t, childAsync.Commit.Buffer, "desynchronized child does not commit with parent")
}

func TestCommitEmitsReleaseCallbackDuringTreeWalk(t *testing.T) {
	parent := New()
	parent.Handle = 1
	child := New()
	child.Handle = 2
	child.Parent = 1
	child.Synced = true
	parent.Children = []registry.ID{2}
	reg := map[registry.ID]*Surface{1: parent, 2: child}
	lookup := func(id registry.ID) *Surface { return reg[id] }

	first := &Buffer{Size: geom.Size{W: 4, H: 4}}
	child.Attach(first, 0, 0)
	CommitTree(parent, lookup, nil)

	second := &Buffer{Size: geom.Size{W: 4, H: 4}}
	child.Attach(second, 0, 0)

	var released []*Buffer
	CommitTree(parent, lookup, func(b *Buffer) { released = append(released, b) })

	require.Len(t, released, 1)
	assert.Same(t, first, released[0])
}
