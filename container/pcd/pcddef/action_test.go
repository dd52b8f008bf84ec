package pcddef_test

import (
	"testing"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/core/testenv"
)

func TestActionValidate(t *testing.T) {
	assert, _ := makeAR(t)
	node := pcddef.NodeID(pcddef.MakeHandle(3, 1))

	valid := []pcddef.Action{
		pcddef.Enqueue(),
		pcddef.Enqueue().WithFqid(7).WithStatistics(),
		pcddef.Discard(),
		pcddef.ToKeygen(31).WithFqid(pcddef.MaxFqid),
		pcddef.ToPolicer(255, true).WithFqid(1),
		pcddef.ToNode(node),
	}
	for _, act := range valid {
		assert.NoError(act.Validate(), "%s", act)
	}

	invalid := []pcddef.Action{
		{},
		{Engine: "bogus"},
		pcddef.Enqueue().WithFqid(0),
		pcddef.Enqueue().WithFqid(pcddef.MaxFqid + 1),
		pcddef.Discard().WithFqid(7),
		{Engine: pcddef.EngineKeygen, Drop: true},
		pcddef.ToKeygen(32),
		pcddef.ToPolicer(256, false),
		pcddef.ToNode(0),
		pcddef.ToNode(node).WithStatistics(),
		{Engine: pcddef.EngineDone, Node: node},
	}
	for _, act := range invalid {
		assert.ErrorIs(act.Validate(), pcddef.ErrConfig, "%s", act)
	}

	child, ok := pcddef.ToNode(node).Child()
	assert.True(ok)
	assert.Equal(node, child)
	_, ok = pcddef.Enqueue().Child()
	assert.False(ok)
}

func TestHandle(t *testing.T) {
	assert, require := makeAR(t)

	h := pcddef.MakeHandle(1000, 7)
	assert.Equal(1000, h.Index())
	assert.EqualValues(7, h.Gen())

	id := pcddef.NodeID(h)
	assert.Equal("node1000.7", id.String())
	parsed, e := pcddef.ParseNodeID(id.String())
	require.NoError(e)
	assert.Equal(id, parsed)

	_, e = pcddef.ParseTreeID("tree12")
	assert.Error(e)
}

func TestActionJSON(t *testing.T) {
	assert, _ := makeAR(t)

	act := pcddef.ToNode(pcddef.NodeID(pcddef.MakeHandle(2, 1))).WithManip(pcddef.ManipID(pcddef.MakeHandle(0, 3)))
	j := testenv.ToJSON(act)
	assert.JSONEq(`{"engine":"node","node":"node2.1","manip":"manip0.3"}`, j)
	var decoded pcddef.Action
	testenv.FromJSON(j, &decoded)
	assert.Equal(act, decoded)

	assert.JSONEq(`{"engine":"done","drop":true}`, testenv.ToJSON(pcddef.Discard()))
}

func TestConfig(t *testing.T) {
	assert, _ := makeAR(t)

	var cfg pcddef.Config
	cfg.ApplyDefaults()
	assert.Equal(pcddef.MaxKeys, cfg.MaxKeys)

	cfg.MaxKeys = 1000
	cfg.ApplyDefaults()
	assert.Equal(pcddef.MaxKeys, cfg.MaxKeys)

	cfg.MaxKeys = 8
	cfg.ApplyDefaults()
	assert.Equal(8, cfg.MaxKeys)
}
