package pcd_test

import (
	"testing"

	"github.com/fmpcd/fmpcd/container/pcd"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/core/gqlserver"
)

func TestGql(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})
	pcd.GqlRegistry = f.Reg
	defer func() { pcd.GqlRegistry = nil }()

	n := f.L4Node(pcddef.Discard())
	tree := f.Tree(pcddef.Enqueue(), pcddef.Discard())
	nodeID := gqlserver.MakeID("pcd.NodeInfo", n.String())
	treeID := gqlserver.MakeID("pcd.TreeInfo", tree.String())

	res := gqlserver.Do(`{ ccNodes { id nid state numKeys } ccTrees { id owners } }`, nil)
	require.Empty(res.Errors)
	data := res.Data.(map[string]any)
	nodes := data["ccNodes"].([]any)
	require.Len(nodes, 1)
	assert.Equal(nodeID, nodes[0].(map[string]any)["id"])
	assert.Equal(n.String(), nodes[0].(map[string]any)["nid"])
	assert.Equal("live", nodes[0].(map[string]any)["state"])
	trees := data["ccTrees"].([]any)
	require.Len(trees, 1)
	assert.Equal(treeID, trees[0].(map[string]any)["id"])

	res = gqlserver.Do(`
		mutation add($id: ID!, $action: JSON!) {
			ccAddKey(id: $id, index: 0, key: "0A000001", action: $action) { numKeys }
		}
	`, map[string]any{
		"id":     nodeID,
		"action": map[string]any{"engine": "done", "overrideFqid": true, "newFqid": 9},
	})
	require.Empty(res.Errors)
	assert.EqualValues(1, res.Data.(map[string]any)["ccAddKey"].(map[string]any)["numKeys"])
	info := f.NodeInfo(n)
	require.Equal(1, info.NumKeys())
	assert.Equal("0a000001", info.Keys[0].Key)
	assert.Equal(pcddef.Enqueue().WithFqid(9), info.Keys[0].Action)

	res = gqlserver.Do(`
		mutation add($id: ID!, $action: JSON!) {
			ccAddKey(id: $id, index: 0, key: "0A000002", action: $action) { numKeys }
		}
	`, map[string]any{
		"id":     nodeID,
		"action": map[string]any{"engine": "done", "fqid": 9},
	})
	assert.NotEmpty(res.Errors, "unknown field")
	assert.Equal(1, f.NodeInfo(n).NumKeys())

	res = gqlserver.Do(`
		mutation modify($id: ID!, $action: JSON!) {
			ccModifyNextEngine(id: $id, action: $action) { miss }
		}
	`, map[string]any{
		"id":     nodeID,
		"action": map[string]any{"engine": "keygen", "scheme": 4},
	})
	require.Empty(res.Errors)
	assert.Equal(pcddef.ToKeygen(4), f.NodeInfo(n).Miss)

	res = gqlserver.Do(`
		mutation modify($id: ID!, $action: JSON!) {
			ccModifyTreeNextEngine(id: $id, group: 0, index: 1, action: $action) { owners }
		}
	`, map[string]any{
		"id":     treeID,
		"action": map[string]any{"engine": "node", "node": n.String()},
	})
	require.Empty(res.Errors)
	assert.Equal(1, f.NodeInfo(n).Owners)

	res = gqlserver.Do(`mutation del($id: ID!) { delete(id: $id) }`, map[string]any{"id": nodeID})
	assert.NotEmpty(res.Errors, "node is owned")

	res = gqlserver.Do(`mutation remove($id: ID!) { ccRemoveKey(id: $id, index: 0) { numKeys } }`, map[string]any{"id": nodeID})
	require.Empty(res.Errors)
	assert.EqualValues(0, res.Data.(map[string]any)["ccRemoveKey"].(map[string]any)["numKeys"])

	res = gqlserver.Do(`mutation del($id: ID!) { delete(id: $id) }`, map[string]any{"id": treeID})
	require.Empty(res.Errors)
	res = gqlserver.Do(`mutation del($id: ID!) { delete(id: $id) }`, map[string]any{"id": nodeID})
	require.Empty(res.Errors)
	assert.Empty(f.Reg.Nodes())
	assert.Empty(f.Reg.Trees())
}
