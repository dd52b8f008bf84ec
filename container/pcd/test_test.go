package pcd_test

import (
	"errors"
	"testing"

	"github.com/fmpcd/fmpcd/container/muram"
	"github.com/fmpcd/fmpcd/container/pcd"
	"github.com/fmpcd/fmpcd/container/pcd/netenv"
	"github.com/fmpcd/fmpcd/container/pcd/pcdad"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/core/testenv"
	"github.com/stretchr/testify/require"
)

var makeAR = testenv.MakeAR

// Fixture contains a registry backed by simulated memory.
type Fixture struct {
	t   testing.TB
	Mem *muram.Muram
	Env *netenv.Env
	Reg *pcd.Registry
}

// NewFixture creates a Fixture.
// The network environment has units ip, vlan, udp.
func NewFixture(t testing.TB, cfg pcddef.Config, opts ...pcd.Option) *Fixture {
	env, e := netenv.New(
		netenv.Unit{Name: "ip", Headers: []pcddef.Header{pcddef.HeaderIPv4, pcddef.HeaderIPv6}},
		netenv.Unit{Name: "vlan", Headers: []pcddef.Header{pcddef.HeaderVlan}},
		netenv.Unit{Name: "udp", Headers: []pcddef.Header{pcddef.HeaderUDP}},
	)
	require.NoError(t, e)

	f := &Fixture{
		t:   t,
		Mem: muram.New(muram.Config{}),
		Env: env,
	}
	f.Reg = pcd.New(f.Mem, cfg, opts...)
	return f
}

// L4Node creates a node that matches 4 octets at the start of the UDP header.
func (f *Fixture) L4Node(miss pcddef.Action, keys ...pcd.KeyParams) pcddef.NodeID {
	id, e := f.Reg.CreateNode(pcd.NodeParams{
		Extraction: l4Extraction,
		Keys:       keys,
		Miss:       miss,
	})
	require.NoError(f.t, e)
	return id
}

// Tree builds a tree whose single group tests the ip unit.
func (f *Fixture) Tree(withIP, withoutIP pcddef.Action) pcddef.TreeID {
	id, e := f.Reg.BuildTree(f.Env, []pcd.GroupParams{{Units: []int{0}, Entries: []pcddef.Action{withoutIP, withIP}}})
	require.NoError(f.t, e)
	return id
}

// Record reads and decodes record i of an action descriptor table.
func (f *Fixture) Record(table pcddef.Addr, i int) pcdad.Decoded {
	var rec pcdad.Record
	require.NoError(f.t, f.Mem.Read(table+pcddef.Addr(i*pcddef.ADSize), rec[:]))
	d, e := pcdad.Decode(rec)
	require.NoError(f.t, e)
	return d
}

// NodeInfo retrieves node information.
func (f *Fixture) NodeInfo(id pcddef.NodeID) pcd.NodeInfo {
	info, e := f.Reg.NodeInfo(id)
	require.NoError(f.t, e)
	return info
}

var l4Extraction = pcddef.Extraction{
	Source: pcddef.SourceFromHeader,
	Header: pcddef.HeaderUDP,
	Size:   4,
}

func key4(hex string, act pcddef.Action) pcd.KeyParams {
	return pcd.KeyParams{Key: testenv.BytesFromHex(hex), Action: act}
}

type recordingApplier struct {
	writes int
	fail   bool
}

var errApplier = errors.New("device unreachable")

func (a *recordingApplier) Apply(addr pcddef.Addr, p []byte) error {
	if a.fail {
		return errApplier
	}
	a.writes++
	return nil
}
