package netenv_test

import (
	"testing"

	"github.com/fmpcd/fmpcd/container/pcd/netenv"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/core/testenv"
)

var makeAR = testenv.MakeAR

func TestEnv(t *testing.T) {
	assert, require := makeAR(t)

	env, e := netenv.New(
		netenv.Unit{Name: "ip", Headers: []pcddef.Header{pcddef.HeaderIPv4, pcddef.HeaderIPv6}},
		netenv.Unit{Name: "vlan", Headers: []pcddef.Header{pcddef.HeaderVlan}},
		netenv.Unit{Name: "udp", Headers: []pcddef.Header{pcddef.HeaderUDP}},
	)
	require.NoError(e)
	assert.Equal(3, env.NumUnits())

	i, ok := env.FindUnit("udp")
	assert.True(ok)
	assert.Equal(2, i)
	_, ok = env.FindUnit("tcp")
	assert.False(ok)

	assert.EqualValues(0x80000000, env.UnitMask(0))
	assert.EqualValues(0x20000000, env.UnitMask(2))
	assert.EqualValues(0xA0000000, env.Present(pcddef.HeaderEth, pcddef.HeaderIPv6, pcddef.HeaderUDP))
	assert.EqualValues(0, env.Present(pcddef.HeaderEth))

	env.RegisterDependent()
	env.RegisterDependent()
	assert.Equal(2, env.Owners())
	assert.ErrorIs(env.Close(), pcddef.ErrInvalidState)
	env.UnregisterDependent()
	env.UnregisterDependent()
	assert.NoError(env.Close())
}

func TestEnvInvalid(t *testing.T) {
	assert, _ := makeAR(t)

	_, e := netenv.New(netenv.Unit{Name: "a", Headers: []pcddef.Header{pcddef.HeaderEth}}, netenv.Unit{Name: "a", Headers: []pcddef.Header{pcddef.HeaderVlan}})
	assert.ErrorIs(e, pcddef.ErrConfig)

	_, e = netenv.New(netenv.Unit{Name: "empty"})
	assert.ErrorIs(e, pcddef.ErrConfig)

	units := make([]netenv.Unit, pcddef.MaxUnits+1)
	_, e = netenv.New(units...)
	assert.ErrorIs(e, pcddef.ErrCapacity)
}
