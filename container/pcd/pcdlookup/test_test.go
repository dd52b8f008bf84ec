package pcdlookup_test

import (
	"net"

	"github.com/fmpcd/fmpcd/core/testenv"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var makeAR = testenv.MakeAR

type frameOptions struct {
	VLAN    uint16
	NoIP    bool
	DstPort uint16
}

func makeFrame(opts frameOptions) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	var stack []gopacket.SerializableLayer
	stack = append(stack, eth)
	if opts.VLAN != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, &layers.Dot1Q{Priority: 3, VLANIdentifier: opts.VLAN, Type: layers.EthernetTypeIPv4})
	}

	if opts.NoIP {
		if opts.VLAN != 0 {
			stack[1].(*layers.Dot1Q).Type = layers.EthernetTypeARP
		} else {
			eth.EthernetType = layers.EthernetTypeARP
		}
		stack = append(stack, &layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   eth.SrcMAC,
			SourceProtAddress: net.IPv4(192, 0, 2, 1).To4(),
			DstHwAddress:      make(net.HardwareAddr, 6),
			DstProtAddress:    net.IPv4(192, 0, 2, 2).To4(),
		})
	} else {
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 0, 2, 1),
			DstIP:    net.IPv4(192, 0, 2, 2),
		}
		udp := &layers.UDP{SrcPort: 4000, DstPort: layers.UDPPort(opts.DstPort)}
		udp.SetNetworkLayerForChecksum(ip)
		stack = append(stack, ip, udp, gopacket.Payload([]byte{0xC0, 0xFF, 0xEE}))
	}

	buf := gopacket.NewSerializeBuffer()
	if e := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, stack...); e != nil {
		panic(e)
	}
	return buf.Bytes()
}
