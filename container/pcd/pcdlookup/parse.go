package pcdlookup

import (
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const prArraySize = 32

// ParseResult locates headers within a frame, like the parse result array of the hardware parser.
type ParseResult struct {
	Frame []byte
	// IC is the internal context used by exact-match extraction.
	IC []byte

	offsets [prArraySize]int
	kinds   [prArraySize]pcddef.Header
	headers []pcddef.Header
}

// Offset returns the frame offset of a parse result array entry.
// An entry outside the array is never present.
func (pr *ParseResult) Offset(i pcddef.PrOffset) (off int, ok bool) {
	if int(i) >= len(pr.offsets) {
		return -1, false
	}
	off = pr.offsets[i]
	return off, off >= 0
}

// Headers returns the headers present in the frame.
func (pr *ParseResult) Headers() []pcddef.Header {
	return pr.headers
}

func (pr *ParseResult) set(i pcddef.PrOffset, h pcddef.Header, off int) {
	pr.offsets[i], pr.kinds[i] = off, h
}

func (pr *ParseResult) setFirst(i pcddef.PrOffset, h pcddef.Header, off int) {
	if pr.offsets[i] < 0 {
		pr.set(i, h, off)
	}
}

func (pr *ParseResult) addHeader(h pcddef.Header) {
	for _, x := range pr.headers {
		if x == h {
			return
		}
	}
	pr.headers = append(pr.headers, h)
}

// Parse parses an Ethernet frame.
func Parse(frame []byte) *ParseResult {
	pr := &ParseResult{Frame: frame}
	for i := range pr.offsets {
		pr.offsets[i] = -1
	}

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	off := 0
	for _, l := range pkt.Layers() {
		switch l.LayerType() {
		case layers.LayerTypeEthernet:
			pr.set(pcddef.PrEth, pcddef.HeaderEth, off)
			pr.set(pcddef.PrEtypeLast, pcddef.HeaderEth, off+12)
			pr.addHeader(pcddef.HeaderEth)
		case layers.LayerTypeDot1Q:
			pr.setFirst(pcddef.PrVlan1, pcddef.HeaderVlan, off)
			pr.set(pcddef.PrVlan2, pcddef.HeaderVlan, off)
			pr.set(pcddef.PrEtypeLast, pcddef.HeaderVlan, off+2)
			pr.addHeader(pcddef.HeaderVlan)
		case layers.LayerTypePPPoE:
			pr.set(pcddef.PrPppoe, pcddef.HeaderPppoe, off)
			pr.addHeader(pcddef.HeaderPppoe)
		case layers.LayerTypeMPLS:
			pr.setFirst(pcddef.PrMpls1, pcddef.HeaderMpls, off)
			pr.set(pcddef.PrMplsLast, pcddef.HeaderMpls, off)
			pr.addHeader(pcddef.HeaderMpls)
		case layers.LayerTypeIPv4:
			pr.setFirst(pcddef.PrIP1, pcddef.HeaderIPv4, off)
			pr.set(pcddef.PrIPLast, pcddef.HeaderIPv4, off)
			pr.addHeader(pcddef.HeaderIPv4)
		case layers.LayerTypeIPv6:
			pr.setFirst(pcddef.PrIP1, pcddef.HeaderIPv6, off)
			pr.set(pcddef.PrIPLast, pcddef.HeaderIPv6, off)
			pr.addHeader(pcddef.HeaderIPv6)
		case layers.LayerTypeGRE:
			pr.set(pcddef.PrGre, pcddef.HeaderGre, off)
			pr.addHeader(pcddef.HeaderGre)
		case layers.LayerTypeTCP:
			pr.set(pcddef.PrL4, pcddef.HeaderTCP, off)
			pr.addHeader(pcddef.HeaderTCP)
		case layers.LayerTypeUDP:
			pr.set(pcddef.PrL4, pcddef.HeaderUDP, off)
			pr.addHeader(pcddef.HeaderUDP)
		case gopacket.LayerTypePayload, gopacket.LayerTypeDecodeFailure:
			pr.offsets[pcddef.PrNextHeader] = off
			return pr
		}
		off += len(l.LayerContents())
	}
	pr.offsets[pcddef.PrNextHeader] = off
	return pr
}
