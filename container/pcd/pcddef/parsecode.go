package pcddef

// ParseCode tells the lookup engine where to find the key.
type ParseCode uint16

// Parse codes.
const (
	PcMacDst             ParseCode = 0x00
	PcMacSrc             ParseCode = 0x01
	PcEtype              ParseCode = 0x02
	PcTci1               ParseCode = 0x03
	PcTci2               ParseCode = 0x04
	PcPppPid             ParseCode = 0x05
	PcMpls1              ParseCode = 0x06
	PcMplsLast           ParseCode = 0x07
	PcIPv4Dst1           ParseCode = 0x08
	PcIPv4Tos1           ParseCode = 0x09
	PcIPv4Ptype1         ParseCode = 0x0A
	PcIPv4Src1           ParseCode = 0x0B
	PcIPv4Src1Dst1       ParseCode = 0x0C
	PcIPv6TcFlow1        ParseCode = 0x0D
	PcIPv6Ptype1         ParseCode = 0x0E
	PcIPv6Dst1           ParseCode = 0x0F
	PcIPv6Src1           ParseCode = 0x10
	PcGrePtype           ParseCode = 0x11
	PcMinencapPtype      ParseCode = 0x12
	PcMinencapIPDst      ParseCode = 0x13
	PcMinencapIPSrc      ParseCode = 0x14
	PcMinencapIPSrcIPDst ParseCode = 0x15
	PcIPv4Dst2           ParseCode = 0x16
	PcIPv4Tos2           ParseCode = 0x17
	PcIPv4Ptype2         ParseCode = 0x18
	PcIPv4Src2           ParseCode = 0x19
	PcIPv4Src2Dst2       ParseCode = 0x1A
	PcIPv6Tc2            ParseCode = 0x1B
	PcIPv6Ptype2         ParseCode = 0x1C
	PcIPv6Dst2           ParseCode = 0x1D
	PcIPv6Src2           ParseCode = 0x1E
	PcL4PSrc             ParseCode = 0x1F
	PcL4PDst             ParseCode = 0x20
	PcL4PSrcDst          ParseCode = 0x21
	PcPrShim1            ParseCode = 0x22
	PcPrShim2            ParseCode = 0x23
	PcPrOffset           ParseCode = 0x25
	PcPrWithoutOffset    ParseCode = 0x26
	PcGenericWithoutMask ParseCode = 0x27
	PcGenericWithMask    ParseCode = 0x28
	PcIPv4Ttl            ParseCode = 0x29
	PcIPv6HopLimit       ParseCode = 0x2A
	PcGenericICGmask     ParseCode = 0x2B
	PcIllegal            ParseCode = 0xFF
)

// PrOffset is an index into the parse result array.
type PrOffset uint8

// Parse result array offsets.
const (
	PrNextHeader PrOffset = 11
	PrShim1      PrOffset = 16
	PrShim2      PrOffset = 17
	PrEth        PrOffset = 19
	PrLlcSnap    PrOffset = 20
	PrVlan1      PrOffset = 21
	PrVlan2      PrOffset = 22
	PrEtypeLast  PrOffset = 23
	PrPppoe      PrOffset = 24
	PrMpls1      PrOffset = 25
	PrMplsLast   PrOffset = 26
	PrIP1        PrOffset = 27
	PrIPLast     PrOffset = 28
	PrMinencap   PrOffset = 28
	PrGre        PrOffset = 29
	PrL4         PrOffset = 30
)

// Internal context offsets of exact-match keys.
const (
	ICKeyExactMatchOffset  = 0x50
	ICHashExactMatchOffset = 0x48
)

// FieldLocation locates a full-field key relative to a parse result array entry.
// Header is empty when any header at that position qualifies.
type FieldLocation struct {
	Header Header
	Pr     PrOffset
	Offset int
	Size   int
}

var fullFieldLocations = map[ParseCode]FieldLocation{
	PcMacDst:             {HeaderEth, PrEth, 0, 6},
	PcMacSrc:             {HeaderEth, PrEth, 6, 6},
	PcEtype:              {"", PrEtypeLast, 0, 2},
	PcTci1:               {HeaderVlan, PrVlan1, 0, 2},
	PcTci2:               {HeaderVlan, PrVlan2, 0, 2},
	PcPppPid:             {HeaderPppoe, PrPppoe, 6, 2},
	PcMpls1:              {HeaderMpls, PrMpls1, 0, 4},
	PcMplsLast:           {HeaderMpls, PrMplsLast, 0, 4},
	PcIPv4Dst1:           {HeaderIPv4, PrIP1, 16, 4},
	PcIPv4Tos1:           {HeaderIPv4, PrIP1, 1, 1},
	PcIPv4Ptype1:         {HeaderIPv4, PrIP1, 9, 1},
	PcIPv4Src1:           {HeaderIPv4, PrIP1, 12, 4},
	PcIPv4Src1Dst1:       {HeaderIPv4, PrIP1, 12, 8},
	PcIPv6TcFlow1:        {HeaderIPv6, PrIP1, 0, 4},
	PcIPv6Ptype1:         {HeaderIPv6, PrIP1, 6, 1},
	PcIPv6Dst1:           {HeaderIPv6, PrIP1, 24, 16},
	PcIPv6Src1:           {HeaderIPv6, PrIP1, 8, 16},
	PcGrePtype:           {HeaderGre, PrGre, 2, 2},
	PcMinencapPtype:      {HeaderMinencap, PrMinencap, 0, 1},
	PcMinencapIPDst:      {HeaderMinencap, PrMinencap, 4, 4},
	PcMinencapIPSrc:      {HeaderMinencap, PrMinencap, 8, 4},
	PcMinencapIPSrcIPDst: {HeaderMinencap, PrMinencap, 4, 8},
	PcIPv4Dst2:           {HeaderIPv4, PrIPLast, 16, 4},
	PcIPv4Tos2:           {HeaderIPv4, PrIPLast, 1, 1},
	PcIPv4Ptype2:         {HeaderIPv4, PrIPLast, 9, 1},
	PcIPv4Src2:           {HeaderIPv4, PrIPLast, 12, 4},
	PcIPv4Src2Dst2:       {HeaderIPv4, PrIPLast, 12, 8},
	PcIPv6Tc2:            {HeaderIPv6, PrIPLast, 0, 4},
	PcIPv6Ptype2:         {HeaderIPv6, PrIPLast, 6, 1},
	PcIPv6Dst2:           {HeaderIPv6, PrIPLast, 24, 16},
	PcIPv6Src2:           {HeaderIPv6, PrIPLast, 8, 16},
	PcL4PSrc:             {"", PrL4, 0, 2},
	PcL4PDst:             {"", PrL4, 2, 2},
	PcL4PSrcDst:          {"", PrL4, 0, 4},
	PcIPv4Ttl:            {HeaderIPv4, PrIP1, 8, 1},
	PcIPv6HopLimit:       {HeaderIPv6, PrIP1, 7, 1},
}

// FullFieldLocation returns where a full-field parse code finds its key.
func FullFieldLocation(pc ParseCode) (loc FieldLocation, ok bool) {
	loc, ok = fullFieldLocations[pc]
	return
}
