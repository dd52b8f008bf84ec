package pcddef

import "fmt"

// Source selects how a node extracts its key.
type Source string

// Source values.
const (
	SourceFullField  Source = "fullField"
	SourceFromHeader Source = "fromHeader"
	SourceFromField  Source = "fromField"
	SourceNonHeader  Source = "nonHeader"
)

// Header identifies a protocol header.
type Header string

// Header values.
const (
	HeaderEth      Header = "eth"
	HeaderLlcSnap  Header = "llcSnap"
	HeaderVlan     Header = "vlan"
	HeaderPppoe    Header = "pppoe"
	HeaderMpls     Header = "mpls"
	HeaderIPv4     Header = "ipv4"
	HeaderIPv6     Header = "ipv6"
	HeaderGre      Header = "gre"
	HeaderMinencap Header = "minencap"
	HeaderTCP      Header = "tcp"
	HeaderUDP      Header = "udp"
)

// Field identifies a header field for full-field and from-field extraction.
type Field string

// Field values.
const (
	FieldEthDst         Field = "ethDst"
	FieldEthSrc         Field = "ethSrc"
	FieldEthType        Field = "ethType"
	FieldVlanTci        Field = "vlanTci"
	FieldMplsLabel      Field = "mplsLabel"
	FieldIPv4Src        Field = "ipv4Src"
	FieldIPv4Dst        Field = "ipv4Dst"
	FieldIPv4SrcDst     Field = "ipv4SrcDst"
	FieldIPv4Tos        Field = "ipv4Tos"
	FieldIPv4Proto      Field = "ipv4Proto"
	FieldIPv4Ttl        Field = "ipv4Ttl"
	FieldIPv6VerTcFl    Field = "ipv6VerTcFl"
	FieldIPv6NextHdr    Field = "ipv6NextHdr"
	FieldIPv6Src        Field = "ipv6Src"
	FieldIPv6Dst        Field = "ipv6Dst"
	FieldIPv6HopLimit   Field = "ipv6HopLimit"
	FieldL4SrcPort      Field = "l4SrcPort"
	FieldL4DstPort      Field = "l4DstPort"
	FieldL4Ports        Field = "l4Ports"
	FieldGreType        Field = "greType"
	FieldPppoePid       Field = "pppoePid"
	FieldMinencapType   Field = "minencapType"
	FieldMinencapSrc    Field = "minencapSrc"
	FieldMinencapDst    Field = "minencapDst"
	FieldMinencapSrcDst Field = "minencapSrcDst"
)

// NonHeader selects a key source that is not a protocol header.
type NonHeader string

// NonHeader values.
const (
	NonHeaderFrameStart       NonHeader = "frameStart"
	NonHeaderEndOfParse       NonHeader = "endOfParse"
	NonHeaderICKeyExactMatch  NonHeader = "icKeyExactMatch"
	NonHeaderICHashExactMatch NonHeader = "icHashExactMatch"
)

// Extraction describes where a node finds its key.
type Extraction struct {
	Source Source `json:"source"`

	// Header and Last select a header instance; Last selects the second or innermost one.
	Header Header `json:"header,omitempty"`
	Last   bool   `json:"last,omitempty"`

	Field     Field     `json:"field,omitempty"`
	NonHeader NonHeader `json:"nonHeader,omitempty"`

	// Offset and Size apply to all sources except SourceFullField.
	Offset int `json:"offset,omitempty"`
	Size   int `json:"size,omitempty"`
}

// Resolved is an Extraction translated to lookup engine terms.
type Resolved struct {
	ParseCode ParseCode
	Pr        PrOffset
	Offset    uint8
	Size      int

	// FullField nodes carry zero in the size field of continue-lookup records.
	FullField bool
	// GlobalMaskAllowed is false when every mask must be stored per key.
	GlobalMaskAllowed bool
	// FixedKey, if not nil, is the only legal key; such nodes cannot be modified.
	FixedKey []byte
	// Generic parse code switches to PcGenericWithMask when the node has a mask.
	Generic bool
}

type fieldInfo struct {
	headers     []Header
	size        int
	first, last ParseCode
	globalMask  bool
	fixedKey    []byte
}

var fullFields = map[Field]fieldInfo{
	FieldEthDst:         {[]Header{HeaderEth}, 6, PcMacDst, PcMacDst, false, nil},
	FieldEthSrc:         {[]Header{HeaderEth}, 6, PcMacSrc, PcMacSrc, false, nil},
	FieldEthType:        {[]Header{HeaderEth}, 2, PcEtype, PcEtype, false, nil},
	FieldVlanTci:        {[]Header{HeaderVlan}, 2, PcTci1, PcTci2, true, nil},
	FieldMplsLabel:      {[]Header{HeaderMpls}, 4, PcMpls1, PcMplsLast, true, nil},
	FieldIPv4Src:        {[]Header{HeaderIPv4}, 4, PcIPv4Src1, PcIPv4Src2, false, nil},
	FieldIPv4Dst:        {[]Header{HeaderIPv4}, 4, PcIPv4Dst1, PcIPv4Dst2, false, nil},
	FieldIPv4SrcDst:     {[]Header{HeaderIPv4}, 8, PcIPv4Src1Dst1, PcIPv4Src2Dst2, false, nil},
	FieldIPv4Tos:        {[]Header{HeaderIPv4}, 1, PcIPv4Tos1, PcIPv4Tos2, true, nil},
	FieldIPv4Proto:      {[]Header{HeaderIPv4}, 1, PcIPv4Ptype1, PcIPv4Ptype2, false, nil},
	FieldIPv4Ttl:        {[]Header{HeaderIPv4}, 1, PcIPv4Ttl, PcIllegal, false, []byte{0x01}},
	FieldIPv6VerTcFl:    {[]Header{HeaderIPv6}, 4, PcIPv6TcFlow1, PcIPv6Tc2, true, nil},
	FieldIPv6NextHdr:    {[]Header{HeaderIPv6}, 1, PcIPv6Ptype1, PcIPv6Ptype2, false, nil},
	FieldIPv6Src:        {[]Header{HeaderIPv6}, 16, PcIPv6Src1, PcIPv6Src2, false, nil},
	FieldIPv6Dst:        {[]Header{HeaderIPv6}, 16, PcIPv6Dst1, PcIPv6Dst2, false, nil},
	FieldIPv6HopLimit:   {[]Header{HeaderIPv6}, 1, PcIPv6HopLimit, PcIllegal, false, []byte{0x01}},
	FieldL4SrcPort:      {[]Header{HeaderTCP, HeaderUDP}, 2, PcL4PSrc, PcL4PSrc, false, nil},
	FieldL4DstPort:      {[]Header{HeaderTCP, HeaderUDP}, 2, PcL4PDst, PcL4PDst, false, nil},
	FieldL4Ports:        {[]Header{HeaderTCP, HeaderUDP}, 4, PcL4PSrcDst, PcL4PSrcDst, false, nil},
	FieldGreType:        {[]Header{HeaderGre}, 2, PcGrePtype, PcGrePtype, false, nil},
	FieldPppoePid:       {[]Header{HeaderPppoe}, 2, PcPppPid, PcPppPid, false, nil},
	FieldMinencapType:   {[]Header{HeaderMinencap}, 1, PcMinencapPtype, PcMinencapPtype, false, nil},
	FieldMinencapSrc:    {[]Header{HeaderMinencap}, 4, PcMinencapIPSrc, PcMinencapIPSrc, false, nil},
	FieldMinencapDst:    {[]Header{HeaderMinencap}, 4, PcMinencapIPDst, PcMinencapIPDst, false, nil},
	FieldMinencapSrcDst: {[]Header{HeaderMinencap}, 8, PcMinencapIPSrcIPDst, PcMinencapIPSrcIPDst, false, nil},
}

var headerPrOffsets = map[Header][2]PrOffset{
	HeaderEth:      {PrEth, PrEth},
	HeaderLlcSnap:  {PrLlcSnap, PrLlcSnap},
	HeaderVlan:     {PrVlan1, PrVlan2},
	HeaderPppoe:    {PrPppoe, PrPppoe},
	HeaderMpls:     {PrMpls1, PrMplsLast},
	HeaderIPv4:     {PrIP1, PrIPLast},
	HeaderIPv6:     {PrIP1, PrIPLast},
	HeaderGre:      {PrGre, PrGre},
	HeaderMinencap: {PrMinencap, PrMinencap},
	HeaderTCP:      {PrL4, PrL4},
	HeaderUDP:      {PrL4, PrL4},
}

func prCode(offset int) ParseCode {
	if offset == 0 {
		return PcPrWithoutOffset
	}
	return PcPrOffset
}

// Resolve translates the extraction into parse code, parse result offset, offset, and key size.
func (ex Extraction) Resolve() (r Resolved, e error) {
	r.GlobalMaskAllowed = true
	offset := ex.Offset
	switch ex.Source {
	case SourceFullField:
		info, ok := fullFields[ex.Field]
		if !ok {
			return r, fmt.Errorf("%w: unknown full field %q", ErrConfig, ex.Field)
		}
		if ex.Header != "" && !containsHeader(info.headers, ex.Header) {
			return r, fmt.Errorf("%w: field %s does not belong to header %s", ErrConfig, ex.Field, ex.Header)
		}
		r.ParseCode = info.first
		if ex.Last {
			r.ParseCode = info.last
		}
		if r.ParseCode == PcIllegal {
			return r, fmt.Errorf("%w: field %s has no second instance", ErrConfig, ex.Field)
		}
		r.Size, r.FullField = info.size, true
		r.GlobalMaskAllowed = info.globalMask
		r.FixedKey = info.fixedKey
		if ex.Size != 0 && ex.Size != info.size {
			return r, fmt.Errorf("%w: field %s has size %d", ErrConfig, ex.Field, info.size)
		}
		offset = 0
	case SourceFromHeader:
		pr, ok := headerPrOffsets[ex.Header]
		if !ok {
			return r, fmt.Errorf("%w: unknown header %q", ErrConfig, ex.Header)
		}
		r.Pr = pr[0]
		if ex.Last {
			r.Pr = pr[1]
		}
		r.ParseCode, r.Size = prCode(offset), ex.Size
	case SourceFromField:
		switch {
		case ex.Header == HeaderEth && ex.Field == FieldEthType:
			r.Pr = PrEtypeLast
		case ex.Header == HeaderVlan && ex.Field == FieldVlanTci:
			r.Pr = PrVlan1
			if ex.Last {
				r.Pr = PrVlan2
			}
		default:
			return r, fmt.Errorf("%w: from-field extraction on %s/%s not supported", ErrConfig, ex.Header, ex.Field)
		}
		r.ParseCode, r.Size = PcPrOffset, ex.Size
	case SourceNonHeader:
		r.Size = ex.Size
		switch ex.NonHeader {
		case NonHeaderFrameStart:
			r.ParseCode, r.Generic = PcGenericWithoutMask, true
		case NonHeaderEndOfParse:
			r.ParseCode, r.Pr = prCode(offset), PrNextHeader
		case NonHeaderICKeyExactMatch:
			r.ParseCode = PcGenericICGmask
			offset += ICKeyExactMatchOffset
		case NonHeaderICHashExactMatch:
			r.ParseCode = PcGenericICGmask
			offset += ICHashExactMatchOffset
		default:
			return r, fmt.Errorf("%w: unknown non-header source %q", ErrConfig, ex.NonHeader)
		}
	default:
		return r, fmt.Errorf("%w: unknown extraction source %q", ErrConfig, ex.Source)
	}

	if r.Size <= 0 || r.Size > MaxKeySize {
		return r, fmt.Errorf("%w: key size %d out of range", ErrConfig, r.Size)
	}
	if offset < 0 || offset > 0xFF {
		return r, fmt.Errorf("%w: offset %d out of range", ErrConfig, offset)
	}
	r.Offset = uint8(offset)
	return r, nil
}

func containsHeader(list []Header, h Header) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}
