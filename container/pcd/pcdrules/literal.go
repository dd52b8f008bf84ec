package pcdrules

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/container/pcd/pcdkey"
	"inet.af/netaddr"
)

// Literal is a key written as hex, an IP address or prefix, a MAC address, or an integer.
type Literal string

// UnmarshalJSON accepts a string or an integer.
func (l *Literal) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] != '"' {
		var n json.Number
		if e := json.Unmarshal(data, &n); e != nil {
			return e
		}
		if _, e := strconv.ParseUint(string(n), 10, 64); e != nil {
			return fmt.Errorf("key %s is not a non-negative integer", n)
		}
		*l = Literal("#" + string(n))
		return nil
	}
	var s string
	if e := json.Unmarshal(data, &s); e != nil {
		return e
	}
	*l = Literal(s)
	return nil
}

// Bytes converts the literal into a key of the given size, with the mask implied by an IP prefix.
func (l Literal) Bytes(size int) (key, mask []byte, e error) {
	s := string(l)
	switch {
	case strings.HasPrefix(s, "#"):
		n, e := strconv.ParseUint(s[1:], 10, 64)
		if e != nil {
			return nil, nil, fmt.Errorf("%w: %v", pcddef.ErrConfig, e)
		}
		if size > 8 || (size < 8 && n >= 1<<(8*size)) {
			return nil, nil, fmt.Errorf("%w: integer key %d does not fit %d octets", pcddef.ErrConfig, n, size)
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], n)
		return b[8-size:], nil, nil
	case strings.Contains(s, "/"):
		prefix, e := netaddr.ParseIPPrefix(s)
		if e != nil {
			return nil, nil, fmt.Errorf("%w: %v", pcddef.ErrConfig, e)
		}
		key, e = ipBytes(prefix.Masked().IP(), size)
		if e != nil {
			return nil, nil, e
		}
		mask = make([]byte, size)
		for i := 0; i < int(prefix.Bits()); i++ {
			mask[i/8] |= 0x80 >> (i % 8)
		}
		return key, mask, nil
	}

	if ip, e := netaddr.ParseIP(s); e == nil {
		key, e = ipBytes(ip, size)
		return key, nil, e
	}
	if size == 6 && strings.ContainsAny(s, ":-") {
		mac, e := net.ParseMAC(s)
		if e != nil {
			return nil, nil, fmt.Errorf("%w: %v", pcddef.ErrConfig, e)
		}
		return []byte(mac), nil, nil
	}
	key, e = parseHex(s, size)
	return key, nil, e
}

func ipBytes(ip netaddr.IP, size int) ([]byte, error) {
	switch {
	case ip.Is4() && size == 4:
		b := ip.As4()
		return b[:], nil
	case ip.Is6() && size == 16:
		b := ip.As16()
		return b[:], nil
	}
	return nil, fmt.Errorf("%w: address %s does not fit %d octets", pcddef.ErrConfig, ip, size)
}

func parseHex(s string, size int) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	s = strings.NewReplacer(" ", "", "_", "").Replace(s)
	b, e := hex.DecodeString(s)
	if e != nil {
		return nil, fmt.Errorf("%w: %v", pcddef.ErrConfig, e)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: hex %s has %d octets, want %d", pcddef.ErrConfig, s, len(b), size)
	}
	return b, nil
}

// ParseMask parses a hex mask; "*" means all ones and an empty string means no mask.
func ParseMask(s string, size int) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if s == "*" {
		return pcdkey.AllOnes(size), nil
	}
	return parseHex(s, size)
}
