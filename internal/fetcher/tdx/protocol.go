package tdx

import (
	"encoding/binary"
	"fmt"
	"math"
)

// The quote-server protocol frames every request as a small binary packet and
// answers with a 16-byte header followed by an optionally zlib-compressed
// body. Prices inside bar responses are delta-encoded varints in units of
// 1/1000 yuan; volumes use the server's custom 4-byte float.

// Daily bar category.
const categoryDaily = 9

var (
	setupCmd1 = hexBytes("0c0218930001030003000d0001")
	setupCmd2 = hexBytes("0c0218940001030003000d0002")
	setupCmd3 = hexBytes("0c031899000120002000db0fd5d0c9ccd6a4a8af000000" +
		"8fc22540130000d500c9ccbdf0d7ea00000002")
)

// barsRequest builds a get-security-bars packet.
func barsRequest(market uint16, code string, category, start, count uint16) []byte {
	pkg := hexBytes("0c01086401011c001c002d05")
	buf := make([]byte, 0, len(pkg)+28)
	buf = append(buf, pkg...)
	buf = appendU16(buf, market)
	buf = append(buf, fixedCode(code)...)
	buf = appendU16(buf, category)
	buf = appendU16(buf, 1)
	buf = appendU16(buf, start)
	buf = appendU16(buf, count)
	buf = append(buf, make([]byte, 10)...)
	return buf
}

// listRequest builds a get-security-list packet for one market page.
func listRequest(market, start uint16) []byte {
	pkg := hexBytes("0c0118640101060006005004")
	buf := append([]byte{}, pkg...)
	buf = appendU16(buf, market)
	buf = appendU16(buf, start)
	return buf
}

// rawBar is one decoded daily bar before normalization.
type rawBar struct {
	Date                   uint32 // YYYYMMDD
	Open, Close, High, Low float64
	Volume, Amount         float64
}

// parseBars decodes a get-security-bars response body.
func parseBars(body []byte, category uint16) ([]rawBar, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("bars response too short: %d bytes", len(body))
	}
	count := int(binary.LittleEndian.Uint16(body))
	pos := 2

	bars := make([]rawBar, 0, count)
	preDiffBase := 0
	for i := 0; i < count; i++ {
		var date uint32
		if category < 4 || category == 7 || category == 8 {
			if pos+4 > len(body) {
				return nil, fmt.Errorf("truncated bar %d", i)
			}
			zipday := binary.LittleEndian.Uint16(body[pos:])
			minutes := binary.LittleEndian.Uint16(body[pos+2:])
			year := uint32(zipday>>11) + 2004
			month := uint32(zipday%2048) / 100
			day := uint32(zipday%2048) % 100
			date = year*10000 + month*100 + day
			_ = minutes
			pos += 4
		} else {
			if pos+4 > len(body) {
				return nil, fmt.Errorf("truncated bar %d", i)
			}
			date = binary.LittleEndian.Uint32(body[pos:])
			pos += 4
		}

		var openDiff, closeDiff, highDiff, lowDiff int
		var err error
		if openDiff, pos, err = readPrice(body, pos); err != nil {
			return nil, err
		}
		if closeDiff, pos, err = readPrice(body, pos); err != nil {
			return nil, err
		}
		if highDiff, pos, err = readPrice(body, pos); err != nil {
			return nil, err
		}
		if lowDiff, pos, err = readPrice(body, pos); err != nil {
			return nil, err
		}
		if pos+8 > len(body) {
			return nil, fmt.Errorf("truncated bar %d", i)
		}
		vol := decodeVolume(binary.LittleEndian.Uint32(body[pos:]))
		amount := decodeVolume(binary.LittleEndian.Uint32(body[pos+4:]))
		pos += 8

		openDiff += preDiffBase
		bar := rawBar{
			Date:   date,
			Open:   float64(openDiff) / 1000,
			Close:  float64(openDiff+closeDiff) / 1000,
			High:   float64(openDiff+highDiff) / 1000,
			Low:    float64(openDiff+lowDiff) / 1000,
			Volume: vol,
			Amount: amount,
		}
		preDiffBase = openDiff + closeDiff
		bars = append(bars, bar)
	}
	return bars, nil
}

// listEntry is one instrument row from a security-list page.
type listEntry struct {
	Code string
	Name []byte // GBK-encoded
}

const listEntrySize = 29

// parseList decodes a get-security-list response body.
func parseList(body []byte) ([]listEntry, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("list response too short: %d bytes", len(body))
	}
	count := int(binary.LittleEndian.Uint16(body))
	pos := 2

	out := make([]listEntry, 0, count)
	for i := 0; i < count; i++ {
		if pos+listEntrySize > len(body) {
			return nil, fmt.Errorf("truncated list entry %d", i)
		}
		row := body[pos : pos+listEntrySize]
		pos += listEntrySize
		out = append(out, listEntry{
			Code: string(trimNul(row[0:6])),
			// code(6) volunit(2) name(8) reserved(4) decimals(1) ...
			Name: trimNul(row[8:16]),
		})
	}
	return out, nil
}

// readPrice decodes the variable-length signed integer used for price deltas.
func readPrice(data []byte, pos int) (int, int, error) {
	if pos >= len(data) {
		return 0, pos, fmt.Errorf("truncated price at %d", pos)
	}
	b := data[pos]
	pos++
	value := int(b & 0x3f)
	negative := b&0x40 != 0
	shift := 6
	for b&0x80 != 0 {
		if pos >= len(data) {
			return 0, pos, fmt.Errorf("truncated price at %d", pos)
		}
		b = data[pos]
		pos++
		value += int(b&0x7f) << shift
		shift += 7
	}
	if negative {
		value = -value
	}
	return value, pos, nil
}

// decodeVolume converts the server's 4-byte volume float.
func decodeVolume(ivol uint32) float64 {
	logpoint := int(ivol >> 24)
	hleax := int((ivol >> 16) & 0xff)
	lheax := int((ivol >> 8) & 0xff)
	lleax := int(ivol & 0xff)

	dwEcx := logpoint*2 - 0x7f
	dwEdx := logpoint*2 - 0x86
	dwEsi := logpoint*2 - 0x8e
	dwEax := logpoint*2 - 0x96

	xmm6 := math.Pow(2, math.Abs(float64(dwEcx)))
	if dwEcx < 0 {
		xmm6 = 1 / xmm6
	}

	var xmm4 float64
	if hleax > 0x80 {
		xmm4 = math.Pow(2, float64(dwEdx))*128 + float64(hleax&0x7f)*math.Pow(2, float64(dwEdx+1))
	} else {
		xmm4 = math.Pow(2, float64(dwEdx)) * float64(hleax)
	}

	xmm3 := math.Pow(2, float64(dwEsi)) * float64(lheax)
	xmm1 := math.Pow(2, float64(dwEax)) * float64(lleax)
	if hleax&0x80 != 0 {
		xmm3 *= 2
		xmm1 *= 2
	}
	return xmm6 + xmm4 + xmm3 + xmm1
}

func fixedCode(code string) []byte {
	b := make([]byte, 6)
	copy(b, code)
	return b
}

func trimNul(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

func appendU16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}

func hexBytes(s string) []byte {
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		out[i] = unhex(s[2*i])<<4 | unhex(s[2*i+1])
	}
	return out
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}
