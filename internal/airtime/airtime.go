// Package airtime computes LoRa time-on-air per "Semtech AN1200.13 LoRa
// Modem Designer's Guide", with the Low Data Rate Optimizer rule from
// "LoRaWAN Regional Parameters RP002-1.0.4" chapter 4.1.2.
package airtime

import (
	"math"

	"github.com/peasec/spatz/internal/band"
)

const (
	preambleLengthSymbols = 8.0
	syncWordLengthSymbols = 4.25
	codingRate45          = 1.0 // the accountant only ever uses CR 4/5
)

// SymbolDuration returns T_sym in milliseconds.
func SymbolDuration(sf band.SpreadingFactor, bw band.Bandwidth) float64 {
	return math.Pow(2, float64(sf)) / float64(bw.KHz())
}

// PreambleDuration returns T_preamble in milliseconds.
func PreambleDuration(symbolDuration float64) float64 {
	return (preambleLengthSymbols + syncWordLengthSymbols) * symbolDuration
}

// LowDataRateOptimization reports whether RP002-1.0.4's LDRO applies: true
// for (BW125, SF11/SF12) and (BW250, SF12).
func LowDataRateOptimization(bw band.Bandwidth, sf band.SpreadingFactor) bool {
	switch {
	case bw == band.Bandwidth125kHz && (sf == 11 || sf == 12):
		return true
	case bw == band.Bandwidth250kHz && sf == 12:
		return true
	default:
		return false
	}
}

// PayloadSymbols returns the number of symbols carrying header + payload,
// per the Semtech formula; isUplink selects whether the 16-bit payload CRC
// term is included (uplink) or omitted (downlink), inferred elsewhere from
// the frame's polarization inversion flag.
func PayloadSymbols(phyPayloadLen int, sf band.SpreadingFactor, headerDisabled, ldro, isUplink bool) int {
	pl := float64(phyPayloadLen)
	s := float64(sf)
	var h, de, up float64
	if headerDisabled {
		h = 1
	}
	if ldro {
		de = 1
	}
	if isUplink {
		up = 1
	}

	a := 8*pl - 4*s + 28 + 16*up - 20*h
	b := 4 * (s - 2*de)
	symbols := math.Ceil(a/b) * (codingRate45 + 4)
	return int(math.Max(symbols, 0)) + 8
}

// PacketDurationMs returns T_packet (preamble + payload), in milliseconds,
// rounded to one decimal place as the accountant persists it.
func PacketDurationMs(phyPayloadLen int, sf band.SpreadingFactor, bw band.Bandwidth, headerDisabled, isUplink bool) float64 {
	tSym := SymbolDuration(sf, bw)
	tPreamble := PreambleDuration(tSym)
	symbols := PayloadSymbols(phyPayloadLen, sf, headerDisabled, LowDataRateOptimization(bw, sf), isUplink)
	total := tPreamble + float64(symbols)*tSym
	return math.Round(total*10) / 10
}

// IsUplink infers uplink-vs-downlink bookkeeping from the polarization
// inversion flag carried in the modulation info: not-inverted means uplink,
// inverted means downlink, per RP002-1.0.4 chapter 4.1.2.
func IsUplink(polarizationInversion bool) bool {
	return !polarizationInversion
}
