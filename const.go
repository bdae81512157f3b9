// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.19
//

package rtkamb

const (
	PI  = 3.1415926535897932  // Pi
	C   = 2.99792458e8        // Speed of light [m/s]
	Re  = 6378137.0           // Earth's radius [m]
	Fe  = 1.0 / 298.257223563 // Earth's flattening
	L1  = 1575420000.0        // L1 frequency of G/J [Hz]
	L2  = 1227600000.0        // L2 frequency of G/J [Hz]
	L5  = 1176450000.0        // L5 frequency of G/J [Hz]
	B1  = 1561098000.0        // B1 frequency of Beidou [Hz]
	B2  = 1207140000.0        // B2 frequency of Beidou [Hz]
	B3  = 1268520000.0        // B3 frequency of Beidou [Hz]
	E1  = 1575420000.0        // E1 frequency of Galileo [Hz]
	E5a = 1176450000.0        // E5a frequency of Galileo [Hz]
	E5b = 1207140000.0        // E5b frequency of Galileo [Hz]
	G1  = 1602000000.0        // G1 frequency of Glonass
	G1d = 562500.0            // Frequency division step of Glonass G1 [Hz]
	G2  = 1246000000.0        // G2 frequency of Glonass
	G2d = 437500.0            // Frequency division step of Glonass G2 [Hz]
	G3  = 1202025000.0        // G3 frequency of Glonass (CDMA) [Hz]
)

// Carrier frequencies of each system, in frequency index order
var sysFreq = map[SysType][NFREQ]float64{
	'G': {L1, L2, L5, 0},
	'J': {L1, L2, L5, 0},
	'E': {E1, E5a, E5b, 0},
	'C': {B1, B3, B2, 0},
	'S': {L1, L5, 0, 0},
}

// Wavelengths holds the carrier wavelength [m] of each satellite and frequency.
// A zero wavelength means the signal is not available.
type Wavelengths map[SatType][NFREQ]float64

// SatFreq returns the carrier frequency [Hz] of the satellite at frequency index f.
// fcn is the Glonass frequency channel number (ignored for the other systems).
func SatFreq(sat SatType, f int, fcn int) float64 {
	if f < 0 || f >= NFREQ {
		return 0
	}
	sys := sat.Sys()
	if sys == 'R' {
		switch f {
		case 0:
			return G1 + G1d*float64(fcn)
		case 1:
			return G2 + G2d*float64(fcn)
		case 2:
			return G3
		}
		return 0
	}
	return sysFreq[sys][f]
}

// NewWavelengths builds the wavelength table for the given satellites.
// fcn maps Glonass satellites to their frequency channel numbers.
func NewWavelengths(sats []SatType, fcn map[SatType]int) Wavelengths {
	w := Wavelengths{}
	for _, sat := range sats {
		var lam [NFREQ]float64
		for f := range NFREQ {
			if fr := SatFreq(sat, f, fcn[sat]); fr > 0 {
				lam[f] = C / fr
			}
		}
		w[sat] = lam
	}
	return w
}
