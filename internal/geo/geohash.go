// Package geo provides geohash encoding and decoding for location events.
package geo

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPrecision is the default geohash precision for shared locations.
// A precision of 8 characters yields a cell of roughly 38m x 19m, which is
// what live tracking publishes.
const DefaultPrecision = 8

// MaxPrecision is the longest geohash Encode will produce. Beyond 12
// characters the cell is smaller than float64 can usefully bisect.
const MaxPrecision = 12

// ErrInvalidGeohash is returned when a geohash is empty or contains a
// character outside the base32 alphabet.
var ErrInvalidGeohash = errors.New("invalid geohash")

// validGeohashChars is a lookup map for valid base32 characters used in geohashes.
// Geohash uses a custom base32 alphabet excluding 'a', 'i', 'l', and 'o'.
var validGeohashChars = map[rune]bool{
	'0': true, '1': true, '2': true, '3': true, '4': true,
	'5': true, '6': true, '7': true, '8': true, '9': true,
	'b': true, 'c': true, 'd': true, 'e': true, 'f': true,
	'g': true, 'h': true, 'j': true, 'k': true, 'm': true,
	'n': true, 'p': true, 'q': true, 'r': true, 's': true,
	't': true, 'u': true, 'v': true, 'w': true, 'x': true,
	'y': true, 'z': true,
}

// base32 is the geohash base32 alphabet.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is the rectangle covered by a geohash cell.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether p lies inside the rectangle, edges included.
func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Center returns the midpoint of the rectangle.
func (b Bounds) Center() Point {
	return Point{
		Lat: (b.MinLat + b.MaxLat) / 2,
		Lng: (b.MinLng + b.MaxLng) / 2,
	}
}

// Decoded is the result of decoding a geohash: the cell midpoint and the cell itself.
type Decoded struct {
	Point
	Bounds Bounds `json:"bounds"`
}

// Encode encodes latitude and longitude into a geohash string with the specified precision.
// Uses the standard geohash algorithm with base32 encoding.
//
// Parameters:
//   - lat: latitude in degrees (-90 to 90), clamped if out of range
//   - lng: longitude in degrees (-180 to 180), clamped if out of range
//   - precision: desired geohash length; values below 1 select DefaultPrecision
//     and values above MaxPrecision are capped
//
// Returns:
//   - Geohash string of the specified length
func Encode(lat, lng float64, precision int) string {
	if precision < 1 {
		precision = DefaultPrecision
	}
	if precision > MaxPrecision {
		precision = MaxPrecision
	}
	lat = clamp(lat, -90, 90)
	lng = clamp(lng, -180, 180)

	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}

	var geohash strings.Builder
	geohash.Grow(precision)

	bits := 0
	var ch uint

	even := true
	for geohash.Len() < precision {
		if even {
			// Longitude
			mid := (lngRange[0] + lngRange[1]) / 2
			if lng > mid {
				ch |= (1 << (4 - bits))
				lngRange[0] = mid
			} else {
				lngRange[1] = mid
			}
		} else {
			// Latitude
			mid := (latRange[0] + latRange[1]) / 2
			if lat > mid {
				ch |= (1 << (4 - bits))
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}

		even = !even
		bits++

		if bits == 5 {
			geohash.WriteByte(base32[ch])
			bits = 0
			ch = 0
		}
	}

	return geohash.String()
}

// Decode reverses Encode. Each character narrows the longitude and latitude
// ranges by its five bits, starting with longitude. The returned point is the
// midpoint of the final cell.
//
// Decoding is case-insensitive. An empty string or any character outside the
// base32 alphabet yields ErrInvalidGeohash.
func Decode(geohash string) (Decoded, error) {
	if geohash == "" {
		return Decoded{}, fmt.Errorf("%w: empty", ErrInvalidGeohash)
	}

	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}
	even := true

	for i, c := range strings.ToLower(geohash) {
		idx := strings.IndexRune(base32, c)
		if idx < 0 {
			return Decoded{}, fmt.Errorf("%w: character %q at position %d", ErrInvalidGeohash, c, i)
		}

		for bit := 4; bit >= 0; bit-- {
			set := idx&(1<<bit) != 0
			if even {
				mid := (lngRange[0] + lngRange[1]) / 2
				if set {
					lngRange[0] = mid
				} else {
					lngRange[1] = mid
				}
			} else {
				mid := (latRange[0] + latRange[1]) / 2
				if set {
					latRange[0] = mid
				} else {
					latRange[1] = mid
				}
			}
			even = !even
		}
	}

	b := Bounds{
		MinLat: latRange[0],
		MinLng: lngRange[0],
		MaxLat: latRange[1],
		MaxLng: lngRange[1],
	}
	return Decoded{Point: b.Center(), Bounds: b}, nil
}

// Valid reports whether s is a non-empty geohash made only of base32 characters.
func Valid(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range strings.ToLower(s) {
		if !validGeohashChars[c] {
			return false
		}
	}
	return true
}

// RoundGeohash truncates a geohash string to the specified precision for privacy.
// It ensures coarse location display by limiting the geohash resolution.
//
// Parameters:
//   - input: the geohash string to round
//   - precision: the desired length
//
// Returns:
//   - The truncated geohash if valid
//   - Empty string if input is empty, contains invalid characters, or precision is less than 1
//   - The input normalized to lowercase if it is shorter than precision
func RoundGeohash(input string, precision int) string {
	if precision < 1 || !Valid(input) {
		return ""
	}

	lower := strings.ToLower(input)
	if len(lower) <= precision {
		return lower
	}
	return lower[:precision]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
