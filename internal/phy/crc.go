package phy

// CRC8 with polynomial x^8 + x^2 + x + 1 (0x07), used over frame payloads.

const crc8Polynomial = 0x07

// crc8Table is the byte-indexed lookup table for the 0x07 polynomial.
var crc8Table = buildCRC8Table()

func buildCRC8Table() [256]uint8 {
	var table [256]uint8
	for i := 0; i < 256; i++ {
		crc := uint8(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ crc8Polynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CalculateCRC8 computes the CRC8 checksum of data.
func CalculateCRC8(data []uint8) uint8 {
	var crc uint8
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}

// CheckCRC8 returns true if data matches the expected checksum.
func CheckCRC8(data []uint8, expected uint8) bool {
	return CalculateCRC8(data) == expected
}

// ByteToBits expands a byte into 8 bits, MSB first.
func ByteToBits(b uint8) [8]uint8 {
	var bits [8]uint8
	for i := 0; i < 8; i++ {
		bits[i] = (b >> (7 - i)) & 1
	}
	return bits
}

// BitsToByte packs up to 8 bits (MSB first) into a byte.
func BitsToByte(bits []uint8) uint8 {
	var b uint8
	for i, bit := range bits {
		if i == 8 {
			break
		}
		if bit != 0 {
			b |= 1 << (7 - i)
		}
	}
	return b
}

// BytesToBits expands a byte slice into a bit slice, MSB first.
func BytesToBits(data []uint8) []uint8 {
	bits := make([]uint8, 0, len(data)*8)
	for _, b := range data {
		expanded := ByteToBits(b)
		bits = append(bits, expanded[:]...)
	}
	return bits
}

// BitsToBytes packs a bit slice into bytes, MSB first. A trailing partial
// byte is padded with zeros in the low bits.
func BitsToBytes(bits []uint8) []uint8 {
	numBytes := (len(bits) + 7) / 8
	data := make([]uint8, 0, numBytes)
	for i := 0; i < numBytes; i++ {
		start := i * 8
		end := start + 8
		if end > len(bits) {
			end = len(bits)
		}
		data = append(data, BitsToByte(bits[start:end]))
	}
	return data
}
