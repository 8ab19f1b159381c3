package sml

import "github.com/sigurn/crc16"

// SML transport v1 uses CRC-16/X-25 for both the frame trailer and the
// per-message CRC field.
var crcTable = crc16.MakeTable(crc16.CRC16_X_25)

// CRC16 returns the X.25 checksum of data.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
