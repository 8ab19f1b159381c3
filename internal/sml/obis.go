package sml

import (
	"encoding/hex"
	"fmt"
)

// Well-known OBIS codes reported by household meters
const (
	CodeActivePower    = "0100100700ff" // 1-0:16.7.0*255 sum active instantaneous power
	CodeEnergyImport   = "0100010800ff" // 1-0:1.8.0*255 positive active energy total
	CodeEnergyImportT1 = "0100010801ff" // 1-0:1.8.1*255 tariff 1
	CodeEnergyImportT2 = "0100010802ff" // 1-0:1.8.2*255 tariff 2
	CodeEnergyExport   = "0100020800ff" // 1-0:2.8.0*255 negative active energy total
	CodePowerL1        = "0100240700ff" // 1-0:36.7.0*255
	CodePowerL2        = "0100380700ff" // 1-0:56.7.0*255
	CodePowerL3        = "01004c0700ff" // 1-0:76.7.0*255
	CodeVoltageL1      = "0100200700ff" // 1-0:32.7.0*255
	CodeVoltageL2      = "0100340700ff" // 1-0:52.7.0*255
	CodeVoltageL3      = "0100480700ff" // 1-0:72.7.0*255
	CodeManufacturer   = "8181c78203ff" // 129-129:199.130.3*255
	CodeServerID       = "0100000009ff" // 1-0:0.0.9*255
	CodePublicKey      = "8181c78205ff" // 129-129:199.130.5*255
	CodeFrequency      = "01000e0700ff" // 1-0:14.7.0*255
	CodeDeviceFirmware = "0100000200ff" // 1-0:0.0.2*255
)

// ShortCode renders a 12 hex character OBIS code in the reduced ID
// notation A-B:C.D.E*F.
func ShortCode(code string) (string, error) {
	b, err := hex.DecodeString(code)
	if err != nil || len(b) != obisCodeLen {
		return "", fmt.Errorf("invalid OBIS code %q", code)
	}
	return fmt.Sprintf("%d-%d:%d.%d.%d*%d", b[0], b[1], b[2], b[3], b[4], b[5]), nil
}

// DLMS unit codes (IEC 62056-62) seen in SML list entries
var units = map[uint8]string{
	1:   "a",
	2:   "mo",
	3:   "wk",
	4:   "d",
	5:   "h",
	6:   "min",
	7:   "s",
	8:   "°",
	9:   "°C",
	10:  "currency",
	11:  "m",
	12:  "m/s",
	13:  "m³",
	14:  "m³",
	15:  "m³/h",
	16:  "m³/h",
	17:  "m³/d",
	18:  "m³/d",
	19:  "l",
	20:  "kg",
	21:  "N",
	22:  "Nm",
	23:  "Pa",
	24:  "bar",
	25:  "J",
	26:  "J/h",
	27:  "W",
	28:  "VA",
	29:  "var",
	30:  "Wh",
	31:  "VAh",
	32:  "varh",
	33:  "A",
	34:  "C",
	35:  "V",
	36:  "V/m",
	37:  "F",
	38:  "Ω",
	39:  "Ωm²/m",
	40:  "Wb",
	41:  "T",
	42:  "A/m",
	43:  "H",
	44:  "Hz",
	45:  "1/(Wh)",
	46:  "1/(varh)",
	47:  "1/(VAh)",
	48:  "V²h",
	49:  "A²h",
	50:  "kg/s",
	51:  "S",
	52:  "K",
	53:  "1/(V²h)",
	54:  "1/(A²h)",
	55:  "1/m³",
	56:  "%",
	57:  "Ah",
	60:  "Wh/m³",
	61:  "J/m³",
	62:  "Mol %",
	63:  "g/m³",
	64:  "Pa s",
	65:  "J/kg",
	70:  "dBm",
	71:  "dBµV",
	72:  "dB",
	253: "",
	254: "",
	255: "",
}

// UnitName returns the symbol for a DLMS unit code, or "unit(N)" when the
// code is not in the table.
func UnitName(code uint8) string {
	if name, ok := units[code]; ok {
		return name
	}
	return fmt.Sprintf("unit(%d)", code)
}
