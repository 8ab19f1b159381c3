package meter

import "github.com/muurk/pulsemeter/internal/sml"

// channelNames maps well-known OBIS codes to display names.
var channelNames = map[string]string{
	sml.CodeActivePower:    "active power",
	sml.CodeEnergyImport:   "energy import total",
	sml.CodeEnergyImportT1: "energy import tariff 1",
	sml.CodeEnergyImportT2: "energy import tariff 2",
	sml.CodeEnergyExport:   "energy export total",
	sml.CodePowerL1:        "active power L1",
	sml.CodePowerL2:        "active power L2",
	sml.CodePowerL3:        "active power L3",
	sml.CodeVoltageL1:      "voltage L1",
	sml.CodeVoltageL2:      "voltage L2",
	sml.CodeVoltageL3:      "voltage L3",
	sml.CodeManufacturer:   "manufacturer",
	sml.CodeServerID:       "server id",
	sml.CodePublicKey:      "public key",
	sml.CodeFrequency:      "grid frequency",
	sml.CodeDeviceFirmware: "firmware version",
}

// ChannelName returns a display name for code. Unknown codes are rendered
// in OBIS short notation, or returned unchanged if they are malformed.
func ChannelName(code string) string {
	if name, ok := channelNames[code]; ok {
		return name
	}
	if short, err := sml.ShortCode(code); err == nil {
		return short
	}
	return code
}
