package bmc

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/bmcmon/internal/errors"
)

// Supermicro fan control raw command: 0x30 0x70 0x66 <zone> 0x00 0x00 <speed>.
// Speed bytes map the requested RPM onto firmware duty values:
//
//	0x64 full speed, 0x18 quiet (≤2000 RPM), 0x30 balanced (≤3500 RPM),
//	above that a linear ramp against an assumed 5000 RPM ceiling.
const (
	supermicroFullByte  = 0x64
	supermicroQuietByte = 0x18
	supermicroMidByte   = 0x30

	supermicroQuietCeilingRPM = 2000
	supermicroMidCeilingRPM   = 3500
	supermicroMaxRPM          = 5000
)

// BuildFanCommand maps a target RPM onto the vendor's raw IPMI command
// arguments. An rpm of 0 means full speed. An empty fan identifier selects
// all fans. Unsupported vendors fail explicitly rather than silently no-op.
func BuildFanCommand(vendor string, targetRPM int, fanIdentifier string) (string, error) {
	errFactory := errors.New()

	switch strings.ToLower(vendor) {
	case "supermicro":
		return buildSupermicroFanCommand(targetRPM, fanIdentifier), nil
	case "dell":
		return "", errFactory.WithMessage(ErrVendorNotImplemented, "Dell iDRAC fan control not yet implemented")
	case "hp":
		return "", errFactory.WithMessage(ErrVendorNotImplemented, "HP iLO fan control not yet implemented")
	default:
		return "", errFactory.WithData(ErrUnsupportedVendor, vendor)
	}
}

func buildSupermicroFanCommand(targetRPM int, fanIdentifier string) string {
	var speedByte int
	switch {
	case targetRPM == 0:
		speedByte = supermicroFullByte
	case targetRPM <= supermicroQuietCeilingRPM:
		speedByte = supermicroQuietByte
	case targetRPM <= supermicroMidCeilingRPM:
		speedByte = supermicroMidByte
	default:
		percentage := targetRPM * 100 / supermicroMaxRPM
		if percentage > 100 {
			percentage = 100
		}
		speedByte = percentage * supermicroFullByte / 100
		if speedByte > supermicroFullByte {
			speedByte = supermicroFullByte
		}
	}

	// Zone selector 0x01 targets all fans, 0x00 a single zone.
	zone := 0x01
	if fanIdentifier != "" {
		zone = 0x00
	}

	return fmt.Sprintf("0x30 0x70 0x66 0x%02x 0x00 0x00 0x%02x", zone, speedByte)
}

// SupermicroOptimalFloorCommand is the stock raw command that drops
// Supermicro fans to their optimal-mode floor.
const SupermicroOptimalFloorCommand = "0x30 0x70 0x66 0x01 0x00 0x00 0x18"
