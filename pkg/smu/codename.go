package smu

import "fmt"

// Codename identifies the processor generation. It selects the mailbox
// addresses and PM table rules used for the lifetime of an instance.
type Codename uint8

const (
	CodenameUndefined Codename = iota
	CodenameColfax
	CodenameRenoir
	CodenamePicasso
	CodenameMatisse
	CodenameThreadRipper
	CodenameCastlePeak
	CodenameRavenRidge
	CodenameRavenRidge2
	CodenameSummitRidge
	CodenamePinnacleRidge
	CodenameRembrandt
	CodenameVermeer
	CodenameVanGogh
	CodenameCezanne
	CodenameMilan
	CodenameDali
	CodenameLucienne
	CodenameNaples
	CodenameChagall
	CodenameRaphael
	CodenamePhoenix
	CodenameStrixPoint
	CodenameGraniteRidge
	CodenameHawkPoint
	CodenameStormPeak

	codenameCount
)

var codenameNames = [codenameCount]string{
	CodenameUndefined:     "Unknown",
	CodenameColfax:        "Colfax",
	CodenameRenoir:        "Renoir",
	CodenamePicasso:       "Picasso",
	CodenameMatisse:       "Matisse",
	CodenameThreadRipper:  "ThreadRipper",
	CodenameCastlePeak:    "CastlePeak",
	CodenameRavenRidge:    "RavenRidge",
	CodenameRavenRidge2:   "RavenRidge2",
	CodenameSummitRidge:   "SummitRidge",
	CodenamePinnacleRidge: "PinnacleRidge",
	CodenameRembrandt:     "Rembrandt",
	CodenameVermeer:       "Vermeer",
	CodenameVanGogh:       "VanGogh",
	CodenameCezanne:       "Cezanne",
	CodenameMilan:         "Milan",
	CodenameDali:          "Dali",
	CodenameLucienne:      "Lucienne",
	CodenameNaples:        "Naples",
	CodenameChagall:       "Chagall",
	CodenameRaphael:       "Raphael",
	CodenamePhoenix:       "Phoenix",
	CodenameStrixPoint:    "StrixPoint",
	CodenameGraniteRidge:  "GraniteRidge",
	CodenameHawkPoint:     "HawkPoint",
	CodenameStormPeak:     "StormPeak",
}

func (c Codename) String() string {
	if c >= codenameCount {
		return codenameNames[CodenameUndefined]
	}
	return codenameNames[c]
}

// CPU families handled by the resolver.
const (
	familyZen  = 0x17 // Zen, Zen+, Zen2
	familyZen3 = 0x19 // Zen3, Zen4
	familyZen5 = 0x1A
)

// Package types that split a family 17h model into several codenames.
const (
	pkgTypeAM4  = 2
	pkgTypeSP3  = 4
	pkgTypeSP3r = 7
)

// CPUIdentity holds the identification fields the codename is derived from.
type CPUIdentity struct {
	Family   uint32
	Model    uint32
	Stepping uint32
	// PkgType is CPUID Fn8000_0001 EBX[31:28].
	PkgType uint32
}

// decodeSignature splits CPUID Fn0000_0001 EAX and Fn8000_0001 EBX into the
// identification fields. The extended family is added to the base family and
// the extended model forms the high nibble of the model.
func decodeSignature(eax1, ebx81 uint32) CPUIdentity {
	return CPUIdentity{
		Family:   ((eax1 & 0xf00) >> 8) + ((eax1 & 0xff00000) >> 20),
		Model:    ((eax1 & 0xf0000) >> 12) + ((eax1 & 0xf0) >> 4),
		Stepping: eax1 & 0xf,
		PkgType:  ebx81 >> 28,
	}
}

func (id CPUIdentity) String() string {
	return fmt.Sprintf("family 0x%X model 0x%X stepping 0x%X package 0x%X", id.Family, id.Model, id.Stepping, id.PkgType)
}

// ResolveCodename maps identification fields to a codename. It never guesses:
// unknown families and unknown models both yield ErrUnknownCPU.
func ResolveCodename(id CPUIdentity) (Codename, error) {
	var c Codename
	switch id.Family {
	case familyZen:
		c = resolveZen(id)
	case familyZen3:
		c = resolveZen3(id)
	case familyZen5:
		c = resolveZen5(id)
	default:
		log.Error(ErrUnknownCPU, "unsupported processor family", "family", fmt.Sprintf("0x%X", id.Family))
		return CodenameUndefined, fmt.Errorf("%w: family 0x%X", ErrUnknownCPU, id.Family)
	}
	if c == CodenameUndefined {
		log.Error(ErrUnknownCPU, "unknown processor model", "family", fmt.Sprintf("0x%X", id.Family),
			"model", fmt.Sprintf("0x%X", id.Model), "package", id.PkgType)
		return CodenameUndefined, fmt.Errorf("%w: family 0x%X model 0x%X", ErrUnknownCPU, id.Family, id.Model)
	}
	return c, nil
}

func resolveZen(id CPUIdentity) Codename {
	switch id.Model {
	case 0x01:
		switch id.PkgType {
		case pkgTypeSP3r:
			return CodenameThreadRipper
		case pkgTypeSP3:
			return CodenameNaples
		}
		return CodenameSummitRidge
	case 0x08:
		if id.PkgType == pkgTypeSP3r || id.PkgType == pkgTypeSP3 {
			return CodenameColfax
		}
		return CodenamePinnacleRidge
	case 0x11:
		return CodenameRavenRidge
	case 0x18:
		if id.PkgType == pkgTypeAM4 {
			return CodenameRavenRidge2
		}
		return CodenamePicasso
	case 0x20:
		return CodenameDali
	case 0x31:
		return CodenameCastlePeak
	case 0x60:
		return CodenameRenoir
	case 0x68:
		return CodenameLucienne
	case 0x71:
		return CodenameMatisse
	case 0x90:
		return CodenameVanGogh
	}
	return CodenameUndefined
}

func resolveZen3(id CPUIdentity) Codename {
	switch id.Model {
	case 0x01:
		return CodenameMilan
	case 0x08:
		return CodenameChagall
	case 0x20, 0x21:
		return CodenameVermeer
	case 0x40, 0x44:
		return CodenameRembrandt
	case 0x50:
		return CodenameCezanne
	case 0x61:
		return CodenameRaphael
	case 0x74:
		return CodenamePhoenix
	case 0x75:
		return CodenameHawkPoint
	}
	return CodenameUndefined
}

func resolveZen5(id CPUIdentity) Codename {
	switch id.Model {
	case 0x24:
		return CodenameStrixPoint
	case 0x44:
		return CodenameGraniteRidge
	}
	return CodenameUndefined
}
