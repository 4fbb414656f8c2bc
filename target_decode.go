package pn53x

import "fmt"

// decodeTarget parses the per-target wire data InListPassiveTarget or
// InAutoPoll reports for one candidate, dispatching on mod.Type.
func decodeTarget(mod Modulation, data []byte) (Target, error) {
	switch mod.Type {
	case ModulationISO14443A:
		return decodeISO14443ATarget(mod.BaudRate, data)
	case ModulationISO14443B:
		return decodeISO14443BTarget(mod.BaudRate, data)
	case ModulationFeliCa:
		return decodeFeliCaTarget(mod.BaudRate, data)
	case ModulationJewel:
		return decodeJewelTarget(mod.BaudRate, data)
	default:
		return nil, newError(NotSupported, "decodeTarget", fmt.Errorf("unsupported modulation %v", mod.Type))
	}
}

// decodeISO14443ATarget parses SENS_RES[2] SEL_RES[1] NFCIDLen[1]
// NFCID[NFCIDLen] [ATSLen[1] ATS[ATSLen-1]], the shape InListPassiveTarget
// reports for type-A candidates.
func decodeISO14443ATarget(baud BaudRate, data []byte) (*ISO14443ATarget, error) {
	if len(data) < 5 {
		return nil, newError(ProtocolError, "decodeISO14443ATarget", nil)
	}
	t := &ISO14443ATarget{Baud: baud}
	copy(t.ATQA[:], data[0:2])
	t.SAK = data[2]
	uidLen := int(data[3])
	if len(data) < 4+uidLen {
		return nil, newError(ProtocolError, "decodeISO14443ATarget", nil)
	}
	t.UID = append([]byte(nil), data[4:4+uidLen]...)

	rest := data[4+uidLen:]
	if len(rest) > 0 {
		atsLen := int(rest[0])
		if atsLen > 0 && len(rest) >= atsLen {
			t.ATS = append([]byte(nil), rest[1:atsLen]...)
		}
	}
	return t, nil
}

// decodeISO14443BTarget parses ATQB[12] AttribRes... reported for type-B
// candidates: PUPI[4] Application Data[4] Protocol Info[3], plus a
// trailing CID byte appended by the chip ahead of any further data.
func decodeISO14443BTarget(baud BaudRate, data []byte) (*ISO14443BTarget, error) {
	if len(data) < 12 {
		return nil, newError(ProtocolError, "decodeISO14443BTarget", nil)
	}
	t := &ISO14443BTarget{Baud: baud}
	copy(t.PUPI[:], data[0:4])
	copy(t.ApplicationData[:], data[4:8])
	copy(t.ProtocolInfo[:], data[8:11])
	if len(data) > 12 {
		t.CID = data[12]
	}
	return t, nil
}

// decodeFeliCaTarget parses Length[1] ResponseCode[1] NFCID2[8] PAD[8]
// SystemCode[2].
func decodeFeliCaTarget(baud BaudRate, data []byte) (*FeliCaTarget, error) {
	if len(data) < 20 {
		return nil, newError(ProtocolError, "decodeFeliCaTarget", nil)
	}
	t := &FeliCaTarget{Baud: baud, Len: data[0], RespCode: data[1]}
	copy(t.NFCID2[:], data[2:10])
	copy(t.Pad[:], data[10:18])
	copy(t.SystemCode[:], data[18:20])
	return t, nil
}

// decodeJewelTarget parses SensRes[2] Id[4], the HR/UID pair Jewel/Topaz
// tags report.
func decodeJewelTarget(baud BaudRate, data []byte) (*JewelTarget, error) {
	if len(data) < 6 {
		return nil, newError(ProtocolError, "decodeJewelTarget", nil)
	}
	t := &JewelTarget{Baud: baud}
	copy(t.SensRes[:], data[0:2])
	copy(t.ID[:], data[2:6])
	return t, nil
}

// decodeDEPTarget parses the InJumpForDEP response: TargetStatus[1]
// NFCID3[10] DID[1] BS[1] BR[1] TO[1] PP[1] [GeneralBytes...].
func decodeDEPTarget(baud BaudRate, resp []byte) (*DEPTarget, error) {
	if len(resp) < 1 {
		return nil, newError(ProtocolError, "decodeDEPTarget", nil)
	}
	data := resp[1:]
	if len(data) < 15 {
		return nil, newError(ProtocolError, "decodeDEPTarget", nil)
	}
	t := &DEPTarget{Baud: baud}
	copy(t.NFCID3[:], data[0:10])
	t.DID = data[10]
	t.BS = data[11]
	t.BR = data[12]
	t.TO = data[13]
	t.PP = data[14]
	if len(data) > 15 {
		t.GeneralBytes = append([]byte(nil), data[15:]...)
	}
	return t, nil
}
