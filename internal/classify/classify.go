// Package classify turns parsed radio records into verdicts. Both entry
// points are pure: the same record and database always give the same
// verdict.
package classify

import (
	"flockwatch/internal/model"
	"flockwatch/internal/patterns"
)

const (
	ScoreDouble = 100
	ScoreSingle = 85
	ScoreRaven  = 100
)

const (
	MethodProbe        = "probe_request"
	MethodBeacon       = "beacon"
	MethodProbeMAC     = "probe_request_mac"
	MethodBeaconMAC    = "beacon_mac"
	MethodMACPrefix    = "mac_prefix"
	MethodDeviceName   = "device_name"
	MethodRavenService = "raven_service_uuid"
)

const (
	DescProbe         = "Device actively scanning for networks"
	DescBeacon        = "Device advertising its network"
	DescAdvertisement = "Bluetooth Low Energy device advertisement"

	IndicatorMAC  = "MAC_ADDRESS"
	IndicatorName = "DEVICE_NAME"

	ReasonMAC  = "MAC address matches known Flock Safety prefix"
	ReasonName = "Device name matches Flock Safety pattern"

	RavenManufacturer = "SoundThinking/ShotSpotter"
	ThreatCritical    = "CRITICAL"
)

// ClassifyWiFi checks the SSID and the sender OUI independently.
func ClassifyWiFi(rec model.WiFiFrame, db *patterns.Database) model.Verdict {
	var v model.Verdict
	if p, ok := db.MatchSSID(rec.SSID); ok {
		v.Signals = append(v.Signals, model.SignalSSID)
		v.MatchedSSID = p
	}
	if p, ok := db.MatchMAC(rec.SenderMAC.String()); ok {
		v.Signals = append(v.Signals, model.SignalMAC)
		v.MatchedMAC = p
	}
	if len(v.Signals) == 0 {
		return model.Verdict{}
	}
	v.Matched = true
	v.Category = model.CategoryFlockSafety

	ssid, mac := v.Has(model.SignalSSID), v.Has(model.SignalMAC)
	switch {
	case ssid && mac:
		v.Criteria = model.CriteriaSSIDAndMAC
		v.ThreatScore = ScoreDouble
	case ssid:
		v.Criteria = model.CriteriaSSIDOnly
		v.ThreatScore = ScoreSingle
	default:
		v.Criteria = model.CriteriaMACOnly
		v.ThreatScore = ScoreSingle
	}

	probe := rec.Subtype == model.SubtypeProbeRequest
	switch {
	case probe && ssid:
		v.Method = MethodProbe
	case probe:
		v.Method = MethodProbeMAC
	case ssid:
		v.Method = MethodBeacon
	default:
		v.Method = MethodBeaconMAC
	}
	if probe {
		v.FrameDescription = DescProbe
	} else {
		v.FrameDescription = DescBeacon
	}
	return v
}

// ClassifyBLE checks the address prefix, then the advertised name, then
// the service table. The service table is only consulted when neither of
// the first two matched.
func ClassifyBLE(rec model.BLEAdvertisement, db *patterns.Database) model.Verdict {
	var v model.Verdict
	macPattern, mac := db.MatchMAC(rec.Address.String())
	namePattern, name := db.MatchName(rec.Name)

	if mac || name {
		v.Matched = true
		v.Category = model.CategoryFlockSafety
		v.AdvertisementDescription = DescAdvertisement
		if mac {
			v.Signals = append(v.Signals, model.SignalMAC)
			v.MatchedMAC = macPattern
		}
		if name {
			v.Signals = append(v.Signals, model.SignalName)
			v.MatchedName = namePattern
		}
		switch {
		case mac && name:
			v.Criteria = model.CriteriaNameAndMAC
			v.ThreatScore = ScoreDouble
		case name:
			v.Criteria = model.CriteriaNameOnly
			v.ThreatScore = ScoreSingle
		default:
			v.Criteria = model.CriteriaMACOnly
			v.ThreatScore = ScoreSingle
		}
		if mac {
			v.Method = MethodMACPrefix
			v.PrimaryIndicator = IndicatorMAC
			v.Reason = ReasonMAC
		} else {
			v.Method = MethodDeviceName
			v.PrimaryIndicator = IndicatorName
			v.Reason = ReasonName
		}
		return v
	}

	svc, ok := db.MatchServiceUUID(rec.ServiceUUIDs)
	if !ok {
		return model.Verdict{}
	}
	return model.Verdict{
		Matched:            true,
		Signals:            []model.Signal{model.SignalServiceUUID},
		ThreatScore:        ScoreRaven,
		Criteria:           model.CriteriaServiceUUID,
		Method:             MethodRavenService,
		Category:           model.CategoryRaven,
		ThreatLevel:        ThreatCritical,
		ServiceUUID:        svc,
		ServiceDescription: db.ServiceDescription(svc),
		FirmwareVersion:    db.EstimateFirmware(rec.ServiceUUIDs),
		Manufacturer:       RavenManufacturer,
	}
}
