package openings

import (
	"encoding/xml"
	"strings"
)

// RecordElement is the DATEX II element holding one situation record.
const RecordElement = "situationRecord"

// BridgeOpeningType is the management type of a bridge swing-in operation.
const BridgeOpeningType = "bridgeSwingInOperation"

// RawRecord is the untrusted text of one DATEX II situationRecord. Fields are
// located by element name regardless of namespace or nesting depth.
type RawRecord struct {
	ID             string
	Version        string
	CreationTime   string
	VersionTime    string
	StartTime      string
	EndTime        string
	Latitude       string
	Longitude      string
	Source         string
	Status         string
	ManagementType string
}

// UnmarshalXML walks the record subtree and picks out the fields it knows.
// The first occurrence of each field wins.
func (r *RawRecord) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "id":
			r.ID = a.Value
		case "version":
			r.Version = a.Value
		}
	}

	// path holds the local names below the record element.
	var path []string
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			path = append(path, t.Name.Local)
		case xml.EndElement:
			if len(path) == 0 {
				return nil
			}
			path = path[:len(path)-1]
		case xml.CharData:
			if len(path) == 0 {
				continue
			}
			r.assign(path, strings.TrimSpace(string(t)))
		}
	}
}

func (r *RawRecord) assign(path []string, text string) {
	if text == "" {
		return
	}
	leaf := path[len(path)-1]
	parent := ""
	if len(path) > 1 {
		parent = path[len(path)-2]
	}

	set := func(dst *string) {
		if *dst == "" {
			*dst = text
		}
	}

	switch {
	case len(path) == 1 && leaf == "situationRecordCreationTime":
		set(&r.CreationTime)
	case len(path) == 1 && leaf == "situationRecordVersionTime":
		set(&r.VersionTime)
	case len(path) == 1 && leaf == "operatorActionStatus":
		set(&r.Status)
	case len(path) == 1 && leaf == "generalNetworkManagementType":
		set(&r.ManagementType)
	case leaf == "overallStartTime" && parent == "validityTimeSpecification":
		set(&r.StartTime)
	case leaf == "overallEndTime" && parent == "validityTimeSpecification":
		set(&r.EndTime)
	case leaf == "latitude" && parent == "pointCoordinates":
		set(&r.Latitude)
	case leaf == "longitude" && parent == "pointCoordinates":
		set(&r.Longitude)
	case leaf == "value" && inSourceName(path):
		set(&r.Source)
	}
}

func inSourceName(path []string) bool {
	n := len(path)
	return n >= 3 && path[n-2] == "values" && path[n-3] == "sourceName"
}
