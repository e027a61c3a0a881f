package sdp

import (
	"strconv"
	"strings"
)

// Codec describes one entry of the local codec catalog
type Codec struct {
	Name        string // Canonical name used by callers (e.g. "pcma")
	PayloadType int    // Static or agreed RTP payload type
	MediaType   string // SDP media the codec belongs to
	RTP         RTPMap // rtpmap attribute emitted when the codec is added
	FMTP        *FMTP  // Required format parameters, nil when unconstrained
}

// RTPMap is the parsed value of an a=rtpmap attribute
type RTPMap struct {
	Payload  int
	Codec    string
	Rate     int
	Encoding string // Channel count or other encoding parameters, may be empty
}

// String renders the attribute value (without the "rtpmap:" key)
func (r RTPMap) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(r.Payload))
	b.WriteByte(' ')
	b.WriteString(r.Codec)
	if r.Rate > 0 {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(r.Rate))
		if r.Encoding != "" {
			b.WriteByte('/')
			b.WriteString(r.Encoding)
		}
	}
	return b.String()
}

// FMTP is the parsed value of an a=fmtp attribute
type FMTP struct {
	Payload int
	Config  string
}

// String renders the attribute value (without the "fmtp:" key)
func (f FMTP) String() string {
	return strconv.Itoa(f.Payload) + " " + f.Config
}

// The catalog. telephone-event carries no clock rate in its rtpmap.
var (
	CodecPCMU = Codec{
		Name: "pcmu", PayloadType: 0, MediaType: "audio",
		RTP: RTPMap{Payload: 0, Codec: "PCMU", Rate: 8000},
	}
	CodecPCMA = Codec{
		Name: "pcma", PayloadType: 8, MediaType: "audio",
		RTP: RTPMap{Payload: 8, Codec: "PCMA", Rate: 8000},
	}
	CodecG722 = Codec{
		Name: "g722", PayloadType: 9, MediaType: "audio",
		RTP: RTPMap{Payload: 9, Codec: "G722", Rate: 16000},
	}
	CodecILBC = Codec{
		Name: "ilbc", PayloadType: 97, MediaType: "audio",
		RTP:  RTPMap{Payload: 97, Codec: "ilbc", Rate: 8000},
		FMTP: &FMTP{Payload: 97, Config: "mode=20"},
	}
	CodecTelephoneEvent = Codec{
		Name: "telephone-event", PayloadType: 101, MediaType: "audio",
		RTP:  RTPMap{Payload: 101, Codec: "telephone-event"},
		FMTP: &FMTP{Payload: 101, Config: "0-16"},
	}
)

var catalog = []Codec{CodecPCMU, CodecPCMA, CodecG722, CodecILBC, CodecTelephoneEvent}

// aliases accepted on input in addition to canonical names
var aliases = map[string]string{
	"2833": "telephone-event",
	"dtmf": "telephone-event",
}

// LookupName finds a catalog codec by name, case-insensitively
func LookupName(name string) (Codec, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	for _, c := range catalog {
		if c.Name == name {
			return c, true
		}
	}
	return Codec{}, false
}

// LookupPayload finds a catalog codec by payload type
func LookupPayload(pt int) (Codec, bool) {
	for _, c := range catalog {
		if c.PayloadType == pt {
			return c, true
		}
	}
	return Codec{}, false
}

// Catalog returns a copy of the codec catalog
func Catalog() []Codec {
	out := make([]Codec, len(catalog))
	copy(out, catalog)
	return out
}

// SplitList splits "pcma pcmu", "pcma,pcmu" or "pcma, pcmu" into tokens
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
}

// MaxPayloadType is the largest RTP payload type number
const MaxPayloadType = 127

// ResolvePayload converts a codec name or numeric token to a payload type.
// Names and aliases win over numbers, so "2833" is telephone-event. Names
// missing from the catalog and numbers outside 0..127 report false.
func ResolvePayload(token string) (int, bool) {
	token = strings.TrimSpace(token)
	if c, ok := LookupName(token); ok {
		return c.PayloadType, true
	}
	pt, err := strconv.Atoi(token)
	if err != nil || pt < 0 || pt > MaxPayloadType {
		return 0, false
	}
	return pt, true
}

// PayloadName maps a payload type to its catalog name, or its number when unknown
func PayloadName(pt int) string {
	if c, ok := LookupPayload(pt); ok {
		return c.Name
	}
	return strconv.Itoa(pt)
}
