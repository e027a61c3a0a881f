// Package sdp parses, builds and negotiates the session descriptions exchanged with callers
// and handed to the media engine as channel targets.
package sdp

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	psdp "github.com/pion/sdp/v3"
)

// ErrEmptyDescription is returned by Parse for blank input
var ErrEmptyDescription = errors.New("empty session description")

const (
	defaultAddress   = "127.0.0.1"
	defaultName      = "project"
	defaultProtocol  = "RTP/AVP"
	defaultPtime     = 20
	defaultDirection = "sendrecv"
)

// sessionCounter seeds the origin session id of generated descriptions
var sessionCounter atomic.Uint32

func init() {
	sessionCounter.Store(rand.Uint32N(100000))
}

// Origin is the o= line
type Origin struct {
	Username       string
	SessionID      uint64
	SessionVersion uint64
	Address        string
}

// Timing is the t= line
type Timing struct {
	Start uint64
	Stop  uint64
}

// Media is one m= section.
// Audio sections keep their formats as unique payload numbers in Payloads; other media keep
// the raw format tokens in Formats.
type Media struct {
	Type       string
	Port       int
	Protocol   string
	Connection string // Media level c= address, empty when only the session level is present
	Payloads   []int
	Formats    []string
	RTP        []RTPMap
	FMTP       []FMTP
	Ptime      int
	Direction  string

	// Attributes holds every other a= line in the order it was parsed
	Attributes []psdp.Attribute
}

// HasPayload reports whether pt is listed on the m= line
func (m *Media) HasPayload(pt int) bool {
	return slices.Contains(m.Payloads, pt)
}

// HasFMTP reports whether an fmtp entry with exactly this payload and config exists
func (m *Media) HasFMTP(f FMTP) bool {
	for _, have := range m.FMTP {
		if have.Payload == f.Payload && have.Config == f.Config {
			return true
		}
	}
	return false
}

// Session is a parsed or generated session description
type Session struct {
	Origin     Origin
	Name       string
	Connection string
	Timing     Timing
	Media      []*Media

	// Attributes holds session level a= lines
	Attributes []psdp.Attribute

	selected    int
	hasSelected bool
}

// Remote is the engine facing view of the first audio section, sent as a channel target
type Remote struct {
	Port  int         `json:"port"`
	IP    string      `json:"ip"`
	Audio RemoteAudio `json:"audio"`
}

// RemoteAudio lists the payloads the engine may send
type RemoteAudio struct {
	Payloads []int `json:"payloads"`
}

func newMedia(mediaType string) *Media {
	return &Media{
		Type:      mediaType,
		Protocol:  defaultProtocol,
		Payloads:  []int{},
		Ptime:     defaultPtime,
		Direction: defaultDirection,
	}
}

// New creates an empty local description with a single audio section and no codecs.
// Each call takes the next origin session id.
func New() *Session {
	return &Session{
		Origin: Origin{
			Username:  "-",
			SessionID: uint64(sessionCounter.Add(1)),
			Address:   defaultAddress,
		},
		Name:       defaultName,
		Connection: defaultAddress,
		Media:      []*Media{newMedia("audio")},
	}
}

// Parse builds a Session from wire text. Audio payload lists are normalized to unique integers.
func Parse(text string) (*Session, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, ErrEmptyDescription
	}
	// the lexer needs every line terminated, including the last one
	raw += "\r\n"

	desc := &psdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("failed to parse SDP: %w", err)
	}

	s := &Session{
		Origin: Origin{
			Username:       desc.Origin.Username,
			SessionID:      desc.Origin.SessionID,
			SessionVersion: desc.Origin.SessionVersion,
			Address:        desc.Origin.UnicastAddress,
		},
		Name:       string(desc.SessionName),
		Connection: connectionAddress(desc.ConnectionInformation),
		Attributes: slices.Clone(desc.Attributes),
	}
	if len(desc.TimeDescriptions) > 0 {
		s.Timing = Timing{
			Start: desc.TimeDescriptions[0].Timing.StartTime,
			Stop:  desc.TimeDescriptions[0].Timing.StopTime,
		}
	}

	for _, md := range desc.MediaDescriptions {
		s.Media = append(s.Media, parseMedia(md))
	}

	return s, nil
}

func parseMedia(md *psdp.MediaDescription) *Media {
	m := &Media{
		Type:       md.MediaName.Media,
		Port:       md.MediaName.Port.Value,
		Protocol:   strings.Join(md.MediaName.Protos, "/"),
		Connection: connectionAddress(md.ConnectionInformation),
	}
	if m.Type == "audio" {
		m.Payloads = ParsePayloads(md.MediaName.Formats...)
	} else {
		m.Formats = slices.Clone(md.MediaName.Formats)
	}

	for _, attr := range md.Attributes {
		switch attr.Key {
		case "rtpmap":
			if r, ok := parseRTPMap(attr.Value); ok {
				m.RTP = append(m.RTP, r)
				continue
			}
		case "fmtp":
			if f, ok := parseFMTP(attr.Value); ok {
				m.FMTP = append(m.FMTP, f)
				continue
			}
		case "ptime":
			if v, err := strconv.Atoi(strings.TrimSpace(attr.Value)); err == nil {
				m.Ptime = v
				continue
			}
		case "sendrecv", "sendonly", "recvonly", "inactive":
			m.Direction = attr.Key
			continue
		}
		m.Attributes = append(m.Attributes, attr)
	}

	return m
}

// ParsePayloads normalizes format tokens to a list of unique payload numbers.
// Each argument may itself hold several numbers separated by spaces or commas.
func ParsePayloads(formats ...string) []int {
	out := make([]int, 0, len(formats))
	for _, f := range formats {
		for _, tok := range SplitList(f) {
			pt, err := strconv.Atoi(tok)
			if err != nil || slices.Contains(out, pt) {
				continue
			}
			out = append(out, pt)
		}
	}
	return out
}

// parseRTPMap parses "97 iLBC/8000" or "106 opus/48000/2"
func parseRTPMap(value string) (RTPMap, bool) {
	ptStr, rest, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok {
		return RTPMap{}, false
	}
	pt, err := strconv.Atoi(ptStr)
	if err != nil {
		return RTPMap{}, false
	}

	parts := strings.SplitN(strings.TrimSpace(rest), "/", 3)
	r := RTPMap{Payload: pt, Codec: parts[0]}
	if len(parts) > 1 {
		if r.Rate, err = strconv.Atoi(parts[1]); err != nil {
			return RTPMap{}, false
		}
	}
	if len(parts) > 2 {
		r.Encoding = parts[2]
	}
	return r, true
}

// parseFMTP parses "97 mode=20"
func parseFMTP(value string) (FMTP, bool) {
	ptStr, config, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok {
		return FMTP{}, false
	}
	pt, err := strconv.Atoi(ptStr)
	if err != nil {
		return FMTP{}, false
	}
	return FMTP{Payload: pt, Config: strings.TrimSpace(config)}, true
}

func connectionAddress(ci *psdp.ConnectionInformation) string {
	if ci == nil || ci.Address == nil {
		return ""
	}
	return ci.Address.Address
}

func connectionInformation(addr string) *psdp.ConnectionInformation {
	if addr == "" {
		return nil
	}
	return &psdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: addressType(addr),
		Address:     &psdp.Address{Address: addr},
	}
}

func addressType(addr string) string {
	if strings.Contains(addr, ":") {
		return "IP6"
	}
	return "IP4"
}

// attributes renders media attributes in wire order: rtpmap, fmtp, preserved, ptime, direction
func (m *Media) attributes() []psdp.Attribute {
	attrs := make([]psdp.Attribute, 0, len(m.RTP)+len(m.FMTP)+len(m.Attributes)+2)
	for _, r := range m.RTP {
		attrs = append(attrs, psdp.NewAttribute("rtpmap", r.String()))
	}
	for _, f := range m.FMTP {
		attrs = append(attrs, psdp.NewAttribute("fmtp", f.String()))
	}
	attrs = append(attrs, m.Attributes...)
	if m.Ptime > 0 {
		attrs = append(attrs, psdp.NewAttribute("ptime", strconv.Itoa(m.Ptime)))
	}
	if m.Direction != "" {
		attrs = append(attrs, psdp.NewPropertyAttribute(m.Direction))
	}
	return attrs
}

func (m *Media) formats() []string {
	if m.Type != "audio" {
		return m.Formats
	}
	out := make([]string, len(m.Payloads))
	for i, pt := range m.Payloads {
		out[i] = strconv.Itoa(pt)
	}
	return out
}

// Marshal serializes the session, with CRLF line endings and no trailing line break
func (s *Session) Marshal() ([]byte, error) {
	desc := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       s.Origin.Username,
			SessionID:      s.Origin.SessionID,
			SessionVersion: s.Origin.SessionVersion,
			NetworkType:    "IN",
			AddressType:    addressType(s.Origin.Address),
			UnicastAddress: s.Origin.Address,
		},
		SessionName:           psdp.SessionName(s.Name),
		ConnectionInformation: connectionInformation(s.Connection),
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: s.Timing.Start, StopTime: s.Timing.Stop}},
		},
		Attributes: s.Attributes,
	}

	for _, m := range s.Media {
		protocol := m.Protocol
		if protocol == "" {
			protocol = defaultProtocol
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, &psdp.MediaDescription{
			MediaName: psdp.MediaName{
				Media:   m.Type,
				Port:    psdp.RangedPort{Value: m.Port},
				Protos:  strings.Split(protocol, "/"),
				Formats: m.formats(),
			},
			ConnectionInformation: connectionInformation(m.Connection),
			Attributes:            m.attributes(),
		})
	}

	out, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SDP: %w", err)
	}
	return []byte(strings.TrimRight(string(out), "\r\n")), nil
}

// String returns the wire text, or an empty string if the session cannot be marshalled
func (s *Session) String() string {
	out, err := s.Marshal()
	if err != nil {
		slog.Error("[SDP] Failed to serialize session", "error", err)
		return ""
	}
	return string(out)
}
