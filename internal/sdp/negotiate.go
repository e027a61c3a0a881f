package sdp

import (
	"strings"
)

// media returns the first section of the given type, appending a default one when absent
func (s *Session) media(mediaType string) *Media {
	for _, m := range s.Media {
		if m.Type == mediaType {
			return m
		}
	}
	m := newMedia(mediaType)
	s.Media = append(s.Media, m)
	return m
}

func (s *Session) hasPayload(pt int) bool {
	for _, m := range s.Media {
		if m.HasPayload(pt) {
			return true
		}
	}
	return false
}

// AddCodecs adds catalog codecs to the matching media section.
// Each argument may be a single name or a list such as "pcma pcmu" or "pcma, pcmu".
// Codecs whose payload type is already present are skipped, as are names missing from the catalog.
func (s *Session) AddCodecs(codecs ...string) *Session {
	for _, arg := range codecs {
		for _, name := range SplitList(arg) {
			c, ok := LookupName(name)
			if !ok || s.hasPayload(c.PayloadType) {
				continue
			}

			m := s.media(c.MediaType)
			m.RTP = append(m.RTP, c.RTP)
			m.Payloads = append(m.Payloads, c.PayloadType)
			if c.FMTP != nil {
				m.FMTP = append(m.FMTP, *c.FMTP)
			}
		}
	}
	return s
}

// Intersection returns the codecs in the list that this session also supports, as a space
// separated string of names, in the order they appear in codecs. The list may mix names and
// payload numbers: "pcma pcmu", "0,8", "ilbc 0".
//
// With firstOnly only the first match is returned and it becomes the selected codec.
func (s *Session) Intersection(codecs string, firstOnly bool) string {
	return s.IntersectionList(SplitList(codecs), firstOnly)
}

// IntersectionList is Intersection for a list of names or numeric tokens
func (s *Session) IntersectionList(codecs []string, firstOnly bool) string {
	pts := make([]int, 0, len(codecs))
	for _, c := range codecs {
		for _, tok := range SplitList(c) {
			if pt, ok := ResolvePayload(tok); ok {
				pts = append(pts, pt)
			}
		}
	}
	return s.IntersectionPayloads(pts, firstOnly)
}

// IntersectionPayloads is Intersection for payload numbers
func (s *Session) IntersectionPayloads(pts []int, firstOnly bool) string {
	matched := s.intersect(pts)
	if firstOnly && len(matched) > 0 {
		matched = matched[:1]
		s.SelectPayload(matched[0])
	}

	names := make([]string, len(matched))
	for i, pt := range matched {
		names[i] = PayloadName(pt)
	}
	return strings.Join(names, " ")
}

// intersect keeps each requested payload present in a section, honoring catalog fmtp
// requirements, and concatenates the result of every section
func (s *Session) intersect(pts []int) []int {
	var out []int
	for _, m := range s.Media {
		for _, pt := range pts {
			if !m.HasPayload(pt) {
				continue
			}
			if c, ok := LookupPayload(pt); ok && c.FMTP != nil && !m.HasFMTP(*c.FMTP) {
				continue
			}
			out = append(out, pt)
		}
	}
	return out
}

// Select forces AudioRemote to report a single codec. Unknown names are ignored.
func (s *Session) Select(codec string) *Session {
	pt, ok := ResolvePayload(codec)
	if !ok {
		return s
	}
	return s.SelectPayload(pt)
}

// SelectPayload is Select for a payload number
func (s *Session) SelectPayload(pt int) *Session {
	s.selected = pt
	s.hasSelected = true
	return s
}

// Selected returns the selected payload, if any
func (s *Session) Selected() (int, bool) {
	return s.selected, s.hasSelected
}

// AudioRemote describes where and how the engine should send audio for this session.
// It reports false when the session has no audio section.
func (s *Session) AudioRemote() (Remote, bool) {
	for _, m := range s.Media {
		if m.Type != "audio" {
			continue
		}

		payloads := append([]int{}, m.Payloads...)
		if s.hasSelected {
			payloads = []int{s.selected}
		}

		ip := s.Connection
		if m.Connection != "" {
			ip = m.Connection
		}

		return Remote{
			Port:  m.Port,
			IP:    ip,
			Audio: RemoteAudio{Payloads: payloads},
		}, true
	}
	return Remote{}, false
}

// SetSessionID overrides the origin session id
func (s *Session) SetSessionID(id uint64) *Session {
	s.Origin.SessionID = id
	return s
}

// SetConnectionAddress sets the session level c= address
func (s *Session) SetConnectionAddress(addr string) *Session {
	s.Connection = addr
	return s
}

// SetOriginAddress sets the o= unicast address
func (s *Session) SetOriginAddress(addr string) *Session {
	s.Origin.Address = addr
	return s
}

// SetAudioPort sets the port of the audio section, creating it if needed
func (s *Session) SetAudioPort(port int) *Session {
	s.media("audio").Port = port
	return s
}

// SetEndpoint publishes a local media address (typically an opened channel's) in the
// connection, origin and audio port fields
func (s *Session) SetEndpoint(ip string, port int) *Session {
	return s.SetAudioPort(port).
		SetConnectionAddress(ip).
		SetOriginAddress(ip)
}
