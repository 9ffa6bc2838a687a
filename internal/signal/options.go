package signal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Options is the fixed capability configuration the device is set up with.
type Options struct {
	Codecs                 []string `json:"codecs"`
	FakeLocalDTMF          bool     `json:"fakeLocalDTMF"`
	EnableRingingState     bool     `json:"enableRingingState"`
	Debug                  bool     `json:"debug"`
	AllowIncomingWhileBusy bool     `json:"allowIncomingWhileBusy"`
	Edges                  []string `json:"edge"`
}

// codecs the signaling client can be asked to prefer, by config name.
var knownCodecs = map[string]webrtc.RTPCodecCapability{
	"pcmu": {MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
	"pcma": {MimeType: webrtc.MimeTypePCMA, ClockRate: 8000, Channels: 1},
	"opus": {MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	"g722": {MimeType: webrtc.MimeTypeG722, ClockRate: 8000, Channels: 1},
}

// CodecCapabilities returns the codec preference list in order.
func (o Options) CodecCapabilities() ([]webrtc.RTPCodecCapability, error) {
	if len(o.Codecs) == 0 {
		return nil, errors.New("codecs: at least one codec is required")
	}
	out := make([]webrtc.RTPCodecCapability, 0, len(o.Codecs))
	seen := make(map[string]bool, len(o.Codecs))
	for _, name := range o.Codecs {
		key := strings.ToLower(strings.TrimSpace(name))
		c, ok := knownCodecs[key]
		if !ok {
			return nil, fmt.Errorf("codecs: unsupported codec %q", name)
		}
		if seen[key] {
			return nil, fmt.Errorf("codecs: %q listed twice", name)
		}
		seen[key] = true
		out = append(out, c)
	}
	return out, nil
}

func (o Options) Validate() error {
	if _, err := o.CodecCapabilities(); err != nil {
		return err
	}
	if len(o.Edges) == 0 {
		return errors.New("edges: at least one edge is required")
	}
	seen := make(map[string]bool, len(o.Edges))
	for _, e := range o.Edges {
		e = strings.TrimSpace(e)
		if e == "" || strings.ContainsAny(e, " /") {
			return fmt.Errorf("edges: invalid edge %q", e)
		}
		if seen[e] {
			return fmt.Errorf("edges: %q listed twice", e)
		}
		seen[e] = true
	}
	return nil
}

// CodecNames returns the lower-case codec names in preference order, the
// form the browser SDK expects.
func (o Options) CodecNames() []string {
	caps, err := o.CodecCapabilities()
	if err != nil {
		return nil
	}
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = strings.ToLower(strings.TrimPrefix(c.MimeType, "audio/"))
	}
	return out
}
